package port

import (
	"fmt"
	"sync"
	"time"

	"camviz/frame"
)

// mailbox keeps the newest published value per key. Publishing never blocks:
// a new value overwrites an unread one and counts as a drop.
type mailbox[T any] struct {
	mu      sync.Mutex
	latest  map[string]slot[T]
	current map[string]T
	drops   map[string]uint64
}

type slot[T any] struct {
	value T
	seq   uint64
	read  bool
}

func newMailbox[T any]() *mailbox[T] {
	return &mailbox[T]{
		latest:  make(map[string]slot[T]),
		current: make(map[string]T),
		drops:   make(map[string]uint64),
	}
}

// publish stores v as the newest value of key. stamp, when set, sees the
// sequence number before v becomes visible to readers.
func (m *mailbox[T]) publish(key string, v T, stamp func(seq uint64)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, ok := m.latest[key]
	if ok && !prev.read {
		m.drops[key]++
	}
	seq := prev.seq + 1
	if stamp != nil {
		stamp(seq)
	}
	m.latest[key] = slot[T]{value: v, seq: seq}
}

func (m *mailbox[T]) read(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.latest[key]
	if !ok {
		return fmt.Errorf("%q: %w", key, ErrNoData)
	}
	s.read = true
	m.latest[key] = s
	m.current[key] = s.value
	return nil
}

func (m *mailbox[T]) data(key string) (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.current[key]
	return v, ok
}

func (m *mailbox[T]) forget(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.latest, key)
	delete(m.current, key)
	delete(m.drops, key)
}

func (m *mailbox[T]) dropped(key string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.drops[key]
}

// FrameStore is a FrameSource fed by Publish.
type FrameStore struct {
	box *mailbox[*frame.Buffer]
}

// NewFrameStore returns an empty frame mailbox.
func NewFrameStore() *FrameStore {
	return &FrameStore{box: newMailbox[*frame.Buffer]()}
}

// Publish makes b the newest frame of stream. The store takes ownership of b.
func (s *FrameStore) Publish(stream string, b *frame.Buffer) {
	if b.Timestamp.IsZero() {
		b.Timestamp = time.Now()
	}
	s.box.publish(stream, b, func(seq uint64) { b.Seq = seq })
}

// Read implements FrameSource.
func (s *FrameStore) Read(stream string) error {
	return s.box.read(stream)
}

// Data implements FrameSource.
func (s *FrameStore) Data(stream string) *frame.Buffer {
	b, ok := s.box.data(stream)
	if !ok {
		return nil
	}
	return b
}

// Forget drops everything known about stream.
func (s *FrameStore) Forget(stream string) {
	s.box.forget(stream)
}

// Dropped returns how many frames of stream were overwritten unread.
func (s *FrameStore) Dropped(stream string) uint64 {
	return s.box.dropped(stream)
}

// PointStore is a PointSource fed by Publish.
type PointStore struct {
	box *mailbox[Point]
}

// NewPointStore returns an empty point mailbox.
func NewPointStore() *PointStore {
	return &PointStore{box: newMailbox[Point]()}
}

// Publish makes p the newest position of overlay.
func (s *PointStore) Publish(overlay string, p Point) {
	s.box.publish(overlay, p, nil)
}

// Read implements PointSource.
func (s *PointStore) Read(overlay string) error {
	return s.box.read(overlay)
}

// Data implements PointSource.
func (s *PointStore) Data(overlay string) (Point, bool) {
	return s.box.data(overlay)
}

// Forget drops everything known about overlay.
func (s *PointStore) Forget(overlay string) {
	s.box.forget(overlay)
}
