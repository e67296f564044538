package registry

import (
	"errors"
	"fmt"
	"image/color"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"camviz/frame"
	"camviz/sink"
)

// MaxNameLength is the longest camera or overlay name accepted.
const MaxNameLength = 63

// DefaultGrace is how long a by-name operation waits before retrying a
// failed lookup once.
const DefaultGrace = time.Millisecond

var (
	ErrValidation       = errors.New("invalid argument")
	ErrInvalidName      = fmt.Errorf("%w: name must be 1-%d characters", ErrValidation, MaxNameLength)
	ErrOutOfRange       = fmt.Errorf("%w: wrong value (allowed: 0, 1, 2, 3)", ErrValidation)
	ErrDuplicate        = errors.New("already registered")
	ErrNotFound         = errors.New("not found")
	ErrAllocationFailed = errors.New("registry is full")
)

// CameraID identifies a camera for as long as it stays registered. IDs are
// never reused.
type CameraID uint64

// Overlay is a named point source drawn on a camera's frames.
type Overlay struct {
	Name  string
	Color color.RGBA
}

// CameraView is a consistent copy of one camera entry.
type CameraView struct {
	ID          CameraID
	Name        string
	Orientation frame.Orientation
	Overlays    []Overlay
	Recording   bool
}

// WindowCloser releases the on-screen window of a camera.
type WindowCloser interface {
	CloseWindow(name string)
}

type camera struct {
	id          CameraID
	name        string
	orientation frame.Orientation
	overlays    []Overlay
	recorder    *sink.Recorder
}

// Registry holds the monitored cameras and their overlays. It is safe for
// concurrent use; lookups by name that miss are retried once after a short
// grace period to absorb an add racing with its first use.
type Registry struct {
	mu      sync.RWMutex
	cameras []*camera
	lastID  CameraID

	maxCameras  int
	maxOverlays int
	grace       time.Duration
	windows     WindowCloser
}

// Option configures a Registry.
type Option func(*Registry)

// WithLimits caps the number of cameras and of overlays per camera. Zero
// means unlimited.
func WithLimits(maxCameras, maxOverlays int) Option {
	return func(r *Registry) {
		r.maxCameras = maxCameras
		r.maxOverlays = maxOverlays
	}
}

// WithGrace sets the delay before a missed lookup is retried.
func WithGrace(d time.Duration) Option {
	return func(r *Registry) {
		r.grace = d
	}
}

// WithWindowCloser sets who closes a camera's window on removal.
func WithWindowCloser(w WindowCloser) Option {
	return func(r *Registry) {
		r.windows = w
	}
}

// New returns an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{grace: DefaultGrace}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func validName(name string) error {
	if name == "" || len(name) > MaxNameLength {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func (r *Registry) indexOf(name string) int {
	for i, c := range r.cameras {
		if c.name == name {
			return i
		}
	}
	return -1
}

func (r *Registry) indexOfID(id CameraID) int {
	for i, c := range r.cameras {
		if c.id == id {
			return i
		}
	}
	return -1
}

// Add registers a camera with orientation 0 and no overlays.
func (r *Registry) Add(name string) (CameraID, error) {
	if err := validName(name); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.indexOf(name) >= 0 {
		return 0, fmt.Errorf("camera %q: %w", name, ErrDuplicate)
	}
	if r.maxCameras > 0 && len(r.cameras) >= r.maxCameras {
		return 0, fmt.Errorf("camera %q: %w (%d cameras)", name, ErrAllocationFailed, r.maxCameras)
	}

	r.lastID++
	r.cameras = append(r.cameras, &camera{id: r.lastID, name: name})

	log.Info().Str("component", "registry").Str("camera", name).Uint64("id", uint64(r.lastID)).Msg("Camera added")
	return r.lastID, nil
}

// Find returns the ID of the named camera. It does not retry.
func (r *Registry) Find(name string) (CameraID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if i := r.indexOf(name); i >= 0 {
		return r.cameras[i].id, nil
	}
	return 0, fmt.Errorf("camera %q: %w", name, ErrNotFound)
}

// Lookup is Find with one retry after the grace period.
func (r *Registry) Lookup(name string) (CameraID, error) {
	var id CameraID
	err := r.withCamera(name, func(c *camera) error {
		id = c.id
		return nil
	})
	return id, err
}

// withCamera runs fn on the named camera under the write lock, retrying a
// missed lookup once. The grace sleep is taken without holding the lock.
func (r *Registry) withCamera(name string, fn func(c *camera) error) error {
	for attempt := 0; ; attempt++ {
		r.mu.Lock()
		if i := r.indexOf(name); i >= 0 {
			err := fn(r.cameras[i])
			r.mu.Unlock()
			return err
		}
		r.mu.Unlock()

		if attempt > 0 {
			return fmt.Errorf("camera %q: %w", name, ErrNotFound)
		}
		log.Debug().Str("component", "registry").Str("camera", name).Dur("grace", r.grace).Msg("Camera not found, retrying")
		time.Sleep(r.grace)
	}
}

// Remove unregisters a camera and releases its window and recorder.
func (r *Registry) Remove(id CameraID) error {
	r.mu.Lock()
	i := r.indexOfID(id)
	if i < 0 {
		r.mu.Unlock()
		return fmt.Errorf("camera id %d: %w", id, ErrNotFound)
	}
	c := r.detach(i)
	r.mu.Unlock()

	r.release(c)
	return nil
}

// RemoveByName unregisters the named camera, retrying a missed lookup once.
func (r *Registry) RemoveByName(name string) error {
	var removed *camera
	err := r.withCamera(name, func(c *camera) error {
		removed = r.detach(r.indexOfID(c.id))
		return nil
	})
	if err != nil {
		return err
	}
	r.release(removed)
	return nil
}

// detach removes entry i, keeping the order of the others. Caller holds mu.
func (r *Registry) detach(i int) *camera {
	c := r.cameras[i]
	copy(r.cameras[i:], r.cameras[i+1:])
	r.cameras[len(r.cameras)-1] = nil
	r.cameras = r.cameras[:len(r.cameras)-1]
	return c
}

func (r *Registry) release(c *camera) {
	if r.windows != nil {
		r.windows.CloseWindow(c.name)
	}
	stopRecorder(c.name, c.recorder)
	c.recorder = nil
	log.Info().Str("component", "registry").Str("camera", c.name).Uint64("id", uint64(c.id)).Msg("Camera removed")
}

// Close removes every camera, releasing all windows and recorders.
func (r *Registry) Close() {
	r.mu.Lock()
	cameras := r.cameras
	r.cameras = nil
	r.mu.Unlock()

	for _, c := range cameras {
		r.release(c)
	}
}

// SetOrientation changes the rotation applied to the named camera.
func (r *Registry) SetOrientation(name string, o frame.Orientation) error {
	if !o.Valid() {
		log.Warn().Str("component", "registry").Str("camera", name).Uint16("orientation", uint16(o)).Msg("Wrong output frame value (allowed: 0, 1, 2, 3)")
		return fmt.Errorf("orientation %d: %w", o, ErrOutOfRange)
	}
	return r.withCamera(name, func(c *camera) error {
		c.orientation = o
		return nil
	})
}

// Len returns the number of registered cameras.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cameras)
}

// IDs returns the registered camera IDs in insertion order.
func (r *Registry) IDs() []CameraID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]CameraID, len(r.cameras))
	for i, c := range r.cameras {
		ids[i] = c.id
	}
	return ids
}

// Names returns the registered camera names in insertion order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.cameras))
	for i, c := range r.cameras {
		names[i] = c.name
	}
	return names
}

func (c *camera) view() CameraView {
	return CameraView{
		ID:          c.id,
		Name:        c.name,
		Orientation: c.orientation,
		Overlays:    append([]Overlay(nil), c.overlays...),
		Recording:   c.recorder != nil && c.recorder.Active(),
	}
}

// View returns a snapshot of one camera.
func (r *Registry) View(id CameraID) (CameraView, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i := r.indexOfID(id)
	if i < 0 {
		return CameraView{}, false
	}
	return r.cameras[i].view(), true
}

// Views returns a snapshot of every camera in insertion order.
func (r *Registry) Views() []CameraView {
	r.mu.RLock()
	defer r.mu.RUnlock()

	views := make([]CameraView, len(r.cameras))
	for i, c := range r.cameras {
		views[i] = c.view()
	}
	return views
}
