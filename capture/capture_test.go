package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"camviz/config"
	"camviz/frame"
)

type collector struct {
	mu     sync.Mutex
	frames map[string][]*frame.Buffer
}

func (c *collector) Publish(stream string, b *frame.Buffer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frames == nil {
		c.frames = make(map[string][]*frame.Buffer)
	}
	c.frames[stream] = append(c.frames[stream], b)
}

func (c *collector) count(stream string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames[stream])
}

// scriptedReader serves a fixed list of frames, then fails.
type scriptedReader struct {
	frames []gocv.Mat
	closed bool
}

func (r *scriptedReader) Read(m *gocv.Mat) bool {
	if len(r.frames) == 0 {
		return false
	}
	r.frames[0].CopyTo(m)
	r.frames = r.frames[1:]
	return true
}

func (r *scriptedReader) Close() error {
	r.closed = true
	return nil
}

// emptyReader reports success without ever filling the frame.
type emptyReader struct {
	mu     sync.Mutex
	reads  int
	closed bool
}

func (r *emptyReader) Read(*gocv.Mat) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads++
	return true
}

func (r *emptyReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func TestNewPicksBackend(t *testing.T) {
	pub := &collector{}

	src := New(config.Source{Name: "front", URI: "0"}, pub)
	dev, ok := src.(*Device)
	require.True(t, ok)
	assert.Equal(t, "front", dev.Name())

	src = New(config.Source{Name: "rear", URI: "v4l2:/dev/video2"}, pub)
	v, ok := src.(*V4L2)
	require.True(t, ok)
	assert.Equal(t, "rear", v.Name())
	assert.Equal(t, "/dev/video2", v.Path())
}

func TestToBufferSwapsToRGB(t *testing.T) {
	bgr := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(255, 0, 0, 0), 2, 3, gocv.MatTypeCV8UC3)
	defer bgr.Close()
	scratch := gocv.NewMat()
	defer scratch.Close()

	b, err := toBuffer(bgr, &scratch)
	require.NoError(t, err)
	assert.Equal(t, 3, b.Width)
	assert.Equal(t, 2, b.Height)
	assert.Equal(t, 3, b.Depth)
	assert.False(t, b.Compressed)
	require.Len(t, b.Pixels, 3*2*3)
	// pure blue in BGR is the last channel in RGB
	assert.Equal(t, []byte{0, 0, 255}, b.Pixels[:3])
}

func TestToBufferKeepsGray(t *testing.T) {
	gray := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(7, 0, 0, 0), 2, 2, gocv.MatTypeCV8UC1)
	defer gray.Close()
	scratch := gocv.NewMat()
	defer scratch.Close()

	b, err := toBuffer(gray, &scratch)
	require.NoError(t, err)
	assert.Equal(t, 1, b.Depth)
	assert.Equal(t, []byte{7, 7, 7, 7}, b.Pixels)
}

func TestToBufferRejectsOtherTypes(t *testing.T) {
	f := gocv.NewMatWithSize(2, 2, gocv.MatTypeCV32FC1)
	defer f.Close()
	scratch := gocv.NewMat()
	defer scratch.Close()

	_, err := toBuffer(f, &scratch)
	assert.Error(t, err)
}

func TestDevicePublishesAndReconnects(t *testing.T) {
	pub := &collector{}
	d := NewDevice("cam0", "0", pub)
	d.reconnectDelay = time.Millisecond

	var (
		mu      sync.Mutex
		opens   int
		readers []*scriptedReader
	)
	d.open = func(string) (frameReader, error) {
		mu.Lock()
		defer mu.Unlock()
		opens++
		if opens == 2 {
			return nil, errors.New("device busy")
		}
		img := gocv.NewMatWithSize(4, 4, gocv.MatTypeCV8UC3)
		r := &scriptedReader{frames: []gocv.Mat{img, img}}
		readers = append(readers, r)
		return r, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool { return pub.count("cam0") >= 4 }, 2*time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, opens, 3)
	for _, r := range readers {
		if len(r.frames) == 0 {
			assert.True(t, r.closed)
		}
	}
}

func TestDeviceStopsWhenCancelled(t *testing.T) {
	d := NewDevice("cam0", "0", &collector{})
	d.open = func(string) (frameReader, error) { return nil, errors.New("no such device") }

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, d.Run(ctx))
}

func TestDeviceReconnectsAfterEmptyReads(t *testing.T) {
	pub := &collector{}
	d := NewDevice("cam0", "0", pub)
	d.reconnectDelay = time.Millisecond
	d.emptyDelay = time.Millisecond
	d.maxEmptyReads = 3

	var (
		mu      sync.Mutex
		readers []*emptyReader
	)
	d.open = func(string) (frameReader, error) {
		mu.Lock()
		defer mu.Unlock()
		r := &emptyReader{}
		readers = append(readers, r)
		return r, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(readers) >= 2
	}, 2*time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	first := readers[0]
	first.mu.Lock()
	defer first.mu.Unlock()
	assert.Equal(t, 3, first.reads)
	assert.True(t, first.closed)
	assert.Zero(t, pub.count("cam0"))
}
