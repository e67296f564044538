package sink

import (
	"image"
	"sync"

	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"
)

// Window is the subset of a HighGUI window used by Displays.
type Window interface {
	IMShow(img gocv.Mat)
	WaitKey(delay int) int
	ResizeWindow(width, height int)
	Close() error
}

// WindowFactory opens a resizable window with the given title.
type WindowFactory func(name string) Window

func newGocvWindow(name string) Window {
	// gocv opens windows with WINDOW_NORMAL, so the user can resize them.
	return gocv.NewWindow(name)
}

type window struct {
	w    Window
	size image.Point // last size requested through ResizeWindow
}

// Displays owns the on-screen windows, one per camera or stream name.
type Displays struct {
	mu        sync.Mutex
	windows   map[string]*window
	newWindow WindowFactory
}

// DisplayOption configures Displays.
type DisplayOption func(*Displays)

// WithWindowFactory replaces the HighGUI window constructor.
func WithWindowFactory(f WindowFactory) DisplayOption {
	return func(d *Displays) {
		d.newWindow = f
	}
}

// NewDisplays creates an empty window set.
func NewDisplays(opts ...DisplayOption) *Displays {
	d := &Displays{
		windows:   make(map[string]*window),
		newWindow: newGocvWindow,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// WindowSize returns the on-screen size for a frame of the given size shown
// at ratio. A ratio of zero (or anything not above zero) keeps the native size.
func WindowSize(frameSize image.Point, ratio float64) image.Point {
	if ratio <= 0 {
		return frameSize
	}
	w := int(float64(frameSize.X) / ratio)
	h := int(float64(frameSize.Y) / ratio)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return image.Pt(w, h)
}

// EnsureWindow opens the window for name if needed and sizes it to
// frameSize/ratio. Calling it again with the same arguments does nothing.
func (d *Displays) EnsureWindow(name string, frameSize image.Point, ratio float64) {
	size := WindowSize(frameSize, ratio)

	d.mu.Lock()
	defer d.mu.Unlock()

	win, ok := d.windows[name]
	if !ok {
		win = &window{w: d.newWindow(name)}
		d.windows[name] = win
		log.Debug().Str("component", "display").Str("window", name).Msg("Window opened")
	}
	if win.size != size {
		win.w.ResizeWindow(size.X, size.Y)
		win.size = size
		log.Debug().
			Str("component", "display").
			Str("window", name).
			Int("width", size.X).
			Int("height", size.Y).
			Msg("Window resized")
	}
}

// Show blits img into the named window and pumps the HighGUI event loop for
// one millisecond. Showing into a window that was never opened is ignored.
func (d *Displays) Show(name string, img gocv.Mat) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	win, ok := d.windows[name]
	if !ok {
		return false
	}
	win.w.IMShow(img)
	win.w.WaitKey(1)
	return true
}

// IsOpen reports whether a window exists for name.
func (d *Displays) IsOpen(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.windows[name]
	return ok
}

// CloseWindow destroys the named window. It is safe to call for a window
// that does not exist.
func (d *Displays) CloseWindow(name string) {
	d.mu.Lock()
	win, ok := d.windows[name]
	delete(d.windows, name)
	d.mu.Unlock()

	if !ok {
		return
	}
	if err := win.w.Close(); err != nil {
		log.Warn().Err(err).Str("component", "display").Str("window", name).Msg("Failed to close window")
		return
	}
	log.Debug().Str("component", "display").Str("window", name).Msg("Window closed")
}

// CloseAll destroys every open window.
func (d *Displays) CloseAll() {
	d.mu.Lock()
	names := make([]string, 0, len(d.windows))
	for name := range d.windows {
		names = append(names, name)
	}
	d.mu.Unlock()

	for _, name := range names {
		d.CloseWindow(name)
	}
}

// DeferredCloser queues window closes requested from other goroutines so
// that the goroutine driving the windows performs them on its next Flush.
type DeferredCloser struct {
	d       *Displays
	mu      sync.Mutex
	pending []string
}

// NewDeferredCloser returns a closer for d's windows.
func NewDeferredCloser(d *Displays) *DeferredCloser {
	return &DeferredCloser{d: d}
}

// CloseWindow queues name for closing.
func (c *DeferredCloser) CloseWindow(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = append(c.pending, name)
}

// Flush closes every queued window and returns how many were queued.
func (c *DeferredCloser) Flush() int {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, name := range pending {
		c.d.CloseWindow(name)
	}
	return len(pending)
}
