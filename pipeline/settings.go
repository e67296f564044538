package pipeline

import (
	"fmt"
	"sync"

	"camviz/registry"
)

// ErrInvalidRatio is returned for a negative display ratio.
var ErrInvalidRatio = fmt.Errorf("%w: invalid ratio", registry.ErrValidation)

// Mode is what the loop is asked to do during one tick.
type Mode struct {
	Display bool
	Ratio   float64 // window size is frame size divided by Ratio; 0 keeps native size
	FOV     bool
	Record  bool
	Prefix  string // recording directory; empty disables recording
}

// Recording reports whether frames should be written to disk.
func (m Mode) Recording() bool {
	return m.Record && m.Prefix != ""
}

// Active reports whether there is any work to do with a frame.
func (m Mode) Active() bool {
	return m.Display || m.Recording()
}

// Settings holds the display and recording configuration shared by the
// control surface and the loop.
type Settings struct {
	mu   sync.RWMutex
	mode Mode
}

// NewSettings returns settings starting from m.
func NewSettings(m Mode) (*Settings, error) {
	if m.Ratio < 0 {
		return nil, fmt.Errorf("%w: %g", ErrInvalidRatio, m.Ratio)
	}
	return &Settings{mode: m}, nil
}

// Snapshot returns the current mode.
func (s *Settings) Snapshot() Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// SetDisplay turns windows on or off.
func (s *Settings) SetDisplay(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode.Display = on
}

// SetRatio sets the display downscale ratio. Negative values are rejected
// and leave the ratio unchanged.
func (s *Settings) SetRatio(ratio float64) error {
	if ratio < 0 {
		return fmt.Errorf("%w: %g", ErrInvalidRatio, ratio)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode.Ratio = ratio
	return nil
}

// SetFOV turns the field-of-view circle on or off.
func (s *Settings) SetFOV(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode.FOV = on
}

// SetRecording turns recording on or off. Frames are only written while a
// prefix is also set.
func (s *Settings) SetRecording(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode.Record = on
}

// SetPrefix sets the recording directory and returns the previous one.
func (s *Settings) SetPrefix(prefix string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.mode.Prefix
	s.mode.Prefix = prefix
	return prev
}

// Reset turns display and recording off and clears ratio and prefix.
func (s *Settings) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = Mode{FOV: s.mode.FOV}
}
