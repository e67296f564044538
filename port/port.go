// Package port defines how the processing loop pulls frames and overlay
// positions, and provides in-memory mailboxes implementing both ports.
//
// Every port read is non-blocking: when nothing new is available the data
// accessor reports absence, which the loop treats as "nothing to do this
// tick" rather than as an error.
package port

import (
	"errors"

	"camviz/frame"
)

// ErrNoData is returned by Read when nothing was ever published on a port.
var ErrNoData = errors.New("no data published")

// FrameSource provides the most recent frame of a named stream.
type FrameSource interface {
	// Read refreshes the reader's copy of the stream's newest frame.
	Read(stream string) error
	// Data returns the frame captured by the last successful Read, or nil.
	Data(stream string) *frame.Buffer
}

// Point is an overlay position. Present is false when the source reported
// the position as currently unknown.
type Point struct {
	X, Y    int
	Present bool
}

// PointSource provides the most recent position of a named overlay.
type PointSource interface {
	Read(overlay string) error
	Data(overlay string) (Point, bool)
}
