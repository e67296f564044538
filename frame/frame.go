package frame

import (
	"fmt"
	"image"
	"time"
)

// Buffer is a raw frame as handed over by a frame source. The source keeps
// ownership of Pixels; Decode copies what it needs.
type Buffer struct {
	Width      int
	Height     int
	Depth      int  // bytes per pixel: 1, 2, 3 or 4
	Compressed bool // Pixels hold an encoded image (JPEG, PNG, ...)
	Pixels     []byte

	Seq       uint64    // set by the publishing mailbox
	Timestamp time.Time // capture time, zero when unknown
}

// Size returns the frame dimensions declared by the source.
func (b *Buffer) Size() image.Point {
	return image.Pt(b.Width, b.Height)
}

// Empty reports whether the buffer carries no pixel data at all.
func (b *Buffer) Empty() bool {
	return b == nil || len(b.Pixels) == 0
}

// Orientation is a number of clockwise quarter turns applied before a frame
// is displayed or recorded.
type Orientation uint16

const (
	Upright Orientation = iota
	Clockwise
	UpsideDown
	CounterClockwise
)

// Valid reports whether o is one of the four supported orientations.
func (o Orientation) Valid() bool {
	return o <= CounterClockwise
}

func (o Orientation) String() string {
	switch o {
	case Upright:
		return "0"
	case Clockwise:
		return "90cw"
	case UpsideDown:
		return "180"
	case CounterClockwise:
		return "90ccw"
	default:
		return fmt.Sprintf("invalid(%d)", uint16(o))
	}
}

// Rotated returns the size of a size-sized frame after rotation by o.
func (o Orientation) Rotated(size image.Point) image.Point {
	if o == Clockwise || o == CounterClockwise {
		return image.Pt(size.Y, size.X)
	}
	return size
}
