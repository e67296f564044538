package overlay

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"camviz/frame"
)

// Marker is an overlay point to draw this tick, in sensor coordinates.
type Marker struct {
	Name     string
	Position image.Point
	Color    color.RGBA
}

// Renderer handles field-of-view and marker rendering
type Renderer struct {
	markerRadius int
	fovThickness int
	fovColor     color.RGBA // on color frames
	fovMonoColor color.RGBA // on frames from intensity-only sources
}

// DefaultMarkerRadius is used when NewRenderer is given a radius below 1.
const DefaultMarkerRadius = 5

// NewRenderer creates a renderer drawing markers of the given radius
func NewRenderer(markerRadius int) *Renderer {
	if markerRadius < 1 {
		markerRadius = DefaultMarkerRadius
	}
	return &Renderer{
		markerRadius: markerRadius,
		fovThickness: 2,
		fovColor:     color.RGBA{255, 0, 0, 0}, // red
		fovMonoColor: color.RGBA{0, 0, 0, 0},
	}
}

// MarkerRadius returns the radius of drawn markers.
func (r *Renderer) MarkerRadius() int {
	return r.markerRadius
}

// DrawFieldOfView draws the circle inscribed in the frame height, centered
// on the frame.
func (r *Renderer) DrawFieldOfView(img *gocv.Mat, mono bool) {
	w, h := img.Cols(), img.Rows()
	if w == 0 || h == 0 {
		return
	}
	c := r.fovColor
	if mono {
		c = r.fovMonoColor
	}
	gocv.Circle(img, image.Pt(w/2, h/2), h/2, c, r.fovThickness)
}

// DrawMarkers draws a filled disc per marker. Markers outside the frame are
// skipped.
func (r *Renderer) DrawMarkers(img *gocv.Mat, markers []Marker) int {
	bounds := image.Rect(0, 0, img.Cols(), img.Rows())
	drawn := 0
	for _, m := range markers {
		if !m.Position.In(bounds) {
			continue
		}
		gocv.Circle(img, m.Position, r.markerRadius, m.Color, -1)
		drawn++
	}
	return drawn
}

// Rotate returns a new Mat holding img turned by o quarter turns clockwise.
// The caller owns the result.
func Rotate(img gocv.Mat, o frame.Orientation) (gocv.Mat, error) {
	dst := gocv.NewMat()
	switch o {
	case frame.Upright:
		img.CopyTo(&dst)
	case frame.Clockwise:
		gocv.Rotate(img, &dst, gocv.Rotate90Clockwise)
	case frame.UpsideDown:
		gocv.Rotate(img, &dst, gocv.Rotate180Clockwise)
	case frame.CounterClockwise:
		gocv.Rotate(img, &dst, gocv.Rotate90CounterClockwise)
	default:
		dst.Close()
		return gocv.Mat{}, fmt.Errorf("cannot rotate by orientation %d", o)
	}
	return dst, nil
}

// Annotate draws the field of view and the markers on img, then rotates it.
// Markers are placed before rotation so their coordinates stay in the
// sensor frame. img is modified in place; the rotated copy is returned.
func (r *Renderer) Annotate(img *frame.Image, fov bool, markers []Marker, o frame.Orientation) (gocv.Mat, error) {
	if fov {
		r.DrawFieldOfView(&img.Mat, img.Mono)
	}
	r.DrawMarkers(&img.Mat, markers)
	return Rotate(img.Mat, o)
}
