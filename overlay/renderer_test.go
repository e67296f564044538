package overlay

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"camviz/frame"
)

func bgr(m gocv.Mat, x, y int) [3]uint8 {
	v := m.GetVecbAt(y, x)
	return [3]uint8{v[0], v[1], v[2]}
}

func blank(w, h int) *frame.Image {
	m := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(255, 255, 255, 0), h, w, gocv.MatTypeCV8UC3)
	return &frame.Image{Mat: m}
}

func TestDrawMarkersUsesOverlayColor(t *testing.T) {
	img := blank(640, 480)
	defer img.Close()
	r := NewRenderer(4)

	drawn := r.DrawMarkers(&img.Mat, []Marker{{Name: "pix0", Position: image.Pt(100, 100), Color: color.RGBA{R: 255, A: 255}}})

	assert.Equal(t, 1, drawn)
	// gocv maps RGBA to a BGR scalar
	assert.Equal(t, [3]uint8{0, 0, 255}, bgr(img.Mat, 100, 100))
	assert.Equal(t, [3]uint8{0, 0, 255}, bgr(img.Mat, 103, 100))
	assert.Equal(t, [3]uint8{255, 255, 255}, bgr(img.Mat, 110, 100))
}

func TestDrawMarkersSkipsOutOfFrame(t *testing.T) {
	img := blank(10, 10)
	defer img.Close()
	r := NewRenderer(1)

	drawn := r.DrawMarkers(&img.Mat, []Marker{
		{Position: image.Pt(-1, 5)},
		{Position: image.Pt(10, 5)},
		{Position: image.Pt(5, 5), Color: color.RGBA{G: 255}},
	})
	assert.Equal(t, 1, drawn)
}

func TestDrawFieldOfView(t *testing.T) {
	r := NewRenderer(0)
	assert.Equal(t, DefaultMarkerRadius, r.MarkerRadius())

	img := blank(200, 100)
	defer img.Close()
	r.DrawFieldOfView(&img.Mat, false)
	// top of the circle: (w/2, h/2 - h/2)
	assert.Equal(t, [3]uint8{0, 0, 255}, bgr(img.Mat, 100, 0))
	assert.Equal(t, [3]uint8{255, 255, 255}, bgr(img.Mat, 100, 50))

	mono := blank(200, 100)
	defer mono.Close()
	r.DrawFieldOfView(&mono.Mat, true)
	assert.Equal(t, [3]uint8{0, 0, 0}, bgr(mono.Mat, 100, 0))
}

func TestRotate(t *testing.T) {
	src := blank(640, 480)
	defer src.Close()
	// mark the pixel at x=100, y=10
	src.Mat.SetUCharAt(10, 100*3, 1)

	tests := []struct {
		o    frame.Orientation
		size image.Point
		at   image.Point
	}{
		{frame.Upright, image.Pt(640, 480), image.Pt(100, 10)},
		{frame.Clockwise, image.Pt(480, 640), image.Pt(480-1-10, 100)},
		{frame.UpsideDown, image.Pt(640, 480), image.Pt(640-1-100, 480-1-10)},
		{frame.CounterClockwise, image.Pt(480, 640), image.Pt(10, 640-1-100)},
	}
	for _, tt := range tests {
		t.Run(tt.o.String(), func(t *testing.T) {
			dst, err := Rotate(src.Mat, tt.o)
			require.NoError(t, err)
			defer dst.Close()

			assert.Equal(t, tt.size, image.Pt(dst.Cols(), dst.Rows()))
			assert.Equal(t, uint8(1), dst.GetVecbAt(tt.at.Y, tt.at.X)[0])
		})
	}

	_, err := Rotate(src.Mat, frame.Orientation(4))
	assert.Error(t, err)
}

func TestAnnotateDrawsBeforeRotating(t *testing.T) {
	img := blank(640, 480)
	defer img.Close()
	r := NewRenderer(3)

	out, err := r.Annotate(img, false, []Marker{{Position: image.Pt(100, 100), Color: color.RGBA{R: 255, A: 255}}}, frame.Clockwise)
	require.NoError(t, err)
	defer out.Close()

	assert.Equal(t, image.Pt(480, 640), image.Pt(out.Cols(), out.Rows()))
	// (x, y) -> (H-1-y, x) under a clockwise quarter turn
	assert.Equal(t, [3]uint8{0, 0, 255}, bgr(out, 480-1-100, 100))
	// the source is annotated in place
	assert.Equal(t, [3]uint8{0, 0, 255}, bgr(img.Mat, 100, 100))
}
