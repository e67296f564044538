package frame

import (
	"errors"
	"fmt"
	"image"
	"math"

	"gocv.io/x/gocv"
)

var (
	ErrUnsupportedDepth = errors.New("unsupported pixel depth")
	ErrEmptyFrame       = errors.New("empty frame")
	ErrTruncated        = errors.New("frame shorter than declared size")
	ErrDecodeFailed     = errors.New("failed to decode compressed frame")
)

// Image is a decoded frame in canonical form: 8-bit, three channels, BGR.
type Image struct {
	Mat gocv.Mat
	// Mono is set when the source carried a single intensity channel.
	Mono bool
}

// Size returns the image dimensions.
func (img *Image) Size() image.Point {
	return image.Pt(img.Mat.Cols(), img.Mat.Rows())
}

// Close releases the underlying Mat.
func (img *Image) Close() error {
	return img.Mat.Close()
}

// Decode converts b into a canonical BGR image. The returned image owns its
// memory and must be closed by the caller.
func Decode(b *Buffer) (*Image, error) {
	if b.Empty() {
		return nil, ErrEmptyFrame
	}

	if b.Compressed {
		mat, err := gocv.IMDecode(b.Pixels, gocv.IMReadColor)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
		}
		if !isValidMat(mat) {
			mat.Close()
			return nil, ErrDecodeFailed
		}
		return &Image{Mat: mat}, nil
	}

	if b.Width <= 0 || b.Height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrEmptyFrame, b.Width, b.Height)
	}

	var (
		matType gocv.MatType
		code    gocv.ColorConversionCode
		mono    bool
	)
	switch b.Depth {
	case 1:
		matType, code, mono = gocv.MatTypeCV8UC1, gocv.ColorGrayToBGR, true
	case 2:
		matType, code, mono = gocv.MatTypeCV16UC1, gocv.ColorGrayToBGR, true
	case 3:
		// The swap code is symmetric: RGB sources become BGR.
		matType, code = gocv.MatTypeCV8UC3, gocv.ColorBGRToRGB
	case 4:
		matType, code = gocv.MatTypeCV8UC4, gocv.ColorRGBAToBGR
	default:
		return nil, fmt.Errorf("%w: %d bytes/pixel", ErrUnsupportedDepth, b.Depth)
	}

	// Compare per row so a forged size cannot wrap the byte count. Mat
	// dimensions are C ints.
	if b.Width > math.MaxInt32 || b.Height > math.MaxInt32 || b.Width > len(b.Pixels) {
		return nil, fmt.Errorf("%w: have %d bytes for %dx%dx%d", ErrTruncated, len(b.Pixels), b.Width, b.Height, b.Depth)
	}
	stride := b.Width * b.Depth
	if b.Height > len(b.Pixels)/stride {
		return nil, fmt.Errorf("%w: have %d bytes for %dx%dx%d", ErrTruncated, len(b.Pixels), b.Width, b.Height, b.Depth)
	}
	need := stride * b.Height

	src, err := gocv.NewMatFromBytes(b.Height, b.Width, matType, b.Pixels[:need])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	defer src.Close()

	if b.Depth == 2 {
		narrow := gocv.NewMat()
		defer narrow.Close()
		src.ConvertToWithParams(&narrow, gocv.MatTypeCV8UC1, 1.0/256, 0)
		return convert(narrow, code, mono)
	}
	return convert(src, code, mono)
}

func convert(src gocv.Mat, code gocv.ColorConversionCode, mono bool) (*Image, error) {
	dst := gocv.NewMat()
	gocv.CvtColor(src, &dst, code)
	if !isValidMat(dst) {
		dst.Close()
		return nil, ErrDecodeFailed
	}
	return &Image{Mat: dst, Mono: mono}, nil
}

// isValidMat checks that a Mat holds pixels.
func isValidMat(m gocv.Mat) bool {
	if m.Ptr() == nil {
		return false
	}
	return m.Rows() > 0 && m.Cols() > 0 && m.Channels() > 0
}
