package sink

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"
)

const (
	// Codec is the FourCC used for every recording.
	Codec = "MJPG"
	// Extension is the container suffix appended to recording paths.
	Extension = ".avi"
)

var (
	ErrZeroSizeFrame = errors.New("zero-size frame, nothing to record")
	ErrSizeMismatch  = errors.New("frame size differs from recording size")
	ErrWriteFailed   = errors.New("failed to write frame")
	ErrNotRecording  = errors.New("recorder is stopped")
)

// Encoder appends frames to an open video file.
type Encoder interface {
	Write(img gocv.Mat) error
	Close() error
}

// Opener opens an Encoder bound to a path, frame size and frame rate.
type Opener func(path string, size image.Point, fps float64) (Encoder, error)

// OpenVideoFile is the gocv Opener. It creates the parent directory and
// writes MJPG frames into an AVI container.
func OpenVideoFile(path string, size image.Point, fps float64) (Encoder, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create recording directory %s: %w", dir, err)
		}
	}
	vw, err := gocv.VideoWriterFile(path, Codec, fps, size.X, size.Y, true)
	if err != nil {
		return nil, fmt.Errorf("failed to open video writer %s: %w", path, err)
	}
	if !vw.IsOpened() {
		vw.Close()
		return nil, fmt.Errorf("video writer %s did not open", path)
	}
	return vw, nil
}

// RecordingPath derives the file a camera records into.
func RecordingPath(prefix, camera string) string {
	return filepath.Join(prefix, camera+Extension)
}

// Recorder is a video file being written. The writer is only valid while
// the recorder is active; Stop releases it exactly once.
type Recorder struct {
	mu     sync.Mutex
	writer Encoder
	path   string
	size   image.Point
	active bool

	frames   uint64
	failures uint64
}

// StartRecording opens a recorder for frames of the given size.
func StartRecording(open Opener, path string, size image.Point, fps float64) (*Recorder, error) {
	if size.X <= 0 || size.Y <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrZeroSizeFrame, size.X, size.Y)
	}
	w, err := open(path, size, fps)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("component", "recorder").
		Str("path", path).
		Int("width", size.X).
		Int("height", size.Y).
		Float64("fps", fps).
		Msg("Recording started")

	return &Recorder{
		writer: w,
		path:   path,
		size:   size,
		active: true,
	}, nil
}

// Path returns the file being written.
func (r *Recorder) Path() string {
	return r.path
}

// Size returns the frame size fixed at open time.
func (r *Recorder) Size() image.Point {
	return r.size
}

// Active reports whether the recorder still accepts frames.
func (r *Recorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Frames returns the number of frames written so far.
func (r *Recorder) Frames() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

// WriteFrame appends img. A failed write drops the frame and leaves the
// recorder running.
func (r *Recorder) WriteFrame(img gocv.Mat) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.active {
		return ErrNotRecording
	}
	if got := image.Pt(img.Cols(), img.Rows()); got != r.size {
		r.failures++
		return fmt.Errorf("%w: %w: got %dx%d, recording %dx%d",
			ErrWriteFailed, ErrSizeMismatch, got.X, got.Y, r.size.X, r.size.Y)
	}
	if err := r.writer.Write(img); err != nil {
		r.failures++
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	r.frames++
	return nil
}

// Stop flushes and releases the writer. Further calls do nothing.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.active {
		return nil
	}
	r.active = false
	err := r.writer.Close()
	r.writer = nil

	log.Info().
		Str("component", "recorder").
		Str("path", r.path).
		Uint64("frames", r.frames).
		Uint64("failures", r.failures).
		Msg("Recording stopped")

	if err != nil {
		return fmt.Errorf("failed to close %s: %w", r.path, err)
	}
	return nil
}
