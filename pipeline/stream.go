package pipeline

import (
	"fmt"
	"image"
	"time"

	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"

	"camviz/frame"
	"camviz/sink"
)

// Stream is the single global stream: one frame source shown in one window
// and recorded to one file, outside the camera registry. Its frame size is
// learned from the first frame; later frames of another size are skipped.
type Stream struct {
	name        string
	env         *Env
	state       State
	size        image.Point
	rec         *sink.Recorder
	retryOpenAt time.Time
}

// NewStream returns a stream reading frames published under name. The
// window and recording file are named after it too.
func NewStream(name string, env *Env) *Stream {
	return &Stream{name: name, env: env}
}

// Name returns the stream name.
func (s *Stream) Name() string { return s.name }

// State returns the state reached by the last Step.
func (s *Stream) State() State { return s.state }

// Size returns the learned frame size, zero until the first frame.
func (s *Stream) Size() image.Point { return s.size }

// Step runs one tick of the stream.
func (s *Stream) Step(m Mode) State {
	if !m.Display {
		s.env.Displays.CloseWindow(s.name)
	}
	if !m.Recording() {
		s.stopRecorder()
	}
	if !m.Active() {
		s.state = StateIdle
		s.env.Stats.idle(s.name)
		return s.state
	}

	buf := s.env.pull(s.name)
	if buf == nil {
		s.env.Stats.absent(s.name)
		if s.size == (image.Point{}) {
			s.state = StateIdle
		} else {
			s.state = StateArmed
		}
		s.env.Stats.setState(s.name, s.state)
		return s.state
	}

	s.state = StateProcessing
	defer func() {
		s.state = StateArmed
		if s.size == (image.Point{}) {
			s.state = StateIdle
		}
		s.env.Stats.setState(s.name, s.state)
	}()
	s.process(buf, m)
	return StateArmed
}

func (s *Stream) process(buf *frame.Buffer, m Mode) {
	start := time.Now()

	img, err := frame.Decode(buf)
	if err != nil {
		s.env.Stats.skipped(s.name)
		frameLog().Warn().Err(err).Str("stream", s.name).Uint64("seq", buf.Seq).Msg("Skipping frame")
		return
	}
	defer img.Close()

	size := img.Size()
	if s.size == (image.Point{}) {
		s.size = size
		log.Info().
			Str("component", "pipeline").
			Str("stream", s.name).
			Int("width", size.X).
			Int("height", size.Y).
			Msg("Stream frame size learned")
	}
	if size != s.size {
		s.env.Stats.skipped(s.name)
		frameLog().Warn().
			Err(fmt.Errorf("%w: got %dx%d, want %dx%d", sink.ErrSizeMismatch, size.X, size.Y, s.size.X, s.size.Y)).
			Str("stream", s.name).
			Msg("Invalid size, skipping frame")
		return
	}

	out, err := s.env.Renderer.Annotate(img, m.FOV, nil, frame.Upright)
	if err != nil {
		s.env.Stats.skipped(s.name)
		frameLog().Warn().Err(err).Str("stream", s.name).Msg("Skipping frame")
		return
	}
	defer out.Close()
	s.env.Stats.processed(s.name, time.Since(start), buf.Timestamp)

	if m.Display {
		s.env.show(s.name, out, m.Ratio)
	}
	if m.Recording() {
		s.record(out, m.Prefix)
	}
}

func (s *Stream) record(out gocv.Mat, prefix string) {
	path := sink.RecordingPath(prefix, s.name)
	if s.rec != nil && s.rec.Path() != path {
		s.stopRecorder()
	}
	if s.rec == nil {
		if time.Now().Before(s.retryOpenAt) {
			return
		}
		rec, err := sink.StartRecording(s.env.Open, path, s.size, s.env.fps())
		if err != nil {
			s.retryOpenAt = time.Now().Add(openBackoff)
			s.env.Stats.openFailed(s.name)
			frameLog().Error().Err(err).Str("stream", s.name).Str("path", path).Msg("Failed to open recorder")
			return
		}
		s.rec = rec
		s.retryOpenAt = time.Time{}
	}
	s.env.write(s.name, s.rec, out)
}

func (s *Stream) stopRecorder() {
	if s.rec == nil {
		return
	}
	rec := s.rec
	s.rec = nil
	if err := rec.Stop(); err != nil {
		log.Warn().Err(err).Str("component", "pipeline").Str("stream", s.name).Msg("Failed to stop recorder")
	}
}

// Recording reports whether the stream currently holds an open recorder.
func (s *Stream) Recording() bool {
	return s.rec != nil
}

// Close releases the stream's recorder and window.
func (s *Stream) Close() {
	s.stopRecorder()
	s.env.Displays.CloseWindow(s.name)
	s.state = StateIdle
}
