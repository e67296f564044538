// Package control exposes the operations that reconfigure a running
// pipeline: camera and overlay registration, orientation, display and
// recording switches. Service holds the sequencing; Server puts it on HTTP.
package control

import (
	"fmt"
	"image/color"

	"github.com/rs/zerolog/log"

	"camviz/frame"
	"camviz/pipeline"
	"camviz/port"
	"camviz/registry"
)

// ErrNoPrefix is returned when recording is started without a prefix.
var ErrNoPrefix = fmt.Errorf("%w: recording prefix not set", registry.ErrValidation)

// Service applies control requests to the registry and the shared settings.
// The processing loop picks changes up on its next tick.
type Service struct {
	reg      *registry.Registry
	settings *pipeline.Settings
	frames   *port.FrameStore
	points   *port.PointStore
	stats    *pipeline.Stats
	stream   string
}

// NewService builds a Service. stream names the global stream, if any.
func NewService(reg *registry.Registry, settings *pipeline.Settings, frames *port.FrameStore, points *port.PointStore, stats *pipeline.Stats, stream string) *Service {
	return &Service{
		reg:      reg,
		settings: settings,
		frames:   frames,
		points:   points,
		stats:    stats,
		stream:   stream,
	}
}

// AddCamera registers a camera. The global stream's name is reserved: a
// camera under it would share the stream's window, recording file and stats.
func (s *Service) AddCamera(name string) (registry.CameraID, error) {
	if s.stream != "" && name == s.stream {
		return 0, fmt.Errorf("camera %q: name taken by the global stream: %w", name, registry.ErrDuplicate)
	}
	id, err := s.reg.Add(name)
	if err != nil {
		return 0, err
	}
	log.Info().Str("component", "control").Str("camera", name).Uint64("id", uint64(id)).Msg("Camera added")
	return id, nil
}

// RemoveCamera unregisters a camera, releasing its window and recorder, and
// forgets its last frame.
func (s *Service) RemoveCamera(name string) error {
	if err := s.reg.RemoveByName(name); err != nil {
		return err
	}
	s.frames.Forget(name)
	return nil
}

// AddOverlay attaches an overlay to a camera.
func (s *Service) AddOverlay(camera, overlay string, c color.RGBA) error {
	if err := s.reg.AddOverlay(camera, overlay, c); err != nil {
		return err
	}
	log.Info().Str("component", "control").Str("camera", camera).Str("overlay", overlay).Msg("Overlay added")
	return nil
}

// RemoveOverlay detaches an overlay from a camera.
func (s *Service) RemoveOverlay(camera, overlay string) error {
	if err := s.reg.RemoveOverlay(camera, overlay); err != nil {
		return err
	}
	log.Info().Str("component", "control").Str("camera", camera).Str("overlay", overlay).Msg("Overlay removed")
	return nil
}

// SetOrientation sets the number of clockwise quarter turns of a camera.
func (s *Service) SetOrientation(camera string, quarterTurns int) error {
	if quarterTurns < 0 || quarterTurns > int(frame.CounterClockwise) {
		return fmt.Errorf("orientation %d (allowed: 0, 1, 2, 3): %w", quarterTurns, registry.ErrOutOfRange)
	}
	return s.reg.SetOrientation(camera, frame.Orientation(quarterTurns))
}

// SetRatio sets the display downscale ratio.
func (s *Service) SetRatio(ratio float64) error {
	return s.settings.SetRatio(ratio)
}

// SetPrefix sets the recording directory. Open recorders are released so
// the next frames go to the new location; an empty prefix disables recording.
func (s *Service) SetPrefix(prefix string) {
	if prev := s.settings.SetPrefix(prefix); prev != prefix {
		s.reg.StopRecorders()
		log.Info().Str("component", "control").Str("prefix", prefix).Msg("Recording prefix changed")
	}
}

// StartDisplay turns windows on.
func (s *Service) StartDisplay() {
	s.settings.SetDisplay(true)
}

// StopDisplay turns windows off. The loop closes them on its next tick.
func (s *Service) StopDisplay() {
	s.settings.SetDisplay(false)
}

// StartRecording turns recording on, optionally setting the prefix first.
// Recorders open lazily on each camera's next frame.
func (s *Service) StartRecording(prefix string) error {
	if prefix != "" {
		s.SetPrefix(prefix)
	}
	if s.settings.Snapshot().Prefix == "" {
		return ErrNoPrefix
	}
	s.settings.SetRecording(true)
	return nil
}

// StopRecording turns recording off and releases every camera recorder.
// The global stream releases its own on the next tick.
func (s *Service) StopRecording() {
	s.settings.SetRecording(false)
	s.reg.StopRecorders()
}

// SetFOV turns the field-of-view circle on or off.
func (s *Service) SetFOV(on bool) {
	s.settings.SetFOV(on)
}

// Stop turns display and recording off and clears ratio and prefix.
func (s *Service) Stop() {
	s.settings.Reset()
	s.reg.StopRecorders()
	log.Info().Str("component", "control").Msg("Display and recording stopped")
}

// PublishFrame makes b the newest frame of stream.
func (s *Service) PublishFrame(stream string, b *frame.Buffer) {
	s.frames.Publish(stream, b)
}

// PublishPosition makes p the newest position of overlay.
func (s *Service) PublishPosition(overlay string, p port.Point) {
	s.points.Publish(overlay, p)
}

// Status is a snapshot of the running configuration.
type Status struct {
	Display   bool               `json:"display"`
	Ratio     float64            `json:"ratio"`
	FOV       bool               `json:"fov"`
	Record    bool               `json:"record"`
	Prefix    string             `json:"prefix"`
	Recording bool               `json:"recording"`
	Cameras   []CameraStatus     `json:"cameras"`
	Stream    *pipeline.Counters `json:"stream,omitempty"`
}

// CameraStatus describes one registered camera.
type CameraStatus struct {
	ID          uint64             `json:"id"`
	Name        string             `json:"name"`
	Orientation int                `json:"orientation"`
	Rotation    string             `json:"rotation"`
	Overlays    []OverlayStatus    `json:"overlays"`
	Recording   bool               `json:"recording"`
	Stats       *pipeline.Counters `json:"stats,omitempty"`
	Dropped     uint64             `json:"dropped_frames"`
}

// OverlayStatus describes one overlay.
type OverlayStatus struct {
	Name  string   `json:"name"`
	Color [3]uint8 `json:"color"`
}

// Status returns the current settings and every camera.
func (s *Service) Status() Status {
	m := s.settings.Snapshot()
	st := Status{
		Display:   m.Display,
		Ratio:     m.Ratio,
		FOV:       m.FOV,
		Record:    m.Record,
		Prefix:    m.Prefix,
		Recording: m.Recording(),
		Cameras:   []CameraStatus{},
	}

	for _, v := range s.reg.Views() {
		cs := CameraStatus{
			ID:          uint64(v.ID),
			Name:        v.Name,
			Orientation: int(v.Orientation),
			Rotation:    v.Orientation.String(),
			Overlays:    make([]OverlayStatus, 0, len(v.Overlays)),
			Recording:   v.Recording,
			Dropped:     s.frames.Dropped(v.Name),
		}
		for _, ov := range v.Overlays {
			cs.Overlays = append(cs.Overlays, OverlayStatus{
				Name:  ov.Name,
				Color: [3]uint8{ov.Color.R, ov.Color.G, ov.Color.B},
			})
		}
		if c, ok := s.stats.Get(v.Name); ok {
			cs.Stats = &c
		}
		st.Cameras = append(st.Cameras, cs)
	}

	if s.stream != "" {
		if c, ok := s.stats.Get(s.stream); ok {
			st.Stream = &c
		}
	}
	return st
}
