// Package pipeline drives the periodic processing loop: for every monitored
// camera (and optionally one global stream) it pulls the newest frame,
// decodes and annotates it, then hands it to the display and recording
// sinks according to the shared Settings.
package pipeline

import (
	"image"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"

	"camviz/frame"
	"camviz/overlay"
	"camviz/port"
	"camviz/registry"
	"camviz/sink"
)

// DefaultRecordFPS is the frame rate written into video files, independent
// of the rate frames arrive at.
const DefaultRecordFPS = 30.0

// openBackoff is how long a camera waits before retrying a recorder that
// failed to open.
const openBackoff = time.Second

// frameSampler bounds per-frame warnings so a persistently bad source does
// not flood the log.
var frameSampler = &zerolog.BurstSampler{Burst: 5, Period: time.Second}

func frameLog() *zerolog.Logger {
	l := log.Sample(frameSampler).With().Str("component", "pipeline").Logger()
	return &l
}

// Env bundles what every processing step reads from and writes to.
type Env struct {
	Registry *registry.Registry
	Frames   port.FrameSource
	Points   port.PointSource
	Displays *sink.Displays
	Renderer *overlay.Renderer
	Open     sink.Opener
	FPS      float64
	Stats    *Stats
}

func (e *Env) fps() float64 {
	if e.FPS <= 0 {
		return DefaultRecordFPS
	}
	return e.FPS
}

// pull returns the newest non-empty frame of stream, or nil.
func (e *Env) pull(stream string) *frame.Buffer {
	if err := e.Frames.Read(stream); err != nil {
		return nil
	}
	buf := e.Frames.Data(stream)
	if buf.Empty() {
		return nil
	}
	return buf
}

// markers collects the current position of every overlay. Overlays whose
// source has nothing, or reports the position as unknown, are left out.
func (e *Env) markers(overlays []registry.Overlay) []overlay.Marker {
	if e.Points == nil || len(overlays) == 0 {
		return nil
	}
	markers := make([]overlay.Marker, 0, len(overlays))
	for _, ov := range overlays {
		if err := e.Points.Read(ov.Name); err != nil {
			continue
		}
		p, ok := e.Points.Data(ov.Name)
		if !ok || !p.Present {
			continue
		}
		markers = append(markers, overlay.Marker{
			Name:     ov.Name,
			Position: image.Pt(p.X, p.Y),
			Color:    ov.Color,
		})
	}
	return markers
}

// show opens or resizes the window for name and blits img into it.
func (e *Env) show(name string, img gocv.Mat, ratio float64) {
	e.Displays.EnsureWindow(name, image.Pt(img.Cols(), img.Rows()), ratio)
	e.Displays.Show(name, img)
}

// write appends img to rec. Failures are counted and logged; recording
// carries on with the next frame.
func (e *Env) write(name string, rec *sink.Recorder, img gocv.Mat) {
	start := time.Now()
	if err := rec.WriteFrame(img); err != nil {
		e.Stats.writeFailed(name)
		frameLog().Warn().Err(err).Str("source", name).Str("path", rec.Path()).Msg("Dropped frame from recording")
		return
	}
	e.Stats.written(name, time.Since(start))
}
