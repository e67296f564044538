package pipeline

import (
	"image"
	"time"

	"gocv.io/x/gocv"

	"camviz/frame"
	"camviz/registry"
	"camviz/sink"
)

// Activity runs the per-tick state machine of one registered camera.
type Activity struct {
	id          registry.CameraID
	name        string
	env         *Env
	state       State
	retryOpenAt time.Time
}

// NewActivity returns an idle activity for the camera id.
func NewActivity(id registry.CameraID, name string, env *Env) *Activity {
	return &Activity{id: id, name: name, env: env}
}

// ID returns the camera the activity processes.
func (a *Activity) ID() registry.CameraID { return a.id }

// Name returns the camera name the activity was created for.
func (a *Activity) Name() string { return a.name }

// State returns the state reached by the last Step.
func (a *Activity) State() State { return a.state }

// Step runs one tick. Frames are only read when m asks for display or
// recording; a missing frame leaves the activity armed.
func (a *Activity) Step(m Mode) State {
	view, ok := a.env.Registry.View(a.id)
	if !ok {
		a.state = StateIdle
		return a.state
	}

	if !m.Display {
		a.env.Displays.CloseWindow(view.Name)
	}
	if !m.Recording() && view.Recording {
		a.env.Registry.StopRecorder(a.id)
	}
	if !m.Active() {
		a.state = StateIdle
		a.env.Stats.idle(view.Name)
		return a.state
	}

	a.state = StateArmed
	buf := a.env.pull(view.Name)
	if buf == nil {
		a.env.Stats.absent(view.Name)
		a.env.Stats.setState(view.Name, a.state)
		return a.state
	}

	a.state = StateProcessing
	defer func() {
		a.state = StateArmed
		a.env.Stats.setState(view.Name, a.state)
	}()
	a.process(view, buf, m)
	return StateArmed
}

func (a *Activity) process(view registry.CameraView, buf *frame.Buffer, m Mode) {
	start := time.Now()

	img, err := frame.Decode(buf)
	if err != nil {
		a.env.Stats.skipped(view.Name)
		frameLog().Warn().Err(err).Str("camera", view.Name).Uint64("seq", buf.Seq).Msg("Skipping frame")
		return
	}
	out, err := a.env.Renderer.Annotate(img, m.FOV, a.env.markers(view.Overlays), view.Orientation)
	img.Close()
	if err != nil {
		a.env.Stats.skipped(view.Name)
		frameLog().Warn().Err(err).Str("camera", view.Name).Uint64("seq", buf.Seq).Msg("Skipping frame")
		return
	}
	defer out.Close()
	a.env.Stats.processed(view.Name, time.Since(start), buf.Timestamp)

	if m.Display {
		a.env.show(view.Name, out, m.Ratio)
	}
	if m.Recording() {
		a.record(view, out, m.Prefix)
	}
}

func (a *Activity) record(view registry.CameraView, out gocv.Mat, prefix string) {
	if time.Now().Before(a.retryOpenAt) {
		return
	}
	path := sink.RecordingPath(prefix, view.Name)
	size := image.Pt(out.Cols(), out.Rows())
	open := func() (*sink.Recorder, error) {
		return sink.StartRecording(a.env.Open, path, size, a.env.fps())
	}

	rec, err := a.env.Registry.Recorder(a.id, open)
	if err == nil && (rec.Path() != path || rec.Size() != size) {
		// the prefix or the orientation changed since this recorder was opened
		frameLog().Info().Str("camera", view.Name).Str("path", path).Stringer("size", size).Msg("Reopening recorder")
		a.env.Registry.StopRecorder(a.id)
		rec, err = a.env.Registry.Recorder(a.id, open)
	}
	if err != nil {
		a.retryOpenAt = time.Now().Add(openBackoff)
		a.env.Stats.openFailed(view.Name)
		frameLog().Error().Err(err).Str("camera", view.Name).Str("path", path).Msg("Failed to open recorder")
		return
	}
	a.retryOpenAt = time.Time{}
	a.env.write(view.Name, rec, out)
}
