package pipeline

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/panics"

	"camviz/registry"
	"camviz/sink"
)

// DefaultTick is the processing loop period.
const DefaultTick = 33 * time.Millisecond

// DefaultReportEvery is how often throughput is logged.
const DefaultReportEvery = 30 * time.Second

// Supervisor owns the periodic loop. All window and recorder work happens on
// the goroutine calling Run.
type Supervisor struct {
	env         *Env
	settings    *Settings
	interval    time.Duration
	reportEvery time.Duration
	closer      *sink.DeferredCloser
	stream      *Stream

	activities map[registry.CameraID]*Activity
	runID      string
	lastReport time.Time
	panics     uint64
}

// SupervisorOption configures a Supervisor.
type SupervisorOption func(*Supervisor)

// WithStream adds the global stream reading frames published under name.
func WithStream(name string) SupervisorOption {
	return func(s *Supervisor) {
		if name != "" {
			s.stream = NewStream(name, s.env)
		}
	}
}

// WithDeferredCloser makes the loop perform window closes queued by other
// goroutines, such as the registry removing a camera.
func WithDeferredCloser(c *sink.DeferredCloser) SupervisorOption {
	return func(s *Supervisor) {
		s.closer = c
	}
}

// WithInterval sets the tick period.
func WithInterval(d time.Duration) SupervisorOption {
	return func(s *Supervisor) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithReportEvery sets how often throughput is logged. Zero disables it.
func WithReportEvery(d time.Duration) SupervisorOption {
	return func(s *Supervisor) {
		s.reportEvery = d
	}
}

// NewSupervisor builds the loop over env, driven by settings.
func NewSupervisor(env *Env, settings *Settings, opts ...SupervisorOption) *Supervisor {
	if env.Stats == nil {
		env.Stats = NewStats()
	}
	s := &Supervisor{
		env:         env,
		settings:    settings,
		interval:    DefaultTick,
		reportEvery: DefaultReportEvery,
		activities:  make(map[registry.CameraID]*Activity),
		runID:       uuid.NewString(),
		lastReport:  time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunID identifies this loop instance in logs.
func (s *Supervisor) RunID() string { return s.runID }

// Stream returns the global stream, or nil when none is configured.
func (s *Supervisor) Stream() *Stream { return s.stream }

// Run ticks until ctx is done, then releases every window and recorder.
func (s *Supervisor) Run(ctx context.Context) error {
	log.Info().
		Str("component", "pipeline").
		Str("run_id", s.runID).
		Dur("interval", s.interval).
		Msg("Processing loop started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	defer s.Shutdown()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("component", "pipeline").Str("run_id", s.runID).Msg("Processing loop stopping")
			return nil
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Tick runs one iteration: pending window closes, activity reconciliation,
// the global stream, then every camera in registration order.
func (s *Supervisor) Tick() {
	mode := s.settings.Snapshot()

	if s.closer != nil {
		s.closer.Flush()
	}
	s.reconcile()

	if s.stream != nil {
		s.step(s.stream.Name(), func() { s.stream.Step(mode) })
	}
	for _, a := range s.ordered() {
		a := a
		s.step(a.Name(), func() { a.Step(mode) })
	}

	if s.reportEvery > 0 && time.Since(s.lastReport) >= s.reportEvery {
		s.report()
	}
}

// step runs fn, turning a panic into a logged error so one bad frame or
// cgo call cannot stop the loop.
func (s *Supervisor) step(name string, fn func()) {
	var pc panics.Catcher
	pc.Try(fn)
	if r := pc.Recovered(); r != nil {
		s.panics++
		log.Error().
			Err(r.AsError()).
			Str("component", "pipeline").
			Str("run_id", s.runID).
			Str("source", name).
			Msg("Recovered from panic in processing step")
	}
}

// Panics returns how many steps panicked since the loop was built.
func (s *Supervisor) Panics() uint64 { return s.panics }

// reconcile creates activities for new cameras and drops those of cameras
// no longer registered.
func (s *Supervisor) reconcile() {
	live := make(map[registry.CameraID]struct{})
	for _, view := range s.env.Registry.Views() {
		live[view.ID] = struct{}{}
		if _, ok := s.activities[view.ID]; ok {
			continue
		}
		s.activities[view.ID] = NewActivity(view.ID, view.Name, s.env)
		log.Debug().
			Str("component", "pipeline").
			Str("camera", view.Name).
			Uint64("camera_id", uint64(view.ID)).
			Msg("Camera activity created")
	}
	for id, a := range s.activities {
		if _, ok := live[id]; ok {
			continue
		}
		delete(s.activities, id)
		s.env.Stats.Forget(a.Name())
		log.Debug().
			Str("component", "pipeline").
			Str("camera", a.Name()).
			Uint64("camera_id", uint64(id)).
			Msg("Camera activity dropped")
	}
}

// Activities returns the current activities ordered by camera id.
func (s *Supervisor) Activities() []*Activity {
	return s.ordered()
}

func (s *Supervisor) ordered() []*Activity {
	out := make([]*Activity, 0, len(s.activities))
	for _, a := range s.activities {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

func (s *Supervisor) report() {
	s.lastReport = time.Now()
	for _, r := range s.env.Stats.Report() {
		if r.ProcessFPS == 0 && r.WriteFPS == 0 {
			continue
		}
		log.Info().
			Str("component", "pipeline").
			Str("source", r.Name).
			Float64("process_fps", r.ProcessFPS).
			Float64("write_fps", r.WriteFPS).
			Dur("avg_process", r.AvgProcess).
			Dur("avg_write", r.AvgWrite).
			Msg("Pipeline stats")
	}
}

// Shutdown releases every camera, the global stream and any window left
// open. It is called by Run on exit and is safe to call again.
func (s *Supervisor) Shutdown() {
	s.env.Registry.Close()
	if s.closer != nil {
		s.closer.Flush()
	}
	if s.stream != nil {
		s.stream.Close()
	}
	s.env.Displays.CloseAll()
	s.activities = make(map[registry.CameraID]*Activity)

	log.Info().Str("component", "pipeline").Str("run_id", s.runID).Msg("Processing loop released all windows and recorders")
}
