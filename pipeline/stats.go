package pipeline

import (
	"sort"
	"sync"
	"time"
)

// Counters are the running totals of one camera or stream.
type Counters struct {
	State         string    `json:"state"`
	Processed     uint64    `json:"processed"`
	Idle          uint64    `json:"idle"`
	Absent        uint64    `json:"absent"`
	Skipped       uint64    `json:"skipped"`
	Written       uint64    `json:"written"`
	WriteFailures uint64    `json:"write_failures"`
	OpenFailures  uint64    `json:"open_failures"`
	LastFrame     time.Time `json:"last_frame,omitempty"`

	processTotal time.Duration
	writeTotal   time.Duration
}

// AvgProcess is the mean decode plus annotate time per processed frame.
func (c Counters) AvgProcess() time.Duration {
	if c.Processed == 0 {
		return 0
	}
	return c.processTotal / time.Duration(c.Processed)
}

// AvgWrite is the mean encoder time per written frame.
func (c Counters) AvgWrite() time.Duration {
	if c.Written == 0 {
		return 0
	}
	return c.writeTotal / time.Duration(c.Written)
}

// Rate is the throughput of one source over a reporting window.
type Rate struct {
	Name       string
	ProcessFPS float64
	WriteFPS   float64
	AvgProcess time.Duration
	AvgWrite   time.Duration
}

// Stats tracks per-source counters for the processing loop.
type Stats struct {
	mu         sync.Mutex
	sources    map[string]*Counters
	windowBase map[string]Counters
	lastReport time.Time
}

// NewStats creates an empty tracker.
func NewStats() *Stats {
	return &Stats{
		sources:    make(map[string]*Counters),
		windowBase: make(map[string]Counters),
		lastReport: time.Now(),
	}
}

func (s *Stats) update(name string, fn func(c *Counters)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.sources[name]
	if !ok {
		c = &Counters{}
		s.sources[name] = c
	}
	fn(c)
}

func (s *Stats) setState(name string, st State) {
	s.update(name, func(c *Counters) { c.State = st.String() })
}

func (s *Stats) idle(name string) {
	s.update(name, func(c *Counters) {
		c.Idle++
		c.State = StateIdle.String()
	})
}

func (s *Stats) absent(name string) {
	s.update(name, func(c *Counters) { c.Absent++ })
}

func (s *Stats) skipped(name string) {
	s.update(name, func(c *Counters) { c.Skipped++ })
}

func (s *Stats) processed(name string, d time.Duration, at time.Time) {
	s.update(name, func(c *Counters) {
		c.Processed++
		c.processTotal += d
		c.LastFrame = at
	})
}

func (s *Stats) written(name string, d time.Duration) {
	s.update(name, func(c *Counters) {
		c.Written++
		c.writeTotal += d
	})
}

func (s *Stats) writeFailed(name string) {
	s.update(name, func(c *Counters) { c.WriteFailures++ })
}

func (s *Stats) openFailed(name string) {
	s.update(name, func(c *Counters) { c.OpenFailures++ })
}

// Forget drops the counters of name.
func (s *Stats) Forget(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sources, name)
	delete(s.windowBase, name)
}

// Snapshot returns a copy of every source's counters.
func (s *Stats) Snapshot() map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Counters, len(s.sources))
	for name, c := range s.sources {
		out[name] = *c
	}
	return out
}

// Get returns the counters of one source.
func (s *Stats) Get(name string) (Counters, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.sources[name]
	if !ok {
		return Counters{}, false
	}
	return *c, true
}

// Report returns per-source rates since the previous Report, sorted by name.
// Totals keep running; only the reporting window restarts.
func (s *Stats) Report() []Rate {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	window := now.Sub(s.lastReport).Seconds()
	if window <= 0 {
		window = 1.0
	}

	rates := make([]Rate, 0, len(s.sources))
	for name, c := range s.sources {
		base := s.windowBase[name]
		processed := c.Processed - base.Processed
		written := c.Written - base.Written

		r := Rate{
			Name:       name,
			ProcessFPS: float64(processed) / window,
			WriteFPS:   float64(written) / window,
		}
		if processed > 0 {
			r.AvgProcess = (c.processTotal - base.processTotal) / time.Duration(processed)
		}
		if written > 0 {
			r.AvgWrite = (c.writeTotal - base.writeTotal) / time.Duration(written)
		}
		rates = append(rates, r)
		s.windowBase[name] = *c
	}
	s.lastReport = now

	sort.Slice(rates, func(i, j int) bool { return rates[i].Name < rates[j].Name })
	return rates
}
