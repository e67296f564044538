package registry

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"camviz/sink"
)

// Recorder returns the camera's active recorder. When none is attached,
// open is called outside the lock and its recorder attached, unless the
// camera disappeared meanwhile.
func (r *Registry) Recorder(id CameraID, open func() (*sink.Recorder, error)) (*sink.Recorder, error) {
	r.mu.RLock()
	i := r.indexOfID(id)
	if i < 0 {
		r.mu.RUnlock()
		return nil, fmt.Errorf("camera id %d: %w", id, ErrNotFound)
	}
	name := r.cameras[i].name
	if rec := r.cameras[i].recorder; rec != nil && rec.Active() {
		r.mu.RUnlock()
		return rec, nil
	}
	r.mu.RUnlock()

	rec, err := open()
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	i = r.indexOfID(id)
	if i < 0 {
		r.mu.Unlock()
		stopRecorder(name, rec)
		return nil, fmt.Errorf("camera id %d: %w", id, ErrNotFound)
	}
	c := r.cameras[i]
	if existing := c.recorder; existing != nil && existing.Active() {
		r.mu.Unlock()
		stopRecorder(name, rec)
		return existing, nil
	}
	c.recorder = rec
	r.mu.Unlock()

	return rec, nil
}

// StopRecorder stops and detaches the camera's recorder, if any.
func (r *Registry) StopRecorder(id CameraID) {
	r.mu.Lock()
	i := r.indexOfID(id)
	if i < 0 {
		r.mu.Unlock()
		return
	}
	c := r.cameras[i]
	rec := c.recorder
	c.recorder = nil
	r.mu.Unlock()

	stopRecorder(c.name, rec)
}

// StopRecorders stops and detaches every camera's recorder.
func (r *Registry) StopRecorders() {
	type detached struct {
		name string
		rec  *sink.Recorder
	}

	r.mu.Lock()
	var recs []detached
	for _, c := range r.cameras {
		if c.recorder != nil {
			recs = append(recs, detached{c.name, c.recorder})
			c.recorder = nil
		}
	}
	r.mu.Unlock()

	for _, d := range recs {
		stopRecorder(d.name, d.rec)
	}
}

func stopRecorder(name string, rec *sink.Recorder) {
	if rec == nil {
		return
	}
	if err := rec.Stop(); err != nil {
		log.Warn().Err(err).Str("component", "registry").Str("camera", name).Msg("Failed to stop recorder")
	}
}
