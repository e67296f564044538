package control

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"camviz/frame"
	"camviz/pipeline"
	"camviz/port"
	"camviz/registry"
	"camviz/sink"
)

type fakeEncoder struct{ closes int }

func (e *fakeEncoder) Write(gocv.Mat) error { return nil }
func (e *fakeEncoder) Close() error {
	e.closes++
	return nil
}

type fixture struct {
	reg      *registry.Registry
	settings *pipeline.Settings
	frames   *port.FrameStore
	points   *port.PointStore
	svc      *Service
	handler  http.Handler
}

func newFixture(t *testing.T, opts ...registry.Option) *fixture {
	t.Helper()
	settings, err := pipeline.NewSettings(pipeline.Mode{})
	require.NoError(t, err)
	f := &fixture{
		reg:      registry.New(append([]registry.Option{registry.WithGrace(time.Millisecond)}, opts...)...),
		settings: settings,
		frames:   port.NewFrameStore(),
		points:   port.NewPointStore(),
	}
	f.svc = NewService(f.reg, f.settings, f.frames, f.points, pipeline.NewStats(), "camviz")
	f.handler = NewServer(f.svc, "test").Handler()
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) attachRecorder(t *testing.T, camera string) *fakeEncoder {
	t.Helper()
	id, err := f.reg.Find(camera)
	require.NoError(t, err)
	enc := &fakeEncoder{}
	open := func(string, image.Point, float64) (sink.Encoder, error) { return enc, nil }
	_, err = f.reg.Recorder(id, func() (*sink.Recorder, error) {
		return sink.StartRecording(open, "/tmp/"+camera+".avi", image.Pt(4, 4), 30)
	})
	require.NoError(t, err)
	return enc
}

func TestServiceOrientationRange(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.AddCamera("cam0")
	require.NoError(t, err)

	for _, bad := range []int{-1, 4, 7} {
		err := f.svc.SetOrientation("cam0", bad)
		assert.ErrorIs(t, err, registry.ErrOutOfRange)
		assert.ErrorIs(t, err, registry.ErrValidation)
	}
	require.NoError(t, f.svc.SetOrientation("cam0", 3))
	assert.Equal(t, 3, f.svc.Status().Cameras[0].Orientation)
	assert.Equal(t, "90ccw", f.svc.Status().Cameras[0].Rotation)
}

func TestServiceStartRecordingNeedsPrefix(t *testing.T) {
	f := newFixture(t)

	assert.ErrorIs(t, f.svc.StartRecording(""), ErrNoPrefix)
	assert.False(t, f.settings.Snapshot().Record)

	require.NoError(t, f.svc.StartRecording("/data"))
	m := f.settings.Snapshot()
	assert.True(t, m.Recording())
	assert.Equal(t, "/data", m.Prefix)
}

func TestServiceStopRecordingReleasesRecorders(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.AddCamera("cam0")
	require.NoError(t, err)
	_, err = f.svc.AddCamera("cam1")
	require.NoError(t, err)
	require.NoError(t, f.svc.StartRecording("/data"))
	e0 := f.attachRecorder(t, "cam0")
	e1 := f.attachRecorder(t, "cam1")

	f.svc.StopRecording()

	assert.Equal(t, 1, e0.closes)
	assert.Equal(t, 1, e1.closes)
	assert.False(t, f.settings.Snapshot().Recording())
	for _, c := range f.svc.Status().Cameras {
		assert.False(t, c.Recording, c.Name)
	}
}

func TestServicePrefixChangeReleasesRecorders(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.AddCamera("cam0")
	require.NoError(t, err)
	f.svc.SetPrefix("/a")
	enc := f.attachRecorder(t, "cam0")

	f.svc.SetPrefix("/a")
	assert.Zero(t, enc.closes)

	f.svc.SetPrefix("/b")
	assert.Equal(t, 1, enc.closes)
}

func TestServiceStopResetsSettings(t *testing.T) {
	f := newFixture(t)
	f.svc.StartDisplay()
	require.NoError(t, f.svc.SetRatio(2))
	require.NoError(t, f.svc.StartRecording("/data"))

	f.svc.Stop()

	m := f.settings.Snapshot()
	assert.False(t, m.Display)
	assert.Zero(t, m.Ratio)
	assert.Empty(t, m.Prefix)
	assert.False(t, m.Recording())
}

func TestServiceRemoveCameraForgetsFrames(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.AddCamera("cam0")
	require.NoError(t, err)
	f.svc.PublishFrame("cam0", &frame.Buffer{Width: 1, Height: 1, Depth: 1, Pixels: []byte{0}})
	require.NoError(t, f.frames.Read("cam0"))

	require.NoError(t, f.svc.RemoveCamera("cam0"))
	assert.ErrorIs(t, f.frames.Read("cam0"), port.ErrNoData)
	assert.ErrorIs(t, f.svc.RemoveCamera("cam0"), registry.ErrNotFound)
}

func TestServiceStreamNameIsReserved(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.AddCamera("camviz")
	assert.ErrorIs(t, err, registry.ErrDuplicate)
	assert.Equal(t, 0, f.reg.Len())

	assert.Equal(t, http.StatusConflict, f.do(t, "POST", "/cameras", `{"name":"camviz"}`).Code)
	assert.Equal(t, 0, f.reg.Len())

	f.svc.stream = ""
	_, err = f.svc.AddCamera("camviz")
	assert.NoError(t, err)
}

func TestServerCameraLifecycle(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "POST", "/cameras", `{"name":"cam0"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created AddCameraResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "cam0", created.Name)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	assert.Equal(t, http.StatusConflict, f.do(t, "POST", "/cameras", `{"name":"cam0"}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, "POST", "/cameras", `{"name":""}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, "POST", "/cameras", `not json`).Code)

	assert.Equal(t, http.StatusNoContent, f.do(t, "PUT", "/cameras/cam0/orientation", `{"orientation":1}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, "PUT", "/cameras/cam0/orientation", `{"orientation":4}`).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, "PUT", "/cameras/nope/orientation", `{"orientation":1}`).Code)

	assert.Equal(t, http.StatusCreated, f.do(t, "POST", "/cameras/cam0/overlays", `{"name":"target","color":[255,0,0]}`).Code)
	assert.Equal(t, http.StatusConflict, f.do(t, "POST", "/cameras/cam0/overlays", `{"name":"target","color":[0,255,0]}`).Code)

	overlays, err := f.reg.Overlays("cam0")
	require.NoError(t, err)
	require.Len(t, overlays, 1)
	assert.Equal(t, color.RGBA{R: 255, A: 255}, overlays[0].Color)

	assert.Equal(t, http.StatusNoContent, f.do(t, "DELETE", "/cameras/cam0/overlays/target", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, "DELETE", "/cameras/cam0/overlays/target", "").Code)

	assert.Equal(t, http.StatusNoContent, f.do(t, "DELETE", "/cameras/cam0", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, "DELETE", "/cameras/cam0", "").Code)
}

func TestServerAllocationLimit(t *testing.T) {
	f := newFixture(t, registry.WithLimits(1, 0))

	assert.Equal(t, http.StatusCreated, f.do(t, "POST", "/cameras", `{"name":"cam0"}`).Code)
	assert.Equal(t, http.StatusInsufficientStorage, f.do(t, "POST", "/cameras", `{"name":"cam1"}`).Code)
	assert.Equal(t, 1, f.reg.Len())
}

func TestServerDisplayAndRecording(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusNoContent, f.do(t, "POST", "/display/start", "").Code)
	assert.Equal(t, http.StatusNoContent, f.do(t, "PUT", "/display/ratio", `{"ratio":2}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, "PUT", "/display/ratio", `{"ratio":-1}`).Code)
	assert.Equal(t, http.StatusNoContent, f.do(t, "PUT", "/display/fov", `{"enabled":true}`).Code)

	assert.Equal(t, http.StatusBadRequest, f.do(t, "POST", "/recording/start", "").Code)
	assert.Equal(t, http.StatusNoContent, f.do(t, "POST", "/recording/start", `{"prefix":"/data"}`).Code)

	rec := f.do(t, "GET", "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.True(t, st.Display)
	assert.Equal(t, 2.0, st.Ratio)
	assert.True(t, st.FOV)
	assert.True(t, st.Recording)
	assert.Equal(t, "/data", st.Prefix)

	assert.Equal(t, http.StatusNoContent, f.do(t, "POST", "/recording/stop", "").Code)
	assert.Equal(t, http.StatusNoContent, f.do(t, "POST", "/display/stop", "").Code)
	m := f.settings.Snapshot()
	assert.False(t, m.Display)
	assert.False(t, m.Recording())

	assert.Equal(t, http.StatusNoContent, f.do(t, "PUT", "/recording/prefix", `{"prefix":""}`).Code)
	assert.Empty(t, f.settings.Snapshot().Prefix)
}

func TestServerPushFrame(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest("POST", "/streams/cam0/frame", bytes.NewReader([]byte{0xff, 0xd8, 0xff}))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.NoError(t, f.frames.Read("cam0"))
	b := f.frames.Data("cam0")
	require.NotNil(t, b)
	assert.True(t, b.Compressed)
	assert.Equal(t, uint64(1), b.Seq)

	raw := bytes.Repeat([]byte{1}, 2*2*3)
	req = httptest.NewRequest("POST", "/streams/cam0/frame?width=2&height=2&depth=3", bytes.NewReader(raw))
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.NoError(t, f.frames.Read("cam0"))
	b = f.frames.Data("cam0")
	assert.False(t, b.Compressed)
	assert.Equal(t, 2, b.Width)
	assert.Equal(t, 3, b.Depth)

	assert.Equal(t, http.StatusBadRequest, f.do(t, "POST", "/streams/cam0/frame", "").Code)
	req = httptest.NewRequest("POST", "/streams/cam0/frame?depth=3&width=x&height=2", bytes.NewReader(raw))
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServerPushPosition(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusNoContent, f.do(t, "PUT", "/overlays/target/position", `{"x":10,"y":20}`).Code)
	require.NoError(t, f.points.Read("target"))
	p, ok := f.points.Data("target")
	require.True(t, ok)
	assert.Equal(t, port.Point{X: 10, Y: 20, Present: true}, p)

	assert.Equal(t, http.StatusNoContent, f.do(t, "PUT", "/overlays/target/position", `{"x":0,"y":0,"present":false}`).Code)
	require.NoError(t, f.points.Read("target"))
	p, _ = f.points.Data("target")
	assert.False(t, p.Present)
}

func TestServerHealthKeepsRequestID(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set(RequestIDHeader, "abc")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc", rec.Header().Get(RequestIDHeader))
	var h HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &h))
	assert.Equal(t, "healthy", h.Status)
	assert.Equal(t, "test", h.Version)
}
