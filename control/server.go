package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/color"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"camviz/frame"
	"camviz/port"
	"camviz/registry"
)

// MaxFrameBytes bounds the body of a pushed frame.
const MaxFrameBytes = 64 << 20

// RequestIDHeader carries the id assigned to every request.
const RequestIDHeader = "X-Request-ID"

// Server is the HTTP control surface.
type Server struct {
	svc     *Service
	version string
	router  *mux.Router
	server  *http.Server
}

// NewServer builds the router over svc.
func NewServer(svc *Service, version string) *Server {
	s := &Server{svc: svc, version: version, router: mux.NewRouter()}
	s.registerRoutes(s.router)
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("component", "control").Str("addr", addr).Msg("Control server started")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("control server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Str("component", "control").Msg("Error shutting down control server")
	}
	log.Info().Str("component", "control").Msg("Control server stopped")
	return nil
}

func (s *Server) registerRoutes(router *mux.Router) {
	router.Use(requestID)

	router.HandleFunc("/health", s.handleHealth).Methods("GET")
	router.HandleFunc("/status", s.handleStatus).Methods("GET")

	// Cameras and overlays
	router.HandleFunc("/cameras", s.handleAddCamera).Methods("POST")
	router.HandleFunc("/cameras/{camera}", s.handleRemoveCamera).Methods("DELETE")
	router.HandleFunc("/cameras/{camera}/orientation", s.handleSetOrientation).Methods("PUT")
	router.HandleFunc("/cameras/{camera}/overlays", s.handleAddOverlay).Methods("POST")
	router.HandleFunc("/cameras/{camera}/overlays/{overlay}", s.handleRemoveOverlay).Methods("DELETE")

	// Display
	router.HandleFunc("/display/start", s.handleStartDisplay).Methods("POST")
	router.HandleFunc("/display/stop", s.handleStopDisplay).Methods("POST")
	router.HandleFunc("/display/ratio", s.handleSetRatio).Methods("PUT")
	router.HandleFunc("/display/fov", s.handleSetFOV).Methods("PUT")

	// Recording
	router.HandleFunc("/recording/start", s.handleStartRecording).Methods("POST")
	router.HandleFunc("/recording/stop", s.handleStopRecording).Methods("POST")
	router.HandleFunc("/recording/prefix", s.handleSetPrefix).Methods("PUT")

	router.HandleFunc("/stop", s.handleStop).Methods("POST")

	// Data ports
	router.HandleFunc("/streams/{stream}/frame", s.handlePushFrame).Methods("POST")
	router.HandleFunc("/overlays/{overlay}/position", s.handlePushPosition).Methods("PUT")
}

// requestID tags every request with a uuid and a request-scoped logger.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)

		logger := log.With().
			Str("component", "control").
			Str("request_id", id).
			Logger()
		start := time.Now()
		next.ServeHTTP(w, r.WithContext(logger.WithContext(r.Context())))

		logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("took", time.Since(start)).
			Msg("Request handled")
	})
}

// statusFor maps a registry or settings error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, registry.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, registry.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, registry.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, registry.ErrAllocationFailed):
		return http.StatusInsufficientStorage
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	zerolog.Ctx(r.Context()).Warn().Err(err).Int("status", code).Str("path", r.URL.Path).Msg("Request rejected")
	http.Error(w, err.Error(), code)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, fmt.Sprintf("invalid request: %s", err), http.StatusBadRequest)
		return false
	}
	return true
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Cameras int    `json:"cameras"`
	Version string `json:"version"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, &HealthResponse{
		Status:  "healthy",
		Cameras: s.svc.reg.Len(),
		Version: s.version,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Status())
}

// AddCameraRequest is the body of POST /cameras.
type AddCameraRequest struct {
	Name string `json:"name"`
}

// AddCameraResponse is returned by POST /cameras.
type AddCameraResponse struct {
	ID   uint64 `json:"id"`
	Name string `json:"name"`
}

func (s *Server) handleAddCamera(w http.ResponseWriter, r *http.Request) {
	var req AddCameraRequest
	if !decode(w, r, &req) {
		return
	}
	id, err := s.svc.AddCamera(req.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, &AddCameraResponse{ID: uint64(id), Name: req.Name})
}

func (s *Server) handleRemoveCamera(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.RemoveCamera(mux.Vars(r)["camera"]); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// OrientationRequest is the body of PUT /cameras/{camera}/orientation.
type OrientationRequest struct {
	Orientation int `json:"orientation"`
}

func (s *Server) handleSetOrientation(w http.ResponseWriter, r *http.Request) {
	var req OrientationRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.svc.SetOrientation(mux.Vars(r)["camera"], req.Orientation); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddOverlayRequest is the body of POST /cameras/{camera}/overlays.
type AddOverlayRequest struct {
	Name  string   `json:"name"`
	Color [3]uint8 `json:"color"`
}

func (s *Server) handleAddOverlay(w http.ResponseWriter, r *http.Request) {
	var req AddOverlayRequest
	if !decode(w, r, &req) {
		return
	}
	c := color.RGBA{R: req.Color[0], G: req.Color[1], B: req.Color[2], A: 255}
	if err := s.svc.AddOverlay(mux.Vars(r)["camera"], req.Name, c); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleRemoveOverlay(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.svc.RemoveOverlay(vars["camera"], vars["overlay"]); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStartDisplay(w http.ResponseWriter, r *http.Request) {
	s.svc.StartDisplay()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStopDisplay(w http.ResponseWriter, r *http.Request) {
	s.svc.StopDisplay()
	w.WriteHeader(http.StatusNoContent)
}

// RatioRequest is the body of PUT /display/ratio.
type RatioRequest struct {
	Ratio float64 `json:"ratio"`
}

func (s *Server) handleSetRatio(w http.ResponseWriter, r *http.Request) {
	var req RatioRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.svc.SetRatio(req.Ratio); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ToggleRequest is the body of on/off switches.
type ToggleRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handleSetFOV(w http.ResponseWriter, r *http.Request) {
	var req ToggleRequest
	if !decode(w, r, &req) {
		return
	}
	s.svc.SetFOV(req.Enabled)
	w.WriteHeader(http.StatusNoContent)
}

// PrefixRequest is the body of PUT /recording/prefix and, optionally, of
// POST /recording/start.
type PrefixRequest struct {
	Prefix string `json:"prefix"`
}

func (s *Server) handleStartRecording(w http.ResponseWriter, r *http.Request) {
	var req PrefixRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	if err := s.svc.StartRecording(req.Prefix); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStopRecording(w http.ResponseWriter, r *http.Request) {
	s.svc.StopRecording()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetPrefix(w http.ResponseWriter, r *http.Request) {
	var req PrefixRequest
	if !decode(w, r, &req) {
		return
	}
	s.svc.SetPrefix(req.Prefix)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.svc.Stop()
	w.WriteHeader(http.StatusNoContent)
}

// handlePushFrame publishes the body as the newest frame of a stream. With
// width, height and depth query parameters the body is raw pixels,
// otherwise an encoded image (JPEG, PNG, ...).
func (s *Server) handlePushFrame(w http.ResponseWriter, r *http.Request) {
	stream := mux.Vars(r)["stream"]
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxFrameBytes))
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to read frame: %s", err), http.StatusRequestEntityTooLarge)
		return
	}
	if len(body) == 0 {
		http.Error(w, "frame body is empty", http.StatusBadRequest)
		return
	}

	b := &frame.Buffer{Depth: 3, Compressed: true, Pixels: body}
	if q := r.URL.Query(); q.Has("depth") {
		b.Compressed = false
		for key, dst := range map[string]*int{"width": &b.Width, "height": &b.Height, "depth": &b.Depth} {
			v, err := strconv.Atoi(q.Get(key))
			if err != nil || v <= 0 {
				http.Error(w, fmt.Sprintf("%s must be a positive integer", key), http.StatusBadRequest)
				return
			}
			*dst = v
		}
	}

	s.svc.PublishFrame(stream, b)
	w.WriteHeader(http.StatusAccepted)
}

// PositionRequest is the body of PUT /overlays/{overlay}/position. A missing
// present field means the position is known.
type PositionRequest struct {
	X       int   `json:"x"`
	Y       int   `json:"y"`
	Present *bool `json:"present,omitempty"`
}

func (s *Server) handlePushPosition(w http.ResponseWriter, r *http.Request) {
	var req PositionRequest
	if !decode(w, r, &req) {
		return
	}
	p := port.Point{X: req.X, Y: req.Y, Present: true}
	if req.Present != nil {
		p.Present = *req.Present
	}
	s.svc.PublishPosition(mux.Vars(r)["overlay"], p)
	w.WriteHeader(http.StatusNoContent)
}
