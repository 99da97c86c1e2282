// Package api serves the HTTP command and reporting surface.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lightmeter/internal/eventbus"
	"github.com/dokzlo13/lightmeter/internal/ledger"
	"github.com/dokzlo13/lightmeter/internal/light"
	"github.com/dokzlo13/lightmeter/internal/metrics"
	"github.com/dokzlo13/lightmeter/internal/registry"
	"github.com/dokzlo13/lightmeter/internal/stats"
)

// Lights is the command surface of *registry.Registry.
type Lights interface {
	ListAll() []registry.Entry
	Entry(id string) (registry.Entry, error)
	Remaining(id string, now time.Time) (time.Duration, bool, error)
	SwitchOn(ctx context.Context, id string) error
	SwitchOff(ctx context.Context, id string) error
	Dim(ctx context.Context, id string, level float64) error
	SetAutoOff(id string, autoOff time.Duration, now time.Time) error
	SetRatedWatts(id string, watts float64) error
	Reset(id string) error
	PeriodicCheck(ctx context.Context, now time.Time) registry.CheckResult
}

// Publisher queues events. *eventbus.Bus implements it.
type Publisher interface {
	Publish(event eventbus.Event) bool
}

// History returns ledger entries for a light. *ledger.Ledger implements it.
type History interface {
	GetByLight(lightID string, limit int) ([]*ledger.Entry, error)
}

// Options configures the server.
type Options struct {
	Host        string
	Port        int
	PricePerKwh float64
	Currency    string

	Bus     Publisher        // optional; commands publish device_changed when set
	History History          // optional
	Metrics *metrics.Metrics // optional
	Ready   func() error     // optional readiness probe
}

// Server is the HTTP API server.
type Server struct {
	addr       string
	lights     Lights
	opts       Options
	now        func() time.Time
	httpServer *http.Server
}

// NewServer creates a new API server.
func NewServer(lights Lights, opts Options) *Server {
	return &Server{
		addr:   fmt.Sprintf("%s:%d", opts.Host, opts.Port),
		lights: lights,
		opts:   opts,
		now:    time.Now,
	}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	handle := func(path string, h http.HandlerFunc, methods ...string) {
		var handler http.Handler = h
		if s.opts.Metrics != nil {
			handler = s.opts.Metrics.WrapHandler(path, handler)
		}
		r.Handle(path, handler).Methods(methods...)
	}

	handle("/health", s.handleHealth, http.MethodGet)
	handle("/ready", s.handleReady, http.MethodGet)
	if s.opts.Metrics != nil {
		r.Handle("/metrics", s.opts.Metrics.Handler()).Methods(http.MethodGet)
	}

	handle("/lights", s.handleList, http.MethodGet)
	handle("/lights/{id}", s.handleGet, http.MethodGet)
	handle("/lights/{id}/on", s.handleOn, http.MethodPost)
	handle("/lights/{id}/off", s.handleOff, http.MethodPost)
	handle("/lights/{id}/dim", s.handleDim, http.MethodPost)
	handle("/lights/{id}/auto_off", s.handleAutoOff, http.MethodPut)
	handle("/lights/{id}/watts", s.handleWatts, http.MethodPut)
	handle("/lights/{id}/reset", s.handleReset, http.MethodPost)
	handle("/lights/{id}/history", s.handleHistory, http.MethodGet)

	handle("/events/{id}", s.handleDeviceEvent, http.MethodPost)
	handle("/check", s.handleCheck, http.MethodPost)

	handle("/summary", s.handleSummary, http.MethodGet)
	handle("/summary.html", s.handleSummaryHTML, http.MethodGet)

	return r
}

// Run starts the server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info().Str("addr", s.addr).Msg("Starting HTTP API server")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP API server shutdown error")
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.opts.Ready != nil {
		if err := s.opts.Ready(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.lights.ListAll())
}

// lightView is a light as served by GET /lights/{id}.
type lightView struct {
	registry.Entry
	// Negative once overdue; absent when no deadline is armed.
	AutoOffRemainingSeconds *float64 `json:"auto_off_remaining_seconds,omitempty"`
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	e, err := s.lights.Entry(id)
	if err != nil {
		writeError(w, err)
		return
	}

	view := lightView{Entry: e}
	if remaining, ok, err := s.lights.Remaining(id, s.now()); err == nil && ok {
		secs := remaining.Seconds()
		view.AutoOffRemainingSeconds = &secs
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleOn(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.command(w, id, s.lights.SwitchOn(r.Context(), id))
}

func (s *Server) handleOff(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.command(w, id, s.lights.SwitchOff(r.Context(), id))
}

type dimRequest struct {
	Level *float64 `json:"level"`
}

func (s *Server) handleDim(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req dimRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Level == nil {
		writeError(w, fmt.Errorf("%w: level is required", light.ErrInvalidArgument))
		return
	}
	s.command(w, id, s.lights.Dim(r.Context(), id, *req.Level))
}

// command answers a device command and asks for the new state to be read.
func (s *Server) command(w http.ResponseWriter, id string, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	s.publishChanged(id, "api")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) publishChanged(id, source string) bool {
	if s.opts.Bus == nil {
		return false
	}
	return s.opts.Bus.Publish(eventbus.Event{
		Type: eventbus.EventTypeDeviceChanged,
		Key:  id,
		Data: map[string]interface{}{"source": source},
	})
}

type autoOffRequest struct {
	Seconds *float64 `json:"seconds"`
}

func (s *Server) handleAutoOff(w http.ResponseWriter, r *http.Request) {
	var req autoOffRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Seconds == nil {
		writeError(w, fmt.Errorf("%w: seconds is required", light.ErrInvalidArgument))
		return
	}

	d := time.Duration(*req.Seconds * float64(time.Second))
	if err := s.lights.SetAutoOff(mux.Vars(r)["id"], d, s.now()); err != nil {
		writeError(w, err)
		return
	}
	s.handleGet(w, r)
}

type wattsRequest struct {
	Watts *float64 `json:"watts"`
}

func (s *Server) handleWatts(w http.ResponseWriter, r *http.Request) {
	var req wattsRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Watts == nil {
		writeError(w, fmt.Errorf("%w: watts is required", light.ErrInvalidArgument))
		return
	}
	if err := s.lights.SetRatedWatts(mux.Vars(r)["id"], *req.Watts); err != nil {
		writeError(w, err)
		return
	}
	s.handleGet(w, r)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.lights.Reset(mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	s.handleGet(w, r)
}

type historyEntry struct {
	EventID   string         `json:"event_id"`
	EventType string         `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// History page size bounds.
const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
)

func historyLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultHistoryLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > maxHistoryLimit {
		return 0, fmt.Errorf("%w: limit must be between 1 and %d", light.ErrInvalidArgument, maxHistoryLimit)
	}
	return n, nil
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := s.lights.Entry(id); err != nil {
		writeError(w, err)
		return
	}
	limit, err := historyLimit(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if s.opts.History == nil {
		writeJSON(w, http.StatusOK, []historyEntry{})
		return
	}

	entries, err := s.opts.History.GetByLight(id, limit)
	if err != nil {
		log.Error().Err(err).Str("light", id).Msg("Failed to read ledger")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "ledger unavailable"})
		return
	}

	out := make([]historyEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, historyEntry{
			EventID:   e.EventID,
			EventType: string(e.EventType),
			Timestamp: e.Timestamp,
			Payload:   e.Payload,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleDeviceEvent is the webhook for devices that push state changes.
func (s *Server) handleDeviceEvent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := s.lights.Entry(id); err != nil {
		writeError(w, err)
		return
	}

	log.Debug().Str("light", id).Str("remote", r.RemoteAddr).Msg("Received device webhook")
	if s.opts.Bus != nil && !s.publishChanged(id, "webhook") {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "event queue full"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

type checkFailure struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

type checkResponse struct {
	Forced []string       `json:"forced"`
	Failed []checkFailure `json:"failed"`
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	res := s.lights.PeriodicCheck(r.Context(), s.now())

	resp := checkResponse{Forced: res.Forced, Failed: []checkFailure{}}
	if resp.Forced == nil {
		resp.Forced = []string{}
	}
	for _, f := range res.Failed {
		resp.Failed = append(resp.Failed, checkFailure{ID: f.ID, Error: f.Err.Error()})
	}
	for _, id := range res.Forced {
		s.publishChanged(id, "check")
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) summary() stats.Summary {
	sum := stats.Summarize(s.lights, s.opts.PricePerKwh)
	sum.Currency = s.opts.Currency
	return sum
}

func (s *Server) handleSummary(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.summary())
}

func (s *Server) handleSummaryHTML(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := stats.RenderHTML(w, s.summary()); err != nil {
		log.Error().Err(err).Msg("Failed to render summary")
	}
}

func decode(r *http.Request, v any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", light.ErrInvalidArgument, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

// StatusFor maps domain errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, light.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, light.ErrDuplicateID):
		return http.StatusConflict
	case errors.Is(err, light.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, light.ErrUnsupportedOperation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, light.ErrDeviceUnreachable):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		log.Warn().Err(err).Int("status", status).Msg("Request failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
