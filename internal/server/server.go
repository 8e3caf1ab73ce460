// Package server exposes the session over HTTP: the control API plus the
// health and metrics listeners.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/thebranchdriftcatalyst/sbdeck/internal/action"
	"github.com/thebranchdriftcatalyst/sbdeck/internal/status"
	"github.com/thebranchdriftcatalyst/sbdeck/internal/streamerbot"
)

// Max accepted request body
const maxBodyBytes = 1 << 20

// Backend is the session the API drives
type Backend interface {
	Dispatch(ctx context.Context, req action.Request) (*action.Outcome, error)
	Actions(ctx context.Context) ([]streamerbot.Action, error)
	Status() status.Snapshot
	IsConnected() bool
}

// API serves the control endpoints
type API struct {
	backend Backend
	logger  zerolog.Logger
}

// NewAPI creates the control API handler
func NewAPI(backend Backend, logger zerolog.Logger) *API {
	return &API{
		backend: backend,
		logger:  logger.With().Str("component", "api").Logger(),
	}
}

// Handler returns the routed API
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", a.handleStatus)
	mux.HandleFunc("GET /api/actions", a.handleActions)
	mux.HandleFunc("POST /api/actions/do", a.handleDo)
	return a.logRequests(mux)
}

// DoRequest is the body of POST /api/actions/do. Payload may be a JSON
// object or a string holding JSON text.
type DoRequest struct {
	Action     string          `json:"action"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	IgnoreCase bool            `json:"ignore_case"`
}

// DoResponse reports a completed submission
type DoResponse struct {
	ActionID string          `json:"action_id"`
	Fallback bool            `json:"fallback"`
	FrameID  string          `json:"frame_id,omitempty"`
	Duration string          `json:"duration"`
	Response json.RawMessage `json:"response,omitempty"`
}

// ErrorResponse is returned for every failed call
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

type actionsResponse struct {
	Actions []streamerbot.Action `json:"actions"`
	Count   int                  `json:"count"`
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.backend.Status())
}

func (a *API) handleActions(w http.ResponseWriter, r *http.Request) {
	actions, err := a.backend.Actions(r.Context())
	if err != nil {
		a.logger.Error().Err(err).Msg("Failed to list actions")
		writeError(w, err)
		return
	}
	if actions == nil {
		actions = []streamerbot.Action{}
	}
	writeJSON(w, http.StatusOK, actionsResponse{Actions: actions, Count: len(actions)})
}

func (a *API) handleDo(w http.ResponseWriter, r *http.Request) {
	var body DoRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error: fmt.Sprintf("invalid request body: %v", err),
			Kind:  action.KindAction,
		})
		return
	}

	out, err := a.backend.Dispatch(r.Context(), action.Request{
		Ref:        body.Action,
		Payload:    payloadText(body.Payload),
		IgnoreCase: body.IgnoreCase,
	})
	if err != nil {
		// Dispatch already logged the failure
		writeError(w, err)
		return
	}

	resp := DoResponse{
		ActionID: out.ActionID,
		Fallback: out.Fallback,
		FrameID:  out.FrameID,
		Duration: out.Duration.String(),
	}
	if out.Response != nil && len(out.Response.Raw) > 0 {
		resp.Response = out.Response.Raw
	}
	writeJSON(w, http.StatusOK, resp)
}

// payloadText turns the payload field back into the text a user would
// have typed. A JSON string is unwrapped; anything else is passed through
// so payload validation sees it unchanged.
func payloadText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// StatusCode maps a dispatch error to an HTTP status
func StatusCode(err error) int {
	switch {
	case errors.Is(err, streamerbot.ErrNotConnected):
		return http.StatusServiceUnavailable
	case errors.Is(err, action.ErrInvalidPayload), errors.Is(err, action.ErrEmptyReference):
		return http.StatusBadRequest
	case errors.Is(err, action.ErrActionNotFound):
		return http.StatusNotFound
	default:
		return http.StatusBadGateway
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, StatusCode(err), ErrorResponse{Error: err.Error(), Kind: action.Kind(err)})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (a *API) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)
		a.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.code).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

// HealthHandler serves liveness and readiness probes. Readiness follows
// the connection state.
func HealthHandler(ready func() bool) http.Handler {
	mux := http.NewServeMux()

	// Liveness probe - always returns 200 if server is running
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Readiness probe - 200 while connected, 503 otherwise
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if !ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("not connected"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})

	return mux
}

// MetricsHandler serves the Prometheus registry
func MetricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Start serves handler on port in the background
func Start(name string, port int, handler http.Handler, logger zerolog.Logger) *http.Server {
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Int("port", port).Msgf("Starting %s server", name)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msgf("%s server error", name)
		}
	}()

	return server
}

// Shutdown stops a server started with Start
func Shutdown(name string, server *http.Server, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msgf("%s server shutdown error", name)
	}
}
