// Package statusapi serves read-only diagnostics over HTTP.
package statusapi

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"codeberg.org/mutker/inferctl/internal/errors"
	"codeberg.org/mutker/inferctl/internal/logger"
	"codeberg.org/mutker/inferctl/internal/scheduler"
	"codeberg.org/mutker/inferctl/internal/session"
	"codeberg.org/mutker/inferctl/internal/telemetry"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	defaultHistory  = 60
	maxHistory      = 1000
	shutdownTimeout = 5 * time.Second
)

type SchedulerView interface {
	CurrentMetrics() scheduler.Metrics
}

type SessionView interface {
	Status() session.Status
}

type HistoryView interface {
	Recent(ctx context.Context, limit int) ([]telemetry.Snapshot, error)
}

// Report is the /status payload.
type Report struct {
	Timestamp         time.Time    `json:"timestamp"`
	Mode              string       `json:"mode"`
	PreferredMode     string       `json:"preferred_mode"`
	ThermalState      string       `json:"thermal_state"`
	Trend             string       `json:"trend"`
	Temperature       float64      `json:"temperature"`
	InferenceThreads  int          `json:"inference_threads"`
	BackgroundThreads int          `json:"background_threads"`
	PoolVersion       uint64       `json:"pool_version"`
	CPUPercent        float64      `json:"cpu_percent"`
	MemoryPressure    float64      `json:"memory_pressure"`
	Aggressive        bool         `json:"aggressive_optimization"`
	Boost             *BoostReport `json:"boost,omitempty"`
	Model             *ModelReport `json:"model,omitempty"`
}

type BoostReport struct {
	ID          string `json:"id"`
	Reason      string `json:"reason"`
	RemainingMS int64  `json:"remaining_ms"`
}

type ModelReport struct {
	ID         string `json:"id"`
	State      string `json:"state"`
	Sessions   int    `json:"sessions"`
	Generating int    `json:"generating"`
}

type Option func(*api)

func WithSessions(v SessionView) Option { return func(a *api) { a.sessions = v } }

func WithHistory(v HistoryView) Option { return func(a *api) { a.history = v } }

func WithLogger(l logger.Logger) Option { return func(a *api) { a.log = l } }

type api struct {
	sched    SchedulerView
	sessions SessionView
	history  HistoryView
	log      logger.Logger
}

// NewRouter returns the diagnostics handler.
func NewRouter(sched SchedulerView, opts ...Option) http.Handler {
	a := &api{sched: sched, log: logger.Nop()}
	for _, opt := range opts {
		opt(a)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(a.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/status", a.status)
	r.Get("/history", a.recent)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return r
}

func (a *api) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		a.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}

func (a *api) status(w http.ResponseWriter, _ *http.Request) {
	m := a.sched.CurrentMetrics()
	rep := Report{
		Timestamp:         m.Timestamp,
		Mode:              m.Mode.String(),
		PreferredMode:     m.PreferredMode.String(),
		ThermalState:      m.ThermalState.String(),
		Trend:             m.Trend.String(),
		Temperature:       m.Temperature,
		InferenceThreads:  m.InferenceThreads,
		BackgroundThreads: m.BackgroundThreads,
		PoolVersion:       m.PoolVersion,
		CPUPercent:        m.CPUPercent,
		MemoryPressure:    m.MemoryPressure,
		Aggressive:        m.AggressiveOptimization,
	}
	if b := m.Boost; b != nil {
		rep.Boost = &BoostReport{ID: b.ID, Reason: b.Reason, RemainingMS: b.Remaining.Milliseconds()}
	}
	if a.sessions != nil {
		st := a.sessions.Status()
		rep.Model = &ModelReport{
			ID:         st.ModelID,
			State:      st.ModelState.String(),
			Sessions:   st.Sessions,
			Generating: st.Generating,
		}
	}
	writeJSON(w, http.StatusOK, rep)
}

func (a *api) recent(w http.ResponseWriter, r *http.Request) {
	if a.history == nil {
		writeError(w, http.StatusNotFound, "telemetry disabled")
		return
	}

	limit := defaultHistory
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistory)
	}

	snaps, err := a.history.Recent(r.Context(), limit)
	switch {
	case errors.HasCode(err, errors.ErrTelemetryDisabled):
		writeError(w, http.StatusNotFound, "telemetry disabled")
	case err != nil:
		a.log.Error().Err(err).Msg("Failed to read telemetry history")
		writeError(w, http.StatusInternalServerError, "failed to read history")
	default:
		writeJSON(w, http.StatusOK, map[string]any{"snapshots": snaps})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// Server runs the diagnostics handler until its context ends.
type Server struct {
	srv *http.Server
	log logger.Logger
}

func NewServer(addr string, h http.Handler, log logger.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: log,
	}
}

// Run listens on the configured address and shuts down when ctx is done.
func (s *Server) Run(ctx context.Context) error {
	errFactory := errors.New()

	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return errFactory.Wrap(errors.ErrInitFailed, err)
	}
	s.log.Info().Str("addr", ln.Addr().String()).Msg("Diagnostics server listening")

	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errFactory.Wrap(errors.ErrOperationFailed, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return errFactory.Wrap(errors.ErrShutdownFailed, err)
	}
	return nil
}
