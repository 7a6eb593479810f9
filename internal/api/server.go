// Package api exposes queue and quota statistics, exclusion management and
// a manual dispatch trigger over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/exclusion"
	"github.com/sells-group/outreach-cli/internal/metrics"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/outreach"
	"github.com/sells-group/outreach-cli/internal/quota"
	"github.com/sells-group/outreach-cli/internal/store"
)

// Pinger checks the store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// QueueReader reports queue counts.
type QueueReader interface {
	Stats(ctx context.Context) (*model.QueueStats, error)
}

// QuotaReader reports a campaign's counters for today.
type QuotaReader interface {
	TodayStats(ctx context.Context, campaignID string) (*quota.Stats, error)
}

// Excluder manages the do-not-contact list.
type Excluder interface {
	Exclude(ctx context.Context, typ model.ExclusionType, value, reason string) (bool, error)
	IsExcluded(ctx context.Context, domainOrURL string) (bool, error)
	IsEmailExcluded(ctx context.Context, email string) (bool, error)
}

// Drainer runs one dispatch pass.
type Drainer interface {
	Drain(ctx context.Context) (outreach.DrainResult, error)
}

// Deps are the services behind the routes. Metrics may be nil.
type Deps struct {
	Store      Pinger
	Queue      QueueReader
	Quota      QuotaReader
	Exclusions Excluder
	Dispatcher Drainer
	Metrics    *metrics.Metrics
}

// Server holds the handlers.
type Server struct {
	deps Deps
	log  *zap.Logger
}

// New creates a Server.
func New(d Deps) *Server {
	return &Server{deps: d, log: zap.L().With(zap.String("component", "api"))}
}

// Handler returns the routed handler. allowedOrigins configures CORS; empty
// allows any origin.
func (s *Server) Handler(allowedOrigins ...string) http.Handler {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.health)
	r.Get("/stats/queue", s.queueStats)
	r.Get("/stats/today", s.todayStats)
	r.Post("/exclusions", s.addExclusion)
	r.Get("/exclusions/check", s.checkExclusion)
	r.Post("/dispatch/drain", s.drain)
	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics.Handler())
	}
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("api: write response", zap.Error(err))
	}
}

// writeError maps domain errors to status codes and hides internal detail.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	case errors.Is(err, exclusion.ErrInvalid):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	default:
		s.log.Error("api: request failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.Ping(r.Context()); err != nil {
		s.log.Warn("api: health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) queueStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Queue.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.deps.Metrics.SetQueueDepth(st)
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) todayStats(w http.ResponseWriter, r *http.Request) {
	campaign := r.URL.Query().Get("campaign")
	if campaign == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "campaign is required"})
		return
	}
	st, err := s.deps.Quota.TodayStats(r.Context(), campaign)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type exclusionRequest struct {
	Type   model.ExclusionType `json:"type"`
	Value  string              `json:"value"`
	Reason string              `json:"reason"`
}

func (s *Server) addExclusion(w http.ResponseWriter, r *http.Request) {
	var req exclusionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}
	if req.Type == "" {
		req.Type = model.ExclusionDomain
	}
	added, err := s.deps.Exclusions.Exclude(r.Context(), req.Type, req.Value, req.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]bool{"added": added})
}

func (s *Server) checkExclusion(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var (
		excluded bool
		err      error
	)
	switch {
	case q.Get("email") != "":
		excluded, err = s.deps.Exclusions.IsEmailExcluded(r.Context(), q.Get("email"))
	case q.Get("domain") != "":
		excluded, err = s.deps.Exclusions.IsExcluded(r.Context(), q.Get("domain"))
	default:
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "domain or email is required"})
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"excluded": excluded})
}

// drain runs to completion even if the client disconnects.
func (s *Server) drain(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Dispatcher.Drain(context.WithoutCancel(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if res.AlreadyRunning {
		status = http.StatusConflict
	}
	writeJSON(w, status, res)
}
