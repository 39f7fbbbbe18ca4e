// Package server exposes the location engine over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/facility-locator/internal/engine"
	"github.com/sells-group/facility-locator/internal/model"
	"github.com/sells-group/facility-locator/internal/promote"
	"github.com/sells-group/facility-locator/internal/store"
	"github.com/sells-group/facility-locator/internal/validate"
)

const maxBodyBytes = 1 << 20

// Locator is the engine surface the API needs.
type Locator interface {
	Locate(ctx context.Context, q model.LocationQuery) (*engine.Result, error)
	Approve(o model.ValidationOutcome, approver string, force bool) (model.ValidationOutcome, error)
	Promote(ctx context.Context, q model.LocationQuery, o model.ValidationOutcome) (model.CacheWriteResult, error)
	Invalidate(ctx context.Context, name string) (bool, error)
	ListCache(ctx context.Context, filter store.ListFilter) ([]model.ValidatedCacheEntry, error)
	Health() map[string]string
}

// Server routes API requests to a Locator.
type Server struct {
	loc     Locator
	origins []string
	log     *zap.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithCORSOrigins sets the allowed CORS origins.
func WithCORSOrigins(origins ...string) Option {
	return func(s *Server) { s.origins = origins }
}

// New returns a Server over loc.
func New(loc Locator, opts ...Option) *Server {
	s := &Server{
		loc:     loc,
		origins: []string{"*"},
		log:     zap.L().With(zap.String("component", "server")),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/locate", s.handleLocate)
		r.Post("/approve", s.handleApprove)
		r.Get("/cache", s.handleListCache)
		r.Delete("/cache/{name}", s.handleInvalidate)
	})
	return r
}

// Run serves on port until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		s.log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.log.Info("starting server", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return eris.Wrap(err, "server: listen")
	}
	return nil
}

type locateRequest struct {
	Name        string `json:"name"`
	CountryHint string `json:"country_hint"`
}

type approveRequest struct {
	Query    model.LocationQuery     `json:"query"`
	Outcome  model.ValidationOutcome `json:"outcome"`
	Approver string                  `json:"approver"`
	Force    bool                    `json:"force"`
}

type approveResponse struct {
	Outcome model.ValidationOutcome `json:"outcome"`
	Cache   model.CacheWriteResult  `json:"cache"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"providers": s.loc.Health(),
	})
}

func (s *Server) handleLocate(w http.ResponseWriter, r *http.Request) {
	var req locateRequest
	if !decode(w, r, &req) {
		return
	}
	q := model.LocationQuery{Name: req.Name, CountryHint: req.CountryHint}

	res, err := s.loc.Locate(r.Context(), q)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleApprove approves a reviewed outcome and promotes it in one step.
func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Query.Empty() {
		writeError(w, http.StatusBadRequest, "query.name is required")
		return
	}
	if req.Approver == "" {
		writeError(w, http.StatusBadRequest, "approver is required")
		return
	}

	approved, err := s.loc.Approve(req.Outcome, req.Approver, req.Force)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	wr, err := s.loc.Promote(r.Context(), req.Query, approved)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.log.Info("approved and promoted",
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.String("key", wr.Key),
		zap.String("approver", approved.ApprovedBy),
		zap.Bool("created", wr.Created),
	)
	writeJSON(w, http.StatusOK, approveResponse{Outcome: approved, Cache: wr})
}

func (s *Server) handleListCache(w http.ResponseWriter, r *http.Request) {
	filter := store.ListFilter{CountryCode: r.URL.Query().Get("country")}
	var err error
	if filter.Limit, err = intParam(r, "limit"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if filter.Offset, err = intParam(r, "offset"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	entries, err := s.loc.ListCache(r.Context(), filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if entries == nil {
		entries = []model.ValidatedCacheEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	removed, err := s.loc.Invalidate(r.Context(), name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, "no cache entry for "+strconv.Quote(name))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"removed": true})
}

// fail maps engine errors onto HTTP statuses.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, model.ErrEmptyQuery):
		writeError(w, http.StatusBadRequest, "name is required")
	case errors.Is(err, validate.ErrNotApprovable), errors.Is(err, promote.ErrNotValidated):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "request cancelled")
	default:
		s.log.Error("request failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func intParam(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, eris.Errorf("%s must be a non-negative integer", name)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
