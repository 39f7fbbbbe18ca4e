// Package engine is the entry point for callers: it resolves a location
// query across every source, validates the candidates and promotes approved
// outcomes into the validated cache.
package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/facility-locator/internal/model"
	"github.com/sells-group/facility-locator/internal/promote"
	"github.com/sells-group/facility-locator/internal/resilience"
	"github.com/sells-group/facility-locator/internal/resolve"
	"github.com/sells-group/facility-locator/internal/store"
	"github.com/sells-group/facility-locator/internal/validate"
)

// Result is the outcome of Locate.
type Result struct {
	RequestID  string                  `json:"request_id"`
	Query      model.LocationQuery     `json:"query"`
	Candidates *model.CandidateSet     `json:"candidates"`
	Outcome    model.ValidationOutcome `json:"outcome"`
}

// Engine wires the resolver, validator and promoter over one validated cache.
type Engine struct {
	resolver  *resolve.Resolver
	validator *validate.Validator
	promoter  *promote.Promoter
	cache     store.ValidatedCache
	breakers  *resilience.Registry
	closers   []func() error
	now       func() time.Time
	log       *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithBreakers exposes provider breaker states through Health.
func WithBreakers(r *resilience.Registry) Option {
	return func(e *Engine) { e.breakers = r }
}

// WithCloser registers a cleanup function run by Close.
func WithCloser(fn func() error) Option {
	return func(e *Engine) { e.closers = append(e.closers, fn) }
}

// WithClock overrides the clock used for approvals.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New assembles an Engine. The cache is the one the resolver reads and the
// promoter writes.
func New(r *resolve.Resolver, v *validate.Validator, cache store.ValidatedCache, opts ...Option) *Engine {
	e := &Engine{
		resolver:  r,
		validator: v,
		promoter:  promote.New(cache),
		cache:     cache,
		now:       func() time.Time { return time.Now().UTC() },
		log:       zap.L().With(zap.String("component", "engine")),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Resolve returns one candidate per configured source.
func (e *Engine) Resolve(ctx context.Context, q model.LocationQuery) (*model.CandidateSet, error) {
	return e.resolver.Resolve(ctx, q)
}

// Validate scores a CandidateSet.
func (e *Engine) Validate(ctx context.Context, cs *model.CandidateSet, q model.LocationQuery) (model.ValidationOutcome, error) {
	return e.validator.Validate(ctx, cs, q)
}

// Promote writes a validated outcome into the cache.
func (e *Engine) Promote(ctx context.Context, q model.LocationQuery, o model.ValidationOutcome) (model.CacheWriteResult, error) {
	return e.promoter.Promote(ctx, q, o)
}

// Approve marks a reviewable outcome as validated by approver. Pending
// outcomes need force.
func (e *Engine) Approve(o model.ValidationOutcome, approver string, force bool) (model.ValidationOutcome, error) {
	return validate.Approve(o, approver, e.now(), force)
}

// Locate resolves and validates q. It never promotes.
func (e *Engine) Locate(ctx context.Context, q model.LocationQuery) (*Result, error) {
	start := time.Now()
	id := uuid.NewString()

	cs, err := e.resolver.Resolve(ctx, q)
	if err != nil {
		return nil, eris.Wrap(err, "engine: resolve")
	}
	o, err := e.validator.Validate(ctx, cs, q)
	if err != nil {
		return nil, eris.Wrap(err, "engine: validate")
	}

	e.log.Info("located",
		zap.String("request_id", id),
		zap.String("query", q.Name),
		zap.String("status", string(o.Status)),
		zap.Float64("confidence", o.Confidence),
		zap.String("recommended", string(o.RecommendedSource)),
		zap.Int("sources", len(cs.Candidates)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return &Result{RequestID: id, Query: q, Candidates: cs, Outcome: o}, nil
}

// Invalidate removes a cache entry by name.
func (e *Engine) Invalidate(ctx context.Context, name string) (bool, error) {
	return e.promoter.Invalidate(ctx, name)
}

// ListCache pages through the validated cache.
func (e *Engine) ListCache(ctx context.Context, filter store.ListFilter) ([]model.ValidatedCacheEntry, error) {
	entries, err := e.cache.List(ctx, filter)
	return entries, eris.Wrap(err, "engine: list cache")
}

// Health reports provider breaker states keyed by provider name.
func (e *Engine) Health() map[string]string {
	if e.breakers == nil {
		return map[string]string{}
	}
	return e.breakers.States()
}

// Close releases the cache and any registered resources.
func (e *Engine) Close() error {
	var first error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	if err := e.cache.Close(); err != nil && first == nil {
		first = err
	}
	return eris.Wrap(first, "engine: close")
}
