package geocode

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/facility-locator/internal/resilience"
)

// FallbackOption configures WithLocalFallback.
type FallbackOption func(*fallback)

// WithLocalTimeout bounds each call to the local instance so a hung local
// server leaves time for the public one.
func WithLocalTimeout(d time.Duration) FallbackOption {
	return func(f *fallback) {
		f.localTimeout = d
	}
}

// WithFallbackName sets the composed provider's name. It defaults to the
// local provider's name.
func WithFallbackName(name string) FallbackOption {
	return func(f *fallback) {
		f.name = name
	}
}

type fallback struct {
	name         string
	local        Provider
	public       Provider
	localTimeout time.Duration
}

// WithLocalFallback composes a self-hosted instance with its public
// counterpart. The public provider is called only when the local one fails,
// and results record which one served them in ServedBy.
func WithLocalFallback(local, public Provider, opts ...FallbackOption) Provider {
	f := &fallback{name: local.Name(), local: local, public: public}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *fallback) Name() string { return f.name }

func (f *fallback) Search(ctx context.Context, query string, hint RegionHint) (*Place, error) {
	p, served, err := tryLocalFirst(ctx, f, "search",
		func(ctx context.Context) (*Place, error) { return f.local.Search(ctx, query, hint) },
		func(ctx context.Context) (*Place, error) { return f.public.Search(ctx, query, hint) },
	)
	if err != nil {
		return nil, err
	}
	p.ServedBy = served
	return p, nil
}

func (f *fallback) Reverse(ctx context.Context, lat, lon float64) (*Address, error) {
	a, served, err := tryLocalFirst(ctx, f, "reverse",
		func(ctx context.Context) (*Address, error) { return f.local.Reverse(ctx, lat, lon) },
		func(ctx context.Context) (*Address, error) { return f.public.Reverse(ctx, lat, lon) },
	)
	if err != nil {
		return nil, err
	}
	a.ServedBy = served
	return a, nil
}

func tryLocalFirst[T any](ctx context.Context, f *fallback, op string, local, public func(context.Context) (*T, error)) (*T, string, error) {
	lctx := ctx
	if f.localTimeout > 0 {
		var cancel context.CancelFunc
		lctx, cancel = context.WithTimeout(ctx, f.localTimeout)
		defer cancel()
	}

	v, localErr := local(lctx)
	if localErr == nil {
		return v, ServedLocal, nil
	}
	if ctx.Err() != nil {
		return nil, "", localErr
	}

	zap.L().Debug("geocode: local instance failed, using public",
		zap.String("provider", f.name),
		zap.String("op", op),
		zap.Error(localErr),
	)

	v, publicErr := public(ctx)
	if publicErr != nil {
		return nil, "", fmt.Errorf("%s %s: local: %v; public: %w", f.name, op, localErr, publicErr)
	}
	return v, ServedPublic, nil
}

type breakerProvider struct {
	Provider
	breaker *resilience.Breaker
}

// WithBreaker rejects calls while b is open. Rejections are ErrUnavailable.
// This does not retry.
func WithBreaker(p Provider, b *resilience.Breaker) Provider {
	return &breakerProvider{Provider: p, breaker: b}
}

func (bp *breakerProvider) Search(ctx context.Context, query string, hint RegionHint) (*Place, error) {
	p, err := resilience.Do(ctx, bp.breaker, func(ctx context.Context) (*Place, error) {
		return bp.Provider.Search(ctx, query, hint)
	})
	return p, bp.mapOpen(err)
}

func (bp *breakerProvider) Reverse(ctx context.Context, lat, lon float64) (*Address, error) {
	a, err := resilience.Do(ctx, bp.breaker, func(ctx context.Context) (*Address, error) {
		return bp.Provider.Reverse(ctx, lat, lon)
	})
	return a, bp.mapOpen(err)
}

func (bp *breakerProvider) mapOpen(err error) error {
	if err == nil {
		return nil
	}
	if resilience.IsOpen(err) {
		return &Error{Provider: bp.Name(), Op: "circuit", Kind: ErrUnavailable, Err: err}
	}
	return err
}
