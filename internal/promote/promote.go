// Package promote writes approved resolutions into the validated cache.
package promote

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/facility-locator/internal/geo"
	"github.com/sells-group/facility-locator/internal/model"
	"github.com/sells-group/facility-locator/internal/store"
)

// ErrNotValidated is returned when promoting an outcome that was never approved.
var ErrNotValidated = eris.New("promote: outcome is not validated")

// Promoter upserts validated outcomes into a ValidatedCache.
type Promoter struct {
	cache store.ValidatedCache
	now   func() time.Time
	log   *zap.Logger
}

// New returns a Promoter writing to cache.
func New(cache store.ValidatedCache) *Promoter {
	return &Promoter{
		cache: cache,
		now:   func() time.Time { return time.Now().UTC() },
		log:   zap.L().With(zap.String("component", "promote")),
	}
}

// Promote stores the outcome's recommended coordinate under the query's
// cache key. Promoting the same name again overwrites the entry.
func (p *Promoter) Promote(ctx context.Context, q model.LocationQuery, o model.ValidationOutcome) (model.CacheWriteResult, error) {
	if q.Empty() {
		return model.CacheWriteResult{}, model.ErrEmptyQuery
	}
	if o.Status != model.StatusValidated {
		return model.CacheWriteResult{}, eris.Wrapf(ErrNotValidated, "status %s", o.Status)
	}
	if o.RecommendedCoord == nil || !o.RecommendedCoord.Valid() {
		return model.CacheWriteResult{}, eris.New("promote: outcome has no valid recommended coordinate")
	}

	coord := *o.RecommendedCoord
	country := o.Bounds.CountryCode
	if country == "" {
		country = strings.ToUpper(strings.TrimSpace(q.CountryHint))
	}
	entry := model.ValidatedCacheEntry{
		Key:         store.Key(q.Name),
		Name:        strings.TrimSpace(q.Name),
		Coord:       coord,
		CountryCode: country,
		CellToken:   geo.CellToken(coord),
		Provenance: model.Provenance{
			Source:     o.RecommendedSource,
			Confidence: o.Confidence,
			ApprovedBy: o.ApprovedBy,
			PromotedAt: p.now(),
		},
	}

	res, err := p.cache.Upsert(ctx, entry)
	if err != nil {
		return model.CacheWriteResult{}, eris.Wrap(err, "promote: upsert")
	}
	p.log.Info("promote: cache entry written",
		zap.String("key", res.Key),
		zap.Bool("created", res.Created),
		zap.String("source", string(entry.Provenance.Source)),
		zap.String("approved_by", entry.Provenance.ApprovedBy),
	)
	return res, nil
}

// Invalidate removes the cache entry for name.
func (p *Promoter) Invalidate(ctx context.Context, name string) (bool, error) {
	removed, err := p.cache.Invalidate(ctx, name)
	if err != nil {
		return false, eris.Wrap(err, "promote: invalidate")
	}
	if removed {
		p.log.Info("promote: cache entry invalidated", zap.String("key", store.Key(name)))
	}
	return removed, nil
}
