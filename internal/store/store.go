// Package store persists the validated-location cache: curated name to
// coordinate mappings promoted from approved validation outcomes.
package store

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/facility-locator/internal/db"
	"github.com/sells-group/facility-locator/internal/model"
	"github.com/sells-group/facility-locator/internal/similarity"
)

// ListFilter specifies criteria for listing cache entries.
type ListFilter struct {
	CountryCode string `json:"country_code,omitempty"`
	Limit       int    `json:"limit,omitempty"`
	Offset      int    `json:"offset,omitempty"`
}

// FuzzyHit is the best fuzzy cache match for a name.
type FuzzyHit struct {
	Entry model.ValidatedCacheEntry `json:"entry"`
	Score float64                   `json:"score"`
}

// ValidatedCache defines the persistence interface for promoted locations.
// Lookups return nil, nil on a miss.
type ValidatedCache interface {
	GetExact(ctx context.Context, name string) (*model.ValidatedCacheEntry, error)
	GetFuzzy(ctx context.Context, name string, threshold float64, countryCode string) (*FuzzyHit, error)
	Upsert(ctx context.Context, entry model.ValidatedCacheEntry) (model.CacheWriteResult, error)
	Invalidate(ctx context.Context, name string) (bool, error)
	List(ctx context.Context, filter ListFilter) ([]model.ValidatedCacheEntry, error)

	Migrate(ctx context.Context) error
	Close() error
}

// Key is the cache key for a location name: accent-folded, lower-cased,
// punctuation-free and whitespace-collapsed.
func Key(name string) string {
	return similarity.Normalize(name)
}

// Open returns the cache for the configured driver ("sqlite" or "postgres").
func Open(ctx context.Context, driver, dsn string, poolCfg *db.PoolConfig) (ValidatedCache, error) {
	switch driver {
	case "sqlite", "":
		return NewSQLite(dsn)
	case "postgres":
		return NewPostgres(ctx, dsn, poolCfg)
	default:
		return nil, eris.Errorf("store: unknown driver %q", driver)
	}
}

// bestFuzzy scores every entry against key and returns the highest scoring
// one at or above threshold. Ties go to the lexicographically smaller key.
func bestFuzzy(entries []model.ValidatedCacheEntry, key string, threshold float64) *FuzzyHit {
	if key == "" {
		return nil
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })

	var best *FuzzyHit
	for _, e := range entries {
		score := similarity.TokenSortRatio(key, e.Key)
		if score < threshold {
			continue
		}
		if best == nil || score > best.Score {
			best = &FuzzyHit{Entry: e, Score: score}
		}
	}
	return best
}

func pageBounds(filter ListFilter) (limit, offset int) {
	limit = filter.Limit
	if limit <= 0 {
		limit = 100
	}
	offset = filter.Offset
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
