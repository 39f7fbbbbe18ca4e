package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/facility-locator/internal/db"
	"github.com/sells-group/facility-locator/internal/model"
)

// PostgresStore implements ValidatedCache on a pgx pool.
type PostgresStore struct {
	pool db.Pool
	now  func() time.Time
}

// NewPostgres connects to Postgres and returns a cache on the new pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *db.PoolConfig) (*PostgresStore, error) {
	pool, err := db.NewPool(ctx, connString, poolCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: open cache")
	}
	return NewPostgresWithPool(pool), nil
}

// NewPostgresWithPool wraps an existing pool. Close closes the pool.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, now: func() time.Time { return time.Now().UTC() }}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS validated_locations (
	id           UUID PRIMARY KEY,
	key          TEXT NOT NULL UNIQUE,
	name         TEXT NOT NULL,
	lat          DOUBLE PRECISION NOT NULL,
	lon          DOUBLE PRECISION NOT NULL,
	country_code TEXT NOT NULL DEFAULT '',
	cell_token   TEXT NOT NULL DEFAULT '',
	source       TEXT NOT NULL,
	confidence   DOUBLE PRECISION NOT NULL,
	approved_by  TEXT NOT NULL DEFAULT '',
	promoted_at  TIMESTAMPTZ NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_validated_locations_country ON validated_locations(country_code);
`

const postgresColumns = `id::text, key, name, lat, lon, country_code, cell_token, source, confidence, approved_by, promoted_at, created_at, updated_at`

// Migrate creates the cache table.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// GetExact returns the entry whose key equals Key(name).
func (s *PostgresStore) GetExact(ctx context.Context, name string) (*model.ValidatedCacheEntry, error) {
	key := Key(name)
	if key == "" {
		return nil, nil
	}
	row := s.pool.QueryRow(ctx,
		`SELECT `+postgresColumns+` FROM validated_locations WHERE key = $1`, key)
	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get entry %q", key)
	}
	return e, nil
}

// GetFuzzy scores the candidate entries in Go, like the SQLite store, so both
// drivers rank identically.
func (s *PostgresStore) GetFuzzy(ctx context.Context, name string, threshold float64, countryCode string) (*FuzzyHit, error) {
	key := Key(name)
	if key == "" {
		return nil, nil
	}

	query := `SELECT ` + postgresColumns + ` FROM validated_locations`
	var args []any
	if countryCode != "" {
		query += ` WHERE country_code = $1 OR country_code = ''`
		args = append(args, countryCode)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: fuzzy candidates")
	}
	defer rows.Close()

	var entries []model.ValidatedCacheEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan fuzzy candidate")
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate fuzzy candidates")
	}
	return bestFuzzy(entries, key, threshold), nil
}

// Upsert inserts or replaces the entry for entry.Key. xmax = 0 on the
// returned row means the statement inserted it.
func (s *PostgresStore) Upsert(ctx context.Context, entry model.ValidatedCacheEntry) (model.CacheWriteResult, error) {
	if entry.Key == "" {
		entry.Key = Key(entry.Name)
	}
	if entry.Key == "" {
		return model.CacheWriteResult{}, eris.New("postgres: upsert entry with empty key")
	}
	now := s.now()
	if entry.Provenance.PromotedAt.IsZero() {
		entry.Provenance.PromotedAt = now
	}

	var inserted bool
	err := s.pool.QueryRow(ctx, `
INSERT INTO validated_locations (id, key, name, lat, lon, country_code, cell_token, source, confidence, approved_by, promoted_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
ON CONFLICT (key) DO UPDATE SET
	name = EXCLUDED.name,
	lat = EXCLUDED.lat,
	lon = EXCLUDED.lon,
	country_code = EXCLUDED.country_code,
	cell_token = EXCLUDED.cell_token,
	source = EXCLUDED.source,
	confidence = EXCLUDED.confidence,
	approved_by = EXCLUDED.approved_by,
	promoted_at = EXCLUDED.promoted_at,
	updated_at = EXCLUDED.updated_at
RETURNING id::text, created_at, (xmax = 0)`,
		uuid.New().String(), entry.Key, entry.Name, entry.Coord.Lat, entry.Coord.Lon,
		entry.CountryCode, entry.CellToken, string(entry.Provenance.Source),
		entry.Provenance.Confidence, entry.Provenance.ApprovedBy,
		entry.Provenance.PromotedAt.UTC(), now,
	).Scan(&entry.ID, &entry.CreatedAt, &inserted)
	if err != nil {
		return model.CacheWriteResult{}, eris.Wrapf(err, "postgres: upsert entry %q", entry.Key)
	}
	entry.UpdatedAt = now
	return model.CacheWriteResult{Key: entry.Key, Created: inserted, Entry: entry}, nil
}

// Invalidate removes the entry for Key(name) and reports whether one existed.
func (s *PostgresStore) Invalidate(ctx context.Context, name string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM validated_locations WHERE key = $1`, Key(name))
	if err != nil {
		return false, eris.Wrapf(err, "postgres: invalidate %q", name)
	}
	return tag.RowsAffected() > 0, nil
}

// List returns entries ordered by key.
func (s *PostgresStore) List(ctx context.Context, filter ListFilter) ([]model.ValidatedCacheEntry, error) {
	limit, offset := pageBounds(filter)
	query := `SELECT ` + postgresColumns + ` FROM validated_locations`
	args := []any{}
	if filter.CountryCode != "" {
		query += ` WHERE country_code = $1 ORDER BY key LIMIT $2 OFFSET $3`
		args = append(args, filter.CountryCode, limit, offset)
	} else {
		query += ` ORDER BY key LIMIT $1 OFFSET $2`
		args = append(args, limit, offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list entries")
	}
	defer rows.Close()

	var out []model.ValidatedCacheEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan entry")
		}
		out = append(out, *e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate entries")
}
