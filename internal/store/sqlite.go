package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/facility-locator/internal/model"
)

// SQLiteStore implements ValidatedCache using modernc.org/sqlite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS validated_locations (
	id           TEXT PRIMARY KEY,
	key          TEXT NOT NULL UNIQUE,
	name         TEXT NOT NULL,
	lat          REAL NOT NULL,
	lon          REAL NOT NULL,
	country_code TEXT NOT NULL DEFAULT '',
	cell_token   TEXT NOT NULL DEFAULT '',
	source       TEXT NOT NULL,
	confidence   REAL NOT NULL,
	approved_by  TEXT NOT NULL DEFAULT '',
	promoted_at  DATETIME NOT NULL,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_validated_locations_country ON validated_locations(country_code);
`

const sqliteColumns = `id, key, name, lat, lon, country_code, cell_token, source, confidence, approved_by, promoted_at, created_at, updated_at`

// Migrate creates the cache table.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetExact returns the entry whose key equals Key(name).
func (s *SQLiteStore) GetExact(ctx context.Context, name string) (*model.ValidatedCacheEntry, error) {
	key := Key(name)
	if key == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteColumns+` FROM validated_locations WHERE key = ?`, key)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get entry %q", key)
	}
	return e, nil
}

// GetFuzzy scores all entries (restricted to countryCode and entries with no
// country when it is set) and returns the best one at or above threshold.
func (s *SQLiteStore) GetFuzzy(ctx context.Context, name string, threshold float64, countryCode string) (*FuzzyHit, error) {
	key := Key(name)
	if key == "" {
		return nil, nil
	}

	query := `SELECT ` + sqliteColumns + ` FROM validated_locations`
	var args []any
	if countryCode != "" {
		query += ` WHERE country_code = ? OR country_code = ''`
		args = append(args, countryCode)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: fuzzy candidates")
	}
	defer rows.Close() //nolint:errcheck

	var entries []model.ValidatedCacheEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan fuzzy candidate")
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate fuzzy candidates")
	}
	return bestFuzzy(entries, key, threshold), nil
}

// Upsert inserts or replaces the entry for entry.Key (derived from the name
// when empty). The last writer wins.
func (s *SQLiteStore) Upsert(ctx context.Context, entry model.ValidatedCacheEntry) (model.CacheWriteResult, error) {
	if entry.Key == "" {
		entry.Key = Key(entry.Name)
	}
	if entry.Key == "" {
		return model.CacheWriteResult{}, eris.New("sqlite: upsert entry with empty key")
	}
	now := s.now()
	newID := uuid.New().String()
	if entry.Provenance.PromotedAt.IsZero() {
		entry.Provenance.PromotedAt = now
	}

	var id string
	err := s.db.QueryRowContext(ctx, `
INSERT INTO validated_locations (`+sqliteColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
	name = excluded.name,
	lat = excluded.lat,
	lon = excluded.lon,
	country_code = excluded.country_code,
	cell_token = excluded.cell_token,
	source = excluded.source,
	confidence = excluded.confidence,
	approved_by = excluded.approved_by,
	promoted_at = excluded.promoted_at,
	updated_at = excluded.updated_at
RETURNING id`,
		newID, entry.Key, entry.Name, entry.Coord.Lat, entry.Coord.Lon,
		entry.CountryCode, entry.CellToken, string(entry.Provenance.Source),
		entry.Provenance.Confidence, entry.Provenance.ApprovedBy,
		entry.Provenance.PromotedAt.UTC(), now, now,
	).Scan(&id)
	if err != nil {
		return model.CacheWriteResult{}, eris.Wrapf(err, "sqlite: upsert entry %q", entry.Key)
	}

	stored, err := scanEntry(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteColumns+` FROM validated_locations WHERE id = ?`, id))
	if err != nil {
		return model.CacheWriteResult{}, eris.Wrapf(err, "sqlite: read back entry %q", entry.Key)
	}
	return model.CacheWriteResult{Key: stored.Key, Created: id == newID, Entry: *stored}, nil
}

// Invalidate removes the entry for Key(name) and reports whether one existed.
func (s *SQLiteStore) Invalidate(ctx context.Context, name string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM validated_locations WHERE key = ?`, Key(name))
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: invalidate %q", name)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

// List returns entries ordered by key.
func (s *SQLiteStore) List(ctx context.Context, filter ListFilter) ([]model.ValidatedCacheEntry, error) {
	query := `SELECT ` + sqliteColumns + ` FROM validated_locations`
	var args []any
	if filter.CountryCode != "" {
		query += ` WHERE country_code = ?`
		args = append(args, filter.CountryCode)
	}
	limit, offset := pageBounds(filter)
	query += ` ORDER BY key LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list entries")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.ValidatedCacheEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan entry")
		}
		out = append(out, *e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate entries")
}

type scannable interface {
	Scan(dest ...any) error
}

// scanEntry reads one row in sqliteColumns / postgresColumns order.
func scanEntry(row scannable) (*model.ValidatedCacheEntry, error) {
	var e model.ValidatedCacheEntry
	var source string
	err := row.Scan(
		&e.ID, &e.Key, &e.Name, &e.Coord.Lat, &e.Coord.Lon,
		&e.CountryCode, &e.CellToken, &source, &e.Provenance.Confidence,
		&e.Provenance.ApprovedBy, &e.Provenance.PromotedAt, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Provenance.Source = model.SourceID(source)
	return &e, nil
}
