package registry

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/facility-locator/internal/db"
	"github.com/sells-group/facility-locator/internal/similarity"
)

// DefaultFuzzyLimit caps the candidates PostgresRegistry.LookupFuzzy returns.
const DefaultFuzzyLimit = 25

// trigramFloor is the pg_trgm similarity below which rows are not even
// considered; the cascade applies the real acceptance thresholds.
const trigramFloor = 0.3

const facilitiesTable = "facilities"

// PostgresRegistry is a facility registry in Postgres, searched with pg_trgm.
type PostgresRegistry struct {
	pool  db.Pool
	limit int
}

// NewPostgres returns a registry on pool.
func NewPostgres(pool db.Pool) *PostgresRegistry {
	return &PostgresRegistry{pool: pool, limit: DefaultFuzzyLimit}
}

const postgresMigration = `
CREATE EXTENSION IF NOT EXISTS pg_trgm;

CREATE TABLE IF NOT EXISTS facilities (
	id           TEXT NOT NULL DEFAULT '',
	key          TEXT NOT NULL,
	name         TEXT NOT NULL,
	country_code TEXT NOT NULL DEFAULT '',
	admin_area   TEXT NOT NULL DEFAULT '',
	type         TEXT NOT NULL DEFAULT '',
	lat          DOUBLE PRECISION NOT NULL,
	lon          DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (key, country_code)
);

CREATE INDEX IF NOT EXISTS idx_facilities_key_trgm ON facilities USING gin (key gin_trgm_ops);
`

const facilityColumns = `id, name, country_code, admin_area, type, lat, lon`

// Migrate creates the facilities table and trigram index.
func (r *PostgresRegistry) Migrate(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "registry: migrate")
}

// LookupExact matches the normalized name.
func (r *PostgresRegistry) LookupExact(ctx context.Context, name, countryCode string) (*Facility, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+facilityColumns+` FROM facilities
WHERE key = $1 AND ($2 = '' OR country_code = '' OR country_code = $2)
ORDER BY country_code DESC, id LIMIT 1`,
		similarity.Normalize(name), countryCode)

	var f Facility
	err := row.Scan(&f.ID, &f.Name, &f.CountryCode, &f.AdminArea, &f.Type, &f.Lat, &f.Lon)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "registry: exact query")
	}
	return &f, nil
}

// LookupFuzzy returns trigram-similar facilities and facilities whose key
// contains, or is contained in, the normalized name.
func (r *PostgresRegistry) LookupFuzzy(ctx context.Context, name, countryCode string) ([]Match, error) {
	key := similarity.Normalize(name)
	if key == "" {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+facilityColumns+`, similarity(key, $1) AS score FROM facilities
WHERE ($2 = '' OR country_code = '' OR country_code = $2)
  AND (similarity(key, $1) >= $3 OR key LIKE '%' || $1 || '%' OR $1 LIKE '%' || key || '%')
ORDER BY score DESC, name
LIMIT $4`,
		key, countryCode, trigramFloor, r.limit)
	if err != nil {
		return nil, eris.Wrap(err, "registry: fuzzy query")
	}
	defer rows.Close()

	var out []Match
	for rows.Next() {
		var m Match
		f := &m.Facility
		if err := rows.Scan(&f.ID, &f.Name, &f.CountryCode, &f.AdminArea, &f.Type, &f.Lat, &f.Lon, &m.Score); err != nil {
			return nil, eris.Wrap(err, "registry: scan fuzzy row")
		}
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "registry: iterate fuzzy rows")
}

// Import upserts facilities keyed by (normalized name, country).
func (r *PostgresRegistry) Import(ctx context.Context, facilities []Facility) (int64, error) {
	rows := make([][]any, 0, len(facilities))
	for _, f := range facilities {
		key := similarity.Normalize(f.Name)
		if key == "" {
			continue
		}
		rows = append(rows, []any{f.ID, key, f.Name, f.CountryCode, f.AdminArea, f.Type, f.Lat, f.Lon})
	}

	n, err := db.BulkUpsert(ctx, r.pool, db.UpsertConfig{
		Table:        facilitiesTable,
		Columns:      []string{"id", "key", "name", "country_code", "admin_area", "type", "lat", "lon"},
		ConflictKeys: []string{"key", "country_code"},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "registry: import")
	}
	zap.L().Info("registry: imported facilities",
		zap.String("component", "registry"),
		zap.Int("rows", len(rows)),
		zap.Int64("affected", n),
	)
	return n, nil
}
