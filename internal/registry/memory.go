package registry

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/facility-locator/internal/similarity"
)

// MemoryRegistry is an in-process registry, usually loaded from a CSV or
// XLSX export.
type MemoryRegistry struct {
	mu    sync.RWMutex
	all   []Facility
	byKey map[string][]int
}

// NewMemory returns a registry holding facilities.
func NewMemory(facilities []Facility) *MemoryRegistry {
	m := &MemoryRegistry{byKey: make(map[string][]int)}
	m.Add(facilities...)
	return m
}

// Add appends facilities. Rows without a usable name are skipped.
func (m *MemoryRegistry) Add(facilities ...Facility) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range facilities {
		key := similarity.Normalize(f.Name)
		if key == "" {
			continue
		}
		m.byKey[key] = append(m.byKey[key], len(m.all))
		m.all = append(m.all, f)
	}
}

// Len returns the number of facilities.
func (m *MemoryRegistry) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.all)
}

// LookupExact matches the normalized name. The first facility added wins
// when several share a name within the country filter.
func (m *MemoryRegistry) LookupExact(_ context.Context, name, countryCode string) (*Facility, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, i := range m.byKey[similarity.Normalize(name)] {
		if f := m.all[i]; sameCountry(f.CountryCode, countryCode) {
			return &f, nil
		}
	}
	return nil, nil
}

// LookupFuzzy returns every facility inside the country filter. Scoring is
// left to the cascade.
func (m *MemoryRegistry) LookupFuzzy(ctx context.Context, _ string, countryCode string) ([]Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Match
	for i, f := range m.all {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, eris.Wrap(err, "registry: memory fuzzy lookup")
			}
		}
		if !sameCountry(f.CountryCode, countryCode) {
			continue
		}
		out = append(out, Match{Facility: f})
	}
	return out, nil
}
