// Package geocode provides forward and reverse geocoding against Google,
// Nominatim and Photon behind one Provider interface.
package geocode

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
)

// Sentinel errors. Provider implementations wrap one of these so callers
// can classify failures with errors.Is.
var (
	ErrNoResults   = eris.New("geocode: no results")
	ErrAuth        = eris.New("geocode: authentication failed")
	ErrParse       = eris.New("geocode: malformed response")
	ErrUnavailable = eris.New("geocode: provider unavailable")
)

// ServedBy values for providers composed with WithLocalFallback.
const (
	ServedLocal  = "local"
	ServedPublic = "public"
)

// RegionHint biases a search. It never changes the query text.
type RegionHint struct {
	CountryCode string // ISO 3166-1 alpha-2
	AdminArea   string
}

// Place is a forward geocoding result.
type Place struct {
	Lat         float64
	Lon         float64
	DisplayName string
	PlaceType   string
	ServedBy    string
	Raw         json.RawMessage
}

// Address is a reverse geocoding result.
type Address struct {
	Formatted string
	PlaceType string
	ServedBy  string
	Raw       json.RawMessage
}

// Provider is one geocoding backend.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string, hint RegionHint) (*Place, error)
	Reverse(ctx context.Context, lat, lon float64) (*Address, error)
}

// TimedProvider is a Provider with its own per-call deadline.
type TimedProvider interface {
	Provider
	Timeout() time.Duration
}

type timed struct {
	Provider
	timeout time.Duration
}

func (t timed) Timeout() time.Duration { return t.timeout }

// WithTimeout attaches a per-call deadline that callers apply around each
// Search or Reverse.
func WithTimeout(p Provider, d time.Duration) TimedProvider {
	return timed{Provider: p, timeout: d}
}

// TimeoutOf returns the provider's timeout, or def when it has none.
func TimeoutOf(p Provider, def time.Duration) time.Duration {
	if tp, ok := p.(TimedProvider); ok && tp.Timeout() > 0 {
		return tp.Timeout()
	}
	return def
}
