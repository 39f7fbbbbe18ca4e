package gazetteer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/facility-locator/internal/geo"
)

const defaultNominatimURL = "https://nominatim.openstreetmap.org"

// NominatimBounds fetches country boxes from a Nominatim search endpoint.
type NominatimBounds struct {
	baseURL   string
	userAgent string
	http      *http.Client
	limiter   *rate.Limiter
}

// NominatimOption configures NominatimBounds.
type NominatimOption func(*NominatimBounds)

// WithNominatimURL overrides the endpoint (e.g. a self-hosted instance).
func WithNominatimURL(u string) NominatimOption {
	return func(n *NominatimBounds) {
		n.baseURL = strings.TrimRight(u, "/")
	}
}

// WithUserAgent sets the User-Agent required by the public usage policy.
func WithUserAgent(ua string) NominatimOption {
	return func(n *NominatimBounds) {
		n.userAgent = ua
	}
}

// WithBoundsHTTPClient sets the HTTP client.
func WithBoundsHTTPClient(c *http.Client) NominatimOption {
	return func(n *NominatimBounds) {
		n.http = c
	}
}

// WithBoundsRateLimit sets requests per second.
func WithBoundsRateLimit(rps float64) NominatimOption {
	return func(n *NominatimBounds) {
		n.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// NewNominatimBounds returns a source limited to one request per second.
func NewNominatimBounds(opts ...NominatimOption) *NominatimBounds {
	n := &NominatimBounds{
		baseURL:   defaultNominatimURL,
		userAgent: "facility-locator",
		http:      http.DefaultClient,
		limiter:   rate.NewLimiter(1, 1),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

type nominatimCountry struct {
	BoundingBox []string `json:"boundingbox"`
}

// Bounds implements BoundsSource.
func (n *NominatimBounds) Bounds(ctx context.Context, code string) (geo.BBox, error) {
	if err := n.limiter.Wait(ctx); err != nil {
		return geo.BBox{}, eris.Wrap(err, "gazetteer: rate limit wait")
	}

	params := url.Values{}
	params.Set("country", code)
	params.Set("featureType", "country")
	params.Set("format", "jsonv2")
	params.Set("limit", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return geo.BBox{}, eris.Wrap(err, "gazetteer: build bounds request")
	}
	req.Header.Set("User-Agent", n.userAgent)

	resp, err := n.http.Do(req)
	if err != nil {
		return geo.BBox{}, eris.Wrap(err, "gazetteer: bounds request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return geo.BBox{}, eris.Errorf("gazetteer: bounds request returned status %d", resp.StatusCode)
	}

	var results []nominatimCountry
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return geo.BBox{}, eris.Wrap(err, "gazetteer: decode bounds response")
	}
	if len(results) == 0 || len(results[0].BoundingBox) != 4 {
		return geo.BBox{}, eris.Wrapf(ErrNoBounds, "nominatim has no box for %s", code)
	}

	// Nominatim orders the box as [min_lat, max_lat, min_lon, max_lon].
	var v [4]float64
	for i, s := range results[0].BoundingBox {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return geo.BBox{}, eris.Wrap(err, "gazetteer: parse bounding box")
		}
		v[i] = f
	}
	return geo.BBox{MinLat: v[0], MaxLat: v[1], MinLon: v[2], MaxLon: v[3]}, nil
}

// ChainBounds tries each source in order and returns the first box found.
type ChainBounds []BoundsSource

// Bounds implements BoundsSource.
func (c ChainBounds) Bounds(ctx context.Context, code string) (geo.BBox, error) {
	var lastErr error = ErrNoBounds
	for _, src := range c {
		box, err := src.Bounds(ctx, code)
		if err == nil {
			return box, nil
		}
		if ctx.Err() != nil {
			return geo.BBox{}, ctx.Err()
		}
		zap.L().Debug("gazetteer: bounds source failed", zap.String("country", code), zap.Error(err))
		lastErr = err
	}
	return geo.BBox{}, lastErr
}
