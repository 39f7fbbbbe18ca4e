package geocode

import (
	"context"
	"net/url"
	"strconv"
	"strings"
)

const googleBaseURL = "https://maps.googleapis.com"

// googleGeocodeResponse is the JSON response from the Google Geocoding API.
type googleGeocodeResponse struct {
	Results      []googleResult `json:"results"`
	Status       string         `json:"status"`
	ErrorMessage string         `json:"error_message"`
}

type googleResult struct {
	Geometry struct {
		Location struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"location"`
		LocationType string `json:"location_type"`
	} `json:"geometry"`
	FormattedAddress string   `json:"formatted_address"`
	Types            []string `json:"types"`
}

// Google geocodes with the Google Geocoding API.
type Google struct {
	httpBackend
}

// NewGoogle returns a Google provider. An API key is required; without one
// every call fails with ErrAuth.
func NewGoogle(opts ...Option) *Google {
	return &Google{httpBackend: newBackend("google", googleBaseURL, 50, opts)}
}

// Name implements Provider.
func (g *Google) Name() string { return g.name }

// Search implements Provider.
func (g *Google) Search(ctx context.Context, query string, hint RegionHint) (*Place, error) {
	params := url.Values{"address": {query}}
	if hint.CountryCode != "" {
		params.Set("region", strings.ToLower(hint.CountryCode))
		params.Set("components", "country:"+strings.ToUpper(hint.CountryCode))
	}
	res, raw, err := g.call(ctx, params)
	if err != nil {
		return nil, err
	}
	return &Place{
		Lat:         res.Geometry.Location.Lat,
		Lon:         res.Geometry.Location.Lng,
		DisplayName: res.FormattedAddress,
		PlaceType:   googlePlaceType(res),
		Raw:         raw,
	}, nil
}

// Reverse implements Provider.
func (g *Google) Reverse(ctx context.Context, lat, lon float64) (*Address, error) {
	params := url.Values{"latlng": {formatLatLon(lat, lon)}}
	res, raw, err := g.call(ctx, params)
	if err != nil {
		return nil, err
	}
	return &Address{Formatted: res.FormattedAddress, PlaceType: googlePlaceType(res), Raw: raw}, nil
}

func (g *Google) call(ctx context.Context, params url.Values) (*googleResult, []byte, error) {
	if g.apiKey == "" {
		return nil, nil, failure(g.name, "request", ErrAuth, "api key not configured")
	}
	params.Set("key", g.apiKey)

	var resp googleGeocodeResponse
	raw, err := g.getJSON(ctx, g.baseURL+"/maps/api/geocode/json?"+params.Encode(), &resp)
	if err != nil {
		return nil, nil, err
	}

	switch resp.Status {
	case "OK":
	case "ZERO_RESULTS":
		return nil, nil, failure(g.name, "request", ErrNoResults, "")
	case "REQUEST_DENIED":
		return nil, nil, failure(g.name, "request", ErrAuth, "%s", resp.ErrorMessage)
	case "OVER_QUERY_LIMIT", "OVER_DAILY_LIMIT", "UNKNOWN_ERROR":
		return nil, nil, failure(g.name, "request", ErrUnavailable, "status %s", resp.Status)
	default:
		return nil, nil, failure(g.name, "request", ErrParse, "unexpected status %q", resp.Status)
	}
	if len(resp.Results) == 0 {
		return nil, nil, failure(g.name, "request", ErrNoResults, "")
	}
	return &resp.Results[0], raw, nil
}

// googlePlaceType returns the most specific result type, or the location
// type when Google gave none.
func googlePlaceType(r *googleResult) string {
	if len(r.Types) > 0 {
		return r.Types[0]
	}
	return strings.ToLower(r.Geometry.LocationType)
}

func formatLatLon(lat, lon float64) string {
	return strconv.FormatFloat(lat, 'f', -1, 64) + "," + strconv.FormatFloat(lon, 'f', -1, 64)
}
