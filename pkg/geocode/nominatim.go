package geocode

import (
	"context"
	"net/url"
	"strconv"
	"strings"
)

const nominatimBaseURL = "https://nominatim.openstreetmap.org"

type nominatimPlace struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
	Category    string `json:"category"`
	Type        string `json:"type"`
	Error       string `json:"error"`
}

// Nominatim geocodes with an OpenStreetMap Nominatim instance. The public
// instance allows one request per second.
type Nominatim struct {
	httpBackend
}

// NewNominatim returns a Nominatim provider for the public instance unless
// WithBaseURL says otherwise.
func NewNominatim(opts ...Option) *Nominatim {
	return &Nominatim{httpBackend: newBackend("nominatim", nominatimBaseURL, 1, opts)}
}

// Name implements Provider.
func (n *Nominatim) Name() string { return n.name }

// Search implements Provider.
func (n *Nominatim) Search(ctx context.Context, query string, hint RegionHint) (*Place, error) {
	params := url.Values{
		"q":      {query},
		"format": {"jsonv2"},
		"limit":  {"1"},
	}
	if hint.CountryCode != "" {
		params.Set("countrycodes", strings.ToLower(hint.CountryCode))
	}

	var results []nominatimPlace
	raw, err := n.getJSON(ctx, n.baseURL+"/search?"+params.Encode(), &results)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, failure(n.name, "search", ErrNoResults, "")
	}

	r := results[0]
	lat, latErr := strconv.ParseFloat(r.Lat, 64)
	lon, lonErr := strconv.ParseFloat(r.Lon, 64)
	if latErr != nil || lonErr != nil {
		return nil, failure(n.name, "search", ErrParse, "bad coordinate %q,%q", r.Lat, r.Lon)
	}
	return &Place{Lat: lat, Lon: lon, DisplayName: r.DisplayName, PlaceType: r.Type, Raw: raw}, nil
}

// Reverse implements Provider.
func (n *Nominatim) Reverse(ctx context.Context, lat, lon float64) (*Address, error) {
	params := url.Values{
		"lat":    {strconv.FormatFloat(lat, 'f', -1, 64)},
		"lon":    {strconv.FormatFloat(lon, 'f', -1, 64)},
		"format": {"jsonv2"},
	}

	var r nominatimPlace
	raw, err := n.getJSON(ctx, n.baseURL+"/reverse?"+params.Encode(), &r)
	if err != nil {
		return nil, err
	}
	if r.Error != "" || r.DisplayName == "" {
		return nil, failure(n.name, "reverse", ErrNoResults, "%s", r.Error)
	}
	return &Address{Formatted: r.DisplayName, PlaceType: r.Type, Raw: raw}, nil
}
