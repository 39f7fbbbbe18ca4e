package geocode

import (
	"context"
	"net/url"
	"strconv"
	"strings"
)

const photonBaseURL = "https://photon.komoot.io"

// photonCandidates is how many results are requested so a country hint can
// be applied client-side; Photon has no country filter.
const photonCandidates = 5

type photonResponse struct {
	Features []photonFeature `json:"features"`
}

type photonFeature struct {
	Geometry struct {
		Coordinates []float64 `json:"coordinates"` // [lon, lat]
	} `json:"geometry"`
	Properties struct {
		Name        string `json:"name"`
		HouseNumber string `json:"housenumber"`
		Street      string `json:"street"`
		District    string `json:"district"`
		City        string `json:"city"`
		State       string `json:"state"`
		Country     string `json:"country"`
		CountryCode string `json:"countrycode"`
		OSMValue    string `json:"osm_value"`
		Type        string `json:"type"`
	} `json:"properties"`
}

// label joins the non-empty address parts of a feature.
func (f photonFeature) label() string {
	p := f.Properties
	street := strings.TrimSpace(strings.Join([]string{p.HouseNumber, p.Street}, " "))
	var parts []string
	for _, s := range []string{p.Name, street, p.District, p.City, p.State, p.Country} {
		if s != "" && (len(parts) == 0 || parts[len(parts)-1] != s) {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}

// Photon geocodes with a Photon (komoot) instance.
type Photon struct {
	httpBackend
}

// NewPhoton returns a Photon provider.
func NewPhoton(opts ...Option) *Photon {
	return &Photon{httpBackend: newBackend("photon", photonBaseURL, 5, opts)}
}

// Name implements Provider.
func (p *Photon) Name() string { return p.name }

// Search implements Provider.
func (p *Photon) Search(ctx context.Context, query string, hint RegionHint) (*Place, error) {
	params := url.Values{
		"q":     {query},
		"limit": {strconv.Itoa(photonCandidates)},
	}

	var resp photonResponse
	raw, err := p.getJSON(ctx, p.baseURL+"/api/?"+params.Encode(), &resp)
	if err != nil {
		return nil, err
	}

	f, ok := pickFeature(resp.Features, hint.CountryCode)
	if !ok {
		return nil, failure(p.name, "search", ErrNoResults, "")
	}
	if len(f.Geometry.Coordinates) < 2 {
		return nil, failure(p.name, "search", ErrParse, "feature without coordinates")
	}
	return &Place{
		Lat:         f.Geometry.Coordinates[1],
		Lon:         f.Geometry.Coordinates[0],
		DisplayName: f.label(),
		PlaceType:   f.Properties.OSMValue,
		Raw:         raw,
	}, nil
}

// Reverse implements Provider.
func (p *Photon) Reverse(ctx context.Context, lat, lon float64) (*Address, error) {
	params := url.Values{
		"lat": {strconv.FormatFloat(lat, 'f', -1, 64)},
		"lon": {strconv.FormatFloat(lon, 'f', -1, 64)},
	}

	var resp photonResponse
	raw, err := p.getJSON(ctx, p.baseURL+"/reverse?"+params.Encode(), &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.Features) == 0 {
		return nil, failure(p.name, "reverse", ErrNoResults, "")
	}
	f := resp.Features[0]
	return &Address{Formatted: f.label(), PlaceType: f.Properties.OSMValue, Raw: raw}, nil
}

// pickFeature returns the first feature in the hinted country, or the first
// feature when there is no hint.
func pickFeature(features []photonFeature, countryCode string) (photonFeature, bool) {
	for _, f := range features {
		if countryCode == "" || strings.EqualFold(f.Properties.CountryCode, countryCode) {
			return f, true
		}
	}
	return photonFeature{}, false
}
