// Package model defines the value types shared by the resolution engine.
package model

import (
	"fmt"
	"strings"
)

// LocationQuery is a single free-text location to resolve. It is never mutated.
type LocationQuery struct {
	Name        string `json:"name"`
	CountryHint string `json:"country_hint,omitempty"`
}

// Empty reports whether the query has no usable text.
func (q LocationQuery) Empty() bool {
	return strings.TrimSpace(q.Name) == ""
}

// ParsedLocation is the normalizer's view of a LocationQuery. Country and
// AdminArea only bias provider calls; Residual is always the query text.
type ParsedLocation struct {
	Country     string `json:"country,omitempty"`
	CountryCode string `json:"country_code,omitempty"`
	AdminArea   string `json:"admin_area,omitempty"`
	Residual    string `json:"residual"`
}

// Coordinate is a WGS84 point in decimal degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid reports whether the coordinate lies within the WGS84 ranges.
func (c Coordinate) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}

// Canonical returns c with longitude 180 written as -180 and longitude 0 at
// the poles, so that one physical point has one representation.
func (c Coordinate) Canonical() Coordinate {
	if c.Lat == 90 || c.Lat == -90 {
		c.Lon = 0
	}
	if c.Lon == 180 {
		c.Lon = -180
	}
	return c
}

func (c Coordinate) String() string {
	return fmt.Sprintf("(%.6f, %.6f)", c.Lat, c.Lon)
}

// SimilarityScore is a name-similarity score in [0,1] with the strings compared.
type SimilarityScore struct {
	Score float64 `json:"score"`
	A     string  `json:"a"`
	B     string  `json:"b"`
}
