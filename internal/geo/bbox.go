package geo

import (
	"github.com/golang/geo/s2"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/facility-locator/internal/model"
)

// cellLevel is roughly 150 m across, fine enough to identify a facility.
const cellLevel = 16

// BBox is an axis-aligned latitude/longitude box.
type BBox struct {
	MinLat float64 `json:"min_lat" yaml:"min_lat"`
	MaxLat float64 `json:"max_lat" yaml:"max_lat"`
	MinLon float64 `json:"min_lon" yaml:"min_lon"`
	MaxLon float64 `json:"max_lon" yaml:"max_lon"`
}

// Valid reports whether the box is well-formed.
func (b BBox) Valid() bool {
	return b.MinLat <= b.MaxLat && b.MinLon <= b.MaxLon &&
		b.MinLat >= -90 && b.MaxLat <= 90 &&
		b.MinLon >= -180 && b.MaxLon <= 180
}

// Bounds returns the box as go-geom bounds in X=lon, Y=lat order.
func (b BBox) Bounds() *geom.Bounds {
	return geom.NewBounds(geom.XY).Set(b.MinLon, b.MinLat, b.MaxLon, b.MaxLat)
}

// Contains reports whether c lies inside the box, edges included.
func (b BBox) Contains(c model.Coordinate) bool {
	return b.Bounds().OverlapsPoint(geom.XY, geom.Coord{c.Lon, c.Lat})
}

// Union returns the smallest box covering both b and o.
func (b BBox) Union(o BBox) BBox {
	u := b.Bounds().Extend(geom.NewPointFlat(geom.XY, []float64{o.MinLon, o.MinLat}))
	u = u.Extend(geom.NewPointFlat(geom.XY, []float64{o.MaxLon, o.MaxLat}))
	return BBox{MinLon: u.Min(0), MinLat: u.Min(1), MaxLon: u.Max(0), MaxLat: u.Max(1)}
}

// CellToken returns the S2 cell token covering c at a facility-scale level.
func CellToken(c model.Coordinate) string {
	return s2.CellIDFromLatLng(s2.LatLngFromDegrees(c.Lat, c.Lon)).Parent(cellLevel).ToToken()
}
