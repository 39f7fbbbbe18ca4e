package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/facility-locator/internal/model"
)

func TestComputeClusterStats_FlagsFarPoint(t *testing.T) {
	points := []Point{
		{Source: "registry", Coord: model.Coordinate{Lat: -17.82, Lon: 31.03}},
		{Source: "google", Coord: model.Coordinate{Lat: -17.821, Lon: 31.031}},
		{Source: "photon", Coord: model.Coordinate{Lat: -40.0, Lon: -70.0}},
	}

	stats := ComputeClusterStats(points, DefaultClusterOptions())

	assert.False(t, stats.Outliers["registry"])
	assert.False(t, stats.Outliers["google"])
	assert.True(t, stats.Outliers["photon"])
	assert.True(t, stats.AnyOutlier())
	assert.Greater(t, stats.MaxPairwiseKM, 5000.0)
	assert.Less(t, stats.DistanceToCentroid["registry"], 1.0)
	assert.InDelta(t, -25.21, stats.Centroid.Lat, 0.01)
	assert.GreaterOrEqual(t, stats.DistinctCells, 2)
	assert.Len(t, stats.Cells, 3)
}

func TestComputeClusterStats_TightCluster(t *testing.T) {
	points := []Point{
		{Source: "a", Coord: model.Coordinate{Lat: -17.82, Lon: 31.03}},
		{Source: "b", Coord: model.Coordinate{Lat: -17.821, Lon: 31.031}},
	}
	stats := ComputeClusterStats(points, DefaultClusterOptions())
	assert.False(t, stats.AnyOutlier())
	assert.Less(t, stats.SpreadKM, 0.2)
}

func TestComputeClusterStats_Empty(t *testing.T) {
	stats := ComputeClusterStats(nil, DefaultClusterOptions())
	assert.False(t, stats.AnyOutlier())
	assert.Empty(t, stats.DistanceToCentroid)
	assert.Zero(t, stats.MaxPairwiseKM)
}

func TestComputeClusterStats_NoCells(t *testing.T) {
	opts := DefaultClusterOptions()
	opts.H3Resolution = 0
	stats := ComputeClusterStats([]Point{{Source: "a", Coord: harare}}, opts)
	assert.Nil(t, stats.Cells)
	assert.False(t, stats.Outliers["a"])
}

func TestH3Cell(t *testing.T) {
	a, err := H3Cell(harare, 7)
	require.NoError(t, err)
	b, err := H3Cell(nairobi, 7)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.NotEmpty(t, a)
}

func TestBBox(t *testing.T) {
	zw := BBox{MinLat: -22.42, MaxLat: -15.61, MinLon: 25.24, MaxLon: 33.06}
	require.True(t, zw.Valid())

	assert.True(t, zw.Contains(harare))
	assert.True(t, zw.Contains(bulawayo))
	assert.False(t, zw.Contains(nairobi))
	assert.True(t, zw.Contains(model.Coordinate{Lat: -22.42, Lon: 25.24}))

	u := zw.Union(BBox{MinLat: -5, MaxLat: 5, MinLon: 33, MaxLon: 42})
	assert.InDelta(t, -22.42, u.MinLat, 1e-9)
	assert.InDelta(t, 5, u.MaxLat, 1e-9)
	assert.InDelta(t, 25.24, u.MinLon, 1e-9)
	assert.InDelta(t, 42, u.MaxLon, 1e-9)
	assert.True(t, u.Contains(nairobi))

	assert.False(t, BBox{MinLat: 10, MaxLat: 0}.Valid())
}

func TestCellToken(t *testing.T) {
	a := CellToken(harare)
	assert.NotEmpty(t, a)
	assert.Equal(t, a, CellToken(harare))
	assert.NotEqual(t, a, CellToken(nairobi))
}
