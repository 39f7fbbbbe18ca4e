// Package geo provides the distance, clustering and bounds arithmetic used to
// reconcile candidate coordinates.
package geo

import (
	"math"
	"sort"

	"github.com/golang/geo/s2"

	"github.com/sells-group/facility-locator/internal/model"
)

// EarthRadiusKM is the IUGG mean Earth radius.
const EarthRadiusKM = 6371.0088

// Haversine returns the great-circle distance between a and b in kilometers.
// It is zero exactly when a and b have the same Canonical form.
func Haversine(a, b model.Coordinate) float64 {
	la := s2.LatLngFromDegrees(a.Lat, a.Lon)
	lb := s2.LatLngFromDegrees(b.Lat, b.Lon)
	return la.Distance(lb).Radians() * EarthRadiusKM
}

// Centroid returns the arithmetic mean of points. The zero Coordinate is
// returned for an empty slice.
func Centroid(points []model.Coordinate) model.Coordinate {
	if len(points) == 0 {
		return model.Coordinate{}
	}
	var lat, lon float64
	for _, p := range points {
		lat += p.Lat
		lon += p.Lon
	}
	n := float64(len(points))
	return model.Coordinate{Lat: lat / n, Lon: lon / n}
}

// MedianCenter returns the component-wise median of points. Unlike the
// centroid it is not dragged toward a single far-away point.
func MedianCenter(points []model.Coordinate) model.Coordinate {
	if len(points) == 0 {
		return model.Coordinate{}
	}
	lats := make([]float64, len(points))
	lons := make([]float64, len(points))
	for i, p := range points {
		lats[i] = p.Lat
		lons[i] = p.Lon
	}
	return model.Coordinate{Lat: median(lats), Lon: median(lons)}
}

// MaxPairwise returns the largest distance between any two points.
func MaxPairwise(points []model.Coordinate) float64 {
	var maxKM float64
	for i := range points {
		for j := i + 1; j < len(points); j++ {
			maxKM = math.Max(maxKM, Haversine(points[i], points[j]))
		}
	}
	return maxKM
}

// MeanDistanceTo returns the mean distance from p to others, or 0 when
// others is empty.
func MeanDistanceTo(p model.Coordinate, others []model.Coordinate) float64 {
	if len(others) == 0 {
		return 0
	}
	var sum float64
	for _, o := range others {
		sum += Haversine(p, o)
	}
	return sum / float64(len(others))
}

func median(v []float64) float64 {
	sort.Float64s(v)
	n := len(v)
	if n%2 == 1 {
		return v[n/2]
	}
	return (v[n/2-1] + v[n/2]) / 2
}

func meanStdDev(v []float64) (mean, std float64) {
	if len(v) == 0 {
		return 0, 0
	}
	for _, x := range v {
		mean += x
	}
	mean /= float64(len(v))
	for _, x := range v {
		std += (x - mean) * (x - mean)
	}
	return mean, math.Sqrt(std / float64(len(v)))
}
