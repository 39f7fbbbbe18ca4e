package geo

import (
	"math"

	"github.com/uber/h3-go/v4"

	"github.com/sells-group/facility-locator/internal/model"
)

// ClusterOptions tunes outlier detection.
type ClusterOptions struct {
	// OutlierKM flags any point further than this from the reference point.
	OutlierKM float64
	// OutlierSigma flags any point further than mean + sigma·stddev of all
	// distances to the reference point.
	OutlierSigma float64
	// H3Resolution is the cell resolution used to count distinct cells.
	// Zero disables cell assignment.
	H3Resolution int
}

// DefaultClusterOptions returns the standard 50 km / 3σ thresholds.
func DefaultClusterOptions() ClusterOptions {
	return ClusterOptions{OutlierKM: 50, OutlierSigma: 3, H3Resolution: 7}
}

// Point is a coordinate tagged with the source that produced it.
type Point struct {
	Source model.SourceID
	Coord  model.Coordinate
}

// ComputeClusterStats summarizes the spread of points and flags outliers.
// Distances are measured from the median center so one far-away point
// cannot pull the reference toward itself and mask its own deviation.
func ComputeClusterStats(points []Point, opts ClusterOptions) model.ClusterStats {
	stats := model.ClusterStats{
		DistanceToCentroid: make(map[model.SourceID]float64, len(points)),
		Outliers:           make(map[model.SourceID]bool, len(points)),
	}
	if len(points) == 0 {
		return stats
	}

	coords := make([]model.Coordinate, len(points))
	for i, p := range points {
		coords[i] = p.Coord
	}
	stats.Centroid = Centroid(coords)
	stats.Reference = MedianCenter(coords)
	stats.MaxPairwiseKM = MaxPairwise(coords)

	dists := make([]float64, len(points))
	var sq float64
	for i, p := range points {
		dists[i] = Haversine(p.Coord, stats.Reference)
		stats.DistanceToCentroid[p.Source] = dists[i]
		c := Haversine(p.Coord, stats.Centroid)
		sq += c * c
	}
	stats.SpreadKM = math.Sqrt(sq / float64(len(points)))

	mean, std := meanStdDev(dists)
	for i, p := range points {
		outlier := opts.OutlierKM > 0 && dists[i] > opts.OutlierKM
		if !outlier && opts.OutlierSigma > 0 && std > 0 {
			outlier = dists[i] > mean+opts.OutlierSigma*std
		}
		stats.Outliers[p.Source] = outlier
	}

	if opts.H3Resolution > 0 {
		stats.Cells = make(map[model.SourceID]string, len(points))
		distinct := make(map[string]struct{})
		for _, p := range points {
			cell, err := H3Cell(p.Coord, opts.H3Resolution)
			if err != nil {
				continue
			}
			stats.Cells[p.Source] = cell
			distinct[cell] = struct{}{}
		}
		stats.DistinctCells = len(distinct)
	}

	return stats
}

// H3Cell returns the hex index of the H3 cell containing c.
func H3Cell(c model.Coordinate, res int) (string, error) {
	cell, err := h3.LatLngToCell(h3.NewLatLng(c.Lat, c.Lon), res)
	if err != nil {
		return "", err
	}
	return cell.String(), nil
}
