package model

import "time"

// Status is the review state of a ValidationOutcome.
type Status string

const (
	StatusValidated   Status = "validated"
	StatusNeedsReview Status = "needs_review"
	StatusPending     Status = "pending"
	StatusRejected    Status = "rejected"
)

// Rank orders statuses from worst to best.
func (s Status) Rank() int {
	switch s {
	case StatusValidated:
		return 3
	case StatusNeedsReview:
		return 2
	case StatusPending:
		return 1
	default:
		return 0
	}
}

// SourceScore is the validator's breakdown for one successful source.
type SourceScore struct {
	Source           SourceID   `json:"source"`
	Coord            Coordinate `json:"coord"`
	NameSimilarity   float64    `json:"name_similarity"`
	Proximity        float64    `json:"proximity"`
	Confidence       float64    `json:"confidence"`
	ReverseAddress   string     `json:"reverse_address,omitempty"`
	ReverseProvider  string     `json:"reverse_provider,omitempty"`
	MeanPeerDistance float64    `json:"mean_peer_distance_km"`
	Outlier          bool       `json:"outlier"`
	OutsideBounds    bool       `json:"outside_bounds"`
}

// ClusterStats describes how a CandidateSet's coordinates spread. Recomputed
// on every validation.
type ClusterStats struct {
	Centroid           Coordinate           `json:"centroid"`
	Reference          Coordinate           `json:"reference"`
	MaxPairwiseKM      float64              `json:"max_pairwise_km"`
	SpreadKM           float64              `json:"spread_km"`
	DistanceToCentroid map[SourceID]float64 `json:"distance_to_centroid_km"`
	Outliers           map[SourceID]bool    `json:"outliers"`
	Cells              map[SourceID]string  `json:"cells,omitempty"`
	DistinctCells      int                  `json:"distinct_cells"`
}

// AnyOutlier reports whether any source was flagged.
func (cs ClusterStats) AnyOutlier() bool {
	for _, o := range cs.Outliers {
		if o {
			return true
		}
	}
	return false
}

// BoundsCheck is the result of testing sources against a country bounding box.
type BoundsCheck struct {
	Checked     bool       `json:"checked"`
	CountryCode string     `json:"country_code,omitempty"`
	MinLat      float64    `json:"min_lat,omitempty"`
	MaxLat      float64    `json:"max_lat,omitempty"`
	MinLon      float64    `json:"min_lon,omitempty"`
	MaxLon      float64    `json:"max_lon,omitempty"`
	Outside     []SourceID `json:"outside,omitempty"`
	Note        string     `json:"note,omitempty"`
}

// ValidationOutcome is the scored result for one CandidateSet. It is never
// mutated after creation; approval produces a new value.
type ValidationOutcome struct {
	Confidence        float64                  `json:"confidence"`
	Status            Status                   `json:"status"`
	RecommendedSource SourceID                 `json:"recommended_source,omitempty"`
	RecommendedCoord  *Coordinate              `json:"recommended_coord,omitempty"`
	Sources           map[SourceID]SourceScore `json:"sources"`
	Cluster           ClusterStats             `json:"cluster"`
	Bounds            BoundsCheck              `json:"bounds"`
	Reason            string                   `json:"reason,omitempty"`
	ApprovedBy        string                   `json:"approved_by,omitempty"`
	DecidedAt         time.Time                `json:"decided_at"`
}
