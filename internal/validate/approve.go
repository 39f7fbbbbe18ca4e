package validate

import (
	"maps"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/facility-locator/internal/model"
)

// ErrNotApprovable is returned when an outcome's status does not allow approval.
var ErrNotApprovable = eris.New("validate: outcome cannot be approved")

// Approve returns a copy of o marked validated by approver. Only
// needs_review outcomes qualify, or pending ones when force is set, and the
// recommended coordinate must match its source's score. The input outcome
// is left untouched.
func Approve(o model.ValidationOutcome, approver string, at time.Time, force bool) (model.ValidationOutcome, error) {
	if strings.TrimSpace(approver) == "" {
		return model.ValidationOutcome{}, eris.New("validate: approver is required")
	}
	switch {
	case o.Status == model.StatusNeedsReview:
	case o.Status == model.StatusPending && force:
	default:
		return model.ValidationOutcome{}, eris.Wrapf(ErrNotApprovable, "status %s", o.Status)
	}
	if o.RecommendedCoord == nil {
		return model.ValidationOutcome{}, eris.Wrap(ErrNotApprovable, "no recommended coordinate")
	}
	// The coordinate must be the one its source produced.
	src, ok := o.Sources[o.RecommendedSource]
	if !ok || src.Coord != *o.RecommendedCoord {
		return model.ValidationOutcome{}, eris.Wrapf(ErrNotApprovable, "recommended coordinate does not match source %s", o.RecommendedSource)
	}

	out := clone(o)
	out.Status = model.StatusValidated
	out.ApprovedBy = approver
	out.DecidedAt = at.UTC()
	return out, nil
}

func clone(o model.ValidationOutcome) model.ValidationOutcome {
	out := o
	out.Sources = maps.Clone(o.Sources)
	if o.RecommendedCoord != nil {
		c := *o.RecommendedCoord
		out.RecommendedCoord = &c
	}
	out.Cluster.DistanceToCentroid = maps.Clone(o.Cluster.DistanceToCentroid)
	out.Cluster.Outliers = maps.Clone(o.Cluster.Outliers)
	out.Cluster.Cells = maps.Clone(o.Cluster.Cells)
	out.Bounds.Outside = append([]model.SourceID(nil), o.Bounds.Outside...)
	return out
}
