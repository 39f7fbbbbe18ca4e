package jobs

import (
	"context"
	"errors"

	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"

	"github.com/sells-group/facility-locator/internal/engine"
	"github.com/sells-group/facility-locator/internal/model"
	"github.com/sells-group/facility-locator/internal/promote"
	"github.com/sells-group/facility-locator/internal/validate"
)

// Application error types that the retry policy never retries.
const (
	ErrTypeInput       = "InputError"
	ErrTypeNotApproved = "NotApprovedError"
)

// Locator is the engine surface the activities call.
type Locator interface {
	Locate(ctx context.Context, q model.LocationQuery) (*engine.Result, error)
	Approve(o model.ValidationOutcome, approver string, force bool) (model.ValidationOutcome, error)
	Promote(ctx context.Context, q model.LocationQuery, o model.ValidationOutcome) (model.CacheWriteResult, error)
}

// PromoteInput carries a reviewer's decision on a located outcome.
type PromoteInput struct {
	Query    model.LocationQuery     `json:"query"`
	Outcome  model.ValidationOutcome `json:"outcome"`
	Approver string                  `json:"approver"`
	Force    bool                    `json:"force"`
}

// Activities wraps an engine for Temporal. Each activity is a single engine
// call; retries come from the workflow's retry policy.
type Activities struct {
	Engine Locator
}

// Locate resolves and validates one query.
func (a *Activities) Locate(ctx context.Context, q model.LocationQuery) (*engine.Result, error) {
	res, err := a.Engine.Locate(ctx, q)
	if err != nil {
		if errors.Is(err, model.ErrEmptyQuery) {
			return nil, temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeInput, err)
		}
		return nil, err
	}
	zap.L().Debug("jobs: locate activity complete",
		zap.String("query", q.Name),
		zap.String("status", string(res.Outcome.Status)),
	)
	return res, nil
}

// Promote applies a reviewer's approval and writes the outcome to the cache.
func (a *Activities) Promote(ctx context.Context, in PromoteInput) (model.CacheWriteResult, error) {
	approved, err := a.Engine.Approve(in.Outcome, in.Approver, in.Force)
	if err != nil {
		return model.CacheWriteResult{}, temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeNotApproved, err)
	}
	wr, err := a.Engine.Promote(ctx, in.Query, approved)
	if err != nil {
		if errors.Is(err, promote.ErrNotValidated) || errors.Is(err, validate.ErrNotApprovable) || errors.Is(err, model.ErrEmptyQuery) {
			return model.CacheWriteResult{}, temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeInput, err)
		}
		return model.CacheWriteResult{}, err
	}
	return wr, nil
}
