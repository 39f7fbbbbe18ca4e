// Package jobs runs location resolution as Temporal workflows. The engine
// makes one attempt per source; the activity retry policy here is the only
// retry layer.
package jobs

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/sells-group/facility-locator/internal/engine"
	"github.com/sells-group/facility-locator/internal/model"
)

// Signal and query names.
const (
	ApproveSignal = "approve"
	OutcomeQuery  = "outcome"
)

// LocateInput starts a LocateWorkflow. With a zero ReviewTimeout the
// workflow returns as soon as the query is located.
type LocateInput struct {
	Query         model.LocationQuery `json:"query"`
	ReviewTimeout time.Duration       `json:"review_timeout"`
}

// Approval is the payload of the approve signal.
type Approval struct {
	Approver string `json:"approver"`
	Force    bool   `json:"force"`
}

// LocateOutput is the workflow result.
type LocateOutput struct {
	Result        engine.Result           `json:"result"`
	Cache         *model.CacheWriteResult `json:"cache,omitempty"`
	ReviewExpired bool                    `json:"review_expired,omitempty"`
}

// RetryPolicy is applied to every activity.
func RetryPolicy() *temporal.RetryPolicy {
	return &temporal.RetryPolicy{
		InitialInterval:        2 * time.Second,
		BackoffCoefficient:     2.0,
		MaximumInterval:        time.Minute,
		MaximumAttempts:        3,
		NonRetryableErrorTypes: []string{ErrTypeInput, ErrTypeNotApproved},
	}
}

// LocateWorkflow locates a query, then, for reviewable outcomes, waits up to
// ReviewTimeout for an approve signal and promotes the approved outcome. The
// workflow never approves on its own.
func LocateWorkflow(ctx workflow.Context, in LocateInput) (LocateOutput, error) {
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy:         RetryPolicy(),
	})
	log := workflow.GetLogger(ctx)

	var out LocateOutput
	if err := workflow.SetQueryHandler(ctx, OutcomeQuery, func() (LocateOutput, error) {
		return out, nil
	}); err != nil {
		return out, err
	}

	var a *Activities
	var res engine.Result
	if err := workflow.ExecuteActivity(ctx, a.Locate, in.Query).Get(ctx, &res); err != nil {
		return out, err
	}
	out.Result = res

	if in.ReviewTimeout <= 0 || !reviewable(res.Outcome.Status) {
		return out, nil
	}

	log.Info("awaiting review", "query", in.Query.Name, "status", string(res.Outcome.Status))

	var approval Approval
	approved := false
	timerCtx, cancelTimer := workflow.WithCancel(ctx)
	timer := workflow.NewTimer(timerCtx, in.ReviewTimeout)

	sel := workflow.NewSelector(ctx)
	sel.AddReceive(workflow.GetSignalChannel(ctx, ApproveSignal), func(c workflow.ReceiveChannel, _ bool) {
		c.Receive(ctx, &approval)
		approved = true
	})
	sel.AddFuture(timer, func(workflow.Future) {})
	sel.Select(ctx)
	cancelTimer()

	if !approved {
		out.ReviewExpired = true
		return out, nil
	}

	var wr model.CacheWriteResult
	err := workflow.ExecuteActivity(ctx, a.Promote, PromoteInput{
		Query:    in.Query,
		Outcome:  res.Outcome,
		Approver: approval.Approver,
		Force:    approval.Force,
	}).Get(ctx, &wr)
	if err != nil {
		return out, err
	}
	out.Cache = &wr
	return out, nil
}

func reviewable(s model.Status) bool {
	return s == model.StatusNeedsReview || s == model.StatusPending
}
