package jobrun

import (
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// Workflow executes one job run. The workflow id is the job run id; failed
// attempts are retried by the activity retry policy with exponential backoff.
func Workflow(ctx workflow.Context, p Params) (Result, error) {
	jobID := strings.TrimSpace(workflow.GetInfo(ctx).WorkflowExecution.ID)
	if jobID == "" {
		return Result{}, fmt.Errorf("jobrun: missing job_id")
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Hour,
		HeartbeatTimeout:    time.Minute,
		RetryPolicy:         retryPolicy(p),
	})

	var out Result
	if err := workflow.ExecuteActivity(ctx, ActivityExecute, jobID).Get(ctx, &out); err != nil {
		return out, err
	}
	return out, nil
}

func retryPolicy(p Params) *temporal.RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 5
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = 30 * time.Second
	}
	if p.MaximumInterval <= 0 {
		p.MaximumInterval = 15 * time.Minute
	}
	return &temporal.RetryPolicy{
		InitialInterval:        p.InitialInterval,
		BackoffCoefficient:     2.0,
		MaximumInterval:        p.MaximumInterval,
		MaximumAttempts:        p.MaxAttempts,
		NonRetryableErrorTypes: []string{ErrTypeJobNotFound},
	}
}
