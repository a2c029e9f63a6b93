package temporal

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// TaskWorkflow runs one queued task as a single activity. Transient failures
// are retried with exponential backoff up to the request's attempt budget;
// failures typed ErrTypePermanent end the workflow at once.
func TaskWorkflow(ctx workflow.Context, req TaskRequest) error {
	logger := workflow.GetLogger(ctx)

	opts := workflow.ActivityOptions{
		StartToCloseTimeout: req.timeout(),
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        time.Second,
			BackoffCoefficient:     2.0,
			MaximumInterval:        time.Minute,
			MaximumAttempts:        req.attempts(),
			NonRetryableErrorTypes: []string{ErrTypePermanent},
		},
	}
	actx := workflow.WithActivityOptions(ctx, opts)

	var a *Activities
	if err := workflow.ExecuteActivity(actx, a.RunTaskActivity, req.Task).Get(ctx, nil); err != nil {
		logger.Error("Task failed", "Task", req.Task.Name, "error", err)
		return fmt.Errorf("task %s: %w", req.Task.Name, err)
	}

	logger.Info("Task completed", "Task", req.Task.Name)
	return nil
}
