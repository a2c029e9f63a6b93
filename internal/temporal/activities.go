package temporal

import (
	"context"
	"errors"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/antigravity-dev/tracker/internal/queue"
)

// Activities holds dependencies for Temporal activity methods.
type Activities struct {
	Mux *queue.Mux
	// Permanent reports errors that retrying cannot fix. Nil treats only
	// unknown task names as permanent.
	Permanent func(error) bool
}

// RunTaskActivity dispatches a queued message to its registered handler.
func (a *Activities) RunTaskActivity(ctx context.Context, msg queue.Message) error {
	logger := activity.GetLogger(ctx)

	err := a.Mux.Dispatch(ctx, msg)
	if err == nil {
		logger.Debug("Task handled", "Task", msg.Name)
		return nil
	}
	if errors.Is(err, queue.ErrUnknownTask) || (a.Permanent != nil && a.Permanent(err)) {
		logger.Warn("Task failed permanently", "Task", msg.Name, "error", err)
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypePermanent, err)
	}
	logger.Warn("Task failed, will retry", "Task", msg.Name, "error", err)
	return err
}
