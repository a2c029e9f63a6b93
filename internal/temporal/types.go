package temporal

import (
	"time"

	"github.com/antigravity-dev/tracker/internal/queue"
)

const (
	// DefaultTaskQueue is the Temporal task queue tracker workers poll.
	DefaultTaskQueue = "tracker-task-queue"

	// ErrTypePermanent marks task failures that must not be retried.
	ErrTypePermanent = "PermanentTaskError"

	defaultActivityTimeout = 2 * time.Minute
	defaultMaxAttempts     = 5
)

// TaskRequest is the input of TaskWorkflow: one queued message plus the
// retry budget chosen by the producer.
type TaskRequest struct {
	Task            queue.Message `json:"task"`
	ActivityTimeout time.Duration `json:"activity_timeout"`
	MaxAttempts     int32         `json:"max_attempts"`
}

func (r TaskRequest) timeout() time.Duration {
	if r.ActivityTimeout <= 0 {
		return defaultActivityTimeout
	}
	return r.ActivityTimeout
}

func (r TaskRequest) attempts() int32 {
	if r.MaxAttempts <= 0 {
		return defaultMaxAttempts
	}
	return r.MaxAttempts
}
