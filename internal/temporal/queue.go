package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/google/uuid"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
	"golang.org/x/time/rate"

	"github.com/antigravity-dev/tracker/internal/queue"
)

// WorkflowStarter is the part of client.Client the queue needs.
type WorkflowStarter interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
}

// QueueOptions configures how tasks are started.
type QueueOptions struct {
	TaskQueue       string
	ActivityTimeout time.Duration
	MaxAttempts     int32
	// StartRate caps workflow starts per second; <= 0 means unlimited.
	StartRate float64
}

// Queue implements queue.Queue by starting one TaskWorkflow per message.
type Queue struct {
	client  WorkflowStarter
	opts    QueueOptions
	limiter *rate.Limiter
	logger  *slog.Logger
}

var _ queue.Queue = (*Queue)(nil)

// NewQueue creates a Temporal-backed queue.
func NewQueue(c WorkflowStarter, opts QueueOptions, logger *slog.Logger) *Queue {
	if opts.TaskQueue == "" {
		opts.TaskQueue = DefaultTaskQueue
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.StartRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.StartRate), 1+int(opts.StartRate))
	}
	return &Queue{client: c, opts: opts, limiter: limiter, logger: logger.With("component", "temporal-queue")}
}

// Enqueue starts a workflow for the message. Each message gets a fresh
// workflow id, so redelivered payloads run again instead of being rejected.
func (q *Queue) Enqueue(ctx context.Context, name string, payload map[string]string) error {
	if err := q.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("temporal: throttle %s: %w", name, err)
	}
	wo := client.StartWorkflowOptions{
		ID:                    name + "-" + uuid.NewString(),
		TaskQueue:             q.opts.TaskQueue,
		WorkflowIDReusePolicy: enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
	}
	req := TaskRequest{
		Task:            queue.Message{Name: name, Payload: maps.Clone(payload)},
		ActivityTimeout: q.opts.ActivityTimeout,
		MaxAttempts:     q.opts.MaxAttempts,
	}

	we, err := q.client.ExecuteWorkflow(ctx, wo, TaskWorkflow, req)
	if err != nil {
		return fmt.Errorf("temporal: start %s workflow: %w", name, err)
	}
	q.logger.Debug("task workflow started", "task", name, "workflow_id", we.GetID(), "run_id", we.GetRunID())
	return nil
}
