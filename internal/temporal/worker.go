package temporal

import (
	"context"
	"log/slog"

	"go.temporal.io/sdk/client"
	tlog "go.temporal.io/sdk/log"
	"go.temporal.io/sdk/worker"

	"github.com/antigravity-dev/tracker/internal/config"
)

// Dial connects to the Temporal frontend described by cfg. SDK logs go
// through logger.
func Dial(cfg config.Temporal, logger *slog.Logger) (client.Client, error) {
	return client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
		Logger:    tlog.NewStructuredLogger(logger.With("component", "temporal")),
	})
}

// NewWorker creates a worker for taskQueue with the task workflow and acts registered.
func NewWorker(c client.Client, taskQueue string, acts *Activities) worker.Worker {
	w := worker.New(c, taskQueue, worker.Options{})
	w.RegisterWorkflow(TaskWorkflow)
	w.RegisterActivity(acts.RunTaskActivity)
	return w
}

// StartWorker runs a task queue worker until ctx is cancelled.
func StartWorker(ctx context.Context, c client.Client, taskQueue string, acts *Activities, logger *slog.Logger) error {
	w := NewWorker(c, taskQueue, acts)

	stop := make(chan interface{})
	go func() {
		<-ctx.Done()
		close(stop)
	}()

	logger.Info("temporal worker started", "task_queue", taskQueue, "tasks", acts.Mux.Names())
	return w.Run(stop)
}
