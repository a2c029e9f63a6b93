package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// LocalOptions tunes the in-process queue.
type LocalOptions struct {
	Workers     int           // concurrent tasks; <= 0 means 4
	MaxAttempts int           // attempts per task; <= 0 means 1
	Backoff     time.Duration // delay before attempt n is n-1 times this
	// Retryable decides whether a failed attempt is tried again. Nil retries
	// everything except ErrUnknownTask.
	Retryable func(error) bool
	// MaxFailures caps the failures held for Wait; <= 0 means 100. Later
	// failures are only logged and counted.
	MaxFailures int
}

// Local runs enqueued messages on a bounded pool of goroutines in this process.
// Each task is isolated: a failure is logged and recorded and never stops
// other tasks.
type Local struct {
	ctx    context.Context
	mux    *Mux
	opts   LocalOptions
	logger *slog.Logger
	group  errgroup.Group

	mu       sync.Mutex
	failures []error
	dropped  int
}

// NewLocal creates a Local queue. Tasks run under ctx, not under the context
// passed to Enqueue, so they outlive the request that produced them.
func NewLocal(ctx context.Context, mux *Mux, opts LocalOptions, logger *slog.Logger) *Local {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.MaxFailures <= 0 {
		opts.MaxFailures = 100
	}
	if opts.Retryable == nil {
		opts.Retryable = func(err error) bool { return !errors.Is(err, ErrUnknownTask) }
	}
	l := &Local{ctx: ctx, mux: mux, opts: opts, logger: logger}
	l.group.SetLimit(opts.Workers)
	return l
}

// Enqueue schedules a message. It blocks while all workers are busy.
func (l *Local) Enqueue(ctx context.Context, name string, payload map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := Message{Name: name, Payload: maps.Clone(payload)}
	l.group.Go(func() error {
		l.run(msg)
		return nil
	})
	return nil
}

// Wait blocks until every enqueued task finished and returns the joined
// failures collected since the previous Wait.
func (l *Local) Wait() error {
	_ = l.group.Wait()
	l.mu.Lock()
	defer l.mu.Unlock()
	failures := l.failures
	if l.dropped > 0 {
		failures = append(failures, fmt.Errorf("%d more task failure(s) only logged", l.dropped))
	}
	l.failures, l.dropped = nil, 0
	return errors.Join(failures...)
}

func (l *Local) fail(msg Message, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.failures) >= l.opts.MaxFailures {
		l.dropped++
		return
	}
	l.failures = append(l.failures, fmt.Errorf("task %s: %w", msg.Name, err))
}

func (l *Local) run(msg Message) {
	for attempt := 1; ; attempt++ {
		err := l.mux.Dispatch(l.ctx, msg)
		if err == nil {
			return
		}
		if attempt >= l.opts.MaxAttempts || !l.opts.Retryable(err) {
			l.logger.Warn("task failed", "task", msg.Name, "attempt", attempt, "error", err)
			l.fail(msg, err)
			return
		}
		l.logger.Info("retrying task", "task", msg.Name, "attempt", attempt, "error", err)
		select {
		case <-l.ctx.Done():
			l.logger.Warn("task abandoned", "task", msg.Name, "attempt", attempt, "error", l.ctx.Err())
			l.fail(msg, l.ctx.Err())
			return
		case <-time.After(time.Duration(attempt) * l.opts.Backoff):
		}
	}
}
