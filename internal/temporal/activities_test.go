package temporal

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/mocks"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/antigravity-dev/tracker/internal/queue"
)

func TestRunTaskActivity(t *testing.T) {
	mux := queue.NewMux()
	var seen string
	mux.Handle("import-one", func(_ context.Context, p map[string]string) error {
		seen = p["data"]
		return nil
	})
	mux.Handle("broken", func(context.Context, map[string]string) error { return errPermanent })
	mux.Handle("flaky", func(context.Context, map[string]string) error { return errors.New("busy") })

	acts := &Activities{Mux: mux, Permanent: func(err error) bool { return errors.Is(err, errPermanent) }}

	tests := []struct {
		name          string
		msg           queue.Message
		wantErr       bool
		wantPermanent bool
	}{
		{name: "dispatches to handler", msg: queue.Message{Name: "import-one", Payload: map[string]string{"data": "x"}}},
		{name: "permanent handler error", msg: queue.Message{Name: "broken"}, wantErr: true, wantPermanent: true},
		{name: "unknown task is permanent", msg: queue.Message{Name: "nope"}, wantErr: true, wantPermanent: true},
		{name: "transient error stays retryable", msg: queue.Message{Name: "flaky"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testsuite.WorkflowTestSuite{}
			env := s.NewTestActivityEnvironment()
			env.RegisterActivity(acts)

			_, err := env.ExecuteActivity(acts.RunTaskActivity, tt.msg)
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			var appErr *temporal.ApplicationError
			isApp := errors.As(err, &appErr)
			if tt.wantPermanent {
				require.True(t, isApp)
				require.Equal(t, ErrTypePermanent, appErr.Type())
				require.True(t, appErr.NonRetryable())
			} else if isApp {
				require.False(t, appErr.NonRetryable())
			}
		})
	}
	require.Equal(t, "x", seen)
}

func TestQueueEnqueueStartsWorkflow(t *testing.T) {
	c := &mocks.Client{}
	run := &mocks.WorkflowRun{}
	run.On("GetID").Return("import-one-abc")
	run.On("GetRunID").Return("run-1")

	var opts client.StartWorkflowOptions
	var req TaskRequest
	c.On("ExecuteWorkflow", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			opts = args.Get(1).(client.StartWorkflowOptions)
			req = args.Get(3).(TaskRequest)
		}).
		Return(run, nil)

	q := NewQueue(c, QueueOptions{MaxAttempts: 4}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	payload := map[string]string{"data": "{}"}
	require.NoError(t, q.Enqueue(context.Background(), "import-one", payload))

	require.Equal(t, DefaultTaskQueue, opts.TaskQueue)
	require.Regexp(t, `^import-one-[0-9a-f-]{36}$`, opts.ID)
	require.Equal(t, "import-one", req.Task.Name)
	require.Equal(t, int32(4), req.MaxAttempts)

	payload["data"] = "mutated"
	require.Equal(t, "{}", req.Task.Payload["data"])
}

func TestQueueEnqueueError(t *testing.T) {
	c := &mocks.Client{}
	c.On("ExecuteWorkflow", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("frontend unavailable"))

	q := NewQueue(c, QueueOptions{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	err := q.Enqueue(context.Background(), "import-one", nil)
	require.ErrorContains(t, err, "frontend unavailable")
}

func TestQueueEnqueueThrottled(t *testing.T) {
	c := &mocks.Client{}
	q := NewQueue(c, QueueOptions{StartRate: 1}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := q.Enqueue(ctx, "import-one", nil)
	require.ErrorIs(t, err, context.Canceled)
	c.AssertNotCalled(t, "ExecuteWorkflow", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
