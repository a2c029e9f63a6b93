package temporal

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/antigravity-dev/tracker/internal/queue"
)

var errPermanent = errors.New("bad item")

func TestTaskWorkflowCompletes(t *testing.T) {
	s := testsuite.WorkflowTestSuite{}
	env := s.NewTestWorkflowEnvironment()
	var a *Activities

	var got queue.Message
	env.OnActivity(a.RunTaskActivity, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		got = args.Get(1).(queue.Message)
	}).Return(nil)

	env.ExecuteWorkflow(TaskWorkflow, TaskRequest{
		Task: queue.Message{Name: "import-one", Payload: map[string]string{"data": `{"id":"1"}`}},
	})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	require.Equal(t, "import-one", got.Name)
	require.Equal(t, `{"id":"1"}`, got.Payload["data"])
}

func TestTaskWorkflowRetriesTransientFailures(t *testing.T) {
	s := testsuite.WorkflowTestSuite{}
	env := s.NewTestWorkflowEnvironment()

	var calls atomic.Int32
	mux := queue.NewMux()
	mux.Handle("flaky", func(context.Context, map[string]string) error {
		if calls.Add(1) < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	env.RegisterActivity(&Activities{Mux: mux})

	env.ExecuteWorkflow(TaskWorkflow, TaskRequest{Task: queue.Message{Name: "flaky"}, MaxAttempts: 5})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	require.Equal(t, int32(3), calls.Load())
}

func TestTaskWorkflowStopsOnPermanentFailure(t *testing.T) {
	s := testsuite.WorkflowTestSuite{}
	env := s.NewTestWorkflowEnvironment()

	var calls atomic.Int32
	mux := queue.NewMux()
	mux.Handle("import-one", func(context.Context, map[string]string) error {
		calls.Add(1)
		return errPermanent
	})
	env.RegisterActivity(&Activities{
		Mux:       mux,
		Permanent: func(err error) bool { return errors.Is(err, errPermanent) },
	})

	env.ExecuteWorkflow(TaskWorkflow, TaskRequest{Task: queue.Message{Name: "import-one"}, MaxAttempts: 5})

	require.True(t, env.IsWorkflowCompleted())
	err := env.GetWorkflowError()
	require.Error(t, err)
	var appErr *temporal.ApplicationError
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, ErrTypePermanent, appErr.Type())
	require.Equal(t, int32(1), calls.Load())
}

func TestTaskWorkflowGivesUpAfterMaxAttempts(t *testing.T) {
	s := testsuite.WorkflowTestSuite{}
	env := s.NewTestWorkflowEnvironment()

	var calls atomic.Int32
	mux := queue.NewMux()
	mux.Handle("down", func(context.Context, map[string]string) error {
		calls.Add(1)
		return errors.New("store unavailable")
	})
	env.RegisterActivity(&Activities{Mux: mux})

	env.ExecuteWorkflow(TaskWorkflow, TaskRequest{Task: queue.Message{Name: "down"}, MaxAttempts: 2})

	require.True(t, env.IsWorkflowCompleted())
	require.Error(t, env.GetWorkflowError())
	require.Equal(t, int32(2), calls.Load())
}
