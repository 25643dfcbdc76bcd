package jobrun

import (
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"
)

func newEnv(t *testing.T) *testsuite.TestWorkflowEnvironment {
	t.Helper()
	var s testsuite.WorkflowTestSuite
	env := s.NewTestWorkflowEnvironment()
	env.RegisterActivityWithOptions((&Activities{}).Execute, activity.RegisterOptions{Name: ActivityExecute})
	return env
}

func TestWorkflowCompletes(t *testing.T) {
	env := newEnv(t)
	env.OnActivity(ActivityExecute, mock.Anything, mock.Anything).
		Return(Result{Status: "succeeded", Attempts: 1}, nil).Once()

	env.ExecuteWorkflow(Workflow, Params{MaxAttempts: 3})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	var out Result
	require.NoError(t, env.GetWorkflowResult(&out))
	require.Equal(t, "succeeded", out.Status)
	env.AssertExpectations(t)
}

func TestWorkflowRetriesFailedAttempts(t *testing.T) {
	env := newEnv(t)
	env.OnActivity(ActivityExecute, mock.Anything, mock.Anything).
		Return(Result{}, temporal.NewApplicationError("model unavailable", ErrTypeJobFailed)).Once()
	env.OnActivity(ActivityExecute, mock.Anything, mock.Anything).
		Return(Result{Status: "succeeded", Attempts: 2}, nil).Once()

	env.ExecuteWorkflow(Workflow, Params{MaxAttempts: 3, InitialInterval: time.Second, MaximumInterval: time.Minute})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	env.AssertExpectations(t)
}

func TestWorkflowStopsOnMissingJob(t *testing.T) {
	env := newEnv(t)
	env.OnActivity(ActivityExecute, mock.Anything, mock.Anything).
		Return(Result{}, temporal.NewNonRetryableApplicationError("job not found", ErrTypeJobNotFound, nil)).Once()

	env.ExecuteWorkflow(Workflow, Params{MaxAttempts: 5})

	require.True(t, env.IsWorkflowCompleted())
	require.Error(t, env.GetWorkflowError())
	env.AssertExpectations(t)
}

func TestRetryPolicyDefaults(t *testing.T) {
	p := retryPolicy(Params{})
	require.EqualValues(t, 5, p.MaximumAttempts)
	require.Equal(t, 2.0, p.BackoffCoefficient)
	require.Equal(t, 30*time.Second, p.InitialInterval)
	require.Equal(t, 15*time.Minute, p.MaximumInterval)
}
