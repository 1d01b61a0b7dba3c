package executors

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/verification-orchestrator/internal/application"
	domain "github.com/bryanwahyu/verification-orchestrator/internal/domain/statemachine"
	"github.com/bryanwahyu/verification-orchestrator/internal/domain/workertask"
	"github.com/bryanwahyu/verification-orchestrator/internal/infra/db/memory"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fakeArchive struct {
	keys   []string
	bodies [][]byte
	err    error
}

func (a *fakeArchive) Archive(_ context.Context, key string, body []byte) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	a.keys = append(a.keys, key)
	a.bodies = append(a.bodies, body)
	return "http://archive/" + key, nil
}

func newState(t domain.StateType) *domain.AnalysisState {
	return &domain.AnalysisState{
		Type:   t,
		Status: domain.StatusCreated,
		Inputs: domain.AnalysisInput{VerificationTaskID: "task-1", StartTime: t0.Add(-5 * time.Minute), EndTime: t0},
	}
}

func TestNewCoversEveryStateType(t *testing.T) {
	t.Parallel()

	all := New(Deps{MaxRetries: 2})
	for _, st := range domain.AllStateTypes() {
		assert.Contains(t, all, st)
	}
}

func TestExecuteCreatesWorkerTask(t *testing.T) {
	t.Parallel()

	workers := memory.NewWorkerTaskRepo()
	e := New(Deps{Tasks: workers, Clock: application.NewManualClock(t0), MaxRetries: 2})[domain.StateDeploymentLogCluster]
	ctx := context.Background()

	state := newState(domain.StateDeploymentLogCluster)
	state.ClusterLevel = domain.ClusterL1
	state.Inputs.VerificationJobInstanceID = "job-1"

	got, err := e.Execute(ctx, state)
	require.NoError(t, err)
	assert.Same(t, state, got)
	assert.Equal(t, domain.StatusRunning, got.Status)

	task, err := workers.Get(ctx, got.WorkerTaskID)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, workertask.StatusQueued, task.Status)
	assert.Equal(t, "job-1", task.VerificationJobInstanceID)
	assert.Equal(t, "L1", task.ClusterLevel)
	assert.True(t, task.AnalysisEndTime.Equal(t0))
}

func TestGetExecutionStatusMapsWorkerStatus(t *testing.T) {
	t.Parallel()

	cases := map[workertask.Status]domain.AnalysisStatus{
		workertask.StatusQueued:  domain.StatusRunning,
		workertask.StatusRunning: domain.StatusRunning,
		workertask.StatusSuccess: domain.StatusSuccess,
		workertask.StatusFailed:  domain.StatusRetry,
		workertask.StatusTimeout: domain.StatusTimeout,
	}
	for worker, want := range cases {
		worker, want := worker, want
		t.Run(string(worker), func(t *testing.T) {
			t.Parallel()
			workers := memory.NewWorkerTaskRepo()
			clock := application.NewManualClock(t0)
			e := &WorkerTaskExecutor{Type: domain.StateSLIMetricAnalysis, Tasks: workers, Clock: clock, MaxRetries: 2}
			ctx := context.Background()

			state, err := e.Execute(ctx, newState(domain.StateSLIMetricAnalysis))
			require.NoError(t, err)
			require.NoError(t, workers.UpdateStatus(ctx, state.WorkerTaskID, worker, false, t0))

			got, err := e.GetExecutionStatus(ctx, state)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestGetExecutionStatusWithoutWorkerTask(t *testing.T) {
	t.Parallel()

	e := &WorkerTaskExecutor{Tasks: memory.NewWorkerTaskRepo(), Clock: application.NewManualClock(t0)}
	ctx := context.Background()

	created := newState(domain.StateSLIMetricAnalysis)
	got, err := e.GetExecutionStatus(ctx, created)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCreated, got)

	lost := newState(domain.StateSLIMetricAnalysis)
	lost.Status = domain.StatusRunning
	lost.WorkerTaskID = "missing"
	got, err = e.GetExecutionStatus(ctx, lost)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRetry, got)
}

func TestServiceGuardLogSuccessors(t *testing.T) {
	t.Parallel()

	e := New(Deps{Tasks: memory.NewWorkerTaskRepo(), Clock: application.NewManualClock(t0), MaxRetries: 2})[domain.StateServiceGuardLogCluster]
	ctx := context.Background()

	l1 := newState(domain.StateServiceGuardLogCluster)
	l1.ClusterLevel = domain.ClusterL1
	l1.Status = domain.StatusSuccess

	got, err := e.HandleSuccess(ctx, l1)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusTransition, got.Status)

	l2, err := e.HandleTransition(ctx, l1)
	require.NoError(t, err)
	assert.NotSame(t, l1, l2)
	assert.Equal(t, domain.StateServiceGuardLogCluster, l2.Type)
	assert.Equal(t, domain.ClusterL2, l2.ClusterLevel)
	assert.Equal(t, domain.StatusCreated, l2.Status)
	assert.Equal(t, l1.Inputs, l2.Inputs)

	analysis, err := e.HandleTransition(ctx, l2)
	require.NoError(t, err)
	assert.Equal(t, domain.StateServiceGuardLogAnalysis, analysis.Type)
}

func TestTerminalStateSucceeds(t *testing.T) {
	t.Parallel()

	e := New(Deps{MaxRetries: 2})[domain.StateCanaryTimeSeries]
	state := newState(domain.StateCanaryTimeSeries)

	got, err := e.HandleSuccess(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, got.Status)

	got, err = e.HandleTransition(context.Background(), state)
	require.NoError(t, err)
	assert.Same(t, state, got)
	assert.Equal(t, domain.StatusSuccess, got.Status)
}

func TestHandleRetryCap(t *testing.T) {
	t.Parallel()

	workers := memory.NewWorkerTaskRepo()
	e := &WorkerTaskExecutor{Type: domain.StateTestTimeSeries, Tasks: workers, Clock: application.NewManualClock(t0), MaxRetries: 2}
	ctx := context.Background()
	state := newState(domain.StateTestTimeSeries)

	for i := 1; i <= 2; i++ {
		got, err := e.HandleRetry(ctx, state)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusRunning, got.Status)
		assert.Equal(t, i, got.RetryCount)
	}

	got, err := e.HandleRetry(ctx, state)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusIgnored, got.Status)
	assert.Equal(t, 2, got.RetryCount)
}

func TestFailureAndTimeoutHandlers(t *testing.T) {
	t.Parallel()

	e := &WorkerTaskExecutor{}
	got, err := e.HandleFailure(context.Background(), newState(domain.StateSLIMetricAnalysis))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)

	got, err = e.HandleTimeout(context.Background(), newState(domain.StateSLIMetricAnalysis))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusTimeout, got.Status)
}

func TestHandleFinalStatusesArchivesSummary(t *testing.T) {
	t.Parallel()

	archive := &fakeArchive{}
	e := &WorkerTaskExecutor{Archive: archive}
	state := newState(domain.StateCompositeSLOMetricAnalysis)
	state.Status = domain.StatusSuccess
	state.WorkerTaskID = "w-1"

	require.NoError(t, e.HandleFinalStatuses(context.Background(), state))
	require.Len(t, archive.keys, 1)
	assert.Contains(t, archive.keys[0], "analysis/task-1/COMPOSITE_SLO_METRIC_ANALYSIS/")

	var summary map[string]any
	require.NoError(t, json.Unmarshal(archive.bodies[0], &summary))
	assert.Equal(t, "SUCCESS", summary["status"])
	assert.Equal(t, "w-1", summary["worker_task_id"])

	archive.err = errors.New("bucket gone")
	require.Error(t, e.HandleFinalStatuses(context.Background(), state))

	// tanpa archive tidak melakukan apa-apa
	require.NoError(t, (&WorkerTaskExecutor{}).HandleFinalStatuses(context.Background(), state))
}
