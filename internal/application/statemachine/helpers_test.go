package statemachine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/bryanwahyu/verification-orchestrator/internal/application"
	"github.com/bryanwahyu/verification-orchestrator/internal/application/executors"
	domain "github.com/bryanwahyu/verification-orchestrator/internal/domain/statemachine"
	"github.com/bryanwahyu/verification-orchestrator/internal/domain/verificationtask"
	"github.com/bryanwahyu/verification-orchestrator/internal/domain/workertask"
	"github.com/bryanwahyu/verification-orchestrator/internal/infra/db/memory"
	"github.com/bryanwahyu/verification-orchestrator/internal/infra/execlog"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type recordingMetrics struct {
	mu       sync.Mutex
	backlog  int
	retries  map[domain.StateType]int
	outcomes map[domain.AnalysisStatus]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{retries: map[domain.StateType]int{}, outcomes: map[domain.AnalysisStatus]int{}}
}

func (m *recordingMetrics) IncBacklogWarning() {
	m.mu.Lock()
	m.backlog++
	m.mu.Unlock()
}

func (m *recordingMetrics) AddRetryCount(t domain.StateType, n int) {
	m.mu.Lock()
	m.retries[t] += n
	m.mu.Unlock()
}

func (m *recordingMetrics) IncOutcome(s domain.AnalysisStatus) {
	m.mu.Lock()
	m.outcomes[s]++
	m.mu.Unlock()
}

func (m *recordingMetrics) ObserveOrchestration(time.Duration, error) {}

type fixture struct {
	clock   *application.ManualClock
	repo    *countingMachines
	workers *memory.WorkerTaskRepo
	logs    *memory.ExecutionLogRepo
	metrics *recordingMetrics
	svc     *Service
}

func newFixture(t *testing.T, override map[domain.StateType]domain.StateExecutor) *fixture {
	t.Helper()

	clock := application.NewManualClock(t0)
	workers := memory.NewWorkerTaskRepo()
	all := executors.New(executors.Deps{Tasks: workers, Clock: clock, MaxRetries: 2})
	for k, v := range override {
		all[k] = v
	}
	registry, err := NewExecutorRegistry(all)
	require.NoError(t, err)

	f := &fixture{
		clock:   clock,
		repo:    newCountingMachines(),
		workers: workers,
		logs:    memory.NewExecutionLogRepo(),
		metrics: newRecordingMetrics(),
	}
	f.svc = &Service{
		Repo:      f.repo,
		Executors: registry,
		Logs:      execlog.New(f.logs, zaptest.NewLogger(t)),
		Metrics:   f.metrics,
		Clock:     clock,
		Backoff:   BackoffPolicy{Initial: time.Minute, Max: 30 * time.Minute},
		Logger:    zaptest.NewLogger(t),
	}
	return f
}

// machine builds a machine through the real factories with the given ignore window.
func (f *fixture) machine(t *testing.T, task *verificationtask.Task, end time.Time, window time.Duration) *domain.AnalysisStateMachine {
	t.Helper()
	windows := IgnoreWindows{LiveMonitoring: window, Deployment: window, Demo: window, SLI: window}
	registry, err := NewFactoryRegistry(DefaultFactories(windows, f.clock))
	require.NoError(t, err)
	sm, err := registry.CreateStateMachine(context.Background(), task, domain.AnalysisInput{
		VerificationTaskID: task.ID,
		StartTime:          end.Add(-5 * time.Minute),
		EndTime:            end,
	})
	require.NoError(t, err)
	return sm
}

func (f *fixture) finishWorker(t *testing.T, sm *domain.AnalysisStateMachine, status workertask.Status) {
	t.Helper()
	require.NotEmpty(t, sm.CurrentState.WorkerTaskID)
	require.NoError(t, f.workers.UpdateStatus(context.Background(), sm.CurrentState.WorkerTaskID, status, false, f.clock.Now()))
}

func sliTask() *verificationtask.Task {
	return &verificationtask.Task{ID: "sli-1", AccountID: "acc", Type: verificationtask.TypeSLI, DataType: verificationtask.DataTimeSeries}
}

func logTask() *verificationtask.Task {
	return &verificationtask.Task{ID: "lm-1", AccountID: "acc", Type: verificationtask.TypeLiveMonitoring, DataType: verificationtask.DataLog}
}

// countingMachines mencatat id state machine yang pernah disimpan per task
type countingMachines struct {
	*memory.StateMachineRepo
	mu  sync.Mutex
	ids map[string]map[string]struct{}
}

func newCountingMachines() *countingMachines {
	return &countingMachines{StateMachineRepo: memory.NewStateMachineRepo(), ids: map[string]map[string]struct{}{}}
}

func (c *countingMachines) Save(ctx context.Context, sm *domain.AnalysisStateMachine) error {
	return c.SaveAll(ctx, []*domain.AnalysisStateMachine{sm})
}

func (c *countingMachines) SaveAll(ctx context.Context, sms []*domain.AnalysisStateMachine) error {
	if err := c.StateMachineRepo.SaveAll(ctx, sms); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, sm := range sms {
		if c.ids[sm.VerificationTaskID] == nil {
			c.ids[sm.VerificationTaskID] = map[string]struct{}{}
		}
		c.ids[sm.VerificationTaskID][sm.ID] = struct{}{}
	}
	return nil
}

func (c *countingMachines) Count(verificationTaskID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ids[verificationTaskID])
}
