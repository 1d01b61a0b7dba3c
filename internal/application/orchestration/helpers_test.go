package orchestration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/bryanwahyu/verification-orchestrator/internal/application"
	"github.com/bryanwahyu/verification-orchestrator/internal/application/executors"
	appsm "github.com/bryanwahyu/verification-orchestrator/internal/application/statemachine"
	domain "github.com/bryanwahyu/verification-orchestrator/internal/domain/statemachine"
	"github.com/bryanwahyu/verification-orchestrator/internal/domain/verificationtask"
	"github.com/bryanwahyu/verification-orchestrator/internal/domain/workertask"
	"github.com/bryanwahyu/verification-orchestrator/internal/infra/db/memory"
	"github.com/bryanwahyu/verification-orchestrator/internal/infra/execlog"
	"github.com/bryanwahyu/verification-orchestrator/internal/infra/lock"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type recordingMetrics struct {
	mu       sync.Mutex
	backlog  int
	observed int
	errors   int
}

func (m *recordingMetrics) IncBacklogWarning() {
	m.mu.Lock()
	m.backlog++
	m.mu.Unlock()
}

func (m *recordingMetrics) AddRetryCount(domain.StateType, int) {}
func (m *recordingMetrics) IncOutcome(domain.AnalysisStatus)    {}

func (m *recordingMetrics) ObserveOrchestration(_ time.Duration, err error) {
	m.mu.Lock()
	m.observed++
	if err != nil {
		m.errors++
	}
	m.mu.Unlock()
}

type recordingEvents struct {
	mu        sync.Mutex
	queued    []string
	completed []string
}

func (e *recordingEvents) PublishAnalysisQueued(_ context.Context, _, taskID string) error {
	e.mu.Lock()
	e.queued = append(e.queued, taskID)
	e.mu.Unlock()
	return nil
}

func (e *recordingEvents) PublishTaskComplete(_ context.Context, _, taskID string) error {
	e.mu.Lock()
	e.completed = append(e.completed, taskID)
	e.mu.Unlock()
	return nil
}

type fixture struct {
	clock         *application.ManualClock
	tasks         *memory.VerificationTaskRepo
	workers       *memory.WorkerTaskRepo
	machines      *countingMachines
	orchestrators *memory.OrchestratorRepo
	locker        *lock.Local
	metrics       *recordingMetrics
	events        *recordingEvents
	svc           *Service
}

func defaultConfig() Config {
	return Config{
		LockWait:         2 * time.Second,
		LockHold:         30 * time.Second,
		IgnoreLimit:      100,
		BacklogThreshold: 5,
		Retention:        30 * 24 * time.Hour,
	}
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	f := &fixture{
		clock:         application.NewManualClock(t0),
		tasks:         memory.NewVerificationTaskRepo(),
		workers:       memory.NewWorkerTaskRepo(),
		machines:      newCountingMachines(),
		orchestrators: memory.NewOrchestratorRepo(),
		locker:        lock.NewLocal(),
		metrics:       &recordingMetrics{},
		events:        &recordingEvents{},
	}
	logger := zaptest.NewLogger(t)
	sink := execlog.New(memory.NewExecutionLogRepo(), logger)

	execs, err := appsm.NewExecutorRegistry(executors.New(executors.Deps{Tasks: f.workers, Clock: f.clock, MaxRetries: 2}))
	require.NoError(t, err)
	windows := appsm.IgnoreWindows{LiveMonitoring: time.Hour, Deployment: time.Hour, Demo: time.Hour, SLI: time.Hour}
	factories, err := appsm.NewFactoryRegistry(appsm.DefaultFactories(windows, f.clock))
	require.NoError(t, err)

	f.svc = &Service{
		Orchestrators: f.orchestrators,
		StateMachines: &appsm.Service{
			Repo:      f.machines,
			Executors: execs,
			Logs:      sink,
			Metrics:   f.metrics,
			Clock:     f.clock,
			Backoff:   appsm.BackoffPolicy{Initial: time.Minute, Max: 30 * time.Minute},
			Logger:    logger,
		},
		Factories: factories,
		Tasks:     f.tasks,
		FailFast:  FailFastPolicy{Tasks: f.tasks, WorkerTasks: f.workers},
		Events:    f.events,
		Locker:    f.locker,
		Logs:      sink,
		Metrics:   f.metrics,
		Clock:     f.clock,
		Config:    cfg,
		Logger:    logger,
	}
	return f
}

func (f *fixture) register(t *testing.T, id string, typ verificationtask.Type, data verificationtask.DataType) {
	t.Helper()
	require.NoError(t, f.tasks.Save(context.Background(), &verificationtask.Task{
		ID: id, AccountID: "acc-1", Type: typ, DataType: data, JobType: verificationtask.JobCanary, CreatedAt: t0,
	}))
}

func (f *fixture) queue(t *testing.T, taskID string, end time.Time) {
	t.Helper()
	require.NoError(t, f.svc.QueueAnalysis(context.Background(), domain.AnalysisInput{
		VerificationTaskID: taskID,
		StartTime:          end.Add(-5 * time.Minute),
		EndTime:            end,
	}))
}

func (f *fixture) orchestrate(t *testing.T, taskID string) {
	t.Helper()
	require.NoError(t, f.svc.Orchestrate(context.Background(), &domain.AnalysisOrchestrator{VerificationTaskID: taskID}))
}

func (f *fixture) orchestrator(t *testing.T, taskID string) *domain.AnalysisOrchestrator {
	t.Helper()
	o, err := f.svc.GetAnalysisOrchestrator(context.Background(), taskID)
	require.NoError(t, err)
	return o
}

func (f *fixture) latest(t *testing.T, taskID string) *domain.AnalysisStateMachine {
	t.Helper()
	sm, err := f.machines.Latest(context.Background(), taskID)
	require.NoError(t, err)
	require.NotNil(t, sm)
	return sm
}

func (f *fixture) finishWorker(t *testing.T, taskID string, status workertask.Status, failFast bool) {
	t.Helper()
	sm := f.latest(t, taskID)
	require.NotEmpty(t, sm.CurrentState.WorkerTaskID)
	require.NoError(t, f.workers.UpdateStatus(context.Background(), sm.CurrentState.WorkerTaskID, status, failFast, f.clock.Now()))
}

// setLatestStatus mutates the persisted latest machine.
func (f *fixture) setLatestStatus(t *testing.T, taskID string, status domain.AnalysisStatus) {
	t.Helper()
	sm := f.latest(t, taskID)
	sm.Status = status
	sm.CurrentState.Status = status
	require.NoError(t, f.machines.Save(context.Background(), sm))
}

func (f *fixture) leasedWorkerTasks(t *testing.T) int {
	t.Helper()
	n := 0
	for {
		task, err := f.workers.LeaseNext(context.Background(), f.clock.Now())
		require.NoError(t, err)
		if task == nil {
			return n
		}
		n++
	}
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
