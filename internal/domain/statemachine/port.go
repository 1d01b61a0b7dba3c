package statemachine

import (
	"context"
	"time"
)

// OrchestratorRepository port persistence orchestrator. Semua mutasi antrian harus atomik per task.
type OrchestratorRepository interface {
	// Get returns nil, nil when no orchestrator exists for the task.
	Get(ctx context.Context, verificationTaskID string) (*AnalysisOrchestrator, error)
	// Enqueue creates the orchestrator from seed when absent, appends sm to its queue and
	// sets the status to RUNNING unless the orchestrator is already COMPLETED or TERMINATED.
	Enqueue(ctx context.Context, seed *AnalysisOrchestrator, sm *AnalysisStateMachine) error
	// PopFirst removes and returns the queue head, nil when the queue is empty.
	PopFirst(ctx context.Context, verificationTaskID string) (*AnalysisStateMachine, error)
	// MarkWaitingIfEmpty sets WAITING only when the queue is empty at write time.
	MarkWaitingIfEmpty(ctx context.Context, verificationTaskID string) (bool, error)
	UpdateStatus(ctx context.Context, verificationTaskID string, status OrchestratorStatus) error
	UpdateStatusBulk(ctx context.Context, verificationTaskIDs []string, status OrchestratorStatus) error
	// TerminateQueue empties the queue, marks the orchestrator TERMINATED and returns the removed machines.
	TerminateQueue(ctx context.Context, verificationTaskID string) ([]*AnalysisStateMachine, error)
	// ListByStatus pages orchestrators ordered by task id, starting after afterTaskID ("" for the first page).
	ListByStatus(ctx context.Context, status OrchestratorStatus, afterTaskID string, limit int) ([]*AnalysisOrchestrator, error)
}

// StateMachineRepository port persistence state machine
type StateMachineRepository interface {
	Save(ctx context.Context, sm *AnalysisStateMachine) error
	SaveAll(ctx context.Context, sms []*AnalysisStateMachine) error
	// Latest returns the most recently created machine for the task regardless of status.
	Latest(ctx context.Context, verificationTaskID string) (*AnalysisStateMachine, error)
	LatestByStatus(ctx context.Context, verificationTaskID string, status AnalysisStatus) (*AnalysisStateMachine, error)
}

// StateExecutor runs one kind of analysis state.
type StateExecutor interface {
	GetExecutionStatus(ctx context.Context, state *AnalysisState) (AnalysisStatus, error)
	Execute(ctx context.Context, state *AnalysisState) (*AnalysisState, error)
	HandleRunning(ctx context.Context, state *AnalysisState) (*AnalysisState, error)
	HandleTransition(ctx context.Context, state *AnalysisState) (*AnalysisState, error)
	HandleSuccess(ctx context.Context, state *AnalysisState) (*AnalysisState, error)
	HandleFailure(ctx context.Context, state *AnalysisState) (*AnalysisState, error)
	HandleTimeout(ctx context.Context, state *AnalysisState) (*AnalysisState, error)
	HandleRetry(ctx context.Context, state *AnalysisState) (*AnalysisState, error)
	HandleFinalStatuses(ctx context.Context, state *AnalysisState) error
}

// Locker port distributed lock
type Locker interface {
	Acquire(ctx context.Context, key string, wait, hold time.Duration) (Lock, error)
}

type Lock interface {
	Release(ctx context.Context) error
}

// EventPublisher port event bus. Publish bersifat fire-and-forget untuk caller.
type EventPublisher interface {
	PublishAnalysisQueued(ctx context.Context, accountID, verificationTaskID string) error
	PublishTaskComplete(ctx context.Context, accountID, verificationTaskID string) error
}

// FailFastChecker reports whether the latest analysis of a task asked to stop further analysis.
type FailFastChecker interface {
	ShouldFailFast(ctx context.Context, verificationTaskID string) (bool, error)
}

// Metrics port
type Metrics interface {
	IncBacklogWarning()
	AddRetryCount(stateType StateType, n int)
	IncOutcome(status AnalysisStatus)
	ObserveOrchestration(d time.Duration, err error)
}
