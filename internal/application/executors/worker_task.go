package executors

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bryanwahyu/verification-orchestrator/internal/application"
	domain "github.com/bryanwahyu/verification-orchestrator/internal/domain/statemachine"
	"github.com/bryanwahyu/verification-orchestrator/internal/domain/workertask"
)

// ResultArchive port penyimpanan ringkasan hasil analisis
type ResultArchive interface {
	Archive(ctx context.Context, key string, body []byte) (string, error)
}

// Successor returns the state that follows a successful state, nil when the state is last.
type Successor func(state *domain.AnalysisState) *domain.AnalysisState

// WorkerTaskExecutor runs a state by creating a worker task and polling it.
type WorkerTaskExecutor struct {
	Type       domain.StateType
	Tasks      workertask.Repository
	Archive    ResultArchive
	Clock      application.Clock
	MaxRetries int
	Next       Successor
	Logger     *zap.Logger
}

func (e *WorkerTaskExecutor) Execute(ctx context.Context, state *domain.AnalysisState) (*domain.AnalysisState, error) {
	now := e.Clock.Now()
	task := &workertask.Task{
		ID:                        uuid.NewString(),
		VerificationTaskID:        state.Inputs.VerificationTaskID,
		VerificationJobInstanceID: state.Inputs.VerificationJobInstanceID,
		StateType:                 string(state.Type),
		ClusterLevel:              string(state.ClusterLevel),
		AnalysisStartTime:         state.Inputs.StartTime,
		AnalysisEndTime:           state.Inputs.EndTime,
		Status:                    workertask.StatusQueued,
		CreatedAt:                 now,
		UpdatedAt:                 now,
	}
	if err := e.Tasks.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("create worker task for %s: %w", state.Type, err)
	}
	state.WorkerTaskID = task.ID
	state.Status = domain.StatusRunning
	return state, nil
}

func (e *WorkerTaskExecutor) GetExecutionStatus(ctx context.Context, state *domain.AnalysisState) (domain.AnalysisStatus, error) {
	if state.Status != domain.StatusRunning && state.Status != domain.StatusRetry {
		return state.Status, nil
	}
	if state.WorkerTaskID == "" {
		return domain.StatusRetry, nil
	}
	task, err := e.Tasks.Get(ctx, state.WorkerTaskID)
	if err != nil {
		return "", fmt.Errorf("load worker task %s: %w", state.WorkerTaskID, err)
	}
	if task == nil {
		e.log().Warn("worker task disappeared, scheduling retry",
			zap.String("workerTaskId", state.WorkerTaskID),
			zap.String("verificationTaskId", state.Inputs.VerificationTaskID))
		return domain.StatusRetry, nil
	}
	switch task.Status {
	case workertask.StatusQueued, workertask.StatusRunning:
		return domain.StatusRunning, nil
	case workertask.StatusSuccess:
		return domain.StatusSuccess, nil
	case workertask.StatusFailed:
		return domain.StatusRetry, nil
	case workertask.StatusTimeout:
		return domain.StatusTimeout, nil
	default:
		return "", fmt.Errorf("%w: worker task %s status %q", domain.ErrUnknownStatus, task.ID, task.Status)
	}
}

func (e *WorkerTaskExecutor) HandleRunning(ctx context.Context, state *domain.AnalysisState) (*domain.AnalysisState, error) {
	state.Status = domain.StatusRunning
	return state, nil
}

func (e *WorkerTaskExecutor) HandleTransition(ctx context.Context, state *domain.AnalysisState) (*domain.AnalysisState, error) {
	var next *domain.AnalysisState
	if e.Next != nil {
		next = e.Next(state)
	}
	if next == nil {
		state.Status = domain.StatusSuccess
		return state, nil
	}
	next.Status = domain.StatusCreated
	next.Inputs = state.Inputs
	return next, nil
}

func (e *WorkerTaskExecutor) HandleSuccess(ctx context.Context, state *domain.AnalysisState) (*domain.AnalysisState, error) {
	if e.Next != nil && e.Next(state) != nil {
		state.Status = domain.StatusTransition
	} else {
		state.Status = domain.StatusSuccess
	}
	return state, nil
}

func (e *WorkerTaskExecutor) HandleFailure(ctx context.Context, state *domain.AnalysisState) (*domain.AnalysisState, error) {
	state.Status = domain.StatusFailed
	return state, nil
}

func (e *WorkerTaskExecutor) HandleTimeout(ctx context.Context, state *domain.AnalysisState) (*domain.AnalysisState, error) {
	state.Status = domain.StatusTimeout
	return state, nil
}

// HandleRetry re-runs the state until MaxRetries retries were spent, then gives up with IGNORED.
func (e *WorkerTaskExecutor) HandleRetry(ctx context.Context, state *domain.AnalysisState) (*domain.AnalysisState, error) {
	if state.RetryCount >= e.MaxRetries {
		state.Status = domain.StatusIgnored
		return state, nil
	}
	state.RetryCount++
	return e.Execute(ctx, state)
}

type stateSummary struct {
	VerificationTaskID string                `json:"verification_task_id"`
	StateType          domain.StateType      `json:"state_type"`
	ClusterLevel       domain.ClusterLevel   `json:"cluster_level,omitempty"`
	Status             domain.AnalysisStatus `json:"status"`
	RetryCount         int                   `json:"retry_count"`
	WorkerTaskID       string                `json:"worker_task_id,omitempty"`
	StartTime          int64                 `json:"start_time"`
	EndTime            int64                 `json:"end_time"`
}

// HandleFinalStatuses archives a JSON summary of the finished state when an archive is set.
func (e *WorkerTaskExecutor) HandleFinalStatuses(ctx context.Context, state *domain.AnalysisState) error {
	if e.Archive == nil {
		return nil
	}
	body, err := json.Marshal(stateSummary{
		VerificationTaskID: state.Inputs.VerificationTaskID,
		StateType:          state.Type,
		ClusterLevel:       state.ClusterLevel,
		Status:             state.Status,
		RetryCount:         state.RetryCount,
		WorkerTaskID:       state.WorkerTaskID,
		StartTime:          state.Inputs.StartTime.Unix(),
		EndTime:            state.Inputs.EndTime.Unix(),
	})
	if err != nil {
		return err
	}
	key := fmt.Sprintf("analysis/%s/%s/%d-%d.json",
		state.Inputs.VerificationTaskID, state.Type, state.Inputs.StartTime.Unix(), state.Inputs.EndTime.Unix())
	url, err := e.Archive.Archive(ctx, key, body)
	if err != nil {
		return fmt.Errorf("archive %s: %w", key, err)
	}
	e.log().Debug("state summary archived", zap.String("url", url), zap.String("status", string(state.Status)))
	return nil
}

func (e *WorkerTaskExecutor) log() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}
