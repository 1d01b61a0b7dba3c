package statemachine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bryanwahyu/verification-orchestrator/internal/application"
	"github.com/bryanwahyu/verification-orchestrator/internal/domain/executionlog"
	domain "github.com/bryanwahyu/verification-orchestrator/internal/domain/statemachine"
)

// maxCreatedHops batas loop eksekusi state baru dalam satu langkah
const maxCreatedHops = 8

// Service steps analysis state machines. Callers hold the per-task lock.
type Service struct {
	Repo      domain.StateMachineRepository
	Executors *ExecutorRegistry
	Logs      executionlog.Sink
	Metrics   domain.Metrics
	Clock     application.Clock
	Backoff   BackoffPolicy
	Logger    *zap.Logger
}

// InitiateStateMachine activates sm for the task, or ignores it when its window is stale.
func (s *Service) InitiateStateMachine(ctx context.Context, verificationTaskID string, sm *domain.AnalysisStateMachine) error {
	if sm == nil || sm.CurrentState == nil {
		return fmt.Errorf("%w: state machine for task %s has no current state", domain.ErrValidation, verificationTaskID)
	}
	executing, err := s.Repo.Latest(ctx, verificationTaskID)
	if err != nil {
		return fmt.Errorf("load executing state machine for %s: %w", verificationTaskID, err)
	}
	if executing != nil && executing.ID != sm.ID && !executing.Status.IsFinal() {
		return fmt.Errorf("%w: task %s already executes state machine %s (%s)",
			domain.ErrInvariantViolation, verificationTaskID, executing.ID, executing.Status)
	}

	if sm.CreatedAt.IsZero() {
		sm.CreatedAt = s.Clock.Now()
	}
	if s.IgnoreOldStateMachine(ctx, sm) == nil {
		sm.Status = domain.StatusRunning
		s.record(ctx, executionlog.LevelInfo, sm, "analysis state machine initiated")
	}
	return s.save(ctx, sm)
}

// ExecuteStateMachineForTask steps the task's RUNNING machine, if any.
func (s *Service) ExecuteStateMachineForTask(ctx context.Context, verificationTaskID string) (domain.AnalysisStatus, error) {
	sm, err := s.Repo.LatestByStatus(ctx, verificationTaskID, domain.StatusRunning)
	if err != nil {
		return "", fmt.Errorf("load running state machine for %s: %w", verificationTaskID, err)
	}
	if sm == nil {
		s.log().Info("no running state machine", zap.String("verificationTaskId", verificationTaskID))
		return "", nil
	}
	return s.ExecuteStateMachine(ctx, sm)
}

// ExecuteStateMachine advances sm by one step and persists it.
func (s *Service) ExecuteStateMachine(ctx context.Context, sm *domain.AnalysisStateMachine) (domain.AnalysisStatus, error) {
	if sm == nil || sm.CurrentState == nil {
		return "", fmt.Errorf("%w: state machine has no current state", domain.ErrValidation)
	}
	now := s.Clock.Now()
	if sm.NextAttemptTime.After(now) {
		s.log().Debug("state machine not due yet",
			zap.String("verificationTaskId", sm.VerificationTaskID),
			zap.Time("nextAttemptTime", sm.NextAttemptTime))
		return sm.Status, nil
	}

	current := sm.CurrentState
	executor, err := s.Executors.For(current.Type)
	if err != nil {
		return sm.Status, err
	}
	status, err := executor.GetExecutionStatus(ctx, current)
	if err != nil {
		return sm.Status, fmt.Errorf("execution status of %s: %w", current.Type, err)
	}

	// retry pertama hanya ditandai, eksekusi ulang menunggu backoff
	if status == domain.StatusRetry && current.Status != domain.StatusRetry {
		current.Status = domain.StatusRetry
		sm.NextAttemptTime = s.nextAttemptTime(sm, current.RetryCount, now)
		s.record(ctx, executionlog.LevelWarn, sm,
			fmt.Sprintf("state %s marked for retry at %s", current.Type, sm.NextAttemptTime.Format(time.RFC3339)))
		return sm.Status, s.save(ctx, sm)
	}

	next, err := s.dispatch(ctx, executor, status, sm)
	if err != nil {
		return sm.Status, err
	}
	if err := s.settle(ctx, sm, next); err != nil {
		return sm.Status, err
	}
	return sm.Status, s.save(ctx, sm)
}

func (s *Service) dispatch(ctx context.Context, executor domain.StateExecutor, status domain.AnalysisStatus, sm *domain.AnalysisStateMachine) (*domain.AnalysisState, error) {
	current := sm.CurrentState
	switch status {
	case domain.StatusCreated:
		return executor.Execute(ctx, current)
	case domain.StatusRunning:
		return executor.HandleRunning(ctx, current)
	case domain.StatusTransition:
		return executor.HandleTransition(ctx, current)
	case domain.StatusRetry:
		return s.retry(ctx, executor, sm)
	case domain.StatusSuccess:
		return executor.HandleSuccess(ctx, current)
	case domain.StatusFailed:
		return executor.HandleFailure(ctx, current)
	case domain.StatusTimeout:
		return executor.HandleTimeout(ctx, current)
	default:
		return nil, fmt.Errorf("%w: %q for state %s", domain.ErrUnknownStatus, status, current.Type)
	}
}

// settle installs next as the current state, executes freshly created states and folds
// a final state status into the machine.
func (s *Service) settle(ctx context.Context, sm *domain.AnalysisStateMachine, next *domain.AnalysisState) error {
	for hops := 0; ; hops++ {
		if next == nil {
			return fmt.Errorf("%w: executor for %s returned no state", domain.ErrInvariantViolation, sm.CurrentState.Type)
		}
		advance(sm, next)
		if next.Status != domain.StatusCreated {
			break
		}
		if hops >= maxCreatedHops {
			return fmt.Errorf("%w: state %s did not leave CREATED", domain.ErrInvariantViolation, next.Type)
		}
		executor, err := s.Executors.For(next.Type)
		if err != nil {
			return err
		}
		if next, err = executor.Execute(ctx, next); err != nil {
			return fmt.Errorf("execute %s: %w", sm.CurrentState.Type, err)
		}
	}

	state := sm.CurrentState
	switch {
	case state.Status == domain.StatusSuccess:
		sm.Status = domain.StatusSuccess
		s.finish(ctx, sm)
	case state.Status == domain.StatusTimeout:
		// retry berikutnya menunggu backoff yang terus membesar
		sm.Status = domain.StatusTimeout
		sm.NextAttemptTime = s.nextAttemptTime(sm, state.RetryCount, s.Clock.Now())
		s.finish(ctx, sm)
	case state.Status.IsFinal():
		sm.Status = state.Status
		sm.NextAttemptTime = time.Time{}
		if s.Metrics != nil {
			s.Metrics.AddRetryCount(state.Type, sm.TotalRetryCount)
		}
		s.finish(ctx, sm)
	default:
		sm.Status = domain.StatusRunning
	}
	return nil
}

// retry counts only attempts that actually restart the state, not the final give-up.
func (s *Service) retry(ctx context.Context, executor domain.StateExecutor, sm *domain.AnalysisStateMachine) (*domain.AnalysisState, error) {
	next, err := executor.HandleRetry(ctx, sm.CurrentState)
	if err != nil {
		return nil, err
	}
	if next != nil && next.Status != domain.StatusIgnored {
		sm.TotalRetryCount++
	}
	return next, nil
}

// advance moves the previous current state into history when a handler produced a new one.
func advance(sm *domain.AnalysisStateMachine, next *domain.AnalysisState) {
	if next == sm.CurrentState {
		return
	}
	if sm.CurrentState != nil {
		sm.CompletedStates = append(sm.CompletedStates, sm.CurrentState)
	}
	sm.CurrentState = next
}

func (s *Service) finish(ctx context.Context, sm *domain.AnalysisStateMachine) {
	if s.Metrics != nil {
		s.Metrics.IncOutcome(sm.Status)
	}
	level := executionlog.LevelInfo
	if sm.Status != domain.StatusSuccess {
		level = executionlog.LevelWarn
	}
	s.record(ctx, level, sm, fmt.Sprintf("analysis state machine finished with status %s", sm.Status))

	executor, err := s.Executors.For(sm.CurrentState.Type)
	if err == nil {
		err = executor.HandleFinalStatuses(ctx, sm.CurrentState)
	}
	if err != nil {
		s.record(ctx, executionlog.LevelError, sm, fmt.Sprintf("final status hook for %s failed: %v", sm.CurrentState.Type, err))
	}
}

// RetryStateMachineAfterFailure restarts a FAILED or TIMEOUT machine once its backoff has elapsed.
func (s *Service) RetryStateMachineAfterFailure(ctx context.Context, sm *domain.AnalysisStateMachine) error {
	if sm == nil || sm.CurrentState == nil {
		return fmt.Errorf("%w: state machine has no current state", domain.ErrValidation)
	}
	if sm.NextAttemptTime.After(s.Clock.Now()) {
		return nil
	}
	if sm.Status != domain.StatusFailed && sm.Status != domain.StatusTimeout {
		return fmt.Errorf("%w: cannot retry state machine %s in status %s", domain.ErrInvariantViolation, sm.ID, sm.Status)
	}

	current := sm.CurrentState
	executor, err := s.Executors.For(current.Type)
	if err != nil {
		return err
	}
	previous := sm.Status
	sm.Status = domain.StatusRunning
	next, err := s.retry(ctx, executor, sm)
	if err != nil {
		return fmt.Errorf("retry %s: %w", current.Type, err)
	}
	s.record(ctx, executionlog.LevelWarn, sm, fmt.Sprintf("retrying state machine after %s", previous))
	if err := s.settle(ctx, sm, next); err != nil {
		return err
	}
	return s.save(ctx, sm)
}

// IgnoreOldStateMachine marks sm IGNORED when its window ended before now minus its ignore
// window. It returns sm when ignored and nil otherwise. RUNNING machines are never ignored.
func (s *Service) IgnoreOldStateMachine(ctx context.Context, sm *domain.AnalysisStateMachine) *domain.AnalysisStateMachine {
	if sm == nil || sm.Status == domain.StatusRunning {
		return nil
	}
	cutoff := s.Clock.Now().Add(-sm.StateMachineIgnoreWindow)
	if !sm.AnalysisEndTime.Before(cutoff) {
		return nil
	}
	sm.Status = domain.StatusIgnored
	if sm.CurrentState != nil {
		sm.CurrentState.Status = domain.StatusIgnored
	}
	if s.Metrics != nil {
		s.Metrics.IncOutcome(domain.StatusIgnored)
	}
	s.record(ctx, executionlog.LevelWarn, sm,
		fmt.Sprintf("analysis window ending %s is older than %s, state machine ignored",
			sm.AnalysisEndTime.Format(time.RFC3339), sm.StateMachineIgnoreWindow))
	return sm
}

// GetExecutingStateMachine returns the most recent machine for the task regardless of status.
func (s *Service) GetExecutingStateMachine(ctx context.Context, verificationTaskID string) (*domain.AnalysisStateMachine, error) {
	sm, err := s.Repo.Latest(ctx, verificationTaskID)
	if err != nil {
		return nil, fmt.Errorf("load executing state machine for %s: %w", verificationTaskID, err)
	}
	return sm, nil
}

// Save bulk persist
func (s *Service) Save(ctx context.Context, sms []*domain.AnalysisStateMachine) error {
	if len(sms) == 0 {
		return nil
	}
	if err := s.Repo.SaveAll(ctx, sms); err != nil {
		return fmt.Errorf("save %d state machines: %w", len(sms), err)
	}
	return nil
}

func (s *Service) save(ctx context.Context, sm *domain.AnalysisStateMachine) error {
	if err := s.Repo.Save(ctx, sm); err != nil {
		return fmt.Errorf("save state machine %s: %w", sm.ID, err)
	}
	return nil
}

// nextAttemptTime never moves an already scheduled attempt earlier.
func (s *Service) nextAttemptTime(sm *domain.AnalysisStateMachine, retryCount int, now time.Time) time.Time {
	next := now.Add(s.Backoff.Delay(retryCount))
	if next.Before(sm.NextAttemptTime) {
		return sm.NextAttemptTime
	}
	return next
}

func (s *Service) record(ctx context.Context, level executionlog.Level, sm *domain.AnalysisStateMachine, msg string) {
	if s.Logs == nil {
		return
	}
	tags := map[string]string{"stateMachineId": sm.ID, "status": string(sm.Status)}
	if sm.CurrentState != nil {
		tags["stateType"] = string(sm.CurrentState.Type)
	}
	s.Logs.Append(ctx, &executionlog.Line{
		VerificationTaskID: sm.VerificationTaskID,
		Level:              level,
		Message:            msg,
		Tags:               tags,
		CreatedAt:          s.Clock.Now(),
	})
}

func (s *Service) log() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}
