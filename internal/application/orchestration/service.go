package orchestration

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bryanwahyu/verification-orchestrator/internal/application"
	appsm "github.com/bryanwahyu/verification-orchestrator/internal/application/statemachine"
	"github.com/bryanwahyu/verification-orchestrator/internal/domain/executionlog"
	domain "github.com/bryanwahyu/verification-orchestrator/internal/domain/statemachine"
	"github.com/bryanwahyu/verification-orchestrator/internal/domain/verificationtask"
)

// Config batas-batas orchestrator
type Config struct {
	LockWait         time.Duration
	LockHold         time.Duration
	IgnoreLimit      int
	BacklogThreshold int
	Retention        time.Duration
}

// Service owns the per-task queue of analysis state machines.
type Service struct {
	Orchestrators domain.OrchestratorRepository
	StateMachines *appsm.Service
	Factories     *appsm.FactoryRegistry
	Tasks         verificationtask.Repository
	FailFast      domain.FailFastChecker
	Events        domain.EventPublisher
	Locker        domain.Locker
	Logs          executionlog.Sink
	Metrics       domain.Metrics
	Clock         application.Clock
	Config        Config
	Logger        *zap.Logger
}

func lockKey(verificationTaskID string) string {
	return "orchestrator:" + verificationTaskID
}

// QueueAnalysis enqueues a window and announces it on the event bus.
func (s *Service) QueueAnalysis(ctx context.Context, input domain.AnalysisInput) error {
	if err := input.Validate(); err != nil {
		return err
	}
	task, err := s.task(ctx, input.VerificationTaskID)
	if err != nil {
		return err
	}
	if err := s.QueueAnalysisWithoutEventPublish(ctx, task.AccountID, input); err != nil {
		return err
	}
	if s.Events != nil {
		if err := s.Events.PublishAnalysisQueued(ctx, task.AccountID, input.VerificationTaskID); err != nil {
			s.log().Warn("publish analysis queued event failed",
				zap.String("verificationTaskId", input.VerificationTaskID), zap.Error(err))
		}
	}
	return nil
}

// QueueAnalysisWithoutEventPublish creates the state machine for input and appends it to the
// task's queue, creating the orchestrator on first use.
func (s *Service) QueueAnalysisWithoutEventPublish(ctx context.Context, accountID string, input domain.AnalysisInput) error {
	if err := input.Validate(); err != nil {
		return err
	}
	if s.FailFast != nil {
		stop, err := s.FailFast.ShouldFailFast(ctx, input.VerificationTaskID)
		if err != nil {
			return fmt.Errorf("fail fast check for %s: %w", input.VerificationTaskID, err)
		}
		if stop {
			s.record(ctx, executionlog.LevelInfo, input.VerificationTaskID, "fail fast is set, analysis window not queued")
			return nil
		}
	}
	task, err := s.task(ctx, input.VerificationTaskID)
	if err != nil {
		return err
	}
	sm, err := s.Factories.CreateStateMachine(ctx, task, input)
	if err != nil {
		return fmt.Errorf("create state machine for %s: %w", input.VerificationTaskID, err)
	}
	sm.AccountID = accountID

	now := s.Clock.Now()
	seed := &domain.AnalysisOrchestrator{
		ID:                 uuid.NewString(),
		VerificationTaskID: input.VerificationTaskID,
		AccountID:          accountID,
		Status:             domain.OrchestratorRunning,
		CreatedAt:          now,
		ValidUntil:         now.Add(s.Config.Retention),
	}
	if err := s.Orchestrators.Enqueue(ctx, seed, sm); err != nil {
		return fmt.Errorf("enqueue state machine for %s: %w", input.VerificationTaskID, err)
	}
	s.record(ctx, executionlog.LevelInfo, input.VerificationTaskID,
		fmt.Sprintf("analysis window %s - %s queued", input.StartTime.Format(time.RFC3339), input.EndTime.Format(time.RFC3339)))
	return nil
}

// Orchestrate advances the task by one step under the per-task lock.
func (s *Service) Orchestrate(ctx context.Context, orchestrator *domain.AnalysisOrchestrator) error {
	if orchestrator == nil {
		return fmt.Errorf("%w: orchestrator is required", domain.ErrValidation)
	}
	taskID := orchestrator.VerificationTaskID
	return domain.WithLock(ctx, s.Locker, lockKey(taskID), s.Config.LockWait, s.Config.LockHold, func(ctx context.Context) error {
		return s.orchestrate(ctx, taskID)
	})
}

func (s *Service) orchestrate(ctx context.Context, taskID string) error {
	// baca ulang di dalam lock, snapshot caller bisa sudah basi
	o, err := s.Orchestrators.Get(ctx, taskID)
	if err != nil {
		return fmt.Errorf("load orchestrator %s: %w", taskID, err)
	}
	if o == nil || o.Status.IsFinal() {
		return nil
	}
	if len(o.AnalysisStateMachineQueue) > s.Config.BacklogThreshold {
		s.log().Warn("analysis backlog above threshold",
			zap.String("verificationTaskId", taskID),
			zap.Int("queued", len(o.AnalysisStateMachineQueue)),
			zap.Int("threshold", s.Config.BacklogThreshold))
		if s.Metrics != nil {
			s.Metrics.IncBacklogWarning()
		}
	}

	current, err := s.StateMachines.GetExecutingStateMachine(ctx, taskID)
	if err != nil {
		return err
	}
	if current == nil && len(o.AnalysisStateMachineQueue) > 0 {
		current = o.AnalysisStateMachineQueue[0]
	}
	if current == nil {
		return nil
	}

	switch current.Status {
	case domain.StatusCreated, domain.StatusSuccess, domain.StatusIgnored:
		return s.OrchestrateNewAnalysisStateMachine(ctx, taskID, current.TotalRetryCount)
	case domain.StatusRunning:
		status, err := s.StateMachines.ExecuteStateMachine(ctx, current)
		if err != nil {
			return err
		}
		if status != domain.StatusSuccess && status != domain.StatusCompleted {
			return nil
		}
		s.registerTaskComplete(ctx, o)
		stop, err := s.shouldFailFast(ctx, taskID)
		if err != nil {
			return err
		}
		if stop {
			s.record(ctx, executionlog.LevelWarn, taskID, "fail fast requested, terminating queued analysis")
			return s.MarkStateMachineTerminated(ctx, taskID)
		}
		return s.OrchestrateNewAnalysisStateMachine(ctx, taskID, current.TotalRetryCount)
	case domain.StatusFailed:
		return s.MarkCompleted(ctx, taskID)
	case domain.StatusTimeout:
		return s.StateMachines.RetryStateMachineAfterFailure(ctx, current)
	case domain.StatusTerminated:
		return s.MarkStateMachineTerminated(ctx, taskID)
	case domain.StatusCompleted:
		return s.MarkCompleted(ctx, taskID)
	default:
		s.log().Info("state machine status needs no orchestration",
			zap.String("verificationTaskId", taskID), zap.String("status", string(current.Status)))
		return nil
	}
}

// OrchestrateNewAnalysisStateMachine pops the next live machine, skipping at most IgnoreLimit
// stale ones, and initiates it. With nothing left the orchestrator becomes WAITING, but only if
// the queue is still empty when written.
func (s *Service) OrchestrateNewAnalysisStateMachine(ctx context.Context, taskID string, totalRetryCount int) error {
	var (
		ignored []*domain.AnalysisStateMachine
		next    *domain.AnalysisStateMachine
	)
	for {
		candidate, err := s.Orchestrators.PopFirst(ctx, taskID)
		if err != nil {
			return fmt.Errorf("pop state machine for %s: %w", taskID, err)
		}
		if candidate == nil {
			break
		}
		if s.StateMachines.IgnoreOldStateMachine(ctx, candidate) == nil {
			next = candidate
			break
		}
		ignored = append(ignored, candidate)
		if len(ignored) >= s.Config.IgnoreLimit {
			break
		}
	}
	if err := s.StateMachines.Save(ctx, ignored); err != nil {
		return err
	}

	if next != nil {
		next.TotalRetryCount = totalRetryCount
		if err := s.StateMachines.InitiateStateMachine(ctx, taskID, next); err != nil {
			return err
		}
		return s.Orchestrators.UpdateStatus(ctx, taskID, domain.OrchestratorRunning)
	}

	waiting, err := s.Orchestrators.MarkWaitingIfEmpty(ctx, taskID)
	if err != nil {
		return fmt.Errorf("mark orchestrator %s waiting: %w", taskID, err)
	}
	if waiting {
		s.log().Debug("orchestrator waiting for analysis", zap.String("verificationTaskId", taskID))
	}
	return nil
}

// MarkCompleted sets a single orchestrator COMPLETED.
func (s *Service) MarkCompleted(ctx context.Context, taskID string) error {
	return s.MarkCompletedBulk(ctx, []string{taskID})
}

func (s *Service) MarkCompletedBulk(ctx context.Context, taskIDs []string) error {
	if len(taskIDs) == 0 {
		return nil
	}
	if err := s.Orchestrators.UpdateStatusBulk(ctx, taskIDs, domain.OrchestratorCompleted); err != nil {
		return fmt.Errorf("mark %d orchestrators completed: %w", len(taskIDs), err)
	}
	for _, id := range taskIDs {
		s.record(ctx, executionlog.LevelInfo, id, "orchestrator completed")
	}
	return nil
}

// MarkTerminated sets the orchestrator status only, queued machines are left untouched.
func (s *Service) MarkTerminated(ctx context.Context, taskID string) error {
	if err := s.Orchestrators.UpdateStatus(ctx, taskID, domain.OrchestratorTerminated); err != nil {
		return fmt.Errorf("mark orchestrator %s terminated: %w", taskID, err)
	}
	return nil
}

// MarkStateMachineTerminated cascades TERMINATED to the in-flight machine, every queued machine
// and the orchestrator itself.
func (s *Service) MarkStateMachineTerminated(ctx context.Context, taskID string) error {
	removed, err := s.Orchestrators.TerminateQueue(ctx, taskID)
	if err != nil {
		return fmt.Errorf("terminate queue of %s: %w", taskID, err)
	}
	current, err := s.StateMachines.GetExecutingStateMachine(ctx, taskID)
	if err != nil {
		return err
	}
	var terminated []*domain.AnalysisStateMachine
	if current != nil && !current.Status.IsFinal() {
		terminated = append(terminated, current)
	}
	terminated = append(terminated, removed...)
	for _, sm := range terminated {
		sm.Status = domain.StatusTerminated
		if sm.CurrentState != nil && !sm.CurrentState.Status.IsFinal() {
			sm.CurrentState.Status = domain.StatusTerminated
		}
	}
	if err := s.StateMachines.Save(ctx, terminated); err != nil {
		return err
	}
	s.record(ctx, executionlog.LevelWarn, taskID, fmt.Sprintf("orchestrator terminated, %d state machines terminated", len(terminated)))
	return nil
}

// Terminate is the externally triggered cascade, taken under the per-task lock.
func (s *Service) Terminate(ctx context.Context, taskID string) error {
	o, err := s.GetAnalysisOrchestrator(ctx, taskID)
	if err != nil {
		return err
	}
	if o.Status.IsFinal() {
		return fmt.Errorf("%w: orchestrator %s is already %s", domain.ErrInvariantViolation, taskID, o.Status)
	}
	return domain.WithLock(ctx, s.Locker, lockKey(taskID), s.Config.LockWait, s.Config.LockHold, func(ctx context.Context) error {
		return s.MarkStateMachineTerminated(ctx, taskID)
	})
}

func (s *Service) GetAnalysisOrchestrator(ctx context.Context, taskID string) (*domain.AnalysisOrchestrator, error) {
	o, err := s.Orchestrators.Get(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("load orchestrator %s: %w", taskID, err)
	}
	if o == nil {
		return nil, fmt.Errorf("orchestrator for task %s: %w", taskID, domain.ErrNotFound)
	}
	return o, nil
}

func (s *Service) registerTaskComplete(ctx context.Context, o *domain.AnalysisOrchestrator) {
	if s.Events == nil {
		return
	}
	if err := s.Events.PublishTaskComplete(ctx, o.AccountID, o.VerificationTaskID); err != nil {
		s.log().Warn("publish task complete event failed",
			zap.String("verificationTaskId", o.VerificationTaskID), zap.Error(err))
	}
}

func (s *Service) shouldFailFast(ctx context.Context, taskID string) (bool, error) {
	if s.FailFast == nil {
		return false, nil
	}
	stop, err := s.FailFast.ShouldFailFast(ctx, taskID)
	if err != nil {
		return false, fmt.Errorf("fail fast check for %s: %w", taskID, err)
	}
	return stop, nil
}

func (s *Service) task(ctx context.Context, id string) (*verificationtask.Task, error) {
	task, err := s.Tasks.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load verification task %s: %w", id, err)
	}
	if task == nil {
		return nil, fmt.Errorf("verification task %s: %w", id, domain.ErrNotFound)
	}
	return task, nil
}

func (s *Service) record(ctx context.Context, level executionlog.Level, taskID, msg string) {
	if s.Logs == nil {
		return
	}
	s.Logs.Append(ctx, &executionlog.Line{
		VerificationTaskID: taskID,
		Level:              level,
		Message:            msg,
		CreatedAt:          s.Clock.Now(),
	})
}

func (s *Service) log() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}
