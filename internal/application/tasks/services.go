package tasks

import (
	"context"
	"fmt"
	"strings"

	"github.com/bryanwahyu/verification-orchestrator/internal/application"
	"github.com/bryanwahyu/verification-orchestrator/internal/domain/executionlog"
	domain "github.com/bryanwahyu/verification-orchestrator/internal/domain/statemachine"
	"github.com/bryanwahyu/verification-orchestrator/internal/domain/verificationtask"
	"github.com/bryanwahyu/verification-orchestrator/internal/domain/workertask"
)

// Service implements use-cases around verification tasks and the worker tasks analysis workers pick up.
// Safe for concurrent use as long as the repositories are.
type Service struct {
	Tasks       verificationtask.Repository
	WorkerTasks workertask.Repository
	Logs        executionlog.Repository
	Clock       application.Clock
}

//
// ==== USE CASES ====
//

// RegisterTaskCommand untuk daftar / update verification task
type RegisterTaskCommand struct {
	AccountID string
	ID        string
	Type      verificationtask.Type
	DataType  verificationtask.DataType
	JobType   verificationtask.JobType
	Demo      bool
}

func (c RegisterTaskCommand) validate() error {
	var problems []string
	if strings.TrimSpace(c.AccountID) == "" {
		problems = append(problems, "account is required")
	}
	if strings.TrimSpace(c.ID) == "" {
		problems = append(problems, "id is required")
	}
	if !c.Type.Valid() {
		problems = append(problems, fmt.Sprintf("unknown task type %q", c.Type))
	}
	if !c.DataType.Valid() {
		problems = append(problems, fmt.Sprintf("unknown data type %q", c.DataType))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", domain.ErrValidation, strings.Join(problems, "; "))
	}
	return nil
}

// RegisterTask creates or replaces a task. A task id stays bound to the account that registered it.
func (s *Service) RegisterTask(ctx context.Context, cmd RegisterTaskCommand) (*verificationtask.Task, error) {
	if err := cmd.validate(); err != nil {
		return nil, err
	}
	existing, err := s.Tasks.Get(ctx, cmd.ID)
	if err != nil {
		return nil, fmt.Errorf("load verification task %s: %w", cmd.ID, err)
	}
	created := s.Clock.Now()
	if existing != nil {
		if existing.AccountID != cmd.AccountID {
			return nil, fmt.Errorf("%w: task %s belongs to another account", domain.ErrInvariantViolation, cmd.ID)
		}
		created = existing.CreatedAt
	}
	t := &verificationtask.Task{
		ID:        cmd.ID,
		AccountID: cmd.AccountID,
		Type:      cmd.Type,
		DataType:  cmd.DataType,
		JobType:   cmd.JobType,
		Demo:      cmd.Demo,
		CreatedAt: created,
	}
	if err := s.Tasks.Save(ctx, t); err != nil {
		return nil, fmt.Errorf("save verification task %s: %w", cmd.ID, err)
	}
	return t, nil
}

// GetTask returns the task when it belongs to the account, ErrNotFound otherwise.
func (s *Service) GetTask(ctx context.Context, accountID, id string) (*verificationtask.Task, error) {
	t, err := s.Tasks.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load verification task %s: %w", id, err)
	}
	if t == nil || t.AccountID != accountID {
		return nil, fmt.Errorf("verification task %s: %w", id, domain.ErrNotFound)
	}
	return t, nil
}

// LeaseWorkerTask hands the oldest queued worker task to an analysis worker, nil when idle.
func (s *Service) LeaseWorkerTask(ctx context.Context) (*workertask.Task, error) {
	t, err := s.WorkerTasks.LeaseNext(ctx, s.Clock.Now())
	if err != nil {
		return nil, fmt.Errorf("lease worker task: %w", err)
	}
	return t, nil
}

// ReportWorkerTaskCommand status yang dilaporkan worker
type ReportWorkerTaskCommand struct {
	ID       string
	Status   workertask.Status
	FailFast bool
}

// ReportWorkerTask records the outcome reported by a worker. QUEUED cannot be reported back.
func (s *Service) ReportWorkerTask(ctx context.Context, cmd ReportWorkerTaskCommand) error {
	if !cmd.Status.Valid() || cmd.Status == workertask.StatusQueued {
		return fmt.Errorf("%w: invalid worker task status %q", domain.ErrValidation, cmd.Status)
	}
	if err := s.WorkerTasks.UpdateStatus(ctx, cmd.ID, cmd.Status, cmd.FailFast, s.Clock.Now()); err != nil {
		return fmt.Errorf("update worker task %s: %w", cmd.ID, err)
	}
	return nil
}

// ExecutionLogs returns the newest log lines of a task first.
func (s *Service) ExecutionLogs(ctx context.Context, accountID, taskID string, limit int) ([]*executionlog.Line, error) {
	if _, err := s.GetTask(ctx, accountID, taskID); err != nil {
		return nil, err
	}
	lines, err := s.Logs.ListByTask(ctx, taskID, limit)
	if err != nil {
		return nil, fmt.Errorf("list execution logs of %s: %w", taskID, err)
	}
	if lines == nil {
		lines = []*executionlog.Line{}
	}
	return lines, nil
}
