package statemachine

import (
	"context"
	"fmt"

	domain "github.com/bryanwahyu/verification-orchestrator/internal/domain/statemachine"
	"github.com/bryanwahyu/verification-orchestrator/internal/domain/verificationtask"
)

// ExecutorRegistry maps every state kind to its executor.
type ExecutorRegistry struct {
	executors map[domain.StateType]domain.StateExecutor
}

// NewExecutorRegistry fails when any state kind has no executor.
func NewExecutorRegistry(executors map[domain.StateType]domain.StateExecutor) (*ExecutorRegistry, error) {
	for _, t := range domain.AllStateTypes() {
		if executors[t] == nil {
			return nil, fmt.Errorf("%w: no executor registered for state type %s", domain.ErrUnknownStatus, t)
		}
	}
	return &ExecutorRegistry{executors: executors}, nil
}

func (r *ExecutorRegistry) For(t domain.StateType) (domain.StateExecutor, error) {
	e, ok := r.executors[t]
	if !ok {
		return nil, fmt.Errorf("%w: no executor registered for state type %s", domain.ErrUnknownStatus, t)
	}
	return e, nil
}

// Factory builds the initial state machine for one task kind.
type Factory interface {
	CreateStateMachine(ctx context.Context, task *verificationtask.Task, input domain.AnalysisInput) (*domain.AnalysisStateMachine, error)
}

// FactoryRegistry dipilih berdasarkan jenis verification task
type FactoryRegistry struct {
	factories map[verificationtask.Type]Factory
}

func NewFactoryRegistry(factories map[verificationtask.Type]Factory) (*FactoryRegistry, error) {
	for _, t := range verificationtask.AllTypes() {
		if factories[t] == nil {
			return nil, fmt.Errorf("%w: no state machine factory registered for task type %s", domain.ErrUnknownStatus, t)
		}
	}
	return &FactoryRegistry{factories: factories}, nil
}

func (r *FactoryRegistry) CreateStateMachine(ctx context.Context, task *verificationtask.Task, input domain.AnalysisInput) (*domain.AnalysisStateMachine, error) {
	f, ok := r.factories[task.Type]
	if !ok {
		return nil, fmt.Errorf("%w: no state machine factory registered for task type %s", domain.ErrUnknownStatus, task.Type)
	}
	return f.CreateStateMachine(ctx, task, input)
}
