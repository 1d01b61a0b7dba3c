package statemachine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bryanwahyu/verification-orchestrator/internal/application"
	domain "github.com/bryanwahyu/verification-orchestrator/internal/domain/statemachine"
	"github.com/bryanwahyu/verification-orchestrator/internal/domain/verificationtask"
)

// IgnoreWindows batas umur window analisis per jenis task
type IgnoreWindows struct {
	LiveMonitoring time.Duration
	Deployment     time.Duration
	Demo           time.Duration
	SLI            time.Duration
}

func newStateMachine(task *verificationtask.Task, input domain.AnalysisInput, first *domain.AnalysisState, window time.Duration, now time.Time) *domain.AnalysisStateMachine {
	first.Status = domain.StatusCreated
	first.Inputs = input
	return &domain.AnalysisStateMachine{
		ID:                       uuid.NewString(),
		VerificationTaskID:       input.VerificationTaskID,
		AccountID:                task.AccountID,
		AnalysisStartTime:        input.StartTime,
		AnalysisEndTime:          input.EndTime,
		CurrentState:             first,
		Status:                   domain.StatusCreated,
		StateMachineIgnoreWindow: window,
		CreatedAt:                now,
	}
}

func pickWindow(task *verificationtask.Task, regular, demo time.Duration) time.Duration {
	if task.Demo {
		return demo
	}
	return regular
}

// LiveMonitoringFactory service guard: time series atau log cluster L1
type LiveMonitoringFactory struct {
	Windows IgnoreWindows
	Clock   application.Clock
}

func (f LiveMonitoringFactory) CreateStateMachine(ctx context.Context, task *verificationtask.Task, input domain.AnalysisInput) (*domain.AnalysisStateMachine, error) {
	var first *domain.AnalysisState
	switch task.DataType {
	case verificationtask.DataTimeSeries:
		first = &domain.AnalysisState{Type: domain.StateServiceGuardTimeSeries}
	case verificationtask.DataLog:
		first = &domain.AnalysisState{Type: domain.StateServiceGuardLogCluster, ClusterLevel: domain.ClusterL1}
	default:
		return nil, fmt.Errorf("%w: live monitoring task %s has data type %q", domain.ErrUnknownStatus, task.ID, task.DataType)
	}
	window := pickWindow(task, f.Windows.LiveMonitoring, f.Windows.Demo)
	return newStateMachine(task, input, first, window, f.Clock.Now()), nil
}

// DeploymentFactory picks the test or canary analysis from the job type.
type DeploymentFactory struct {
	Windows IgnoreWindows
	Clock   application.Clock
}

func (f DeploymentFactory) CreateStateMachine(ctx context.Context, task *verificationtask.Task, input domain.AnalysisInput) (*domain.AnalysisStateMachine, error) {
	var first *domain.AnalysisState
	switch task.DataType {
	case verificationtask.DataTimeSeries:
		if task.JobType == verificationtask.JobTest {
			first = &domain.AnalysisState{Type: domain.StateTestTimeSeries}
		} else {
			first = &domain.AnalysisState{Type: domain.StateCanaryTimeSeries}
		}
	case verificationtask.DataLog:
		first = &domain.AnalysisState{Type: domain.StateDeploymentLogCluster, ClusterLevel: domain.ClusterL1}
	default:
		return nil, fmt.Errorf("%w: deployment task %s has data type %q", domain.ErrUnknownStatus, task.ID, task.DataType)
	}
	window := pickWindow(task, f.Windows.Deployment, f.Windows.Demo)
	return newStateMachine(task, input, first, window, f.Clock.Now()), nil
}

type SLIFactory struct {
	Windows IgnoreWindows
	Clock   application.Clock
}

func (f SLIFactory) CreateStateMachine(ctx context.Context, task *verificationtask.Task, input domain.AnalysisInput) (*domain.AnalysisStateMachine, error) {
	first := &domain.AnalysisState{Type: domain.StateSLIMetricAnalysis}
	return newStateMachine(task, input, first, f.Windows.SLI, f.Clock.Now()), nil
}

type CompositeSLOFactory struct {
	Windows IgnoreWindows
	Clock   application.Clock
}

func (f CompositeSLOFactory) CreateStateMachine(ctx context.Context, task *verificationtask.Task, input domain.AnalysisInput) (*domain.AnalysisStateMachine, error) {
	first := &domain.AnalysisState{Type: domain.StateCompositeSLOMetricAnalysis}
	return newStateMachine(task, input, first, f.Windows.SLI, f.Clock.Now()), nil
}

// DefaultFactories one factory per task kind.
func DefaultFactories(windows IgnoreWindows, clock application.Clock) map[verificationtask.Type]Factory {
	return map[verificationtask.Type]Factory{
		verificationtask.TypeLiveMonitoring: LiveMonitoringFactory{Windows: windows, Clock: clock},
		verificationtask.TypeDeployment:     DeploymentFactory{Windows: windows, Clock: clock},
		verificationtask.TypeSLI:            SLIFactory{Windows: windows, Clock: clock},
		verificationtask.TypeCompositeSLO:   CompositeSLOFactory{Windows: windows, Clock: clock},
	}
}
