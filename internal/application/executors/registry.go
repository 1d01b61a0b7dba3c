package executors

import (
	"go.uber.org/zap"

	"github.com/bryanwahyu/verification-orchestrator/internal/application"
	domain "github.com/bryanwahyu/verification-orchestrator/internal/domain/statemachine"
	"github.com/bryanwahyu/verification-orchestrator/internal/domain/workertask"
)

// Deps dependensi bersama semua executor
type Deps struct {
	Tasks      workertask.Repository
	Archive    ResultArchive
	Clock      application.Clock
	MaxRetries int
	Logger     *zap.Logger
}

// serviceGuardLogNext: cluster L1 -> cluster L2 -> log analysis
func serviceGuardLogNext(state *domain.AnalysisState) *domain.AnalysisState {
	if state.ClusterLevel == domain.ClusterL1 {
		return &domain.AnalysisState{Type: domain.StateServiceGuardLogCluster, ClusterLevel: domain.ClusterL2}
	}
	return &domain.AnalysisState{Type: domain.StateServiceGuardLogAnalysis}
}

// deploymentLogNext: cluster L1 -> deployment log analysis
func deploymentLogNext(state *domain.AnalysisState) *domain.AnalysisState {
	return &domain.AnalysisState{Type: domain.StateDeploymentLogAnalysis}
}

// New builds one executor for every state kind.
func New(deps Deps) map[domain.StateType]domain.StateExecutor {
	successors := map[domain.StateType]Successor{
		domain.StateServiceGuardLogCluster: serviceGuardLogNext,
		domain.StateDeploymentLogCluster:   deploymentLogNext,
	}
	out := make(map[domain.StateType]domain.StateExecutor, len(domain.AllStateTypes()))
	for _, t := range domain.AllStateTypes() {
		logger := deps.Logger
		if logger != nil {
			logger = logger.With(zap.String("stateType", string(t)))
		}
		out[t] = &WorkerTaskExecutor{
			Type:       t,
			Tasks:      deps.Tasks,
			Archive:    deps.Archive,
			Clock:      deps.Clock,
			MaxRetries: deps.MaxRetries,
			Next:       successors[t],
			Logger:     logger,
		}
	}
	return out
}
