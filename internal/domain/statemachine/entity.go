package statemachine

import (
	"fmt"
	"time"
)

// AnalysisStatus status dari state maupun state machine
type AnalysisStatus string

const (
	StatusCreated    AnalysisStatus = "CREATED"
	StatusRunning    AnalysisStatus = "RUNNING"
	StatusTransition AnalysisStatus = "TRANSITION"
	StatusRetry      AnalysisStatus = "RETRY"
	StatusSuccess    AnalysisStatus = "SUCCESS"
	StatusFailed     AnalysisStatus = "FAILED"
	StatusTimeout    AnalysisStatus = "TIMEOUT"
	StatusTerminated AnalysisStatus = "TERMINATED"
	StatusIgnored    AnalysisStatus = "IGNORED"
	StatusCompleted  AnalysisStatus = "COMPLETED"
)

var finalStatuses = map[AnalysisStatus]struct{}{
	StatusSuccess:    {},
	StatusFailed:     {},
	StatusTimeout:    {},
	StatusTerminated: {},
	StatusIgnored:    {},
	StatusCompleted:  {},
}

// IsFinal reports whether no further state execution happens in this status.
func (s AnalysisStatus) IsFinal() bool {
	_, ok := finalStatuses[s]
	return ok
}

// FinalStatuses returns the final status policy table.
func FinalStatuses() []AnalysisStatus {
	return []AnalysisStatus{StatusSuccess, StatusFailed, StatusTimeout, StatusTerminated, StatusIgnored, StatusCompleted}
}

// StateType identifies the kind of analysis a state performs.
type StateType string

const (
	StateServiceGuardTimeSeries     StateType = "SERVICE_GUARD_TIME_SERIES"
	StateServiceGuardLogCluster     StateType = "SERVICE_GUARD_LOG_CLUSTER"
	StateServiceGuardLogAnalysis    StateType = "SERVICE_GUARD_LOG_ANALYSIS"
	StateTestTimeSeries             StateType = "TEST_TIME_SERIES"
	StateCanaryTimeSeries           StateType = "CANARY_TIME_SERIES"
	StateDeploymentLogCluster       StateType = "DEPLOYMENT_LOG_CLUSTER"
	StateDeploymentLogAnalysis      StateType = "DEPLOYMENT_LOG_ANALYSIS"
	StateSLIMetricAnalysis          StateType = "SLI_METRIC_ANALYSIS"
	StateCompositeSLOMetricAnalysis StateType = "COMPOSITE_SLO_METRIC_ANALYSIS"
)

func AllStateTypes() []StateType {
	return []StateType{
		StateServiceGuardTimeSeries,
		StateServiceGuardLogCluster,
		StateServiceGuardLogAnalysis,
		StateTestTimeSeries,
		StateCanaryTimeSeries,
		StateDeploymentLogCluster,
		StateDeploymentLogAnalysis,
		StateSLIMetricAnalysis,
		StateCompositeSLOMetricAnalysis,
	}
}

// ClusterLevel tahap clustering log
type ClusterLevel string

const (
	ClusterL1 ClusterLevel = "L1"
	ClusterL2 ClusterLevel = "L2"
)

// AnalysisInput value object: satu window analisis untuk satu verification task
type AnalysisInput struct {
	VerificationTaskID        string    `json:"verification_task_id"`
	StartTime                 time.Time `json:"start_time"`
	EndTime                   time.Time `json:"end_time"`
	VerificationJobInstanceID string    `json:"verification_job_instance_id,omitempty"`
	IsSLORestoreTask          bool      `json:"is_slo_restore_task,omitempty"`
}

// Validate checks the fields every window needs before it can be queued.
func (in AnalysisInput) Validate() error {
	switch {
	case in.VerificationTaskID == "":
		return fmt.Errorf("%w: verification_task_id is required", ErrValidation)
	case in.StartTime.IsZero():
		return fmt.Errorf("%w: start_time is required", ErrValidation)
	case in.EndTime.IsZero():
		return fmt.Errorf("%w: end_time is required", ErrValidation)
	case in.EndTime.Before(in.StartTime):
		return fmt.Errorf("%w: end_time %s is before start_time %s", ErrValidation,
			in.EndTime.Format(time.RFC3339), in.StartTime.Format(time.RFC3339))
	}
	return nil
}

// AnalysisState satu langkah di dalam state machine
type AnalysisState struct {
	Type         StateType      `json:"type"`
	Status       AnalysisStatus `json:"status"`
	Inputs       AnalysisInput  `json:"inputs"`
	RetryCount   int            `json:"retry_count"`
	ClusterLevel ClusterLevel   `json:"cluster_level,omitempty"`
	WorkerTaskID string         `json:"worker_task_id,omitempty"`
}

// AnalysisStateMachine sequences the states of one analysis window.
type AnalysisStateMachine struct {
	ID                       string           `json:"id"`
	VerificationTaskID       string           `json:"verification_task_id"`
	AccountID                string           `json:"account_id"`
	AnalysisStartTime        time.Time        `json:"analysis_start_time"`
	AnalysisEndTime          time.Time        `json:"analysis_end_time"`
	CurrentState             *AnalysisState   `json:"current_state"`
	CompletedStates          []*AnalysisState `json:"completed_states,omitempty"`
	Status                   AnalysisStatus   `json:"status"`
	TotalRetryCount          int              `json:"total_retry_count"`
	NextAttemptTime          time.Time        `json:"next_attempt_time,omitempty"`
	StateMachineIgnoreWindow time.Duration    `json:"state_machine_ignore_window"`
	CreatedAt                time.Time        `json:"created_at"`
}

// OrchestratorStatus status orchestrator per verification task
type OrchestratorStatus string

const (
	OrchestratorRunning    OrchestratorStatus = "RUNNING"
	OrchestratorWaiting    OrchestratorStatus = "WAITING"
	OrchestratorCompleted  OrchestratorStatus = "COMPLETED"
	OrchestratorTerminated OrchestratorStatus = "TERMINATED"
)

// IsFinal reports whether the orchestrator is absorbed (COMPLETED or TERMINATED).
func (s OrchestratorStatus) IsFinal() bool {
	return s == OrchestratorCompleted || s == OrchestratorTerminated
}

// AnalysisOrchestrator: satu per verification task, memegang antrian state machine
type AnalysisOrchestrator struct {
	ID                        string                  `json:"id"`
	VerificationTaskID        string                  `json:"verification_task_id"`
	AccountID                 string                  `json:"account_id"`
	Status                    OrchestratorStatus      `json:"status"`
	AnalysisStateMachineQueue []*AnalysisStateMachine `json:"analysis_state_machine_queue"`
	CreatedAt                 time.Time               `json:"created_at"`
	ValidUntil                time.Time               `json:"valid_until"`
}
