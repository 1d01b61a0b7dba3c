package workertask

import "time"

// Status status worker task (job analisis eksternal)
type Status string

const (
	StatusQueued  Status = "QUEUED"
	StatusRunning Status = "RUNNING"
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
	StatusTimeout Status = "TIMEOUT"
)

func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusRunning, StatusSuccess, StatusFailed, StatusTimeout:
		return true
	}
	return false
}

// Task is one unit of analysis work leased by an analysis worker.
type Task struct {
	ID                        string    `json:"id"`
	VerificationTaskID        string    `json:"verification_task_id"`
	VerificationJobInstanceID string    `json:"verification_job_instance_id,omitempty"`
	StateType                 string    `json:"state_type"`
	ClusterLevel              string    `json:"cluster_level,omitempty"`
	AnalysisStartTime         time.Time `json:"analysis_start_time"`
	AnalysisEndTime           time.Time `json:"analysis_end_time"`
	Status                    Status    `json:"status"`
	FailFast                  bool      `json:"fail_fast"`
	CreatedAt                 time.Time `json:"created_at"`
	UpdatedAt                 time.Time `json:"updated_at"`
}
