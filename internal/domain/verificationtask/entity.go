package verificationtask

import "time"

// Type jenis verification task
type Type string

const (
	TypeLiveMonitoring Type = "LIVE_MONITORING"
	TypeDeployment     Type = "DEPLOYMENT"
	TypeSLI            Type = "SLI"
	TypeCompositeSLO   Type = "COMPOSITE_SLO"
)

func AllTypes() []Type {
	return []Type{TypeLiveMonitoring, TypeDeployment, TypeSLI, TypeCompositeSLO}
}

// DataType jenis data yang dianalisis
type DataType string

const (
	DataTimeSeries DataType = "TIME_SERIES"
	DataLog        DataType = "LOG"
)

// JobType verification job type for deployment tasks
type JobType string

const (
	JobTest      JobType = "TEST"
	JobCanary    JobType = "CANARY"
	JobRolling   JobType = "ROLLING"
	JobBlueGreen JobType = "BLUE_GREEN"
	JobAuto      JobType = "AUTO"
)

// Task carries the kind and kind-specific configuration the factories resolve.
type Task struct {
	ID        string    `json:"id"`
	AccountID string    `json:"account_id"`
	Type      Type      `json:"type"`
	DataType  DataType  `json:"data_type"`
	JobType   JobType   `json:"job_type,omitempty"`
	Demo      bool      `json:"demo,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (t Type) Valid() bool {
	for _, k := range AllTypes() {
		if k == t {
			return true
		}
	}
	return false
}

func (d DataType) Valid() bool {
	return d == DataTimeSeries || d == DataLog
}
