package executionlog

import "time"

type Level string

const (
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Line satu baris execution log per verification task
type Line struct {
	ID                 int64             `json:"id"`
	VerificationTaskID string            `json:"verification_task_id"`
	Level              Level             `json:"level"`
	Message            string            `json:"message"`
	Tags               map[string]string `json:"tags,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
}
