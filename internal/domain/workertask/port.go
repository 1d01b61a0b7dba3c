package workertask

import (
	"context"
	"time"
)

// Repository port
type Repository interface {
	Create(ctx context.Context, t *Task) error
	// Get returns nil, nil when the task does not exist.
	Get(ctx context.Context, id string) (*Task, error)
	// LeaseNext moves the oldest QUEUED task to RUNNING and returns it, nil when none is queued.
	LeaseNext(ctx context.Context, now time.Time) (*Task, error)
	UpdateStatus(ctx context.Context, id string, status Status, failFast bool, now time.Time) error
	// LatestFailFast reports the fail-fast flag of the most recently finished successful task.
	LatestFailFast(ctx context.Context, verificationTaskID string) (bool, error)
}
