package verificationtask

import "context"

// Repository port. Get returns nil, nil when the task is unknown.
type Repository interface {
	Save(ctx context.Context, t *Task) error
	Get(ctx context.Context, id string) (*Task, error)
}
