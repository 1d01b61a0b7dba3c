package executionlog

import "context"

// Repository defines persistence for execution log lines
type Repository interface {
	Save(ctx context.Context, l *Line) error
	ListByTask(ctx context.Context, verificationTaskID string, limit int) ([]*Line, error)
}

// Sink receives execution log lines. Implementations must not fail the caller.
type Sink interface {
	Append(ctx context.Context, l *Line)
}
