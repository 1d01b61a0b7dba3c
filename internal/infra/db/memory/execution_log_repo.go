package memory

import (
	"context"
	"sync"

	"github.com/bryanwahyu/verification-orchestrator/internal/domain/executionlog"
)

// ExecutionLogRepo append-only, terbaru di depan saat dibaca
type ExecutionLogRepo struct {
	mu    sync.RWMutex
	seq   int64
	lines []*executionlog.Line
}

func NewExecutionLogRepo() *ExecutionLogRepo {
	return &ExecutionLogRepo{}
}

func (r *ExecutionLogRepo) Save(ctx context.Context, l *executionlog.Line) error {
	c, err := clone(l)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	c.ID = r.seq
	l.ID = r.seq
	r.lines = append(r.lines, c)
	return nil
}

func (r *ExecutionLogRepo) ListByTask(ctx context.Context, verificationTaskID string, limit int) ([]*executionlog.Line, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []*executionlog.Line{}
	for i := len(r.lines) - 1; i >= 0 && len(out) < limit; i-- {
		if r.lines[i].VerificationTaskID != verificationTaskID {
			continue
		}
		c, err := clone(r.lines[i])
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
