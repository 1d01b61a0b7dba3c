package memory

import (
	"context"
	"sync"

	"github.com/bryanwahyu/verification-orchestrator/internal/domain/verificationtask"
)

type VerificationTaskRepo struct {
	mu   sync.RWMutex
	rows map[string]*verificationtask.Task
}

func NewVerificationTaskRepo() *VerificationTaskRepo {
	return &VerificationTaskRepo{rows: map[string]*verificationtask.Task{}}
}

func (r *VerificationTaskRepo) Save(ctx context.Context, t *verificationtask.Task) error {
	c, err := clone(t)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.rows[t.ID] = c
	r.mu.Unlock()
	return nil
}

func (r *VerificationTaskRepo) Get(ctx context.Context, id string) (*verificationtask.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return clone(r.rows[id])
}
