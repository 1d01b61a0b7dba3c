package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	domain "github.com/bryanwahyu/verification-orchestrator/internal/domain/statemachine"
	"github.com/bryanwahyu/verification-orchestrator/internal/domain/workertask"
)

type WorkerTaskRepo struct {
	mu   sync.RWMutex
	rows map[string]*workertask.Task
}

func NewWorkerTaskRepo() *WorkerTaskRepo {
	return &WorkerTaskRepo{rows: map[string]*workertask.Task{}}
}

func (r *WorkerTaskRepo) Create(ctx context.Context, t *workertask.Task) error {
	c, err := clone(t)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[t.ID]; ok {
		return fmt.Errorf("worker task %s already exists", t.ID)
	}
	r.rows[t.ID] = c
	return nil
}

func (r *WorkerTaskRepo) Get(ctx context.Context, id string) (*workertask.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return clone(r.rows[id])
}

func (r *WorkerTaskRepo) LeaseNext(ctx context.Context, now time.Time) (*workertask.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var queued []*workertask.Task
	for _, t := range r.rows {
		if t.Status == workertask.StatusQueued {
			queued = append(queued, t)
		}
	}
	if len(queued) == 0 {
		return nil, nil
	}
	sort.Slice(queued, func(i, j int) bool {
		if queued[i].CreatedAt.Equal(queued[j].CreatedAt) {
			return queued[i].ID < queued[j].ID
		}
		return queued[i].CreatedAt.Before(queued[j].CreatedAt)
	})
	t := queued[0]
	t.Status = workertask.StatusRunning
	t.UpdatedAt = now
	return clone(t)
}

func (r *WorkerTaskRepo) UpdateStatus(ctx context.Context, id string, status workertask.Status, failFast bool, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.rows[id]
	if !ok {
		return fmt.Errorf("worker task %s: %w", id, domain.ErrNotFound)
	}
	t.Status = status
	t.FailFast = failFast
	t.UpdatedAt = now
	return nil
}

func (r *WorkerTaskRepo) LatestFailFast(ctx context.Context, verificationTaskID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *workertask.Task
	for _, t := range r.rows {
		if t.VerificationTaskID != verificationTaskID || t.Status != workertask.StatusSuccess {
			continue
		}
		if latest == nil || t.UpdatedAt.After(latest.UpdatedAt) {
			latest = t
		}
	}
	return latest != nil && latest.FailFast, nil
}
