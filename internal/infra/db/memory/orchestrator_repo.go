package memory

import (
	"context"
	"sort"
	"sync"

	domain "github.com/bryanwahyu/verification-orchestrator/internal/domain/statemachine"
)

// OrchestratorRepo in-memory, setiap operasi atomik di bawah satu mutex
type OrchestratorRepo struct {
	mu   sync.RWMutex
	rows map[string]*domain.AnalysisOrchestrator
}

func NewOrchestratorRepo() *OrchestratorRepo {
	return &OrchestratorRepo{rows: map[string]*domain.AnalysisOrchestrator{}}
}

func (r *OrchestratorRepo) Get(ctx context.Context, verificationTaskID string) (*domain.AnalysisOrchestrator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return clone(r.rows[verificationTaskID])
}

func (r *OrchestratorRepo) Enqueue(ctx context.Context, seed *domain.AnalysisOrchestrator, sm *domain.AnalysisStateMachine) error {
	item, err := clone(sm)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.rows[seed.VerificationTaskID]
	if !ok {
		o, err = clone(seed)
		if err != nil {
			return err
		}
		o.AnalysisStateMachineQueue = nil
		o.Status = domain.OrchestratorRunning
		r.rows[seed.VerificationTaskID] = o
	}
	o.AnalysisStateMachineQueue = append(o.AnalysisStateMachineQueue, item)
	if !o.Status.IsFinal() {
		o.Status = domain.OrchestratorRunning
	}
	return nil
}

func (r *OrchestratorRepo) PopFirst(ctx context.Context, verificationTaskID string) (*domain.AnalysisStateMachine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.rows[verificationTaskID]
	if !ok || len(o.AnalysisStateMachineQueue) == 0 {
		return nil, nil
	}
	head := o.AnalysisStateMachineQueue[0]
	o.AnalysisStateMachineQueue = o.AnalysisStateMachineQueue[1:]
	return head, nil
}

func (r *OrchestratorRepo) MarkWaitingIfEmpty(ctx context.Context, verificationTaskID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.rows[verificationTaskID]
	if !ok || len(o.AnalysisStateMachineQueue) > 0 || o.Status.IsFinal() {
		return false, nil
	}
	o.Status = domain.OrchestratorWaiting
	return true, nil
}

func (r *OrchestratorRepo) UpdateStatus(ctx context.Context, verificationTaskID string, status domain.OrchestratorStatus) error {
	return r.UpdateStatusBulk(ctx, []string{verificationTaskID}, status)
}

func (r *OrchestratorRepo) UpdateStatusBulk(ctx context.Context, verificationTaskIDs []string, status domain.OrchestratorStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range verificationTaskIDs {
		if o, ok := r.rows[id]; ok && !o.Status.IsFinal() {
			o.Status = status
		}
	}
	return nil
}

func (r *OrchestratorRepo) TerminateQueue(ctx context.Context, verificationTaskID string) ([]*domain.AnalysisStateMachine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.rows[verificationTaskID]
	if !ok {
		return nil, nil
	}
	removed := o.AnalysisStateMachineQueue
	o.AnalysisStateMachineQueue = nil
	o.Status = domain.OrchestratorTerminated
	return removed, nil
}

func (r *OrchestratorRepo) ListByStatus(ctx context.Context, status domain.OrchestratorStatus, afterTaskID string, limit int) ([]*domain.AnalysisOrchestrator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []*domain.AnalysisOrchestrator{}
	for _, o := range r.rows {
		if o.Status != status || o.VerificationTaskID <= afterTaskID {
			continue
		}
		c, err := clone(o)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VerificationTaskID < out[j].VerificationTaskID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
