package memory

import (
	"context"
	"sync"

	domain "github.com/bryanwahyu/verification-orchestrator/internal/domain/statemachine"
)

type storedMachine struct {
	seq int64
	sm  *domain.AnalysisStateMachine
}

// StateMachineRepo keeps insertion order so Latest matches the SQL stores' sequence column.
type StateMachineRepo struct {
	mu   sync.RWMutex
	seq  int64
	byID map[string]*storedMachine
}

func NewStateMachineRepo() *StateMachineRepo {
	return &StateMachineRepo{byID: map[string]*storedMachine{}}
}

func (r *StateMachineRepo) Save(ctx context.Context, sm *domain.AnalysisStateMachine) error {
	return r.SaveAll(ctx, []*domain.AnalysisStateMachine{sm})
}

func (r *StateMachineRepo) SaveAll(ctx context.Context, sms []*domain.AnalysisStateMachine) error {
	copies, err := cloneMachines(sms)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range copies {
		if existing, ok := r.byID[c.ID]; ok {
			existing.sm = c
			continue
		}
		r.seq++
		r.byID[c.ID] = &storedMachine{seq: r.seq, sm: c}
	}
	return nil
}

func (r *StateMachineRepo) Latest(ctx context.Context, verificationTaskID string) (*domain.AnalysisStateMachine, error) {
	return r.latest(verificationTaskID, func(*domain.AnalysisStateMachine) bool { return true })
}

func (r *StateMachineRepo) LatestByStatus(ctx context.Context, verificationTaskID string, status domain.AnalysisStatus) (*domain.AnalysisStateMachine, error) {
	return r.latest(verificationTaskID, func(sm *domain.AnalysisStateMachine) bool { return sm.Status == status })
}

func (r *StateMachineRepo) latest(verificationTaskID string, match func(*domain.AnalysisStateMachine) bool) (*domain.AnalysisStateMachine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *storedMachine
	for _, s := range r.byID {
		if s.sm.VerificationTaskID != verificationTaskID || !match(s.sm) {
			continue
		}
		if best == nil || s.seq > best.seq {
			best = s
		}
	}
	if best == nil {
		return nil, nil
	}
	return clone(best.sm)
}
