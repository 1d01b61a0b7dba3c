package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	domain "github.com/bryanwahyu/verification-orchestrator/internal/domain/statemachine"
)

const defaultPollInterval = 20 * time.Millisecond

type localEntry struct {
	token   string
	expires time.Time
}

// Local is an in-process Locker for single-node runs and tests.
type Local struct {
	mu   sync.Mutex
	held map[string]localEntry
	poll time.Duration
}

func NewLocal() *Local {
	return &Local{held: map[string]localEntry{}, poll: defaultPollInterval}
}

func (l *Local) Acquire(ctx context.Context, key string, wait, hold time.Duration) (domain.Lock, error) {
	token := uuid.NewString()
	deadline := time.Now().Add(wait)
	for {
		if l.tryAcquire(key, token, hold) {
			return &localLock{owner: l, key: key, token: token}, nil
		}
		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("%w: %s held by another owner", domain.ErrLockUnavailable, key)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.poll):
		}
	}
}

func (l *Local) tryAcquire(key, token string, hold time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	if e, ok := l.held[key]; ok && now.Before(e.expires) {
		return false
	}
	l.held[key] = localEntry{token: token, expires: now.Add(hold)}
	return true
}

func (l *Local) release(key, token string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.held[key]; ok && e.token == token {
		delete(l.held, key)
	}
}

type localLock struct {
	owner *Local
	key   string
	token string
}

func (l *localLock) Release(ctx context.Context) error {
	l.owner.release(l.key, l.token)
	return nil
}
