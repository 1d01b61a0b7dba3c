package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/bryanwahyu/verification-orchestrator/internal/domain/statemachine"
)

var t0 = time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC)

func seed(taskID string) *domain.AnalysisOrchestrator {
	return &domain.AnalysisOrchestrator{
		ID:                 "o-" + taskID,
		VerificationTaskID: taskID,
		AccountID:          "acme",
		Status:             domain.OrchestratorRunning,
		CreatedAt:          t0,
		ValidUntil:         t0.Add(30 * 24 * time.Hour),
	}
}

func machine(id, taskID string) *domain.AnalysisStateMachine {
	return &domain.AnalysisStateMachine{
		ID:                 id,
		VerificationTaskID: taskID,
		AnalysisStartTime:  t0.Add(-5 * time.Minute),
		AnalysisEndTime:    t0,
		Status:             domain.StatusCreated,
		CurrentState: &domain.AnalysisState{
			Type:   domain.StateSLIMetricAnalysis,
			Status: domain.StatusCreated,
		},
		CreatedAt: t0,
	}
}

func TestOrchestratorQueueIsFIFO(t *testing.T) {
	t.Parallel()

	repo := NewOrchestratorRepo()
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, repo.Enqueue(ctx, seed("vt-1"), machine(id, "vt-1")))
	}

	o, err := repo.Get(ctx, "vt-1")
	require.NoError(t, err)
	require.Len(t, o.AnalysisStateMachineQueue, 3)
	assert.Equal(t, "o-vt-1", o.ID)

	var popped []string
	for {
		sm, err := repo.PopFirst(ctx, "vt-1")
		require.NoError(t, err)
		if sm == nil {
			break
		}
		popped = append(popped, sm.ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, popped)
}

func TestOrchestratorMarkWaitingOnlyWhenEmpty(t *testing.T) {
	t.Parallel()

	repo := NewOrchestratorRepo()
	ctx := context.Background()
	require.NoError(t, repo.Enqueue(ctx, seed("vt-1"), machine("a", "vt-1")))

	waiting, err := repo.MarkWaitingIfEmpty(ctx, "vt-1")
	require.NoError(t, err)
	assert.False(t, waiting)

	_, err = repo.PopFirst(ctx, "vt-1")
	require.NoError(t, err)
	waiting, err = repo.MarkWaitingIfEmpty(ctx, "vt-1")
	require.NoError(t, err)
	assert.True(t, waiting)

	o, err := repo.Get(ctx, "vt-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrchestratorWaiting, o.Status)

	// enqueue wakes it up again
	require.NoError(t, repo.Enqueue(ctx, seed("vt-1"), machine("b", "vt-1")))
	o, err = repo.Get(ctx, "vt-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrchestratorRunning, o.Status)

	waiting, err = repo.MarkWaitingIfEmpty(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, waiting)
}

func TestOrchestratorFinalStatusIsAbsorbing(t *testing.T) {
	t.Parallel()

	repo := NewOrchestratorRepo()
	ctx := context.Background()
	require.NoError(t, repo.Enqueue(ctx, seed("vt-1"), machine("a", "vt-1")))
	require.NoError(t, repo.Enqueue(ctx, seed("vt-1"), machine("b", "vt-1")))

	removed, err := repo.TerminateQueue(ctx, "vt-1")
	require.NoError(t, err)
	assert.Len(t, removed, 2)

	require.NoError(t, repo.UpdateStatus(ctx, "vt-1", domain.OrchestratorRunning))
	require.NoError(t, repo.Enqueue(ctx, seed("vt-1"), machine("c", "vt-1")))

	o, err := repo.Get(ctx, "vt-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrchestratorTerminated, o.Status)
	assert.Len(t, o.AnalysisStateMachineQueue, 1)

	waiting, err := repo.MarkWaitingIfEmpty(ctx, "vt-1")
	require.NoError(t, err)
	assert.False(t, waiting)
}

func TestOrchestratorListByStatus(t *testing.T) {
	t.Parallel()

	repo := NewOrchestratorRepo()
	ctx := context.Background()
	for _, id := range []string{"vt-3", "vt-1", "vt-2"} {
		require.NoError(t, repo.Enqueue(ctx, seed(id), machine("m-"+id, id)))
	}
	require.NoError(t, repo.UpdateStatusBulk(ctx, []string{"vt-2"}, domain.OrchestratorCompleted))

	running, err := repo.ListByStatus(ctx, domain.OrchestratorRunning, "", 0)
	require.NoError(t, err)
	require.Len(t, running, 2)
	assert.Equal(t, "vt-1", running[0].VerificationTaskID)
	assert.Equal(t, "vt-3", running[1].VerificationTaskID)

	limited, err := repo.ListByStatus(ctx, domain.OrchestratorRunning, "", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "vt-1", limited[0].VerificationTaskID)

	// halaman berikutnya mulai setelah cursor
	next, err := repo.ListByStatus(ctx, domain.OrchestratorRunning, "vt-1", 1)
	require.NoError(t, err)
	require.Len(t, next, 1)
	assert.Equal(t, "vt-3", next[0].VerificationTaskID)

	last, err := repo.ListByStatus(ctx, domain.OrchestratorRunning, "vt-3", 1)
	require.NoError(t, err)
	assert.Empty(t, last)
}

func TestOrchestratorReturnsCopies(t *testing.T) {
	t.Parallel()

	repo := NewOrchestratorRepo()
	ctx := context.Background()
	sm := machine("a", "vt-1")
	require.NoError(t, repo.Enqueue(ctx, seed("vt-1"), sm))

	sm.Status = domain.StatusFailed
	o, err := repo.Get(ctx, "vt-1")
	require.NoError(t, err)
	o.Status = domain.OrchestratorCompleted
	o.AnalysisStateMachineQueue[0].CurrentState.Status = domain.StatusSuccess

	again, err := repo.Get(ctx, "vt-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrchestratorRunning, again.Status)
	assert.Equal(t, domain.StatusCreated, again.AnalysisStateMachineQueue[0].Status)
	assert.Equal(t, domain.StatusCreated, again.AnalysisStateMachineQueue[0].CurrentState.Status)
	assert.Equal(t, t0, again.AnalysisStateMachineQueue[0].AnalysisEndTime)
}
