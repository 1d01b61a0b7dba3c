package orchestration

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	domain "github.com/bryanwahyu/verification-orchestrator/internal/domain/statemachine"
	"github.com/bryanwahyu/verification-orchestrator/internal/domain/verificationtask"
)

func TestDriverTickOrchestratesRunningTasks(t *testing.T) {
	t.Parallel()

	f := newFixture(t, defaultConfig())
	ids := []string{"task-1", "task-2", "task-3"}
	for _, id := range ids {
		f.register(t, id, verificationtask.TypeSLI, verificationtask.DataTimeSeries)
		f.queue(t, id, t0)
	}
	require.NoError(t, f.svc.MarkCompleted(context.Background(), "task-3"))

	d := &Driver{
		Service:       f.svc,
		Orchestrators: f.orchestrators,
		Metrics:       f.metrics,
		Interval:      time.Hour,
		BatchSize:     10,
		Workers:       2,
		Logger:        zaptest.NewLogger(t),
	}
	require.NoError(t, d.Tick(context.Background()))

	assert.Equal(t, domain.StatusRunning, f.latest(t, "task-1").Status)
	assert.Equal(t, domain.StatusRunning, f.latest(t, "task-2").Status)
	assert.Equal(t, 0, f.machines.Count("task-3"))
	assert.Equal(t, 2, f.metrics.observed)
	assert.Equal(t, 0, f.metrics.errors)
}

func TestDriverTickPagesPastBatchSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		tasks int
		batch int
	}{
		{name: "partial last page", tasks: 5, batch: 2},
		{name: "exact multiple", tasks: 4, batch: 2},
		{name: "batch of one", tasks: 3, batch: 1},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, defaultConfig())
			var ids []string
			for i := 0; i < tt.tasks; i++ {
				id := fmt.Sprintf("task-%02d", i)
				ids = append(ids, id)
				f.register(t, id, verificationtask.TypeSLI, verificationtask.DataTimeSeries)
				f.queue(t, id, t0)
			}

			d := &Driver{Service: f.svc, Orchestrators: f.orchestrators, Metrics: f.metrics, Interval: time.Hour, BatchSize: tt.batch, Workers: 2}
			require.NoError(t, d.Tick(context.Background()))

			for _, id := range ids {
				assert.Equal(t, 1, f.machines.Count(id), id)
				assert.Equal(t, domain.StatusRunning, f.latest(t, id).Status, id)
			}
			assert.Equal(t, tt.tasks, f.metrics.observed)
		})
	}
}

func TestDriverTickSwallowsLockErrors(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig()
	cfg.LockWait = 10 * time.Millisecond
	f := newFixture(t, cfg)
	f.register(t, "task-1", verificationtask.TypeSLI, verificationtask.DataTimeSeries)
	f.queue(t, "task-1", t0)

	held, err := f.locker.Acquire(context.Background(), lockKey("task-1"), 0, time.Minute)
	require.NoError(t, err)
	defer held.Release(context.Background())

	d := &Driver{Service: f.svc, Orchestrators: f.orchestrators, Metrics: f.metrics, Interval: time.Hour, BatchSize: 10, Workers: 4}
	require.NoError(t, d.Tick(context.Background()))
	assert.Equal(t, 1, f.metrics.errors)
}

func TestDriverRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	f := newFixture(t, defaultConfig())
	f.register(t, "task-1", verificationtask.TypeSLI, verificationtask.DataTimeSeries)
	f.queue(t, "task-1", t0)

	ctx, cancel := context.WithCancel(context.Background())
	d := &Driver{Service: f.svc, Orchestrators: f.orchestrators, Interval: 5 * time.Millisecond, BatchSize: 10, Workers: 1}
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool {
		sm, err := f.machines.Latest(context.Background(), "task-1")
		return err == nil && sm != nil
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("driver did not stop")
	}
}

func TestDriverCheckTracksTicks(t *testing.T) {
	t.Parallel()

	f := newFixture(t, defaultConfig())
	d := &Driver{Service: f.svc, Orchestrators: f.orchestrators, Interval: 5 * time.Millisecond, BatchSize: 10, Workers: 1}
	require.Error(t, d.Check(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool { return d.Check(context.Background()) == nil }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	// tanpa tick baru health check gagal lagi
	require.Eventually(t, func() bool { return d.Check(context.Background()) != nil }, time.Second, 5*time.Millisecond)
}
