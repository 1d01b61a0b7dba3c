package orchestration

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	domain "github.com/bryanwahyu/verification-orchestrator/internal/domain/statemachine"
)

// Driver periodically orchestrates every RUNNING orchestrator on a bounded pool.
type Driver struct {
	Service       *Service
	Orchestrators domain.OrchestratorRepository
	Metrics       domain.Metrics
	Interval      time.Duration
	BatchSize     int
	Workers       int
	Logger        *zap.Logger

	lastTick atomic.Int64
}

// Run blocks until ctx is cancelled.
func (d *Driver) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.Interval)
	defer ticker.Stop()
	d.log().Info("orchestration driver started",
		zap.Duration("interval", d.Interval), zap.Int("workers", d.Workers))
	for {
		select {
		case <-ctx.Done():
			d.log().Info("orchestration driver stopped")
			return nil
		case <-ticker.C:
			if err := d.Tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
				d.log().Error("orchestration tick failed", zap.Error(err))
				continue
			}
			d.lastTick.Store(time.Now().UnixNano())
		}
	}
}

// Tick runs one orchestration pass over every RUNNING orchestrator, paging BatchSize rows at a
// time. Per-task failures are logged, never returned.
func (d *Driver) Tick(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	if d.Workers > 0 {
		g.SetLimit(d.Workers)
	}
	batch := d.BatchSize
	if batch <= 0 {
		batch = 500
	}

	cursor := ""
	for {
		page, err := d.Orchestrators.ListByStatus(ctx, domain.OrchestratorRunning, cursor, batch)
		if err != nil {
			_ = g.Wait()
			return err
		}
		d.dispatch(gctx, g, page)
		if len(page) < batch {
			break
		}
		cursor = page[len(page)-1].VerificationTaskID
	}
	return g.Wait()
}

func (d *Driver) dispatch(ctx context.Context, g *errgroup.Group, page []*domain.AnalysisOrchestrator) {
	for _, o := range page {
		o := o
		g.Go(func() error {
			start := time.Now()
			err := d.Service.Orchestrate(ctx, o)
			if d.Metrics != nil {
				d.Metrics.ObserveOrchestration(time.Since(start), err)
			}
			switch {
			case err == nil:
			case errors.Is(err, domain.ErrLockUnavailable):
				d.log().Debug("orchestrator busy, retrying next tick", zap.String("verificationTaskId", o.VerificationTaskID))
			default:
				d.log().Error("orchestrate failed", zap.String("verificationTaskId", o.VerificationTaskID), zap.Error(err))
			}
			return nil
		})
	}
}

// Check fails when no tick finished within three intervals, e.g. when listing keeps failing
// or a tick hangs on a slow store.
func (d *Driver) Check(ctx context.Context) error {
	last := d.lastTick.Load()
	if last == 0 {
		return errors.New("orchestration driver has not completed a tick")
	}
	if age := time.Since(time.Unix(0, last)); age > 3*d.Interval {
		return fmt.Errorf("orchestration driver last tick %s ago", age.Round(time.Second))
	}
	return nil
}

func (d *Driver) log() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}
