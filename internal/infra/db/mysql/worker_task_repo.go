package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	domain "github.com/bryanwahyu/verification-orchestrator/internal/domain/statemachine"
	"github.com/bryanwahyu/verification-orchestrator/internal/domain/workertask"
)

type WorkerTaskRepo struct{ db *sql.DB }

func NewWorkerTaskRepo(db *sql.DB) *WorkerTaskRepo { return &WorkerTaskRepo{db: db} }

const workerTaskColumns = `id, verification_task_id, verification_job_instance_id, state_type, cluster_level,
  analysis_start_time, analysis_end_time, status, fail_fast, created_at, updated_at`

func scanWorkerTask(row rowScanner) (*workertask.Task, error) {
	var t workertask.Task
	err := row.Scan(&t.ID, &t.VerificationTaskID, &t.VerificationJobInstanceID, &t.StateType, &t.ClusterLevel,
		&t.AnalysisStartTime, &t.AnalysisEndTime, &t.Status, &t.FailFast, &t.CreatedAt, &t.UpdatedAt)
	return noRowsNil(&t, err)
}

func (r *WorkerTaskRepo) Create(ctx context.Context, t *workertask.Task) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO analysis_worker_tasks (`+workerTaskColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.VerificationTaskID, t.VerificationJobInstanceID, t.StateType, t.ClusterLevel,
		t.AnalysisStartTime, t.AnalysisEndTime, t.Status, t.FailFast, t.CreatedAt, t.UpdatedAt)
	return err
}

func (r *WorkerTaskRepo) Get(ctx context.Context, id string) (*workertask.Task, error) {
	return scanWorkerTask(r.db.QueryRowContext(ctx, `SELECT `+workerTaskColumns+` FROM analysis_worker_tasks WHERE id = ?`, id))
}

// LeaseNext pakai SKIP LOCKED supaya beberapa worker tidak berebut baris yang sama.
func (r *WorkerTaskRepo) LeaseNext(ctx context.Context, now time.Time) (*workertask.Task, error) {
	var leased *workertask.Task
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		t, err := scanWorkerTask(tx.QueryRowContext(ctx, `SELECT `+workerTaskColumns+` FROM analysis_worker_tasks
WHERE status = 'QUEUED' ORDER BY created_at, id LIMIT 1 FOR UPDATE SKIP LOCKED`))
		if err != nil || t == nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE analysis_worker_tasks SET status = 'RUNNING', updated_at = ? WHERE id = ?`, now, t.ID); err != nil {
			return err
		}
		t.Status = workertask.StatusRunning
		t.UpdatedAt = now
		leased = t
		return nil
	})
	return leased, err
}

func (r *WorkerTaskRepo) UpdateStatus(ctx context.Context, id string, status workertask.Status, failFast bool, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE analysis_worker_tasks SET status = ?, fail_fast = ?, updated_at = ? WHERE id = ?`,
		status, failFast, now, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("worker task %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (r *WorkerTaskRepo) LatestFailFast(ctx context.Context, verificationTaskID string) (bool, error) {
	var failFast bool
	err := r.db.QueryRowContext(ctx, `
SELECT fail_fast FROM analysis_worker_tasks
WHERE verification_task_id = ? AND status = 'SUCCESS'
ORDER BY updated_at DESC LIMIT 1`, verificationTaskID).Scan(&failFast)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return failFast, err
}
