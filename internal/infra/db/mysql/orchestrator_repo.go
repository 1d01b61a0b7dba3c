package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	domain "github.com/bryanwahyu/verification-orchestrator/internal/domain/statemachine"
)

type OrchestratorRepo struct{ db *sql.DB }

func NewOrchestratorRepo(db *sql.DB) *OrchestratorRepo { return &OrchestratorRepo{db: db} }

const orchestratorColumns = `id, verification_task_id, account_id, status, queue, created_at, valid_until`

func scanOrchestrator(row rowScanner) (*domain.AnalysisOrchestrator, error) {
	var (
		o   domain.AnalysisOrchestrator
		raw []byte
	)
	if err := row.Scan(&o.ID, &o.VerificationTaskID, &o.AccountID, &o.Status, &raw, &o.CreatedAt, &o.ValidUntil); err != nil {
		return nil, err
	}
	q, err := decodeQueue(raw)
	if err != nil {
		return nil, fmt.Errorf("decode queue %s: %w", o.VerificationTaskID, err)
	}
	o.AnalysisStateMachineQueue = q
	return &o, nil
}

func (r *OrchestratorRepo) Get(ctx context.Context, verificationTaskID string) (*domain.AnalysisOrchestrator, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+orchestratorColumns+` FROM analysis_orchestrators WHERE verification_task_id = ?`, verificationTaskID)
	o, err := scanOrchestrator(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return o, err
}

// Enqueue upsert: append ke antrian JSON dalam satu statement, status tidak keluar dari final.
func (r *OrchestratorRepo) Enqueue(ctx context.Context, seed *domain.AnalysisOrchestrator, sm *domain.AnalysisStateMachine) error {
	item, err := encodeMachine(sm)
	if err != nil {
		return err
	}
	status := domain.OrchestratorRunning
	if seed.Status.IsFinal() {
		status = seed.Status
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO analysis_orchestrators (id, verification_task_id, account_id, status, queue, created_at, valid_until)
VALUES (?, ?, ?, ?, JSON_ARRAY(CAST(? AS JSON)), ?, ?)
ON DUPLICATE KEY UPDATE
  queue = JSON_ARRAY_APPEND(queue, '$', CAST(? AS JSON)),
  status = IF(status IN ('COMPLETED','TERMINATED'), status, 'RUNNING')`,
		seed.ID, seed.VerificationTaskID, seed.AccountID, status, item, seed.CreatedAt, seed.ValidUntil,
		item,
	)
	return err
}

func (r *OrchestratorRepo) PopFirst(ctx context.Context, verificationTaskID string) (*domain.AnalysisStateMachine, error) {
	var head *domain.AnalysisStateMachine
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		queue, err := lockQueue(ctx, tx, verificationTaskID)
		if err != nil || len(queue) == 0 {
			return err
		}
		head = queue[0]
		return writeQueue(ctx, tx, verificationTaskID, queue[1:], "")
	})
	if err != nil {
		return nil, err
	}
	return head, nil
}

func (r *OrchestratorRepo) MarkWaitingIfEmpty(ctx context.Context, verificationTaskID string) (bool, error) {
	_, err := r.db.ExecContext(ctx, `
UPDATE analysis_orchestrators SET status = 'WAITING'
WHERE verification_task_id = ? AND JSON_LENGTH(queue) = 0 AND status NOT IN ('COMPLETED','TERMINATED')`,
		verificationTaskID)
	if err != nil {
		return false, err
	}
	// RowsAffected 0 juga terjadi kalau status sudah WAITING, jadi baca ulang
	var status domain.OrchestratorStatus
	err = r.db.QueryRowContext(ctx, `SELECT status FROM analysis_orchestrators WHERE verification_task_id = ? AND JSON_LENGTH(queue) = 0`, verificationTaskID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return status == domain.OrchestratorWaiting, nil
}

func (r *OrchestratorRepo) UpdateStatus(ctx context.Context, verificationTaskID string, status domain.OrchestratorStatus) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE analysis_orchestrators SET status = ?
WHERE verification_task_id = ? AND status NOT IN ('COMPLETED','TERMINATED')`, status, verificationTaskID)
	return err
}

func (r *OrchestratorRepo) UpdateStatusBulk(ctx context.Context, verificationTaskIDs []string, status domain.OrchestratorStatus) error {
	if len(verificationTaskIDs) == 0 {
		return nil
	}
	args := make([]any, 0, len(verificationTaskIDs)+1)
	args = append(args, status)
	for _, id := range verificationTaskIDs {
		args = append(args, id)
	}
	_, err := r.db.ExecContext(ctx, `
UPDATE analysis_orchestrators SET status = ?
WHERE verification_task_id IN (`+placeholders(len(verificationTaskIDs))+`) AND status NOT IN ('COMPLETED','TERMINATED')`, args...)
	return err
}

func (r *OrchestratorRepo) TerminateQueue(ctx context.Context, verificationTaskID string) ([]*domain.AnalysisStateMachine, error) {
	var removed []*domain.AnalysisStateMachine
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		queue, err := lockQueue(ctx, tx, verificationTaskID)
		if err != nil {
			return err
		}
		removed = queue
		return writeQueue(ctx, tx, verificationTaskID, nil, domain.OrchestratorTerminated)
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

func (r *OrchestratorRepo) ListByStatus(ctx context.Context, status domain.OrchestratorStatus, afterTaskID string, limit int) ([]*domain.AnalysisOrchestrator, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+orchestratorColumns+` FROM analysis_orchestrators
WHERE status = ? AND verification_task_id > ? ORDER BY verification_task_id LIMIT ?`, status, afterTaskID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.AnalysisOrchestrator
	for rows.Next() {
		o, err := scanOrchestrator(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// lockQueue baca antrian dengan row lock. Orchestrator yang belum ada dianggap antrian kosong.
func lockQueue(ctx context.Context, tx *sql.Tx, verificationTaskID string) ([]*domain.AnalysisStateMachine, error) {
	var raw []byte
	err := tx.QueryRowContext(ctx, `SELECT queue FROM analysis_orchestrators WHERE verification_task_id = ? FOR UPDATE`, verificationTaskID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeQueue(raw)
}

func writeQueue(ctx context.Context, tx *sql.Tx, verificationTaskID string, queue []*domain.AnalysisStateMachine, status domain.OrchestratorStatus) error {
	enc, err := encodeQueue(queue)
	if err != nil {
		return err
	}
	if status == "" {
		_, err = tx.ExecContext(ctx, `UPDATE analysis_orchestrators SET queue = ? WHERE verification_task_id = ?`, enc, verificationTaskID)
		return err
	}
	_, err = tx.ExecContext(ctx, `UPDATE analysis_orchestrators SET queue = ?, status = ? WHERE verification_task_id = ?`, enc, status, verificationTaskID)
	return err
}

func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
