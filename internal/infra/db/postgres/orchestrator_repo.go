package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
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
	row := r.db.QueryRowContext(ctx, `SELECT `+orchestratorColumns+` FROM analysis_orchestrators WHERE verification_task_id = $1`, verificationTaskID)
	return noRowsNil(scanOrchestrator(row))
}

func (r *OrchestratorRepo) Enqueue(ctx context.Context, seed *domain.AnalysisOrchestrator, sm *domain.AnalysisStateMachine) error {
	item, err := json.Marshal(sm)
	if err != nil {
		return err
	}
	status := domain.OrchestratorRunning
	if seed.Status.IsFinal() {
		status = seed.Status
	}
	const q = `
INSERT INTO analysis_orchestrators (id, verification_task_id, account_id, status, queue, created_at, valid_until)
VALUES ($1, $2, $3, $4, jsonb_build_array($5::jsonb), $6, $7)
ON CONFLICT (verification_task_id) DO UPDATE SET
 queue = analysis_orchestrators.queue || jsonb_build_array($5::jsonb),
 status = CASE WHEN analysis_orchestrators.status IN ('COMPLETED','TERMINATED')
          THEN analysis_orchestrators.status ELSE 'RUNNING' END;`
	_, err = r.db.ExecContext(ctx, q,
		seed.ID, seed.VerificationTaskID, seed.AccountID, status, string(item), seed.CreatedAt, seed.ValidUntil)
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
		_, err = tx.ExecContext(ctx, `UPDATE analysis_orchestrators SET queue = queue - 0 WHERE verification_task_id = $1`, verificationTaskID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return head, nil
}

func (r *OrchestratorRepo) MarkWaitingIfEmpty(ctx context.Context, verificationTaskID string) (bool, error) {
	// postgres menghitung baris yang match, termasuk yang sudah WAITING
	res, err := r.db.ExecContext(ctx, `
UPDATE analysis_orchestrators SET status = 'WAITING'
WHERE verification_task_id = $1 AND jsonb_array_length(queue) = 0
  AND status NOT IN ('COMPLETED','TERMINATED');`, verificationTaskID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *OrchestratorRepo) UpdateStatus(ctx context.Context, verificationTaskID string, status domain.OrchestratorStatus) error {
	return r.UpdateStatusBulk(ctx, []string{verificationTaskID}, status)
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
UPDATE analysis_orchestrators SET status = $1
WHERE verification_task_id IN (`+placeholders(2, len(verificationTaskIDs))+`)
  AND status NOT IN ('COMPLETED','TERMINATED');`, args...)
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
		_, err = tx.ExecContext(ctx, `
UPDATE analysis_orchestrators SET queue = '[]'::jsonb, status = 'TERMINATED'
WHERE verification_task_id = $1`, verificationTaskID)
		return err
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
WHERE status = $1 AND verification_task_id > $2 ORDER BY verification_task_id LIMIT $3`, status, afterTaskID, limit)
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

func lockQueue(ctx context.Context, tx *sql.Tx, verificationTaskID string) ([]*domain.AnalysisStateMachine, error) {
	var raw []byte
	err := tx.QueryRowContext(ctx, `SELECT queue FROM analysis_orchestrators WHERE verification_task_id = $1 FOR UPDATE`, verificationTaskID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeQueue(raw)
}
