package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	domain "github.com/bryanwahyu/verification-orchestrator/internal/domain/statemachine"
)

type StateMachineRepo struct{ db *sql.DB }

func NewStateMachineRepo(db *sql.DB) *StateMachineRepo { return &StateMachineRepo{db: db} }

const stateMachineColumns = `id, verification_task_id, account_id, analysis_start_time, analysis_end_time, status,
  total_retry_count, next_attempt_time, ignore_window_ms, current_state, completed_states, created_at`

func (r *StateMachineRepo) Save(ctx context.Context, sm *domain.AnalysisStateMachine) error {
	return saveStateMachine(ctx, r.db, sm)
}

func (r *StateMachineRepo) SaveAll(ctx context.Context, sms []*domain.AnalysisStateMachine) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		for _, sm := range sms {
			if err := saveStateMachine(ctx, tx, sm); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *StateMachineRepo) Latest(ctx context.Context, verificationTaskID string) (*domain.AnalysisStateMachine, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+stateMachineColumns+` FROM analysis_state_machines
WHERE verification_task_id = ? ORDER BY seq DESC LIMIT 1`, verificationTaskID)
	return noRowsNil(scanStateMachine(row))
}

func (r *StateMachineRepo) LatestByStatus(ctx context.Context, verificationTaskID string, status domain.AnalysisStatus) (*domain.AnalysisStateMachine, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+stateMachineColumns+` FROM analysis_state_machines
WHERE verification_task_id = ? AND status = ? ORDER BY seq DESC LIMIT 1`, verificationTaskID, status)
	return noRowsNil(scanStateMachine(row))
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func saveStateMachine(ctx context.Context, db execer, sm *domain.AnalysisStateMachine) error {
	current, err := json.Marshal(sm.CurrentState)
	if err != nil {
		return err
	}
	completed := sm.CompletedStates
	if completed == nil {
		completed = []*domain.AnalysisState{}
	}
	done, err := json.Marshal(completed)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
INSERT INTO analysis_state_machines (id, verification_task_id, account_id, analysis_start_time, analysis_end_time, status,
  total_retry_count, next_attempt_time, ignore_window_ms, current_state, completed_states, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
  status = VALUES(status),
  total_retry_count = VALUES(total_retry_count),
  next_attempt_time = VALUES(next_attempt_time),
  current_state = VALUES(current_state),
  completed_states = VALUES(completed_states)`,
		sm.ID, sm.VerificationTaskID, sm.AccountID, sm.AnalysisStartTime, sm.AnalysisEndTime, sm.Status,
		sm.TotalRetryCount, nullTime(sm.NextAttemptTime), sm.StateMachineIgnoreWindow.Milliseconds(),
		string(current), string(done), sm.CreatedAt,
	)
	return err
}

func scanStateMachine(row rowScanner) (*domain.AnalysisStateMachine, error) {
	var (
		sm              domain.AnalysisStateMachine
		next            sql.NullTime
		windowMS        int64
		current, doneJS []byte
	)
	err := row.Scan(&sm.ID, &sm.VerificationTaskID, &sm.AccountID, &sm.AnalysisStartTime, &sm.AnalysisEndTime, &sm.Status,
		&sm.TotalRetryCount, &next, &windowMS, &current, &doneJS, &sm.CreatedAt)
	if err != nil {
		return nil, err
	}
	if next.Valid {
		sm.NextAttemptTime = next.Time
	}
	sm.StateMachineIgnoreWindow = time.Duration(windowMS) * time.Millisecond
	if len(current) > 0 && string(current) != "null" {
		if err := json.Unmarshal(current, &sm.CurrentState); err != nil {
			return nil, err
		}
	}
	if len(doneJS) > 0 {
		if err := json.Unmarshal(doneJS, &sm.CompletedStates); err != nil {
			return nil, err
		}
	}
	return &sm, nil
}

func noRowsNil[T any](v *T, err error) (*T, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return v, err
}
