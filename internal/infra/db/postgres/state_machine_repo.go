package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
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
WHERE verification_task_id = $1 ORDER BY seq DESC LIMIT 1`, verificationTaskID)
	return noRowsNil(scanStateMachine(row))
}

func (r *StateMachineRepo) LatestByStatus(ctx context.Context, verificationTaskID string, status domain.AnalysisStatus) (*domain.AnalysisStateMachine, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+stateMachineColumns+` FROM analysis_state_machines
WHERE verification_task_id = $1 AND status = $2 ORDER BY seq DESC LIMIT 1`, verificationTaskID, status)
	return noRowsNil(scanStateMachine(row))
}

func saveStateMachine(ctx context.Context, db execer, sm *domain.AnalysisStateMachine) error {
	const q = `
INSERT INTO analysis_state_machines
(id, verification_task_id, account_id, analysis_start_time, analysis_end_time, status,
 total_retry_count, next_attempt_time, ignore_window_ms, current_state, completed_states, created_at)
VALUES ($1,$2,$3,$4,$5,$6,
        $7,$8,$9,$10::jsonb,$11::jsonb,$12)
ON CONFLICT (id) DO UPDATE SET
 status = EXCLUDED.status,
 total_retry_count = EXCLUDED.total_retry_count,
 next_attempt_time = EXCLUDED.next_attempt_time,
 current_state = EXCLUDED.current_state,
 completed_states = EXCLUDED.completed_states;`

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
	_, err = db.ExecContext(ctx, q,
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
		sm.NextAttemptTime = next.Time.UTC()
	}
	sm.AnalysisStartTime = sm.AnalysisStartTime.UTC()
	sm.AnalysisEndTime = sm.AnalysisEndTime.UTC()
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
