package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/bryanwahyu/verification-orchestrator/internal/domain/executionlog"
)

type ExecutionLogRepo struct{ db *sql.DB }

func NewExecutionLogRepo(db *sql.DB) *ExecutionLogRepo { return &ExecutionLogRepo{db: db} }

func (r *ExecutionLogRepo) Save(ctx context.Context, l *executionlog.Line) error {
	const q = `
INSERT INTO execution_logs (verification_task_id, level, message, tags_json, created_at)
VALUES ($1,$2,$3,$4::jsonb,$5)
RETURNING id;`
	tags := []byte("{}")
	if l.Tags != nil {
		b, err := json.Marshal(l.Tags)
		if err != nil {
			return err
		}
		tags = b
	}
	created := l.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	return r.db.QueryRowContext(ctx, q, stringOrDash(l.VerificationTaskID), l.Level, stringOrDash(l.Message), string(tags), created).Scan(&l.ID)
}

func (r *ExecutionLogRepo) ListByTask(ctx context.Context, verificationTaskID string, limit int) ([]*executionlog.Line, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, verification_task_id, level, message, tags_json, created_at
FROM execution_logs
WHERE verification_task_id = $1
ORDER BY id DESC
LIMIT $2;`, verificationTaskID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*executionlog.Line
	for rows.Next() {
		var (
			l    executionlog.Line
			tags []byte
		)
		if err := rows.Scan(&l.ID, &l.VerificationTaskID, &l.Level, &l.Message, &tags, &l.CreatedAt); err != nil {
			return nil, err
		}
		if len(tags) > 0 {
			if err := json.Unmarshal(tags, &l.Tags); err != nil {
				return nil, err
			}
		}
		out = append(out, &l)
	}
	return out, rows.Err()
}
