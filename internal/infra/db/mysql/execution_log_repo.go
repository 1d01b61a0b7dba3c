package mysql

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
VALUES (?,?,?,?,?)`
	tags, err := json.Marshal(l.Tags)
	if err != nil {
		return err
	}
	if l.Tags == nil {
		tags = []byte("{}")
	}
	created := l.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	res, err := r.db.ExecContext(ctx, q, stringOrDash(l.VerificationTaskID), l.Level, stringOrDash(l.Message), string(tags), created)
	if err != nil {
		return err
	}
	if id, err := res.LastInsertId(); err == nil {
		l.ID = id
	}
	return nil
}

func (r *ExecutionLogRepo) ListByTask(ctx context.Context, verificationTaskID string, limit int) ([]*executionlog.Line, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}
	const q = `
SELECT id, verification_task_id, level, message, tags_json, created_at
FROM execution_logs
WHERE verification_task_id = ?
ORDER BY id DESC
LIMIT ?`
	rows, err := r.db.QueryContext(ctx, q, verificationTaskID, limit)
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
