package mysql

import (
	"context"
	"database/sql"

	"github.com/bryanwahyu/verification-orchestrator/internal/domain/verificationtask"
)

type VerificationTaskRepo struct{ db *sql.DB }

func NewVerificationTaskRepo(db *sql.DB) *VerificationTaskRepo { return &VerificationTaskRepo{db: db} }

func (r *VerificationTaskRepo) Save(ctx context.Context, t *verificationtask.Task) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO verification_tasks (id, account_id, task_type, data_type, job_type, demo, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
  account_id = VALUES(account_id),
  task_type = VALUES(task_type),
  data_type = VALUES(data_type),
  job_type = VALUES(job_type),
  demo = VALUES(demo)`,
		t.ID, t.AccountID, t.Type, t.DataType, t.JobType, t.Demo, t.CreatedAt)
	return err
}

func (r *VerificationTaskRepo) Get(ctx context.Context, id string) (*verificationtask.Task, error) {
	var t verificationtask.Task
	err := r.db.QueryRowContext(ctx, `
SELECT id, account_id, task_type, data_type, job_type, demo, created_at
FROM verification_tasks WHERE id = ?`, id).
		Scan(&t.ID, &t.AccountID, &t.Type, &t.DataType, &t.JobType, &t.Demo, &t.CreatedAt)
	return noRowsNil(&t, err)
}
