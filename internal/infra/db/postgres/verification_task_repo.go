package postgres

import (
	"context"
	"database/sql"

	"github.com/bryanwahyu/verification-orchestrator/internal/domain/verificationtask"
)

type VerificationTaskRepo struct{ db *sql.DB }

func NewVerificationTaskRepo(db *sql.DB) *VerificationTaskRepo { return &VerificationTaskRepo{db: db} }

func (r *VerificationTaskRepo) Save(ctx context.Context, t *verificationtask.Task) error {
	const q = `
INSERT INTO verification_tasks (id, account_id, task_type, data_type, job_type, demo, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (id) DO UPDATE SET
 account_id = EXCLUDED.account_id,
 task_type = EXCLUDED.task_type,
 data_type = EXCLUDED.data_type,
 job_type = EXCLUDED.job_type,
 demo = EXCLUDED.demo;`
	_, err := r.db.ExecContext(ctx, q, t.ID, t.AccountID, t.Type, t.DataType, t.JobType, t.Demo, t.CreatedAt)
	return err
}

func (r *VerificationTaskRepo) Get(ctx context.Context, id string) (*verificationtask.Task, error) {
	var t verificationtask.Task
	err := r.db.QueryRowContext(ctx, `
SELECT id, account_id, task_type, data_type, job_type, demo, created_at
FROM verification_tasks WHERE id = $1`, id).
		Scan(&t.ID, &t.AccountID, &t.Type, &t.DataType, &t.JobType, &t.Demo, &t.CreatedAt)
	return noRowsNil(&t, err)
}
