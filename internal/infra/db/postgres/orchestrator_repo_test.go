package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/bryanwahyu/verification-orchestrator/internal/domain/statemachine"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

const lockQueueSQL = "SELECT queue FROM analysis_orchestrators WHERE verification_task_id = $1 FOR UPDATE"

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func queueJSON(t *testing.T, ids ...string) []byte {
	t.Helper()
	q := make([]*domain.AnalysisStateMachine, 0, len(ids))
	for _, id := range ids {
		q = append(q, &domain.AnalysisStateMachine{ID: id, VerificationTaskID: "vt-1", Status: domain.StatusCreated})
	}
	raw, err := encodeQueue(q)
	require.NoError(t, err)
	return []byte(raw)
}

func TestOrchestratorEnqueueUpsert(t *testing.T) {
	t.Parallel()

	db, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta("VALUES ($1, $2, $3, $4, jsonb_build_array($5::jsonb), $6, $7)") + ".*" +
		regexp.QuoteMeta("ON CONFLICT (verification_task_id) DO UPDATE SET") + ".*" +
		regexp.QuoteMeta("queue = analysis_orchestrators.queue || jsonb_build_array($5::jsonb)") + ".*" +
		regexp.QuoteMeta("CASE WHEN analysis_orchestrators.status IN ('COMPLETED','TERMINATED') THEN analysis_orchestrators.status ELSE 'RUNNING' END")).
		WithArgs("orc-1", "vt-1", "acc-1", "TERMINATED", sqlmock.AnyArg(), t0, t0.Add(time.Hour)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	seed := &domain.AnalysisOrchestrator{
		ID: "orc-1", VerificationTaskID: "vt-1", AccountID: "acc-1", Status: domain.OrchestratorTerminated,
		CreatedAt: t0, ValidUntil: t0.Add(time.Hour),
	}
	err := NewOrchestratorRepo(db).Enqueue(context.Background(), seed, &domain.AnalysisStateMachine{ID: "m-1", VerificationTaskID: "vt-1"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrchestratorPopFirstUnderRowLock(t *testing.T) {
	t.Parallel()

	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockQueueSQL)).
		WithArgs("vt-1").
		WillReturnRows(sqlmock.NewRows([]string{"queue"}).AddRow(queueJSON(t, "m-1", "m-2")))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE analysis_orchestrators SET queue = queue - 0 WHERE verification_task_id = $1")).
		WithArgs("vt-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	head, err := NewOrchestratorRepo(db).PopFirst(context.Background(), "vt-1")
	require.NoError(t, err)
	require.NotNil(t, head)
	assert.Equal(t, "m-1", head.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrchestratorPopFirstRollsBackOnWriteError(t *testing.T) {
	t.Parallel()

	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockQueueSQL)).
		WithArgs("vt-1").
		WillReturnRows(sqlmock.NewRows([]string{"queue"}).AddRow(queueJSON(t, "m-1")))
	mock.ExpectExec(regexp.QuoteMeta("SET queue = queue - 0")).
		WillReturnError(errors.New("serialization failure"))
	mock.ExpectRollback()

	head, err := NewOrchestratorRepo(db).PopFirst(context.Background(), "vt-1")
	require.Error(t, err)
	assert.Nil(t, head)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrchestratorMarkWaitingIfEmpty(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{"empty running queue", 1, true},
		{"non empty or final", 0, false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			db, mock := newMock(t)
			mock.ExpectExec(regexp.QuoteMeta("SET status = 'WAITING'") + ".*" +
				regexp.QuoteMeta("jsonb_array_length(queue) = 0 AND status NOT IN ('COMPLETED','TERMINATED')")).
				WithArgs("vt-1").
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			got, err := NewOrchestratorRepo(db).MarkWaitingIfEmpty(context.Background(), "vt-1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestOrchestratorUpdateStatusSkipsFinal(t *testing.T) {
	t.Parallel()

	db, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta("SET status = $1 WHERE verification_task_id IN ($2) AND status NOT IN ('COMPLETED','TERMINATED')")).
		WithArgs("WAITING", "vt-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, NewOrchestratorRepo(db).UpdateStatus(context.Background(), "vt-1", domain.OrchestratorWaiting))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrchestratorTerminateQueue(t *testing.T) {
	t.Parallel()

	t.Run("returns removed machines", func(t *testing.T) {
		t.Parallel()

		db, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(lockQueueSQL)).
			WithArgs("vt-1").
			WillReturnRows(sqlmock.NewRows([]string{"queue"}).AddRow(queueJSON(t, "m-1", "m-2")))
		mock.ExpectExec(regexp.QuoteMeta("SET queue = '[]'::jsonb, status = 'TERMINATED' WHERE verification_task_id = $1")).
			WithArgs("vt-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		removed, err := NewOrchestratorRepo(db).TerminateQueue(context.Background(), "vt-1")
		require.NoError(t, err)
		require.Len(t, removed, 2)
		assert.Equal(t, "m-2", removed[1].ID)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back when the write fails", func(t *testing.T) {
		t.Parallel()

		db, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(lockQueueSQL)).
			WithArgs("vt-1").
			WillReturnRows(sqlmock.NewRows([]string{"queue"}).AddRow(queueJSON(t, "m-1")))
		mock.ExpectExec(regexp.QuoteMeta("status = 'TERMINATED'")).
			WillReturnError(errors.New("connection reset"))
		mock.ExpectRollback()

		removed, err := NewOrchestratorRepo(db).TerminateQueue(context.Background(), "vt-1")
		require.Error(t, err)
		assert.Nil(t, removed)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestOrchestratorListByStatusPagesAfterCursor(t *testing.T) {
	t.Parallel()

	db, mock := newMock(t)
	cols := []string{"id", "verification_task_id", "account_id", "status", "queue", "created_at", "valid_until"}
	mock.ExpectQuery(regexp.QuoteMeta("WHERE status = $1 AND verification_task_id > $2 ORDER BY verification_task_id LIMIT $3")).
		WithArgs("RUNNING", "", 100).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("orc-1", "vt-1", "acc-1", "RUNNING", queueJSON(t, "m-1", "m-2"), t0, t0.Add(time.Hour)))

	got, err := NewOrchestratorRepo(db).ListByStatus(context.Background(), domain.OrchestratorRunning, "", 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Len(t, got[0].AnalysisStateMachineQueue, 2)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWorkerTaskLeaseNextSkipsLockedRows(t *testing.T) {
	t.Parallel()

	db, mock := newMock(t)
	now := t0.Add(time.Minute)
	cols := []string{"id", "verification_task_id", "verification_job_instance_id", "state_type", "cluster_level",
		"analysis_start_time", "analysis_end_time", "status", "fail_fast", "created_at", "updated_at"}
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE analysis_worker_tasks SET status = 'RUNNING', updated_at = $1") + ".*" +
		regexp.QuoteMeta("FOR UPDATE SKIP LOCKED ) RETURNING")).
		WithArgs(now).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("wt-1", "vt-1", "job-1", "CANARY_TIME_SERIES", "", t0.Add(-5*time.Minute), t0, "RUNNING", false, t0, now))

	leased, err := NewWorkerTaskRepo(db).LeaseNext(context.Background(), now)
	require.NoError(t, err)
	require.NotNil(t, leased)
	assert.Equal(t, "wt-1", leased.ID)
	assert.EqualValues(t, "RUNNING", leased.Status)

	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE SKIP LOCKED")).
		WithArgs(now).
		WillReturnRows(sqlmock.NewRows(cols))
	idle, err := NewWorkerTaskRepo(db).LeaseNext(context.Background(), now)
	require.NoError(t, err)
	assert.Nil(t, idle)
	require.NoError(t, mock.ExpectationsWereMet())
}
