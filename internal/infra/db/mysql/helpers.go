package mysql

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	domain "github.com/bryanwahyu/verification-orchestrator/internal/domain/statemachine"
)

// stringOrDash returns "-" when the input is empty/whitespace
func stringOrDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func encodeQueue(q []*domain.AnalysisStateMachine) (string, error) {
	if q == nil {
		q = []*domain.AnalysisStateMachine{}
	}
	b, err := json.Marshal(q)
	return string(b), err
}

func decodeQueue(raw []byte) ([]*domain.AnalysisStateMachine, error) {
	var q []*domain.AnalysisStateMachine
	if len(raw) == 0 {
		return q, nil
	}
	if err := json.Unmarshal(raw, &q); err != nil {
		return nil, err
	}
	return q, nil
}

// rowScanner *sql.Row dan *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func encodeMachine(sm *domain.AnalysisStateMachine) (string, error) {
	b, err := json.Marshal(sm)
	return string(b), err
}
