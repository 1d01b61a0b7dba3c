package mysql

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPlaceholders(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "?", placeholders(1))
	assert.Equal(t, "?,?,?", placeholders(3))
}

func TestNullTime(t *testing.T) {
	t.Parallel()

	assert.False(t, nullTime(time.Time{}).Valid)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.True(t, nullTime(now).Valid)
	assert.Equal(t, "-", stringOrDash("  "))
}
