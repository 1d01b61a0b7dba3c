package middleware

import (
	"fmt"
	"regexp"
	"strconv"

	domain "github.com/bryanwahyu/verification-orchestrator/internal/domain/statemachine"
)

var identifierPattern = regexp.MustCompile(`^[a-zA-Z0-9_.:-]{1,64}$`)

// ValidateAccountID validates account identifier format
func ValidateAccountID(account string) error {
	if account == "" {
		return fmt.Errorf("%w: account ID cannot be empty", domain.ErrValidation)
	}
	if !identifierPattern.MatchString(account) {
		return fmt.Errorf("%w: invalid account ID format", domain.ErrValidation)
	}
	return nil
}

// ValidateTaskID validates verification task / worker task id
func ValidateTaskID(id string) error {
	if !identifierPattern.MatchString(id) {
		return fmt.Errorf("%w: invalid task ID %q", domain.ErrValidation, id)
	}
	return nil
}

// ParseLimit reads ?limit=, default 100, max 500
func ParseLimit(raw string) int {
	limit, _ := strconv.Atoi(raw)
	if limit <= 0 {
		return 100
	}
	if limit > 500 {
		return 500
	}
	return limit
}
