package memory

import (
	"fmt"

	"github.com/tiendc/go-deepcopy"

	domain "github.com/bryanwahyu/verification-orchestrator/internal/domain/statemachine"
)

// clone returns an independent copy of src so callers never alias stored entities.
func clone[T any](src *T) (*T, error) {
	if src == nil {
		return nil, nil
	}
	var dst T
	if err := deepcopy.Copy(&dst, src); err != nil {
		return nil, fmt.Errorf("copy %T: %w", src, err)
	}
	return &dst, nil
}

func cloneMachines(src []*domain.AnalysisStateMachine) ([]*domain.AnalysisStateMachine, error) {
	out := make([]*domain.AnalysisStateMachine, 0, len(src))
	for _, sm := range src {
		c, err := clone(sm)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
