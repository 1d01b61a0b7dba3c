package orchestration

import (
	"context"
	"fmt"

	"github.com/bryanwahyu/verification-orchestrator/internal/domain/verificationtask"
	"github.com/bryanwahyu/verification-orchestrator/internal/domain/workertask"
)

// FailFastPolicy: hanya deployment task yang bisa fail fast, sumbernya flag dari worker
type FailFastPolicy struct {
	Tasks       verificationtask.Repository
	WorkerTasks workertask.Repository
}

func (p FailFastPolicy) ShouldFailFast(ctx context.Context, verificationTaskID string) (bool, error) {
	task, err := p.Tasks.Get(ctx, verificationTaskID)
	if err != nil {
		return false, fmt.Errorf("load verification task %s: %w", verificationTaskID, err)
	}
	if task == nil || task.Type != verificationtask.TypeDeployment {
		return false, nil
	}
	return p.WorkerTasks.LatestFailFast(ctx, verificationTaskID)
}
