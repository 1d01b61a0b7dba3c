package events

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

const (
	EventAnalysisQueued = "analysis_queued"
	EventTaskComplete   = "task_complete"
)

// StreamPublisher publish event ke redis stream (XADD)
type StreamPublisher struct {
	Client redis.UniversalClient
	Stream string
	MaxLen int64
}

func NewStreamPublisher(client redis.UniversalClient, stream string) *StreamPublisher {
	return &StreamPublisher{Client: client, Stream: stream, MaxLen: 100000}
}

func (p *StreamPublisher) PublishAnalysisQueued(ctx context.Context, accountID, verificationTaskID string) error {
	return p.publish(ctx, EventAnalysisQueued, accountID, verificationTaskID)
}

func (p *StreamPublisher) PublishTaskComplete(ctx context.Context, accountID, verificationTaskID string) error {
	return p.publish(ctx, EventTaskComplete, accountID, verificationTaskID)
}

func (p *StreamPublisher) publish(ctx context.Context, event, accountID, verificationTaskID string) error {
	err := p.Client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.Stream,
		MaxLen: p.MaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"event":              event,
			"accountId":          accountID,
			"verificationTaskId": verificationTaskID,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("publish %s for %s: %w", event, verificationTaskID, err)
	}
	return nil
}
