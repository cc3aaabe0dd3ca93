package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/99minutos/tracking-sync/internal/core/domain"
)

const (
	defaultStream       = "tracking:triggers"
	defaultStreamMaxLen = 100000
	triggerMessageType  = "TRACKING_UPDATE"
)

// StreamPublisher appends notification triggers to a Redis stream consumed by
// the notification service.
type StreamPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewStreamPublisher creates a publisher. The stream is trimmed approximately
// to maxLen entries.
func NewStreamPublisher(client *redis.Client, stream string, maxLen int64) *StreamPublisher {
	if stream == "" {
		stream = defaultStream
	}
	if maxLen <= 0 {
		maxLen = defaultStreamMaxLen
	}
	return &StreamPublisher{client: client, stream: stream, maxLen: maxLen}
}

// Name implements ports.TriggerHandler.
func (p *StreamPublisher) Name() string { return "redis_stream" }

// Handle publishes one trigger.
func (p *StreamPublisher) Handle(ctx context.Context, trigger domain.NotificationTrigger) error {
	values, err := streamValues(trigger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: values,
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", p.stream, err)
	}
	return nil
}

func streamValues(trigger domain.NotificationTrigger) (map[string]any, error) {
	payload, err := json.Marshal(trigger)
	if err != nil {
		return nil, fmt.Errorf("marshal trigger %s: %w", trigger.ID, err)
	}
	return map[string]any{
		"type":            triggerMessageType,
		"trigger_id":      trigger.ID,
		"tracking_number": trigger.Ref.TrackingNumber,
		"carrier":         string(trigger.Ref.Carrier),
		"payload":         string(payload),
	}, nil
}
