package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/opsline/fieldsync/internal/model"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultEventStreamKey is the Redis stream status events are appended to.
const DefaultEventStreamKey = "fieldsync:status-events"

// RedisEventStream implements EventStream on a Redis stream. The consuming
// pipeline (notifications, invoicing) reads the stream with its own consumer
// group; delivery semantics past the append are its problem.
type RedisEventStream struct {
	client    *redis.Client
	streamKey string
	maxLen    int64
	logger    *zap.Logger
}

// NewRedisEventStream creates an event stream on a shared Redis client.
func NewRedisEventStream(client *redis.Client, streamKey string, maxLen int64, logger *zap.Logger) *RedisEventStream {
	if streamKey == "" {
		streamKey = DefaultEventStreamKey
	}
	return &RedisEventStream{
		client:    client,
		streamKey: streamKey,
		maxLen:    maxLen,
		logger:    logger,
	}
}

// Append adds one status event to the stream
func (s *RedisEventStream) Append(ctx context.Context, event *model.StatusEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal status event: %w", err)
	}

	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.streamKey,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"entity_id":  event.EntityID,
			"new_status": event.NewStatus,
			"payload":    payload,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to append status event: %w", err)
	}

	s.logger.Debug("Appended status event",
		zap.String("tenant_id", event.TenantID),
		zap.String("entity_id", event.EntityID),
		zap.String("new_status", event.NewStatus))

	return nil
}

// Ping checks the Redis connection
func (s *RedisEventStream) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op; the client is owned by the idempotency store
func (s *RedisEventStream) Close() error {
	return nil
}
