package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opsline/fieldsync/internal/model"
	"github.com/opsline/fieldsync/internal/store"
	"go.uber.org/zap"
)

// IdempotencyService caches the terminal outcome of every handled operation
// under its client-generated op id. A device retrying a push after a dropped
// response replays the cached outcome instead of reapplying the operation.
// Only terminal outcomes are cached; retriable failures must stay retriable.
type IdempotencyService struct {
	idempotencyStore store.IdempotencyStore
	ttl              time.Duration
	logger           *zap.Logger
}

// NewIdempotencyService creates a new idempotency service
func NewIdempotencyService(
	idempotencyStore store.IdempotencyStore,
	ttl time.Duration,
	logger *zap.Logger,
) *IdempotencyService {
	return &IdempotencyService{
		idempotencyStore: idempotencyStore,
		ttl:              ttl,
		logger:           logger,
	}
}

// Get retrieves a cached operation result, nil when the op id is unseen
func (s *IdempotencyService) Get(ctx context.Context, tenantID, opID string) (*model.OperationResult, error) {
	storeKey := s.buildStoreKey(tenantID, opID)

	data, err := s.idempotencyStore.Get(ctx, storeKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get idempotency response: %w", err)
	}

	var result model.OperationResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached result: %w", err)
	}

	s.logger.Debug("Idempotency hit",
		zap.String("tenant_id", tenantID),
		zap.String("op_id", opID),
		zap.String("status", string(result.Status)))

	return &result, nil
}

// Store caches a terminal operation result under its op id
func (s *IdempotencyService) Store(ctx context.Context, tenantID string, result *model.OperationResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	storeKey := s.buildStoreKey(tenantID, result.OpID)
	if err := s.idempotencyStore.Set(ctx, storeKey, data, s.ttl); err != nil {
		return fmt.Errorf("failed to store idempotency response: %w", err)
	}

	s.logger.Debug("Stored idempotency response",
		zap.String("tenant_id", tenantID),
		zap.String("op_id", result.OpID),
		zap.Duration("ttl", s.ttl))

	return nil
}

// buildStoreKey builds the store key for an operation id
func (s *IdempotencyService) buildStoreKey(tenantID, opID string) string {
	return fmt.Sprintf("idempotency:%s:%s", tenantID, opID)
}
