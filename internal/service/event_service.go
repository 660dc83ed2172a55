package service

import (
	"context"
	"sync"
	"time"

	"github.com/opsline/fieldsync/internal/model"
	"github.com/opsline/fieldsync/internal/store"
	"go.uber.org/zap"
)

// EventService forwards status transitions to the downstream
// notification/invoicing pipeline. Emission is queued and asynchronous so the
// push path never blocks on the stream; the consumer side is required to be
// idempotent on (entity id, new status), so a dropped or repeated event is
// tolerable while a blocked reconciliation is not.
type EventService struct {
	stream  store.EventStream
	queue   chan *model.StatusEvent
	workers int
	logger  *zap.Logger
	wg      sync.WaitGroup
	stopCh  chan struct{}
}

// NewEventService creates an event service and starts its workers
func NewEventService(stream store.EventStream, workers, queueSize int, logger *zap.Logger) *EventService {
	es := &EventService{
		stream:  stream,
		queue:   make(chan *model.StatusEvent, queueSize),
		workers: workers,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}

	for i := 0; i < workers; i++ {
		es.wg.Add(1)
		go es.worker(i)
	}

	return es
}

// EmitStatusChange queues one status-transition event. A full queue drops the
// event with a warning rather than blocking the reconciliation path.
func (s *EventService) EmitStatusChange(entity *model.Entity, oldStatus, newStatus string) {
	event := &model.StatusEvent{
		TenantID:  entity.TenantID,
		EntityID:  entity.ID,
		OldStatus: oldStatus,
		NewStatus: newStatus,
		Clock:     entity.Clock.Clone(),
		EmittedAt: time.Now(),
	}

	select {
	case s.queue <- event:
	default:
		s.logger.Warn("Event queue full, dropping status event",
			zap.String("tenant_id", event.TenantID),
			zap.String("entity_id", event.EntityID),
			zap.String("new_status", event.NewStatus))
	}
}

// QueueSize returns the current depth of the event queue
func (s *EventService) QueueSize() int {
	return len(s.queue)
}

// worker drains the queue onto the stream
func (s *EventService) worker(workerID int) {
	defer s.wg.Done()

	for {
		select {
		case event := <-s.queue:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := s.stream.Append(ctx, event); err != nil {
				s.logger.Error("Failed to append status event",
					zap.Int("worker_id", workerID),
					zap.String("entity_id", event.EntityID),
					zap.String("new_status", event.NewStatus),
					zap.Error(err))
			}
			cancel()
		case <-s.stopCh:
			return
		}
	}
}

// Stop stops the event workers
func (s *EventService) Stop() {
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("Event service stopped")
}
