package repository

import (
	"context"
	"fmt"

	"TradeCore/internal/domain/models"
	"TradeCore/internal/domain/repository"
	"TradeCore/pkg/queue"
)

// alertMessageType must match the job registered for alerts on the consumer side.
const alertMessageType = "alert"

// QueueAlertSink enqueues alerts on the Redis queue so they survive a Kafka
// outage and are forwarded with retries.
type QueueAlertSink struct {
	q queue.QueueService
}

var _ repository.AlertSink = (*QueueAlertSink)(nil)

func NewQueueAlertSink(q queue.QueueService) *QueueAlertSink {
	return &QueueAlertSink{q: q}
}

func (s *QueueAlertSink) Raise(ctx context.Context, a models.Alert) error {
	if err := s.q.PublishMessage(ctx, alertMessageType, a); err != nil {
		return fmt.Errorf("enqueue alert %s: %w", a.Kind, err)
	}
	return nil
}
