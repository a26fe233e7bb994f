package memory

import (
	"context"
	"sync"

	"TradeCore/internal/domain/models"
	"TradeCore/internal/domain/repository"
)

var (
	_ repository.EventPublisher = (*Events)(nil)
	_ repository.AlertSink      = (*Events)(nil)
)

// Events records published events in memory. It stands in for the event
// stream when Kafka is disabled.
type Events struct {
	mu          sync.Mutex
	updates     int
	patterns    []models.PatternEvent
	decisions   []models.AuditRecord
	transitions []models.PositionTransition
	alerts      []models.Alert
	limit       int
}

// NewEvents keeps at most limit events of each kind (0 keeps everything).
func NewEvents(limit int) *Events { return &Events{limit: limit} }

func keep[T any](s []T, limit int) []T {
	if limit > 0 && len(s) > limit {
		return s[len(s)-limit:]
	}
	return s
}

func (e *Events) PublishPriceUpdate(context.Context, models.PriceUpdate) error {
	e.mu.Lock()
	e.updates++
	e.mu.Unlock()
	return nil
}

func (e *Events) PublishPattern(_ context.Context, ev models.PatternEvent) error {
	e.mu.Lock()
	e.patterns = keep(append(e.patterns, ev), e.limit)
	e.mu.Unlock()
	return nil
}

func (e *Events) PublishDecision(_ context.Context, rec models.AuditRecord) error {
	e.mu.Lock()
	e.decisions = keep(append(e.decisions, rec), e.limit)
	e.mu.Unlock()
	return nil
}

func (e *Events) PublishTransition(_ context.Context, t models.PositionTransition) error {
	e.mu.Lock()
	e.transitions = keep(append(e.transitions, t), e.limit)
	e.mu.Unlock()
	return nil
}

func (e *Events) PublishAlert(_ context.Context, a models.Alert) error {
	e.mu.Lock()
	e.alerts = keep(append(e.alerts, a), e.limit)
	e.mu.Unlock()
	return nil
}

func (e *Events) Raise(ctx context.Context, a models.Alert) error { return e.PublishAlert(ctx, a) }

func (e *Events) Alerts() []models.Alert {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.Alert(nil), e.alerts...)
}

func (e *Events) Decisions() []models.AuditRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.AuditRecord(nil), e.decisions...)
}

func (e *Events) Patterns() []models.PatternEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.PatternEvent(nil), e.patterns...)
}

func (e *Events) Transitions() []models.PositionTransition {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.PositionTransition(nil), e.transitions...)
}

func (e *Events) PriceUpdates() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.updates
}
