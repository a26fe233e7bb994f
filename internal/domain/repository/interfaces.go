package repository

import (
	"context"
	"time"

	"TradeCore/internal/domain/models"
)

// PriceSource returns the current observation for a token.
// Failures wrap models.ErrDataUnavailable (timeout) or models.ErrTokenNotFound.
type PriceSource interface {
	Poll(ctx context.Context, token string) (models.PriceSample, error)
}

// SignalStore is the read-only store advisory producers write to.
// A missing row returns models.ErrSignalStale.
type SignalStore interface {
	Read(ctx context.Context, key models.SignalKey) ([]byte, error)
}

// PositionStore persists positions and per-user risk configuration.
type PositionStore interface {
	// LoadOpen returns open positions and those parked after a failed exit.
	LoadOpen(ctx context.Context) ([]models.Position, error)
	RiskConfig(ctx context.Context, userID string) (models.RiskConfig, error)
	UpdateDeployable(ctx context.Context, userID string, delta float64) error
	SaveTransition(ctx context.Context, t models.PositionTransition) error
}

// ExecutionGateway submits a decision with a slippage tolerance.
type ExecutionGateway interface {
	Submit(ctx context.Context, d models.Decision, slippage float64) (models.ExecutionResult, error)
}

// AuditLedger is append-only.
type AuditLedger interface {
	Append(ctx context.Context, rec models.AuditRecord) error
	Recent(ctx context.Context, q models.AuditQuery) ([]models.AuditRecord, error)
}

// PriceArchive stores accepted samples for later analysis.
type PriceArchive interface {
	StoreBatch(ctx context.Context, samples []models.PriceSample) error
}

// EventPublisher fans internal events out to other services.
type EventPublisher interface {
	PublishPriceUpdate(ctx context.Context, u models.PriceUpdate) error
	PublishPattern(ctx context.Context, e models.PatternEvent) error
	PublishDecision(ctx context.Context, rec models.AuditRecord) error
	PublishTransition(ctx context.Context, t models.PositionTransition) error
	PublishAlert(ctx context.Context, a models.Alert) error
}

// AlertSink raises operator alerts.
type AlertSink interface {
	Raise(ctx context.Context, a models.Alert) error
}

type Metrics interface {
	RecordPoll(token, status string)
	RecordLastPrice(token string, price float64)
	RecordDegraded(token string, degraded bool)
	RecordPattern(token string, kind models.PatternKind)
	RecordDecision(action models.Action, source models.TriggerSource, outcome models.Outcome)
	RecordRiskExit(reason models.CloseReason)
	RecordExecution(source models.TriggerSource, status string, latency time.Duration)
	RecordSignal(kind models.SignalKind, status string)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}
