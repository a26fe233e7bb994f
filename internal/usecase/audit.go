package usecase

import (
	"context"
	"time"

	"TradeCore/internal/domain/models"
	"TradeCore/internal/domain/repository"
	"TradeCore/pkg/logger"
)

// Auditor writes one ledger record per decision and publishes it.
type Auditor struct {
	ledger  repository.AuditLedger
	pub     repository.EventPublisher
	metrics repository.Metrics
	log     *logger.Logger
	now     func() time.Time
}

func NewAuditor(ledger repository.AuditLedger, pub repository.EventPublisher, m repository.Metrics, log *logger.Logger) *Auditor {
	return &Auditor{
		ledger:  ledger,
		pub:     pub,
		metrics: m,
		log:     log.With(logger.String("component", "audit")),
		now:     time.Now,
	}
}

// Record stores the decision with its outcome. Ledger failures are logged;
// they never block the trading path.
func (a *Auditor) Record(ctx context.Context, d models.Decision, outcome models.Outcome, res *models.ExecutionResult, err error) models.AuditRecord {
	rec := models.AuditRecord{
		Decision:   d,
		Outcome:    outcome,
		Result:     res,
		RecordedAt: a.now(),
	}
	if err != nil {
		rec.ReasonCode = models.ReasonCode(err)
		rec.Error = err.Error()
	}
	if rs := d.Provenance.RiskState; rs != nil {
		rec.PnLPct = rs.PnLPct
	}

	a.metrics.RecordDecision(d.Action, d.Source, outcome)

	if aerr := a.ledger.Append(ctx, rec); aerr != nil {
		a.metrics.RecordError("audit_append")
		a.log.Error("audit append failed",
			logger.String("decision_id", d.ID), logger.String("outcome", string(outcome)), logger.Error(aerr))
	}
	if a.pub != nil {
		if perr := a.pub.PublishDecision(ctx, rec); perr != nil {
			a.metrics.RecordError("publish_decision")
			a.log.Warn("publish decision failed", logger.String("decision_id", d.ID), logger.Error(perr))
		}
	}
	return rec
}
