package usecase

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"TradeCore/internal/domain/models"
	domrepo "TradeCore/internal/domain/repository"
	"TradeCore/pkg/logger"
	"TradeCore/pkg/queue"
)

// Queue message types.
const (
	AlertMessageType    = "alert"
	LogBatchMessageType = "log_batch"
)

// AlertJob forwards queued operator alerts to the event stream.
type AlertJob struct {
	pub domrepo.EventPublisher
}

func NewAlertJob(pub domrepo.EventPublisher) *AlertJob { return &AlertJob{pub: pub} }

func (j *AlertJob) Name() string { return "alert_forwarder" }
func (j *AlertJob) Type() string { return AlertMessageType }

func (j *AlertJob) Handle(ctx context.Context, payload interface{}) error {
	a, err := queue.ParsePayload[models.Alert](payload)
	if err != nil {
		return err
	}
	if err := j.pub.PublishAlert(ctx, *a); err != nil {
		return fmt.Errorf("forward alert %s: %w", a.Kind, err)
	}
	return nil
}

// LogBatchJob turns aggregated error logs into alerts.
type LogBatchJob struct {
	pub domrepo.EventPublisher
}

func NewLogBatchJob(pub domrepo.EventPublisher) *LogBatchJob { return &LogBatchJob{pub: pub} }

func (j *LogBatchJob) Name() string { return "log_batch_forwarder" }
func (j *LogBatchJob) Type() string { return LogBatchMessageType }

func (j *LogBatchJob) Handle(ctx context.Context, payload interface{}) error {
	batch, err := queue.ParsePayload[logger.AlertBatch](payload)
	if err != nil {
		return err
	}
	for _, e := range batch.Entries {
		sev := models.SeverityMedium
		if e.Level == "error" {
			sev = models.SeverityHigh
		}
		a := models.Alert{
			Kind:     "log_" + e.Level,
			Severity: sev,
			Message:  e.Message,
			Details: map[string]string{
				"source":     batch.Source,
				"caller":     e.Caller,
				"count":      strconv.Itoa(e.Count),
				"first_seen": e.FirstSeen.Format(time.RFC3339),
				"last_seen":  e.LastSeen.Format(time.RFC3339),
			},
			RaisedAt: batch.FlushedAt,
		}
		if err := j.pub.PublishAlert(ctx, a); err != nil {
			return fmt.Errorf("forward log batch: %w", err)
		}
	}
	return nil
}

var (
	_ queue.Job = (*AlertJob)(nil)
	_ queue.Job = (*LogBatchJob)(nil)
)
