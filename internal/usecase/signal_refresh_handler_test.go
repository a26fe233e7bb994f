package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TradeCore/internal/domain/models"
	"TradeCore/internal/repository/memory"
	"TradeCore/pkg/logger"
	"TradeCore/pkg/metrics"
)

type recordingInvalidator struct{ keys []models.SignalKey }

func (r *recordingInvalidator) Invalidate(key models.SignalKey) { r.keys = append(r.keys, key) }

func TestSignalRefreshInvalidates(t *testing.T) {
	inv := &recordingInvalidator{}
	h := NewSignalRefreshHandler("signals.refreshed", inv, metrics.Nop{}, logger.Nop())
	ctx := context.Background()

	require.NoError(t, h.Handle(ctx, []byte(`{"kind":"sentiment","token":"PEPE","user_id":"ignored"}`)))
	require.NoError(t, h.Handle(ctx, []byte(`{"kind":"rule","token":"PEPE","user_id":"u1"}`)))

	assert.Equal(t, "signals.refreshed", h.Topic())
	assert.Equal(t, []models.SignalKey{
		{Kind: models.SignalSentiment, Token: "PEPE"},
		{Kind: models.SignalRule, Token: "PEPE", UserID: "u1"},
	}, inv.keys)
}

func TestSignalRefreshRejectsMalformed(t *testing.T) {
	inv := &recordingInvalidator{}
	h := NewSignalRefreshHandler("signals.refreshed", inv, metrics.Nop{}, logger.Nop())

	for _, msg := range []string{
		`not json`,
		`{"kind":"gossip","token":"PEPE"}`,
		`{"kind":"trend"}`,
		`{"kind":"rule","token":"PEPE"}`,
	} {
		err := h.Handle(context.Background(), []byte(msg))
		assert.ErrorIs(t, err, models.ErrSignalMalformed, msg)
	}
	assert.Empty(t, inv.keys)
}

func TestAlertJobForwards(t *testing.T) {
	ev := memory.NewEvents(0)
	a := models.Alert{Kind: "exit_failed", Severity: models.SeverityCritical, Token: "PEPE"}

	require.NoError(t, NewAlertJob(ev).Handle(context.Background(), a))
	require.Len(t, ev.Alerts(), 1)
	assert.Equal(t, "exit_failed", ev.Alerts()[0].Kind)

	// queued payloads come back as decoded JSON maps
	raw := map[string]interface{}{"kind": "emergency_exit_failed", "severity": string(models.SeverityCritical)}
	require.NoError(t, NewAlertJob(ev).Handle(context.Background(), raw))
	assert.Equal(t, "emergency_exit_failed", ev.Alerts()[1].Kind)
}

func TestLogBatchJobSeverity(t *testing.T) {
	ev := memory.NewEvents(0)
	now := time.Unix(1_700_000_000, 0).UTC()
	batch := logger.AlertBatch{
		Source:    "logger",
		FlushedAt: now,
		Entries: []logger.AggregatedLogEntry{
			{Level: "error", Message: "gateway down", Count: 3, FirstSeen: now, LastSeen: now},
			{Level: "warn", Message: "slow poll", Count: 1, FirstSeen: now, LastSeen: now},
		},
	}
	require.NoError(t, NewLogBatchJob(ev).Handle(context.Background(), batch))

	alerts := ev.Alerts()
	require.Len(t, alerts, 2)
	assert.Equal(t, "log_error", alerts[0].Kind)
	assert.Equal(t, models.SeverityHigh, alerts[0].Severity)
	assert.Equal(t, "3", alerts[0].Details["count"])
	assert.Equal(t, models.SeverityMedium, alerts[1].Severity)
}
