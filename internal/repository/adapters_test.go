package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TradeCore/internal/domain/models"
	"TradeCore/pkg/cache"
)

func TestRedisSignalStoreReadsRawRow(t *testing.T) {
	mc := cache.NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()
	key := models.SignalKey{Kind: models.SignalRule, Token: "PEPE", UserID: "u1"}
	row := `{"schema_version":1,"kind":"rule","token":"PEPE","user_id":"u1","payload":{"allowed":true,"rule_hash":"h1"}}`
	require.NoError(t, mc.Set(ctx, "signal:rule:u1:PEPE", row, time.Minute))

	raw, err := NewRedisSignalStore(mc).Read(ctx, key)
	require.NoError(t, err)
	assert.JSONEq(t, row, string(raw))
}

func TestRedisSignalStoreMissingIsStale(t *testing.T) {
	mc := cache.NewMemoryCache()
	defer mc.Close()

	_, err := NewRedisSignalStore(mc).Read(context.Background(),
		models.SignalKey{Kind: models.SignalSentiment, Token: "PEPE"})
	assert.ErrorIs(t, err, models.ErrSignalStale)
}

type recordingQueue struct {
	msgType string
	payload interface{}
	err     error
}

func (q *recordingQueue) PublishMessage(_ context.Context, msgType string, payload interface{}) error {
	q.msgType, q.payload = msgType, payload
	return q.err
}

func TestQueueAlertSinkEnqueuesAlert(t *testing.T) {
	q := &recordingQueue{}
	a := models.Alert{Kind: "exit_failed", Severity: models.SeverityCritical, UserID: "u1", Token: "PEPE"}

	require.NoError(t, NewQueueAlertSink(q).Raise(context.Background(), a))
	assert.Equal(t, "alert", q.msgType)
	assert.Equal(t, a, q.payload)
}

func TestQueueAlertSinkWrapsError(t *testing.T) {
	boom := errors.New("redis down")
	err := NewQueueAlertSink(&recordingQueue{err: boom}).Raise(context.Background(), models.Alert{Kind: "x"})
	assert.ErrorIs(t, err, boom)
}
