package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TradeCore/internal/domain/models"
	"TradeCore/pkg/logger"
)

func sell(qty, price float64) models.Decision {
	return models.Decision{ID: "d1", UserID: "u1", Token: "PEPE", Action: models.ActionSell,
		Quantity: qty, ReferencePrice: price, Source: models.SourceEmergency}
}

func TestSubmitSendsMicroUnits(t *testing.T) {
	var got orderRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/orders", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(orderResponse{Status: "filled", TxHash: "0xabc", FillPrice: 0.44, FillQuantity: 12.5})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Token: "secret", Timeout: time.Second}, logger.Nop())
	res, err := c.Submit(context.Background(), sell(12.5, 0.45), 0.10)
	require.NoError(t, err)

	assert.True(t, res.Filled)
	assert.Equal(t, "0xabc", res.TxHash)
	assert.Equal(t, "12500000", got.Quantity)
	assert.Equal(t, "5062500", got.MinOut)
	assert.Equal(t, int64(1000), got.SlippageBps)
	assert.Equal(t, "sell", got.Side)
}

func TestSubmitRejectedIsExecutionFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(orderResponse{Status: "rejected", Error: "slippage exceeded"})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL}, logger.Nop())
	res, err := c.Submit(context.Background(), sell(1, 1), 0.03)
	assert.ErrorIs(t, err, models.ErrExecutionFailure)
	assert.False(t, res.Filled)
	assert.Equal(t, "slippage exceeded", res.Error)
}

func TestSubmitServerErrorIsExecutionFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL}, logger.Nop())
	_, err := c.Submit(context.Background(), sell(1, 1), 0.03)
	assert.ErrorIs(t, err, models.ErrExecutionFailure)
}

func TestDryRunSimulatesFill(t *testing.T) {
	c := NewClient(Config{DryRun: true}, logger.Nop())
	buy := models.Decision{ID: "d2", Action: models.ActionBuy, Amount: 65, ReferencePrice: 1.30}
	res, err := c.Submit(context.Background(), buy, 0.03)
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	assert.InDelta(t, 50, res.FillQuantity, 1e-9)
	assert.Contains(t, res.TxHash, "DRY-RUN-")
}

func TestHoldCannotBeSubmitted(t *testing.T) {
	c := NewClient(Config{DryRun: true}, logger.Nop())
	_, err := c.Submit(context.Background(), models.Decision{Action: models.ActionHold}, 0.03)
	assert.ErrorIs(t, err, models.ErrExecutionFailure)
}

func TestToMicro(t *testing.T) {
	assert.Equal(t, "65000000", ToMicro(65))
	assert.Equal(t, "1", ToMicro(0.0000019))
}
