package riskguard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TradeCore/internal/domain/models"
)

func openPosition() models.Position {
	return models.Position{
		UserID: "u1", Token: "PEPE", EntryPrice: 1.00, Quantity: 100, InitialQuantity: 100,
		OpenedAt: time.Unix(1_700_000_000, 0), HighestPrice: 1.00, State: models.PositionOpen,
	}
}

var none = models.PatternEvent{Token: "PEPE", Kind: models.PatternNone}

func TestStopLossFiresExactlyOnce(t *testing.T) {
	p := openPosition()
	cfg := models.DefaultRiskConfig()

	exits, _ := Evaluate(&p, 0.95, none, cfg)
	assert.Empty(t, exits)

	exits, _ = Evaluate(&p, 0.89, none, cfg)
	require.Len(t, exits, 1)
	assert.Equal(t, models.ReasonStopLoss, exits[0].Reason)
	assert.Equal(t, ExitFull, exits[0].Kind)
	assert.Equal(t, 100.0, exits[0].Quantity)

	for _, price := range []float64{0.88, 0.85, 0.80} {
		exits, _ = Evaluate(&p, price, none, cfg)
		assert.Empty(t, exits, "price %v", price)
	}
}

func TestTrailingStopScenario(t *testing.T) {
	p := openPosition()
	cfg := models.DefaultRiskConfig()
	cfg.TakeProfitLevels = nil

	_, tr := Evaluate(&p, 1.06, none, cfg)
	assert.Equal(t, models.PositionTrailingActive, p.State)
	assert.Contains(t, tr, models.TransitionTrailingActive)

	for _, price := range []float64{1.10, 1.20, 1.15, 1.11} {
		exits, _ := Evaluate(&p, price, none, cfg)
		assert.Empty(t, exits, "price %v", price)
	}
	assert.Equal(t, 1.20, p.HighestPrice)

	exits, _ := Evaluate(&p, 1.104, none, cfg)
	require.Len(t, exits, 1)
	assert.Equal(t, models.ReasonTrailingStop, exits[0].Reason)

	exits, _ = Evaluate(&p, 1.10, none, cfg)
	assert.Empty(t, exits)
}

func TestTrailingNotActiveBelowActivation(t *testing.T) {
	p := openPosition()
	cfg := models.DefaultRiskConfig()
	_, _ = Evaluate(&p, 1.04, none, cfg)
	assert.Equal(t, models.PositionOpen, p.State)
	exits, _ := Evaluate(&p, 0.95, none, cfg)
	assert.Empty(t, exits)
}

func TestHighestNeverDecreases(t *testing.T) {
	p := openPosition()
	cfg := models.DefaultRiskConfig()
	prev := p.HighestPrice
	for _, price := range []float64{1.01, 1.03, 0.99, 1.02, 1.04, 0.97} {
		_, _ = Evaluate(&p, price, none, cfg)
		assert.GreaterOrEqual(t, p.HighestPrice, prev)
		prev = p.HighestPrice
	}
	assert.Equal(t, 1.04, p.HighestPrice)
}

func TestPartialTakeProfitTiers(t *testing.T) {
	p := openPosition()
	cfg := models.DefaultRiskConfig()
	cfg.TrailingStopPct = 0.5

	exits, _ := Evaluate(&p, 1.16, none, cfg)
	require.Len(t, exits, 1)
	assert.Equal(t, 0, exits[0].Tier)
	assert.InDelta(t, 25, exits[0].Quantity, 1e-9)

	// same tier never fires twice
	exits, _ = Evaluate(&p, 1.17, none, cfg)
	assert.Empty(t, exits)

	// a jump past two tiers fires both, each on the remaining quantity
	p.Quantity = 75
	exits, _ = Evaluate(&p, 1.55, none, cfg)
	require.Len(t, exits, 2)
	assert.Equal(t, 1, exits[0].Tier)
	assert.Equal(t, 2, exits[1].Tier)
	assert.InDelta(t, 18.75, exits[0].Quantity, 1e-9)
	assert.InDelta(t, 14.0625, exits[1].Quantity, 1e-9)
}

func TestRugPullTriggersEmergencyOnce(t *testing.T) {
	p := openPosition()
	cfg := models.DefaultRiskConfig()
	rug := models.PatternEvent{Token: "PEPE", Kind: models.PatternRugPull}

	exits, _ := Evaluate(&p, 0.95, rug, cfg)
	require.Len(t, exits, 1)
	assert.Equal(t, ExitEmergency, exits[0].Kind)
	assert.Equal(t, models.ReasonRugPull, exits[0].Reason)

	exits, _ = Evaluate(&p, 0.60, rug, cfg)
	// emergency already fired; the stop loss is the next line of defence
	require.Len(t, exits, 1)
	assert.Equal(t, models.ReasonStopLoss, exits[0].Reason)
}

func TestEmergencyThresholdBeatsStopLoss(t *testing.T) {
	p := openPosition()
	exits, _ := Evaluate(&p, 0.69, none, models.DefaultRiskConfig())
	require.Len(t, exits, 1)
	assert.Equal(t, ExitEmergency, exits[0].Kind)
	assert.Equal(t, models.ReasonEmergency, exits[0].Reason)
	assert.False(t, p.Fired.StopLoss)
}

func TestClosedPositionIgnored(t *testing.T) {
	p := openPosition()
	p.State = models.PositionClosed
	exits, tr := Evaluate(&p, 0.1, none, models.DefaultRiskConfig())
	assert.Empty(t, exits)
	assert.Empty(t, tr)
}

func TestFomoSpikeTakesHalfOnceInProfit(t *testing.T) {
	p := openPosition()
	cfg := models.DefaultRiskConfig()
	cfg.TakeProfitLevels = nil
	cfg.TrailingActivationPct = 1
	fomo := models.PatternEvent{Token: "PEPE", Kind: models.PatternFomoSpike}

	exits, _ := Evaluate(&p, 1.15, fomo, cfg)
	assert.Empty(t, exits, "below the profit threshold")

	exits, tr := Evaluate(&p, 1.25, fomo, cfg)
	require.Len(t, exits, 1)
	assert.Equal(t, ExitPartial, exits[0].Kind)
	assert.Equal(t, models.ReasonFomoProfit, exits[0].Reason)
	assert.InDelta(t, 50.0, exits[0].Quantity, 1e-9)
	assert.True(t, p.Fired.FomoProfit)
	assert.Contains(t, tr, models.TransitionUpdated)

	exits, _ = Evaluate(&p, 1.30, fomo, cfg)
	assert.Empty(t, exits)
}

func TestFomoSpikeIgnoredForOtherTokenOrLoss(t *testing.T) {
	cfg := models.DefaultRiskConfig()
	cfg.TakeProfitLevels = nil
	cfg.TrailingActivationPct = 1

	p := openPosition()
	exits, _ := Evaluate(&p, 1.25, models.PatternEvent{Token: "DOGE", Kind: models.PatternFomoSpike}, cfg)
	assert.Empty(t, exits)
	assert.False(t, p.Fired.FomoProfit)

	p = openPosition()
	exits, _ = Evaluate(&p, 0.95, models.PatternEvent{Token: "PEPE", Kind: models.PatternFomoSpike}, cfg)
	assert.Empty(t, exits)
}

func TestFomoSpikeRunsBeforeTiers(t *testing.T) {
	p := openPosition()
	cfg := models.DefaultRiskConfig()
	cfg.TrailingActivationPct = 1
	fomo := models.PatternEvent{Token: "PEPE", Kind: models.PatternFomoSpike}

	exits, _ := Evaluate(&p, 1.25, fomo, cfg)
	require.Len(t, exits, 2)
	assert.Equal(t, models.ReasonFomoProfit, exits[0].Reason)
	assert.InDelta(t, 50.0, exits[0].Quantity, 1e-9)
	assert.Equal(t, models.ReasonTakeProfit, exits[1].Reason)
	assert.InDelta(t, 12.5, exits[1].Quantity, 1e-9)
}
