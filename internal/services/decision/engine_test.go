package decision

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TradeCore/internal/domain/models"
)

var now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func microPump(conf float64) models.PatternEvent {
	return models.PatternEvent{Token: "PEPE", Kind: models.PatternMicroPump, Confidence: conf, Bias: models.BiasBullish}
}

func allowed() models.Rule { return models.Rule{Allowed: true, Fresh: true, RuleHash: "h"} }

func risk(max float64) models.RiskConfig {
	r := models.DefaultRiskConfig()
	r.MaxPositionNdollar = max
	r.DeployableCapital = 1000
	return r
}

func input(ev models.PatternEvent, sig models.SignalSnapshot) Input {
	return Input{UserID: "u1", Token: "PEPE", Pattern: ev, Signals: sig, Risk: risk(100), Price: 1.06, Now: now}
}

func TestScenarioMicroPumpBuy(t *testing.T) {
	e := New(DefaultConfig())
	sig := models.SignalSnapshot{
		Sentiment: models.Sentiment{Score: 0.5, Fresh: true},
		Trend:     models.NeutralTrend(),
		Rule:      allowed(),
	}
	d := e.Decide(input(microPump(0.55), sig))

	assert.Equal(t, models.ActionBuy, d.Action)
	assert.InDelta(t, 0.65, d.Confidence, 1e-9)
	assert.InDelta(t, 65, d.Amount, 1e-9)
	assert.Equal(t, models.SourcePatternCycle, d.Source)
	assert.NotEmpty(t, d.ID)
	require.NotNil(t, d.Provenance.Pattern)
	assert.True(t, d.Provenance.RuleAllowed)
	// below the execution threshold: logged only
	assert.False(t, e.ShouldExecute(d))
}

func TestRuleGateForcesHold(t *testing.T) {
	e := New(DefaultConfig())
	strong := models.PatternEvent{Token: "PEPE", Kind: models.PatternMidPump, Confidence: 1, Bias: models.BiasBullish}
	for name, rule := range map[string]models.Rule{
		"absent": models.DeniedRule(),
		"denied": {Allowed: false, Fresh: true},
	} {
		t.Run(name, func(t *testing.T) {
			sig := models.SignalSnapshot{Sentiment: models.Sentiment{Score: 1, Fresh: true}, Trend: models.Trend{Stage: models.StageEarly, Fresh: true}, Rule: rule}
			d := e.Decide(input(strong, sig))
			assert.Equal(t, models.ActionHold, d.Action)
			assert.False(t, d.Provenance.RuleAllowed)
		})
	}
}

func TestRugRiskAdjustmentAndEntryBlock(t *testing.T) {
	e := New(DefaultConfig())
	sig := models.SignalSnapshot{Trend: models.Trend{Stage: models.StageMid, RugRisk: 0.6, Fresh: true}, Rule: allowed()}
	d := e.Decide(input(microPump(0.9), sig))
	assert.InDelta(t, 0.72, d.Confidence, 1e-9)
	assert.Equal(t, models.ActionBuy, d.Action)

	sig.Trend.RugRisk = 0.8
	d = e.Decide(input(microPump(1.0), sig))
	assert.Equal(t, models.ActionHold, d.Action)
}

func TestConfidenceClampedAndAmountBounded(t *testing.T) {
	e := New(DefaultConfig())
	sig := models.SignalSnapshot{
		Sentiment: models.Sentiment{Score: 0.9, Fresh: true},
		Trend:     models.Trend{Stage: models.StageEarly, Fresh: true},
		Rule:      allowed(),
	}
	d := e.Decide(input(microPump(1.0), sig))
	assert.Equal(t, 1.0, d.Confidence)
	assert.LessOrEqual(t, d.Amount, 100.0)
	assert.True(t, e.ShouldExecute(d))

	// the rule can lower the position cap further
	sig.Rule.MaxPositionNdollar = 40
	d = e.Decide(input(microPump(1.0), sig))
	assert.InDelta(t, 40, d.Amount, 1e-9)
}

func TestBearishPatternSellsOpenPosition(t *testing.T) {
	e := New(DefaultConfig())
	dump := models.PatternEvent{Token: "PEPE", Kind: models.PatternDump, Confidence: 0.8, Bias: models.BiasBearish}
	sig := models.SignalSnapshot{Sentiment: models.NeutralSentiment(), Trend: models.NeutralTrend(), Rule: allowed()}

	in := input(dump, sig)
	d := e.Decide(in)
	assert.Equal(t, models.ActionHold, d.Action, "nothing to sell")

	pos := models.Position{UserID: "u1", Token: "PEPE", EntryPrice: 1, Quantity: 40, State: models.PositionOpen}
	in.Position = &pos
	d = e.Decide(in)
	assert.Equal(t, models.ActionSell, d.Action)
	assert.Equal(t, 40.0, d.Quantity)
	assert.InDelta(t, 0.8, d.Confidence, 1e-9)
	assert.True(t, d.FullClose())
	require.NotNil(t, d.Provenance.RiskState)

	// adjustments never flip a bearish score into a buy
	in.Position = nil
	in.Signals.Sentiment = models.Sentiment{Score: 1, Fresh: true}
	in.Signals.Trend = models.Trend{Stage: models.StageEarly, Fresh: true}
	d = e.Decide(in)
	assert.Equal(t, models.ActionHold, d.Action)
	assert.LessOrEqual(t, d.Score, 0.0)
}

func TestDoNotBuyFlagsAndOpenPosition(t *testing.T) {
	e := New(DefaultConfig())
	sig := models.SignalSnapshot{Rule: allowed()}

	ev := microPump(1.0)
	ev.Flags.DoNotChase = true
	assert.Equal(t, models.ActionHold, e.Decide(input(ev, sig)).Action)

	in := input(microPump(1.0), sig)
	in.Position = &models.Position{UserID: "u1", Token: "PEPE", Quantity: 1, State: models.PositionOpen}
	assert.Equal(t, models.ActionHold, e.Decide(in).Action)
}

func TestDailyTradeLimitBlocksEntry(t *testing.T) {
	e := New(DefaultConfig())
	rule := allowed()
	rule.MaxDailyTrades = 3
	sig := models.SignalSnapshot{Rule: rule}

	in := input(microPump(1.0), sig)
	in.EntriesToday = 2
	assert.Equal(t, models.ActionBuy, e.Decide(in).Action)

	in.EntriesToday = 3
	d := e.Decide(in)
	assert.Equal(t, models.ActionHold, d.Action)
	assert.Contains(t, d.Reasons, "hold: daily trade limit 3 reached")

	// zero means the rule sets no limit
	sig.Rule.MaxDailyTrades = 0
	in = input(microPump(1.0), sig)
	in.EntriesToday = 50
	assert.Equal(t, models.ActionBuy, e.Decide(in).Action)
}

func TestNeutralPatternHolds(t *testing.T) {
	e := New(DefaultConfig())
	ev := models.PatternEvent{Token: "PEPE", Kind: models.PatternFomoSpike, Confidence: 0.9, Bias: models.BiasNeutral}
	d := e.Decide(input(ev, models.SignalSnapshot{Rule: allowed()}))
	assert.Equal(t, models.ActionHold, d.Action)
	assert.Equal(t, 0.0, d.Confidence)
}
