package models

import "time"

type PatternKind string

const (
	PatternRugPull       PatternKind = "RUG_PULL"
	PatternFomoSpike     PatternKind = "FOMO_SPIKE"
	PatternMegaPump      PatternKind = "MEGA_PUMP"
	PatternDump          PatternKind = "DUMP"
	PatternMidPump       PatternKind = "MID_PUMP"
	PatternMicroPump     PatternKind = "MICRO_PUMP"
	PatternAccumulation  PatternKind = "ACCUMULATION"
	PatternDistribution  PatternKind = "DISTRIBUTION"
	PatternDeadCatBounce PatternKind = "DEAD_CAT_BOUNCE"
	PatternNone          PatternKind = "NONE"
)

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityNone     Severity = "none"
)

// Bias is the trading direction a pattern argues for.
type Bias int

const (
	BiasBearish Bias = -1
	BiasNeutral Bias = 0
	BiasBullish Bias = 1
)

func (b Bias) String() string {
	switch b {
	case BiasBullish:
		return "bullish"
	case BiasBearish:
		return "bearish"
	default:
		return "neutral"
	}
}

type PatternFlags struct {
	DoNotChase bool `json:"do_not_chase,omitempty"`
	DoNotBuy   bool `json:"do_not_buy,omitempty"`
	ExitBias   bool `json:"exit_bias,omitempty"`
	HighRisk   bool `json:"high_risk,omitempty"`
}

// SuggestedLevels are advisory stop-loss / take-profit distances for a pattern.
type SuggestedLevels struct {
	StopLossPct   float64 `json:"stop_loss_pct"`
	TakeProfitPct float64 `json:"take_profit_pct"`
}

// Window is the slice of history a classification looked at.
type Window struct {
	From     time.Time     `json:"from"`
	To       time.Time     `json:"to"`
	Span     time.Duration `json:"span"`
	Change   float64       `json:"change"`
	Volume   float64       `json:"volume_ratio"`
	Samples  int           `json:"samples"`
	Baseline string        `json:"baseline"`
}

// PatternEvent is the classification of one PriceUpdate.
type PatternEvent struct {
	Token      string          `json:"token"`
	Kind       PatternKind     `json:"pattern_kind"`
	Severity   Severity        `json:"severity"`
	Confidence float64         `json:"confidence"`
	ComputedAt time.Time       `json:"computed_at"`
	Window     Window          `json:"triggering_window"`
	Bias       Bias            `json:"bias"`
	Flags      PatternFlags    `json:"flags"`
	Urgency    float64         `json:"urgency"`
	Levels     SuggestedLevels `json:"suggested_levels"`
}

func (e PatternEvent) IsNone() bool {
	return e.Kind == "" || e.Kind == PatternNone
}
