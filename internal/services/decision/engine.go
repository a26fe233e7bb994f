package decision

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"TradeCore/internal/domain/models"
)

type Config struct {
	BuyThreshold       float64 `yaml:"buy_threshold" default:"0.55" validate:"gt=0,lte=1"`
	SellThreshold      float64 `yaml:"sell_threshold" default:"0.55" validate:"gt=0,lte=1"`
	ExecutionThreshold float64 `yaml:"execution_threshold" default:"0.7" validate:"gt=0,lte=1"`

	SentimentBullAbove   float64 `yaml:"sentiment_bull_above" default:"0.3"`
	SentimentBullBonus   float64 `yaml:"sentiment_bull_bonus" default:"0.10"`
	SentimentBearBelow   float64 `yaml:"sentiment_bear_below" default:"-0.3"`
	SentimentBearPenalty float64 `yaml:"sentiment_bear_penalty" default:"0.20"`
	EarlyStageBonus      float64 `yaml:"early_stage_bonus" default:"0.05"`
	LateStagePenalty     float64 `yaml:"late_stage_penalty" default:"0.15"`
	RugRiskAbove         float64 `yaml:"rug_risk_above" default:"0.5"`
	RugRiskWeight        float64 `yaml:"rug_risk_weight" default:"0.3"`
	MaxEntryRugRisk      float64 `yaml:"max_entry_rug_risk" default:"0.7"`
}

func DefaultConfig() Config {
	return Config{
		BuyThreshold:         0.55,
		SellThreshold:        0.55,
		ExecutionThreshold:   0.7,
		SentimentBullAbove:   0.3,
		SentimentBullBonus:   0.10,
		SentimentBearBelow:   -0.3,
		SentimentBearPenalty: 0.20,
		EarlyStageBonus:      0.05,
		LateStagePenalty:     0.15,
		RugRiskAbove:         0.5,
		RugRiskWeight:        0.3,
		MaxEntryRugRisk:      0.7,
	}
}

// Input is everything one decision is made from.
type Input struct {
	UserID   string
	Token    string
	Pattern  models.PatternEvent
	Signals  models.SignalSnapshot
	Position *models.Position
	Risk     models.RiskConfig
	Price    float64
	Now      time.Time

	// EntriesToday counts the user's filled buys since UTC midnight.
	EntriesToday int
}

type Engine struct {
	cfg Config
}

func New(cfg Config) *Engine { return &Engine{cfg: cfg} }

func (e *Engine) Config() Config { return e.cfg }

// Decide fuses the pattern with the advisory signals. The pattern's bias
// gives the direction; adjustments move the score toward bullish (positive)
// or bearish (negative) and never flip it. Decision.Confidence is the
// magnitude of the adjusted score.
func (e *Engine) Decide(in Input) models.Decision {
	ev := in.Pattern
	sig := in.Signals
	var reasons []string

	dir := float64(ev.Bias)
	score := dir * ev.Confidence
	reasons = append(reasons, fmt.Sprintf("pattern %s %s confidence=%.2f", ev.Kind, ev.Bias, ev.Confidence))

	if dir != 0 {
		switch s := sig.Sentiment.Score; {
		case !sig.Sentiment.Fresh:
			reasons = append(reasons, "sentiment stale, neutral")
		case s > e.cfg.SentimentBullAbove:
			score += e.cfg.SentimentBullBonus
			reasons = append(reasons, fmt.Sprintf("sentiment %.2f +%.2f", s, e.cfg.SentimentBullBonus))
		case s < e.cfg.SentimentBearBelow:
			score -= e.cfg.SentimentBearPenalty
			reasons = append(reasons, fmt.Sprintf("sentiment %.2f -%.2f", s, e.cfg.SentimentBearPenalty))
		}

		switch sig.Trend.Stage {
		case models.StageEarly:
			score += e.cfg.EarlyStageBonus
			reasons = append(reasons, fmt.Sprintf("early stage +%.2f", e.cfg.EarlyStageBonus))
		case models.StageLate:
			score -= e.cfg.LateStagePenalty
			reasons = append(reasons, fmt.Sprintf("late stage -%.2f", e.cfg.LateStagePenalty))
		}
		if !sig.Trend.Fresh {
			reasons = append(reasons, "trend stale, unknown stage")
		}

		if r := sig.Trend.RugRisk; r > e.cfg.RugRiskAbove {
			score -= r * e.cfg.RugRiskWeight
			reasons = append(reasons, fmt.Sprintf("rug risk %.2f -%.2f", r, r*e.cfg.RugRiskWeight))
		}
	}

	if dir > 0 {
		score = clamp(score, 0, 1)
	} else if dir < 0 {
		score = clamp(score, -1, 0)
	} else {
		score = 0
	}

	d := models.Decision{
		ID:             uuid.NewString(),
		UserID:         in.UserID,
		Token:          in.Token,
		Action:         models.ActionHold,
		Confidence:     math.Abs(score),
		Score:          score,
		Source:         models.SourcePatternCycle,
		ReferencePrice: in.Price,
		CreatedAt:      in.Now,
		Provenance: models.Provenance{
			Pattern:     &ev,
			Signals:     &sig,
			RuleAllowed: sig.Rule.Fresh && sig.Rule.Allowed,
		},
	}
	if in.Position != nil {
		d.Provenance.RiskState = models.RiskStateOf(*in.Position, in.Price)
	}

	if !d.Provenance.RuleAllowed {
		if sig.Rule.Fresh {
			reasons = append(reasons, "hold: rule denies trading")
		} else {
			reasons = append(reasons, "hold: no fresh rule")
		}
		d.Reasons = reasons
		return d
	}

	switch {
	case score >= e.cfg.BuyThreshold:
		if hold := e.blockEntry(in, ev); hold != "" {
			reasons = append(reasons, "hold: "+hold)
			break
		}
		amount := e.sizing(in) * d.Confidence
		if amount <= 0 {
			reasons = append(reasons, "hold: no deployable capital")
			break
		}
		d.Action = models.ActionBuy
		d.Amount = amount
		reasons = append(reasons, fmt.Sprintf("buy: score %.2f >= %.2f", score, e.cfg.BuyThreshold))

	case score <= -e.cfg.SellThreshold:
		if in.Position == nil || !in.Position.IsOpen() {
			reasons = append(reasons, "hold: bearish but no open position")
			break
		}
		d.Action = models.ActionSell
		d.Quantity = in.Position.Quantity
		d.Amount = in.Position.Quantity * in.Price
		d.Provenance.CloseReason = models.ReasonSignalExit
		reasons = append(reasons, fmt.Sprintf("sell: score %.2f <= -%.2f", score, e.cfg.SellThreshold))

	default:
		reasons = append(reasons, fmt.Sprintf("hold: score %.2f inside thresholds", score))
	}
	d.Reasons = reasons
	return d
}

func (e *Engine) blockEntry(in Input, ev models.PatternEvent) string {
	switch {
	case in.Position != nil && in.Position.IsOpen():
		return "position already open"
	case ev.Flags.DoNotBuy:
		return "pattern flagged do-not-buy"
	case ev.Flags.DoNotChase:
		return "pattern flagged do-not-chase"
	case in.Signals.Trend.RugRisk > e.cfg.MaxEntryRugRisk:
		return fmt.Sprintf("rug risk %.2f above entry limit %.2f", in.Signals.Trend.RugRisk, e.cfg.MaxEntryRugRisk)
	case in.Signals.Rule.MaxDailyTrades > 0 && in.EntriesToday >= in.Signals.Rule.MaxDailyTrades:
		return fmt.Sprintf("daily trade limit %d reached", in.Signals.Rule.MaxDailyTrades)
	}
	return ""
}

// sizing is the capital a full-confidence buy would commit.
func (e *Engine) sizing(in Input) float64 {
	limit := in.Risk.MaxPositionNdollar
	if r := in.Signals.Rule.MaxPositionNdollar; r > 0 && r < limit {
		limit = r
	}
	return math.Max(0, math.Min(limit, in.Risk.DeployableCapital))
}

// ShouldExecute reports whether d clears the execution threshold. Decisions
// that do not are logged only.
func (e *Engine) ShouldExecute(d models.Decision) bool {
	return d.Action != models.ActionHold && d.Confidence >= e.cfg.ExecutionThreshold
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}
