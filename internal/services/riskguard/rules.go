package riskguard

import (
	"TradeCore/internal/domain/models"
)

// priceEpsilon absorbs float error when a price lands exactly on a threshold.
const priceEpsilon = 1e-9

type ExitKind int

const (
	ExitFull ExitKind = iota
	ExitPartial
	ExitEmergency
)

// Exit is one action the guard wants executed for a position.
type Exit struct {
	Kind     ExitKind
	Reason   models.CloseReason
	Tier     int
	Quantity float64
	Price    float64
	Detail   string
}

func atOrBelow(price, threshold float64) bool {
	return price <= threshold*(1+priceEpsilon)
}

// Evaluate applies the guard's thresholds to p at price. It updates the
// high-water mark, state and fired flags in place and returns the exits to
// execute together with the transitions it caused. Thresholds are checked in
// severity order; a full exit stops evaluation. A FOMO spike on a position in
// profit takes a partial ahead of the take-profit tiers.
func Evaluate(p *models.Position, price float64, ev models.PatternEvent, cfg models.RiskConfig) ([]Exit, []models.TransitionKind) {
	if !p.IsOpen() || p.Quantity <= 0 || price <= 0 {
		return nil, nil
	}
	var transitions []models.TransitionKind
	if p.RaiseHighest(price) {
		transitions = append(transitions, models.TransitionUpdated)
	}
	pnl := p.PnLPct(price)

	if !p.Fired.Emergency {
		rug := ev.Token == p.Token && ev.Kind == models.PatternRugPull
		if rug || atOrBelow(price, p.EntryPrice*(1+cfg.EmergencyExitThreshold)) {
			p.Fired.Emergency = true
			reason, detail := models.ReasonEmergency, "price below emergency threshold"
			if rug {
				reason, detail = models.ReasonRugPull, "rug pull detected"
			}
			transitions = append(transitions, models.TransitionUpdated)
			return []Exit{{Kind: ExitEmergency, Reason: reason, Quantity: p.Quantity, Price: price, Detail: detail}}, dedupe(transitions)
		}
	}

	if !p.Fired.StopLoss && atOrBelow(price, p.EntryPrice*(1-cfg.StopLossPct)) {
		p.Fired.StopLoss = true
		transitions = append(transitions, models.TransitionUpdated)
		return []Exit{{Kind: ExitFull, Reason: models.ReasonStopLoss, Quantity: p.Quantity, Price: price, Detail: "stop loss hit"}}, dedupe(transitions)
	}

	if p.State == models.PositionOpen && pnl >= cfg.TrailingActivationPct {
		p.State = models.PositionTrailingActive
		transitions = append(transitions, models.TransitionTrailingActive)
	}
	if p.State == models.PositionTrailingActive && !p.Fired.Trailing &&
		atOrBelow(price, p.HighestPrice*(1-cfg.TrailingStopPct)) {
		p.Fired.Trailing = true
		transitions = append(transitions, models.TransitionUpdated)
		return []Exit{{Kind: ExitFull, Reason: models.ReasonTrailingStop, Quantity: p.Quantity, Price: price, Detail: "trailing stop hit"}}, dedupe(transitions)
	}

	var exits []Exit
	remaining := p.Quantity
	if !p.Fired.FomoProfit && ev.Token == p.Token && ev.Kind == models.PatternFomoSpike && pnl > cfg.FomoProfitPct {
		p.Fired.FomoProfit = true
		q := remaining * cfg.FomoProfitFraction
		remaining -= q
		exits = append(exits, Exit{Kind: ExitPartial, Reason: models.ReasonFomoProfit, Quantity: q, Price: price, Detail: "fomo spike profit take"})
	}
	for i, level := range cfg.TakeProfitLevels {
		if p.Fired.TierFired(i) || pnl < level {
			continue
		}
		p.Fired.MarkTier(i)
		q := remaining * cfg.TakeProfitFraction
		remaining -= q
		exits = append(exits, Exit{Kind: ExitPartial, Reason: models.ReasonTakeProfit, Tier: i, Quantity: q, Price: price, Detail: "take profit tier"})
	}
	if len(exits) > 0 {
		transitions = append(transitions, models.TransitionUpdated)
	}
	return exits, dedupe(transitions)
}

func dedupe(ks []models.TransitionKind) []models.TransitionKind {
	if len(ks) < 2 {
		return ks
	}
	seen := make(map[models.TransitionKind]bool, len(ks))
	out := ks[:0]
	for _, k := range ks {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}
