package models

import (
	"fmt"
	"time"
)

type PositionState string

const (
	PositionOpen           PositionState = "OPEN"
	PositionTrailingActive PositionState = "TRAILING_ACTIVE"
	PositionClosed         PositionState = "CLOSED"
	PositionExitFailed     PositionState = "EXIT_FAILED"
)

type CloseReason string

const (
	ReasonStopLoss     CloseReason = "stop_loss"
	ReasonTrailingStop CloseReason = "trailing_stop"
	ReasonTakeProfit   CloseReason = "take_profit"
	ReasonFomoProfit   CloseReason = "fomo_take_profit"
	ReasonEmergency    CloseReason = "emergency"
	ReasonRugPull      CloseReason = "rug_pull"
	ReasonSignalExit   CloseReason = "signal_exit"
)

// FiredFlags record which thresholds already fired for a position.
type FiredFlags struct {
	StopLoss   bool `json:"stop_loss"`
	Trailing   bool `json:"trailing"`
	Emergency  bool `json:"emergency"`
	FomoProfit bool `json:"fomo_profit"`
	// TakeProfit is a bitmask indexed by take-profit tier.
	TakeProfit uint32 `json:"take_profit"`
}

func (f FiredFlags) TierFired(i int) bool { return f.TakeProfit&(1<<uint(i)) != 0 }

func (f *FiredFlags) MarkTier(i int) { f.TakeProfit |= 1 << uint(i) }

// Position is the authoritative holding of one user in one token.
type Position struct {
	UserID          string        `json:"user_id"`
	Token           string        `json:"token"`
	EntryPrice      float64       `json:"entry_price"`
	Quantity        float64       `json:"quantity"`
	InitialQuantity float64       `json:"initial_quantity"`
	OpenedAt        time.Time     `json:"opened_at"`
	HighestPrice    float64       `json:"highest_price_since_entry"`
	State           PositionState `json:"state"`
	CloseReason     CloseReason   `json:"close_reason,omitempty"`
	ClosedAt        time.Time     `json:"closed_at,omitempty"`
	Fired           FiredFlags    `json:"fired"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

func (p Position) Key() PositionKey { return PositionKey{UserID: p.UserID, Token: p.Token} }

// IsOpen reports whether the position still holds quantity under risk management.
func (p Position) IsOpen() bool {
	return p.State == PositionOpen || p.State == PositionTrailingActive
}

// PnLPct is the unrealised return at price relative to entry.
func (p Position) PnLPct(price float64) float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	return price/p.EntryPrice - 1
}

// RaiseHighest moves the high-water mark up, never down.
func (p *Position) RaiseHighest(price float64) bool {
	if price > p.HighestPrice {
		p.HighestPrice = price
		return true
	}
	return false
}

type PositionKey struct {
	UserID string
	Token  string
}

func (k PositionKey) String() string { return k.UserID + "/" + k.Token }

type TransitionKind string

const (
	TransitionOpened         TransitionKind = "opened"
	TransitionPartial        TransitionKind = "partial"
	TransitionTrailingActive TransitionKind = "trailing_active"
	TransitionClosed         TransitionKind = "closed"
	TransitionExitFailed     TransitionKind = "exit_failed"
	TransitionUpdated        TransitionKind = "updated"
)

// PositionTransition is written back to the position store.
type PositionTransition struct {
	Kind     TransitionKind `json:"kind"`
	Position Position       `json:"position"`
	Reason   string         `json:"reason,omitempty"`
	At       time.Time      `json:"at"`
}

// RiskConfig holds the per-user risk thresholds.
type RiskConfig struct {
	UserID                 string    `json:"user_id" yaml:"-"`
	StopLossPct            float64   `json:"stop_loss_pct" yaml:"stop_loss_pct" default:"0.10"`
	TrailingStopPct        float64   `json:"trailing_stop_pct" yaml:"trailing_stop_pct" default:"0.08"`
	TrailingActivationPct  float64   `json:"trailing_activation_pct" yaml:"trailing_activation_pct" default:"0.05"`
	TakeProfitLevels       []float64 `json:"take_profit_levels" yaml:"take_profit_levels" default:"[0.15,0.30,0.50]"`
	TakeProfitFraction     float64   `json:"take_profit_fraction" yaml:"take_profit_fraction" default:"0.25"`
	EmergencyExitThreshold float64   `json:"emergency_exit_threshold" yaml:"emergency_exit_threshold" default:"-0.30"`
	// A FOMO spike on a position up more than FomoProfitPct sells FomoProfitFraction of it.
	FomoProfitPct          float64   `json:"fomo_profit_pct" yaml:"fomo_profit_pct" default:"0.20"`
	FomoProfitFraction     float64   `json:"fomo_profit_fraction" yaml:"fomo_profit_fraction" default:"0.5"`
	MaxPositionNdollar     float64   `json:"max_position_ndollar" yaml:"max_position_ndollar" default:"100"`
	DeployableCapital      float64   `json:"deployable_capital" yaml:"deployable_capital" default:"1000"`
}

func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		StopLossPct:            0.10,
		TrailingStopPct:        0.08,
		TrailingActivationPct:  0.05,
		TakeProfitLevels:       []float64{0.15, 0.30, 0.50},
		TakeProfitFraction:     0.25,
		EmergencyExitThreshold: -0.30,
		FomoProfitPct:          0.20,
		FomoProfitFraction:     0.5,
		MaxPositionNdollar:     100,
		DeployableCapital:      1000,
	}
}

// Validate rejects thresholds that would make the guard misbehave.
func (c RiskConfig) Validate() error {
	bad := func(format string, args ...interface{}) error {
		return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
	}
	switch {
	case c.StopLossPct <= 0 || c.StopLossPct >= 1:
		return bad("stop_loss_pct must be in (0,1), got %v", c.StopLossPct)
	case c.TrailingStopPct <= 0 || c.TrailingStopPct >= 1:
		return bad("trailing_stop_pct must be in (0,1), got %v", c.TrailingStopPct)
	case c.TrailingActivationPct < 0:
		return bad("trailing_activation_pct must be >= 0, got %v", c.TrailingActivationPct)
	case c.TakeProfitFraction <= 0 || c.TakeProfitFraction > 1:
		return bad("take_profit_fraction must be in (0,1], got %v", c.TakeProfitFraction)
	case c.EmergencyExitThreshold >= 0 || c.EmergencyExitThreshold <= -1:
		return bad("emergency_exit_threshold must be in (-1,0), got %v", c.EmergencyExitThreshold)
	case c.FomoProfitPct <= 0:
		return bad("fomo_profit_pct must be > 0, got %v", c.FomoProfitPct)
	case c.FomoProfitFraction <= 0 || c.FomoProfitFraction > 1:
		return bad("fomo_profit_fraction must be in (0,1], got %v", c.FomoProfitFraction)
	case c.MaxPositionNdollar <= 0:
		return bad("max_position_ndollar must be > 0, got %v", c.MaxPositionNdollar)
	case c.DeployableCapital < 0:
		return bad("deployable_capital must be >= 0, got %v", c.DeployableCapital)
	case len(c.TakeProfitLevels) > 32:
		return bad("at most 32 take_profit_levels are supported")
	}
	prev := 0.0
	for i, lvl := range c.TakeProfitLevels {
		if lvl <= prev {
			return bad("take_profit_levels must be positive and strictly increasing (index %d)", i)
		}
		prev = lvl
	}
	return nil
}
