package models

import (
	"fmt"
	"time"
)

type SignalKind string

const (
	SignalSentiment SignalKind = "sentiment"
	SignalTrend     SignalKind = "trend"
	SignalRule      SignalKind = "rule"
)

func (k SignalKind) Valid() bool {
	switch k {
	case SignalSentiment, SignalTrend, SignalRule:
		return true
	}
	return false
}

// SignalSchemaVersion is the only payload version the core accepts.
const SignalSchemaVersion = 1

type TrendStage string

const (
	StageEarly   TrendStage = "early"
	StageMid     TrendStage = "mid"
	StageLate    TrendStage = "late"
	StageUnknown TrendStage = "unknown"
)

type SentimentPayload struct {
	Score float64 `json:"score"` // [-1, 1]
}

type TrendPayload struct {
	Stage      TrendStage `json:"stage"`
	RugRisk    float64    `json:"rug_risk"` // [0, 1]
	TrendScore float64    `json:"trend_score"`
}

type RulePayload struct {
	Allowed            bool    `json:"allowed"`
	MaxPositionNdollar float64 `json:"max_position_ndollar,omitempty"`
	MaxDailyTrades     int     `json:"max_daily_trades,omitempty"`
	RuleHash           string  `json:"rule_hash"`
}

// AgentSignal is a tagged variant: exactly one payload pointer matches Kind.
type AgentSignal struct {
	SchemaVersion int        `json:"schema_version"`
	Kind          SignalKind `json:"kind"`
	Token         string     `json:"token"`
	UserID        string     `json:"user_id,omitempty"`
	Confidence    float64    `json:"confidence"`
	IssuedAt      time.Time  `json:"issued_at"`
	Source        string     `json:"source"`

	Sentiment *SentimentPayload `json:"-"`
	Trend     *TrendPayload     `json:"-"`
	Rule      *RulePayload      `json:"-"`
}

func (s AgentSignal) Key() SignalKey {
	return SignalKey{Kind: s.Kind, Token: s.Token, UserID: s.UserID}
}

// Age is measured from issue time, not from when the core read the signal.
func (s AgentSignal) Age(now time.Time) time.Duration {
	return now.Sub(s.IssuedAt)
}

// SignalKey addresses one signal row. UserID is set for rule signals only.
type SignalKey struct {
	Kind   SignalKind
	Token  string
	UserID string
}

func (k SignalKey) String() string {
	if k.Kind == SignalRule {
		return fmt.Sprintf("signal:%s:%s:%s", k.Kind, k.UserID, k.Token)
	}
	return fmt.Sprintf("signal:%s:%s", k.Kind, k.Token)
}

// Typed provider results. Fresh=false means the neutral fallback was used.

type Sentiment struct {
	Score      float64   `json:"score"`
	Confidence float64   `json:"confidence"`
	IssuedAt   time.Time `json:"issued_at,omitempty"`
	Source     string    `json:"source,omitempty"`
	Fresh      bool      `json:"fresh"`
}

type Trend struct {
	Stage      TrendStage `json:"stage"`
	RugRisk    float64    `json:"rug_risk"`
	TrendScore float64    `json:"trend_score"`
	Confidence float64    `json:"confidence"`
	IssuedAt   time.Time  `json:"issued_at,omitempty"`
	Source     string     `json:"source,omitempty"`
	Fresh      bool       `json:"fresh"`
}

type Rule struct {
	Allowed            bool      `json:"allowed"`
	MaxPositionNdollar float64   `json:"max_position_ndollar,omitempty"`
	MaxDailyTrades     int       `json:"max_daily_trades,omitempty"`
	RuleHash           string    `json:"rule_hash,omitempty"`
	IssuedAt           time.Time `json:"issued_at,omitempty"`
	Source             string    `json:"source,omitempty"`
	Fresh              bool      `json:"fresh"`
}

func NeutralSentiment() Sentiment { return Sentiment{} }

func NeutralTrend() Trend { return Trend{Stage: StageUnknown} }

// DeniedRule is the fail-closed permission fallback.
func DeniedRule() Rule { return Rule{Allowed: false} }

// SignalSnapshot is what the decision engine saw for one (user, token).
type SignalSnapshot struct {
	Sentiment Sentiment `json:"sentiment"`
	Trend     Trend     `json:"trend"`
	Rule      Rule      `json:"rule"`
}
