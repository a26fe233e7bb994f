package models

import "time"

type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
	ActionHold Action = "hold"
)

type TriggerSource string

const (
	SourcePatternCycle TriggerSource = "pattern_cycle"
	SourceRiskGuard    TriggerSource = "risk_guard"
	SourceEmergency    TriggerSource = "emergency"
)

// RiskState is the position snapshot recorded with a decision.
type RiskState struct {
	State        PositionState `json:"state"`
	EntryPrice   float64       `json:"entry_price"`
	HighestPrice float64       `json:"highest_price"`
	Quantity     float64       `json:"quantity"`
	PnLPct       float64       `json:"pnl_pct"`
	Fired        FiredFlags    `json:"fired"`
}

func RiskStateOf(p Position, price float64) *RiskState {
	return &RiskState{
		State:        p.State,
		EntryPrice:   p.EntryPrice,
		HighestPrice: p.HighestPrice,
		Quantity:     p.Quantity,
		PnLPct:       p.PnLPct(price),
		Fired:        p.Fired,
	}
}

// Provenance is everything that produced a decision.
type Provenance struct {
	Pattern     *PatternEvent   `json:"pattern,omitempty"`
	Signals     *SignalSnapshot `json:"signals,omitempty"`
	RuleAllowed bool            `json:"rule_allowed"`
	RiskState   *RiskState      `json:"risk_state,omitempty"`
	CloseReason CloseReason     `json:"close_reason,omitempty"`
	Tier        int             `json:"tier,omitempty"`
}

// Decision is immutable once emitted. Amount is quote currency for buys,
// Quantity is token units for sells.
type Decision struct {
	ID             string        `json:"id"`
	UserID         string        `json:"user_id"`
	Token          string        `json:"token"`
	Action         Action        `json:"action"`
	Amount         float64       `json:"amount"`
	Quantity       float64       `json:"quantity"`
	Confidence     float64       `json:"confidence"`
	Score          float64       `json:"score"`
	Reasons        []string      `json:"reasons"`
	Source         TriggerSource `json:"triggering_source"`
	Slippage       float64       `json:"slippage"`
	ReferencePrice float64       `json:"reference_price"`
	CreatedAt      time.Time     `json:"created_at"`
	Provenance     Provenance    `json:"provenance"`
}

func (d Decision) Key() PositionKey { return PositionKey{UserID: d.UserID, Token: d.Token} }

// FullClose reports whether the decision exits the whole position.
func (d Decision) FullClose() bool {
	switch d.Provenance.CloseReason {
	case ReasonTakeProfit, ReasonFomoProfit:
		return false
	}
	return d.Action == ActionSell
}

// ExecutionResult is the gateway response for one submission.
type ExecutionResult struct {
	Filled       bool          `json:"filled"`
	FillPrice    float64       `json:"fill_price"`
	FillQuantity float64       `json:"fill_quantity"`
	FillAmount   float64       `json:"fill_amount"`
	TxHash       string        `json:"tx_hash,omitempty"`
	Error        string        `json:"error,omitempty"`
	Attempts     int           `json:"attempts"`
	Latency      time.Duration `json:"latency"`
	DryRun       bool          `json:"dry_run,omitempty"`
}

type Outcome string

const (
	OutcomeLoggedOnly Outcome = "logged_only"
	OutcomeFilled     Outcome = "filled"
	OutcomeFailed     Outcome = "failed"
	OutcomeSuperseded Outcome = "superseded"
	OutcomeRejected   Outcome = "rejected"
	OutcomeSkipped    Outcome = "skipped"
)

// AuditRecord is one append-only ledger row.
type AuditRecord struct {
	Decision   Decision         `json:"decision"`
	Outcome    Outcome          `json:"outcome"`
	ReasonCode string           `json:"reason_code,omitempty"`
	Error      string           `json:"error,omitempty"`
	Result     *ExecutionResult `json:"result,omitempty"`
	PnLPct     float64          `json:"pnl_pct"`
	RecordedAt time.Time        `json:"recorded_at"`
}

// AuditQuery filters recent ledger rows.
type AuditQuery struct {
	UserID string
	Token  string
	Since  time.Time
	Limit  int
}

// Alert is raised for failures an operator must act on.
type Alert struct {
	Kind     string            `json:"kind"`
	Severity Severity          `json:"severity"`
	UserID   string            `json:"user_id,omitempty"`
	Token    string            `json:"token,omitempty"`
	Message  string            `json:"message"`
	Details  map[string]string `json:"details,omitempty"`
	RaisedAt time.Time         `json:"raised_at"`
}
