package signals

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"TradeCore/internal/domain/models"
)

// wireSignal is the row layout producers write to the signal store.
type wireSignal struct {
	SchemaVersion int               `json:"schema_version"`
	Kind          models.SignalKind `json:"kind"`
	Token         string            `json:"token"`
	UserID        string            `json:"user_id,omitempty"`
	Payload       json.RawMessage   `json:"payload"`
	Confidence    *float64          `json:"confidence"`
	IssuedAt      time.Time         `json:"issued_at"`
	Source        string            `json:"source"`
}

func malformed(key models.SignalKey, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s: %s", models.ErrSignalMalformed, key, fmt.Sprintf(format, args...))
}

// Decode parses and validates a stored row for key. Anything that does not
// match the current schema is rejected instead of defaulted.
func Decode(key models.SignalKey, raw []byte) (models.AgentSignal, error) {
	var w wireSignal
	if err := json.Unmarshal(raw, &w); err != nil {
		return models.AgentSignal{}, malformed(key, "decode: %v", err)
	}
	if w.SchemaVersion != models.SignalSchemaVersion {
		return models.AgentSignal{}, malformed(key, "unsupported schema_version %d", w.SchemaVersion)
	}
	if w.Kind != key.Kind {
		return models.AgentSignal{}, malformed(key, "kind %q does not match key", w.Kind)
	}
	if w.Token != key.Token {
		return models.AgentSignal{}, malformed(key, "token %q does not match key", w.Token)
	}
	if key.Kind == models.SignalRule && w.UserID != key.UserID {
		return models.AgentSignal{}, malformed(key, "user_id %q does not match key", w.UserID)
	}
	if w.IssuedAt.IsZero() {
		return models.AgentSignal{}, malformed(key, "missing issued_at")
	}
	if w.Confidence == nil || !inRange(*w.Confidence, 0, 1) {
		return models.AgentSignal{}, malformed(key, "confidence missing or outside [0,1]")
	}
	if len(w.Payload) == 0 || string(w.Payload) == "null" {
		return models.AgentSignal{}, malformed(key, "missing payload")
	}

	sig := models.AgentSignal{
		SchemaVersion: w.SchemaVersion,
		Kind:          w.Kind,
		Token:         w.Token,
		UserID:        w.UserID,
		Confidence:    *w.Confidence,
		IssuedAt:      w.IssuedAt,
		Source:        w.Source,
	}

	switch w.Kind {
	case models.SignalSentiment:
		var p struct {
			Score *float64 `json:"score"`
		}
		if err := json.Unmarshal(w.Payload, &p); err != nil || p.Score == nil {
			return models.AgentSignal{}, malformed(key, "sentiment payload needs score")
		}
		if !inRange(*p.Score, -1, 1) {
			return models.AgentSignal{}, malformed(key, "sentiment score %v outside [-1,1]", *p.Score)
		}
		sig.Sentiment = &models.SentimentPayload{Score: *p.Score}

	case models.SignalTrend:
		var p struct {
			Stage      models.TrendStage `json:"stage"`
			RugRisk    *float64          `json:"rug_risk"`
			TrendScore float64           `json:"trend_score"`
		}
		if err := json.Unmarshal(w.Payload, &p); err != nil || p.RugRisk == nil {
			return models.AgentSignal{}, malformed(key, "trend payload needs stage and rug_risk")
		}
		switch p.Stage {
		case models.StageEarly, models.StageMid, models.StageLate, models.StageUnknown:
		default:
			return models.AgentSignal{}, malformed(key, "unknown trend stage %q", p.Stage)
		}
		if !inRange(*p.RugRisk, 0, 1) {
			return models.AgentSignal{}, malformed(key, "rug_risk %v outside [0,1]", *p.RugRisk)
		}
		sig.Trend = &models.TrendPayload{Stage: p.Stage, RugRisk: *p.RugRisk, TrendScore: p.TrendScore}

	case models.SignalRule:
		var p struct {
			Allowed            *bool   `json:"allowed"`
			MaxPositionNdollar float64 `json:"max_position_ndollar"`
			MaxDailyTrades     int     `json:"max_daily_trades"`
			RuleHash           string  `json:"rule_hash"`
		}
		if err := json.Unmarshal(w.Payload, &p); err != nil || p.Allowed == nil {
			return models.AgentSignal{}, malformed(key, "rule payload needs allowed")
		}
		if p.RuleHash == "" {
			return models.AgentSignal{}, malformed(key, "rule payload needs rule_hash")
		}
		if p.MaxPositionNdollar < 0 || p.MaxDailyTrades < 0 {
			return models.AgentSignal{}, malformed(key, "negative rule limits")
		}
		sig.Rule = &models.RulePayload{
			Allowed:            *p.Allowed,
			MaxPositionNdollar: p.MaxPositionNdollar,
			MaxDailyTrades:     p.MaxDailyTrades,
			RuleHash:           p.RuleHash,
		}

	default:
		return models.AgentSignal{}, malformed(key, "unknown kind %q", w.Kind)
	}
	return sig, nil
}

// Encode writes sig in the store row layout. Producers and tests use it.
func Encode(sig models.AgentSignal) ([]byte, error) {
	var payload interface{}
	switch sig.Kind {
	case models.SignalSentiment:
		payload = sig.Sentiment
	case models.SignalTrend:
		payload = sig.Trend
	case models.SignalRule:
		payload = sig.Rule
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	conf := sig.Confidence
	version := sig.SchemaVersion
	if version == 0 {
		version = models.SignalSchemaVersion
	}
	return json.Marshal(wireSignal{
		SchemaVersion: version,
		Kind:          sig.Kind,
		Token:         sig.Token,
		UserID:        sig.UserID,
		Payload:       raw,
		Confidence:    &conf,
		IssuedAt:      sig.IssuedAt,
		Source:        sig.Source,
	})
}

func inRange(x, lo, hi float64) bool {
	return !math.IsNaN(x) && x >= lo && x <= hi
}
