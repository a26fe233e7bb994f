package models

import (
	"math"
	"time"
)

// PriceSample is one observation from the price source. Immutable once recorded.
type PriceSample struct {
	Token      string    `json:"token"`
	Price      float64   `json:"price"`
	Volume     float64   `json:"volume"`
	ObservedAt time.Time `json:"observed_at"`
}

// Valid reports whether the sample carries a usable price and volume.
func (s PriceSample) Valid() bool {
	return s.Token != "" &&
		s.Price > 0 && !math.IsNaN(s.Price) && !math.IsInf(s.Price, 0) &&
		s.Volume >= 0 && !math.IsNaN(s.Volume) &&
		!s.ObservedAt.IsZero()
}

// PriceUpdate is emitted by the monitor after each successful poll.
type PriceUpdate struct {
	Token       string    `json:"token"`
	Price       float64   `json:"price"`
	Volume      float64   `json:"volume"`
	ObservedAt  time.Time `json:"observed_at"`
	Change1m    float64   `json:"change_1m"`
	Change5m    float64   `json:"change_5m"`
	Momentum    float64   `json:"momentum"`
	Volatility  float64   `json:"volatility"`
	VolumeRatio float64   `json:"volume_ratio"`
	Samples     int       `json:"samples"`
	// Alert is set when a move crosses one of the monitor alert thresholds.
	Alert bool `json:"alert"`
}

// TokenStatus describes the health of one monitored token.
type TokenStatus struct {
	Token               string    `json:"token"`
	LastPrice           float64   `json:"last_price"`
	LastUpdate          time.Time `json:"last_update"`
	LastError           string    `json:"last_error,omitempty"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	Degraded            bool      `json:"degraded"`
}

// Eligible reports whether decisions may be taken on the token at now.
func (s TokenStatus) Eligible(now time.Time, maxAge time.Duration) bool {
	if s.Degraded || s.LastUpdate.IsZero() {
		return false
	}
	return now.Sub(s.LastUpdate) <= maxAge
}
