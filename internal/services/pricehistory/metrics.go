package pricehistory

import (
	"math"
	"time"

	"TradeCore/internal/domain/models"
	"TradeCore/internal/services/features"
)

// MetricsConfig controls how derived metrics are computed from a view.
type MetricsConfig struct {
	BaselinePeriods int
	MomentumPeriods int
	// Alert thresholds flag an update for closer attention.
	AlertChange1m    float64
	AlertChange5m    float64
	AlertVolumeSpike float64
}

func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		BaselinePeriods:  20,
		MomentumPeriods:  3,
		AlertChange1m:    0.05,
		AlertChange5m:    0.15,
		AlertVolumeSpike: 3,
	}
}

// Derive computes the PriceUpdate for the latest sample of v. Metrics are
// always recomputed from the view and never cached.
func Derive(v models.HistoryView, cfg MetricsConfig) (models.PriceUpdate, bool) {
	latest, ok := v.Latest()
	if !ok {
		return models.PriceUpdate{}, false
	}
	samples := v.Samples()
	returns := features.SimpleReturns(samples)

	u := models.PriceUpdate{
		Token:       latest.Token,
		Price:       latest.Price,
		Volume:      latest.Volume,
		ObservedAt:  latest.ObservedAt,
		Change1m:    v.ChangeOver(time.Minute),
		Change5m:    v.ChangeOver(5 * time.Minute),
		Momentum:    features.Momentum(returns, cfg.MomentumPeriods),
		Volatility:  features.Volatility(returns, cfg.BaselinePeriods),
		VolumeRatio: features.VolumeRatio(samples, cfg.BaselinePeriods),
		Samples:     len(samples),
	}
	u.Alert = math.Abs(u.Change1m) >= cfg.AlertChange1m ||
		math.Abs(u.Change5m) >= cfg.AlertChange5m ||
		u.VolumeRatio >= cfg.AlertVolumeSpike
	return u, true
}
