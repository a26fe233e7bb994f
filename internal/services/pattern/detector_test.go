package pattern

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TradeCore/internal/domain/models"
	"TradeCore/internal/services/pricehistory"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type point struct {
	at     time.Duration
	price  float64
	volume float64
}

func build(t *testing.T, pts ...point) (models.PriceUpdate, models.HistoryView) {
	t.Helper()
	h := pricehistory.New("TKN", 5*time.Minute)
	var v models.HistoryView
	for _, p := range pts {
		var err error
		v, err = h.Append(models.PriceSample{Token: "TKN", Price: p.price, Volume: p.volume, ObservedAt: t0.Add(p.at)})
		require.NoError(t, err)
	}
	u, ok := pricehistory.Derive(v, pricehistory.DefaultMetricsConfig())
	require.True(t, ok)
	return u, v
}

func newDetector(t *testing.T) *Detector {
	t.Helper()
	d, err := New(DefaultConfig())
	require.NoError(t, err)
	return d
}

func TestClassifyMicroPump(t *testing.T) {
	d := newDetector(t)
	u, v := build(t,
		point{0, 1.00, 100},
		point{20 * time.Second, 1.00, 100},
		point{40 * time.Second, 1.06, 200},
	)
	ev := d.Classify(u, v)
	assert.Equal(t, models.PatternMicroPump, ev.Kind)
	assert.InDelta(t, 0.6, ev.Confidence, 0.06)
	assert.Equal(t, models.BiasBullish, ev.Bias)
	assert.Equal(t, u.ObservedAt, ev.ComputedAt)
}

func TestClassifyRugPullWinsOverEverything(t *testing.T) {
	d := newDetector(t)
	u, v := build(t,
		point{0, 1.00, 100},
		point{30 * time.Second, 0.45, 1000},
	)
	ev := d.Classify(u, v)
	assert.Equal(t, models.PatternRugPull, ev.Kind)
	assert.Equal(t, models.SeverityCritical, ev.Severity)
	assert.Equal(t, 1.0, ev.Urgency)

	// DUMP's volume condition also holds; rank decides.
	u.VolumeRatio = 10
	assert.Equal(t, models.PatternRugPull, d.Classify(u, v).Kind)
}

func TestClassifyTable(t *testing.T) {
	d := newDetector(t)
	cases := []struct {
		name     string
		change1m float64
		change5m float64
		volume   float64
		want     models.PatternKind
	}{
		{"fomo", 0.60, 0.60, 6, models.PatternFomoSpike},
		{"fomo without volume falls to mega", 0.60, 0.60, 3.5, models.PatternMegaPump},
		{"mega", 0.35, 0.35, 3, models.PatternMegaPump},
		{"dump", -0.20, -0.20, 2.5, models.PatternDump},
		{"deep dump above rug", -0.40, -0.40, 2, models.PatternDump},
		{"mid", 0.20, 0.20, 2, models.PatternMidPump},
		{"micro", 0.07, 0.07, 1.5, models.PatternMicroPump},
		{"accumulation", 0.02, 0.03, 1.0, models.PatternAccumulation},
		{"distribution", -0.01, -0.03, 1.0, models.PatternDistribution},
		{"drift too large for distribution", -0.02, -0.08, 1.0, models.PatternNone},
		{"quiet", 0.001, 0.002, 1.0, models.PatternNone},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			u := models.PriceUpdate{Token: "TKN", Price: 1, ObservedAt: t0, Change1m: tc.change1m, Change5m: tc.change5m, VolumeRatio: tc.volume}
			ev := d.Classify(u, models.NewHistoryView("TKN", nil))
			assert.Equal(t, tc.want, ev.Kind)
			assert.GreaterOrEqual(t, ev.Confidence, 0.0)
			assert.LessOrEqual(t, ev.Confidence, 1.0)
		})
	}
}

func TestConfidenceMonotonicAndCapped(t *testing.T) {
	d := newDetector(t)
	prev := 0.0
	for _, c := range []float64{0.05, 0.07, 0.10, 0.14, 0.20, 0.28, 0.29} {
		u := models.PriceUpdate{Token: "TKN", ObservedAt: t0, Change1m: c, VolumeRatio: 1.6}
		ev := d.Classify(u, models.NewHistoryView("TKN", nil))
		require.Equal(t, models.PatternMicroPump, ev.Kind)
		assert.GreaterOrEqual(t, ev.Confidence, prev)
		assert.LessOrEqual(t, ev.Confidence, 1.0)
		prev = ev.Confidence
	}
	assert.Equal(t, 1.0, prev)
}

func TestClassifyDeterministic(t *testing.T) {
	d := newDetector(t)
	u, v := build(t,
		point{0, 1.00, 100},
		point{30 * time.Second, 1.10, 300},
		point{60 * time.Second, 1.25, 500},
	)
	first := d.Classify(u, v)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, d.Classify(u, v))
	}
}

func TestClassifyDeadCatBounce(t *testing.T) {
	d := newDetector(t)
	u, v := build(t,
		point{0, 1.00, 100},
		point{30 * time.Second, 1.00, 100},
		point{60 * time.Second, 0.80, 100},
		point{90 * time.Second, 0.78, 100},
		point{120 * time.Second, 0.87, 100},
	)
	ev := d.Classify(u, v)
	assert.Equal(t, models.PatternDeadCatBounce, ev.Kind)
	assert.True(t, ev.Flags.DoNotBuy)
	assert.Equal(t, models.BiasBearish, ev.Bias)
}

func TestNoDeadCatWithoutPriorDump(t *testing.T) {
	d := newDetector(t)
	u, v := build(t,
		point{0, 1.00, 100},
		point{60 * time.Second, 0.95, 100},
		point{90 * time.Second, 0.90, 100},
		point{120 * time.Second, 0.99, 100},
	)
	assert.NotEqual(t, models.PatternDeadCatBounce, d.Classify(u, v).Kind)
}

func TestInvalidConfigRejected(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MicroPump.Lower = 0.20
	_, err := New(cfg)
	assert.ErrorIs(t, err, models.ErrConfiguration)
}
