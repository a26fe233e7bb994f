package features

import (
	"math"
	"testing"
	"time"

	"TradeCore/internal/domain/models"
)

func samplesOf(prices, volumes []float64) []models.PriceSample {
	t0 := time.Unix(1_700_000_000, 0)
	out := make([]models.PriceSample, len(prices))
	for i := range prices {
		out[i] = models.PriceSample{Token: "T", Price: prices[i], Volume: volumes[i], ObservedAt: t0.Add(time.Duration(i) * 5 * time.Second)}
	}
	return out
}

func TestSimpleReturns(t *testing.T) {
	r := SimpleReturns(samplesOf([]float64{1, 1.1, 0.99}, []float64{1, 1, 1}))
	if len(r) != 2 {
		t.Fatalf("expected 2 returns, got %d", len(r))
	}
	if math.Abs(r[0]-0.1) > 1e-9 || math.Abs(r[1]+0.1) > 1e-9 {
		t.Fatalf("unexpected returns %v", r)
	}
	if SimpleReturns(samplesOf([]float64{1}, []float64{1})) != nil {
		t.Fatalf("expected nil for a single sample")
	}
}

func TestStdevAndMomentum(t *testing.T) {
	xs := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	if got := Stdev(xs); math.Abs(got-2) > 1e-9 {
		t.Fatalf("stdev = %v, want 2", got)
	}
	if got := Momentum(xs, 3); math.Abs(got-7) > 1e-9 {
		t.Fatalf("momentum = %v, want 7", got)
	}
	if Stdev([]float64{1}) != 0 {
		t.Fatalf("stdev of one value should be 0")
	}
}

func TestVolumeRatio(t *testing.T) {
	s := samplesOf([]float64{1, 1, 1.06}, []float64{100, 100, 200})
	if got := VolumeRatio(s, 20); math.Abs(got-2) > 1e-9 {
		t.Fatalf("volume ratio = %v, want 2", got)
	}
	// only the last `periods` samples form the baseline
	s = samplesOf([]float64{1, 1, 1, 1}, []float64{1000, 50, 50, 100})
	if got := VolumeRatio(s, 2); math.Abs(got-2) > 1e-9 {
		t.Fatalf("volume ratio = %v, want 2", got)
	}
	if got := VolumeRatio(samplesOf([]float64{1, 1}, []float64{0, 10}), 20); got != 1 {
		t.Fatalf("zero baseline should yield 1, got %v", got)
	}
}
