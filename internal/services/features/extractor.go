package features

import (
	"math"

	"TradeCore/internal/domain/models"
)

// SimpleReturns computes r_t = P_t / P_{t-1} - 1 over consecutive samples.
// It returns a slice of length len(samples)-1, or nil if insufficient data.
func SimpleReturns(samples []models.PriceSample) []float64 {
	if len(samples) < 2 {
		return nil
	}
	out := make([]float64, 0, len(samples)-1)
	for i := 1; i < len(samples); i++ {
		prev := samples[i-1].Price
		cur := samples[i].Price
		if prev <= 0 || cur <= 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, cur/prev-1)
	}
	return out
}

// Tail returns the last n values (all of them if n exceeds the length).
func Tail(xs []float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	if len(xs) <= n {
		return xs
	}
	return xs[len(xs)-n:]
}

func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// Stdev is the population standard deviation.
func Stdev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := Mean(xs)
	sum2 := 0.0
	for _, x := range xs {
		d := x - m
		sum2 += d * d
	}
	return math.Sqrt(sum2 / float64(len(xs)))
}

// Momentum is the mean of the last n returns.
func Momentum(returns []float64, n int) float64 {
	return Mean(Tail(returns, n))
}

// Volatility is the stdev of the last n returns.
func Volatility(returns []float64, n int) float64 {
	return Stdev(Tail(returns, n))
}

// VolumeRatio compares the latest volume with the mean of up to `periods`
// samples preceding it. It is 1 when there is no usable baseline.
func VolumeRatio(samples []models.PriceSample, periods int) float64 {
	if len(samples) < 2 || periods <= 0 {
		return 1
	}
	current := samples[len(samples)-1].Volume
	start := len(samples) - 1 - periods
	if start < 0 {
		start = 0
	}
	sum := 0.0
	for _, s := range samples[start : len(samples)-1] {
		sum += s.Volume
	}
	baseline := sum / float64(len(samples)-1-start)
	if baseline <= 0 {
		return 1
	}
	return current / baseline
}
