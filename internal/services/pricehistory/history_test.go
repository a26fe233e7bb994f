package pricehistory

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TradeCore/internal/domain/models"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func sample(price, volume float64, at time.Duration) models.PriceSample {
	return models.PriceSample{Token: "PEPE", Price: price, Volume: volume, ObservedAt: t0.Add(at)}
}

func TestAppendEvictsOutsideRetention(t *testing.T) {
	h := New("PEPE", 5*time.Minute)
	for i := 0; i <= 70; i++ {
		_, err := h.Append(sample(1, 10, time.Duration(i)*5*time.Second))
		require.NoError(t, err)
	}
	v := h.Snapshot()
	oldest, _ := v.Oldest()
	latest, _ := v.Latest()
	assert.False(t, oldest.ObservedAt.Before(latest.ObservedAt.Add(-5*time.Minute)))
	assert.Equal(t, 61, v.Len())
}

func TestAppendRejectsOutOfOrderAndInvalid(t *testing.T) {
	h := New("PEPE", 5*time.Minute)
	_, err := h.Append(sample(1, 10, 10*time.Second))
	require.NoError(t, err)

	_, err = h.Append(sample(1, 10, 5*time.Second))
	assert.True(t, errors.Is(err, models.ErrInvalidSample))

	_, err = h.Append(sample(0, 10, 20*time.Second))
	assert.True(t, errors.Is(err, models.ErrInvalidSample))

	// equal timestamps are allowed
	_, err = h.Append(sample(1.01, 10, 10*time.Second))
	assert.NoError(t, err)
	assert.Equal(t, 2, h.Snapshot().Len())
}

func TestSnapshotIsNotMutatedByLaterAppends(t *testing.T) {
	h := New("PEPE", 5*time.Minute)
	_, _ = h.Append(sample(1, 10, 0))
	before := h.Snapshot()
	_, _ = h.Append(sample(2, 10, 5*time.Second))

	assert.Equal(t, 1, before.Len())
	latest, _ := before.Latest()
	assert.Equal(t, 1.0, latest.Price)
}

func TestConcurrentReadersSeeConsistentViews(t *testing.T) {
	h := New("PEPE", 5*time.Minute)
	var wg sync.WaitGroup
	stop := make(chan struct{})
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				s := h.Snapshot().Samples()
				for i := 1; i < len(s); i++ {
					if s[i].ObservedAt.Before(s[i-1].ObservedAt) {
						t.Errorf("view out of order")
						return
					}
				}
			}
		}()
	}
	for i := 0; i < 500; i++ {
		_, _ = h.Append(sample(1+float64(i)/1000, 10, time.Duration(i)*time.Second))
	}
	close(stop)
	wg.Wait()
}

func TestDeriveScenarioMicroPumpInputs(t *testing.T) {
	h := New("PEPE", 5*time.Minute)
	_, _ = h.Append(sample(1.00, 100, 0))
	_, _ = h.Append(sample(1.00, 100, 20*time.Second))
	v, _ := h.Append(sample(1.06, 200, 40*time.Second))

	u, ok := Derive(v, DefaultMetricsConfig())
	require.True(t, ok)
	assert.InDelta(t, 0.06, u.Change1m, 1e-9)
	assert.InDelta(t, 0.06, u.Change5m, 1e-9)
	assert.InDelta(t, 2.0, u.VolumeRatio, 1e-9)
	assert.True(t, u.Alert)
	assert.Equal(t, 3, u.Samples)
}

func TestDeriveUsesSampleAtWindowStart(t *testing.T) {
	h := New("PEPE", 5*time.Minute)
	_, _ = h.Append(sample(1.00, 100, 0))
	_, _ = h.Append(sample(2.00, 100, 60*time.Second))
	v, _ := h.Append(sample(2.20, 100, 120*time.Second))

	u, _ := Derive(v, DefaultMetricsConfig())
	assert.InDelta(t, 0.10, u.Change1m, 1e-9)
	assert.InDelta(t, 1.20, u.Change5m, 1e-9)
}

func TestSetIsFixedToUniverse(t *testing.T) {
	s := NewSet([]string{"A", "B"}, time.Minute)
	_, ok := s.Get("A")
	assert.True(t, ok)
	_, ok = s.Snapshot("C")
	assert.False(t, ok)
	h, _ := s.Get("B")
	assert.Equal(t, MinRetention, h.retention)
}
