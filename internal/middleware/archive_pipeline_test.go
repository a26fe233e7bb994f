package middleware

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TradeCore/internal/domain/models"
	"TradeCore/pkg/logger"
	"TradeCore/pkg/metrics"
)

type fakeArchive struct {
	mu      sync.Mutex
	stored  []models.PriceSample
	batches int
	failN   int
}

func (f *fakeArchive) StoreBatch(_ context.Context, samples []models.PriceSample) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failN > 0 {
		f.failN--
		return errors.New("archive down")
	}
	f.batches++
	f.stored = append(f.stored, samples...)
	return nil
}

func (f *fakeArchive) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.stored)
}

func sampleAt(i int) models.PriceSample {
	return models.PriceSample{Token: "PEPE", Price: 1, Volume: 1, ObservedAt: time.Unix(int64(i), 0)}
}

func TestPipelineFlushesOnBatchSize(t *testing.T) {
	arch := &fakeArchive{}
	p := NewArchivePipeline(arch, metrics.Nop{}, logger.Nop(), WithBatch(3, time.Hour))
	p.Start(context.Background())
	defer p.Stop()

	for i := 0; i < 3; i++ {
		p.Process(sampleAt(i))
	}
	require.Eventually(t, func() bool { return arch.count() == 3 }, time.Second, 5*time.Millisecond)
}

func TestPipelineRetriesAfterFailureAndDrainsOnStop(t *testing.T) {
	arch := &fakeArchive{failN: 1}
	p := NewArchivePipeline(arch, metrics.Nop{}, logger.Nop(), WithBatch(2, 10*time.Millisecond))
	p.Start(context.Background())

	p.Process(sampleAt(1))
	p.Process(sampleAt(2))
	require.Eventually(t, func() bool { return arch.count() == 2 }, 2*time.Second, 5*time.Millisecond)

	p.Process(sampleAt(3))
	p.Stop()
	assert.Equal(t, 3, arch.count())
}
