package middleware

import (
	"context"
	"sync"
	"time"

	"TradeCore/internal/domain/models"
	domrepo "TradeCore/internal/domain/repository"
	"TradeCore/pkg/logger"
)

// ArchivePipeline sits between the price monitors and the sample archive.
// Process never blocks: samples are buffered and written in batches by a
// background loop, which backs off and retries while the archive is down.
type ArchivePipeline struct {
	archive   domrepo.PriceArchive
	metrics   domrepo.Metrics
	log       *logger.Logger
	batchSize int
	interval  time.Duration
	bufSize   int

	bufCh   chan models.PriceSample
	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
	mu      sync.Mutex
}

type PipelineOption func(*ArchivePipeline)

// WithBatch sets the flush size and interval.
func WithBatch(size int, interval time.Duration) PipelineOption {
	return func(p *ArchivePipeline) {
		if size > 0 {
			p.batchSize = size
		}
		if interval > 0 {
			p.interval = interval
		}
	}
}

// WithBufferSize sets how many samples are held while the archive is unavailable.
func WithBufferSize(n int) PipelineOption {
	return func(p *ArchivePipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

func NewArchivePipeline(archive domrepo.PriceArchive, metrics domrepo.Metrics, log *logger.Logger, opts ...PipelineOption) *ArchivePipeline {
	p := &ArchivePipeline{
		archive:   archive,
		metrics:   metrics,
		log:       log.With(logger.String("component", "archive_pipeline")),
		batchSize: 500,
		interval:  2 * time.Second,
		bufSize:   10000,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.bufCh = make(chan models.PriceSample, p.bufSize)
	return p
}

// Start launches the background flush loop.
func (p *ArchivePipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go p.run(ctx)
}

func (p *ArchivePipeline) run(ctx context.Context) {
	defer close(p.doneCh)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	batch := make([]models.PriceSample, 0, p.batchSize)
	backoff := 50 * time.Millisecond
	flush := func(fctx context.Context) {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		if err := p.archive.StoreBatch(fctx, batch); err != nil {
			p.metrics.RecordError("archive_flush")
			p.log.Warn("archive flush failed", logger.Int("samples", len(batch)), logger.Error(err))
			// exponential backoff with cap; the batch is kept for the next try
			if backoff < 2*time.Second {
				backoff *= 2
			}
			if keep := p.bufSize - p.batchSize; len(batch) >= p.bufSize && keep >= 0 {
				// drop the oldest so the batch stays bounded
				p.metrics.RecordError("archive_buffer_drop")
				batch = append(batch[:0], batch[len(batch)-keep:]...)
			}
			select {
			case <-time.After(backoff):
			case <-p.stopCh:
			}
			return
		}
		backoff = 50 * time.Millisecond
		p.metrics.RecordLatency("archive_flush", time.Since(start).Seconds())
		batch = batch[:0]
	}

	for {
		select {
		case <-p.stopCh:
			p.drain(&batch)
			dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			flush(dctx)
			cancel()
			return
		case s := <-p.bufCh:
			batch = append(batch, s)
			if len(batch) >= p.batchSize {
				flush(ctx)
			}
		case <-ticker.C:
			flush(ctx)
		}
	}
}

func (p *ArchivePipeline) drain(batch *[]models.PriceSample) {
	for {
		select {
		case s := <-p.bufCh:
			*batch = append(*batch, s)
		default:
			return
		}
	}
}

// Stop flushes what is buffered and stops the loop.
func (p *ArchivePipeline) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()
	close(p.stopCh)
	<-p.doneCh
}

// Process queues an accepted sample for archiving. It drops the sample when
// the buffer is full.
func (p *ArchivePipeline) Process(s models.PriceSample) {
	select {
	case p.bufCh <- s:
	default:
		p.metrics.RecordError("archive_buffer_full")
	}
}

// Depth is the number of samples waiting in the buffer.
func (p *ArchivePipeline) Depth() int { return len(p.bufCh) }
