package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"TradeCore/internal/domain/models"
	"TradeCore/internal/domain/repository"
	"TradeCore/internal/domain/service"
	"TradeCore/internal/service/ratelimit"
	"TradeCore/internal/services/pricehistory"
	"TradeCore/pkg/logger"
)

type MonitorConfig struct {
	PollInterval    time.Duration `yaml:"poll_interval" default:"5s"`
	PollTimeout     time.Duration `yaml:"poll_timeout" default:"2s"`
	Retention       time.Duration `yaml:"retention" default:"5m"`
	BaselinePeriods int           `yaml:"baseline_periods" default:"20" validate:"min=2"`
	MomentumPeriods int           `yaml:"momentum_periods" default:"3" validate:"min=1"`
	DegradeAfter    int           `yaml:"degrade_after" default:"2" validate:"min=1"`
	RateBurst       float64       `yaml:"rate_burst" default:"2"`
	RatePerSecond   float64       `yaml:"rate_per_second" default:"1"`
	AlertChange1m   float64       `yaml:"alert_change_1m" default:"0.05"`
	AlertChange5m   float64       `yaml:"alert_change_5m" default:"0.15"`
	AlertVolume     float64       `yaml:"alert_volume_spike" default:"3"`
}

func (c MonitorConfig) metrics() pricehistory.MetricsConfig {
	return pricehistory.MetricsConfig{
		BaselinePeriods:  c.BaselinePeriods,
		MomentumPeriods:  c.MomentumPeriods,
		AlertChange1m:    c.AlertChange1m,
		AlertChange5m:    c.AlertChange5m,
		AlertVolumeSpike: c.AlertVolume,
	}
}

// UpdateHandler is called synchronously, in the token's monitor task, for
// every accepted price update.
type UpdateHandler interface {
	OnPriceUpdate(ctx context.Context, u models.PriceUpdate, ev models.PatternEvent)
}

// SampleSink receives accepted samples for archiving. It must not block.
type SampleSink interface {
	Process(s models.PriceSample)
}

// PriceMonitor runs one polling task per token of the universe.
type PriceMonitor struct {
	source     repository.PriceSource
	histories  *pricehistory.Set
	classifier service.PatternClassifier
	handlers   []UpdateHandler
	sink       SampleSink
	pub        repository.EventPublisher
	limiter    *ratelimit.Limiter
	metrics    repository.Metrics
	log        *logger.Logger
	cfg        MonitorConfig
	tokens     []string

	mu     sync.RWMutex
	status map[string]*models.TokenStatus

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewPriceMonitor(
	source repository.PriceSource,
	tokens []string,
	classifier service.PatternClassifier,
	handlers []UpdateHandler,
	sink SampleSink,
	pub repository.EventPublisher,
	m repository.Metrics,
	cfg MonitorConfig,
	log *logger.Logger,
) *PriceMonitor {
	status := make(map[string]*models.TokenStatus, len(tokens))
	for _, t := range tokens {
		status[t] = &models.TokenStatus{Token: t}
	}
	return &PriceMonitor{
		source:     source,
		histories:  pricehistory.NewSet(tokens, cfg.Retention),
		classifier: classifier,
		handlers:   handlers,
		sink:       sink,
		pub:        pub,
		limiter:    ratelimit.New(cfg.RateBurst, cfg.RatePerSecond),
		metrics:    m,
		log:        log.With(logger.String("component", "price_monitor")),
		cfg:        cfg,
		tokens:     append([]string(nil), tokens...),
		status:     status,
	}
}

// Start launches one polling task per token.
func (m *PriceMonitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	for _, token := range m.tokens {
		m.wg.Add(1)
		go m.run(ctx, token)
	}
	m.log.Info("price monitor started",
		logger.Int("tokens", len(m.tokens)), logger.Duration("interval_ms", m.cfg.PollInterval))
}

// Stop cancels the polling tasks and waits for them to return.
func (m *PriceMonitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

func (m *PriceMonitor) run(ctx context.Context, token string) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := m.Tick(ctx, token); err != nil && ctx.Err() == nil {
			m.log.Debug("poll cycle skipped", logger.String("token", token), logger.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Tick runs one poll cycle for token: poll, append, derive, classify, then
// hand the update to the handlers before anything else sees it.
func (m *PriceMonitor) Tick(ctx context.Context, token string) error {
	h, ok := m.histories.Get(token)
	if !ok {
		return fmt.Errorf("%w: %s is not monitored", models.ErrTokenNotFound, token)
	}
	if !m.limiter.Allow(token) {
		m.metrics.RecordPoll(token, "throttled")
		return nil
	}

	start := time.Now()
	pctx, cancel := context.WithTimeout(ctx, m.cfg.PollTimeout)
	sample, err := m.source.Poll(pctx, token)
	cancel()
	m.metrics.RecordLatency("price_poll", time.Since(start).Seconds())
	if err != nil {
		if !errors.Is(err, models.ErrDataUnavailable) {
			err = fmt.Errorf("%w: %v", models.ErrDataUnavailable, err)
		}
		m.fail(token, err)
		return err
	}
	if sample.Token == "" {
		sample.Token = token
	}

	if prev, ok := h.Snapshot().Latest(); ok && prev.ObservedAt.Equal(sample.ObservedAt) && prev.Price == sample.Price {
		// the source has nothing newer
		m.metrics.RecordPoll(token, "unchanged")
		return nil
	}

	view, err := h.Append(sample)
	if err != nil {
		m.metrics.RecordError("invalid_sample")
		m.fail(token, err)
		return err
	}
	m.succeed(token, sample)
	if m.sink != nil {
		m.sink.Process(sample)
	}

	u, _ := pricehistory.Derive(view, m.cfg.metrics())
	ev := m.classifier.Classify(u, view)
	if !ev.IsNone() {
		m.metrics.RecordPattern(token, ev.Kind)
	}
	if u.Alert || ev.Severity == models.SeverityCritical {
		m.log.Info("price alert",
			logger.String("token", token), logger.Float64("price", u.Price),
			logger.Float64("change_1m", u.Change1m), logger.Float64("change_5m", u.Change5m),
			logger.Float64("volume_ratio", u.VolumeRatio), logger.String("pattern", string(ev.Kind)),
			logger.Float64("confidence", ev.Confidence))
	}

	for _, hd := range m.handlers {
		hd.OnPriceUpdate(ctx, u, ev)
	}
	m.metrics.RecordLatency("price_cycle", time.Since(start).Seconds())

	if m.pub != nil {
		if err := m.pub.PublishPriceUpdate(ctx, u); err != nil {
			m.metrics.RecordError("publish_price_update")
		}
		if !ev.IsNone() {
			if err := m.pub.PublishPattern(ctx, ev); err != nil {
				m.metrics.RecordError("publish_pattern")
			}
		}
	}
	return nil
}

func (m *PriceMonitor) fail(token string, err error) {
	m.metrics.RecordPoll(token, "error")
	m.mu.Lock()
	st := m.status[token]
	st.ConsecutiveFailures++
	st.LastError = err.Error()
	degrade := !st.Degraded && st.ConsecutiveFailures >= m.cfg.DegradeAfter
	if degrade {
		st.Degraded = true
	}
	failures := st.ConsecutiveFailures
	m.mu.Unlock()

	if degrade {
		m.metrics.RecordDegraded(token, true)
		m.log.Warn("token degraded", logger.String("token", token),
			logger.Int("failures", failures), logger.Error(err))
	}
}

func (m *PriceMonitor) succeed(token string, s models.PriceSample) {
	m.metrics.RecordPoll(token, "ok")
	m.metrics.RecordLastPrice(token, s.Price)
	m.mu.Lock()
	st := m.status[token]
	resumed := st.Degraded
	st.Degraded = false
	st.ConsecutiveFailures = 0
	st.LastError = ""
	st.LastPrice = s.Price
	st.LastUpdate = s.ObservedAt
	m.mu.Unlock()

	if resumed {
		m.metrics.RecordDegraded(token, false)
		m.log.Info("token resumed", logger.String("token", token), logger.Float64("price", s.Price))
	}
}

// Status returns the health of token.
func (m *PriceMonitor) Status(token string) (models.TokenStatus, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.status[token]
	if !ok {
		return models.TokenStatus{}, false
	}
	return *st, true
}

// Statuses lists every monitored token ordered by name.
func (m *PriceMonitor) Statuses() []models.TokenStatus {
	m.mu.RLock()
	out := make([]models.TokenStatus, 0, len(m.status))
	for _, st := range m.status {
		out = append(out, *st)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Token < out[j].Token })
	return out
}

// Tokens returns the monitored universe.
func (m *PriceMonitor) Tokens() []string { return append([]string(nil), m.tokens...) }

// History returns the current view of token's history.
func (m *PriceMonitor) History(token string) (models.HistoryView, bool) {
	return m.histories.Snapshot(token)
}
