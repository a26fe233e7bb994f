package signals

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"TradeCore/internal/domain/models"
	"TradeCore/internal/domain/repository"
	"TradeCore/internal/domain/service"
	"TradeCore/pkg/logger"
)

type Config struct {
	SentimentFreshness time.Duration `yaml:"sentiment_freshness" default:"2h"`
	TrendFreshness     time.Duration `yaml:"trend_freshness" default:"2h"`
	RuleFreshness      time.Duration `yaml:"rule_freshness" default:"2h"`
	// RecheckAfter bounds how long an entry is served before the store is
	// consulted again, so rule hash changes are picked up.
	RecheckAfter  time.Duration `yaml:"recheck_after" default:"1m"`
	QuarantineTTL time.Duration `yaml:"quarantine_ttl" default:"1m"`
	ReadTimeout   time.Duration `yaml:"read_timeout" default:"500ms"`
}

type entry struct {
	sig       models.AgentSignal
	fetchedAt time.Time
}

// Cache is a read-through cache over the signal store. Entries expire by the
// signal's issue time; an expired or missing signal is reported as stale.
type Cache struct {
	store   repository.SignalStore
	cfg     Config
	log     *logger.Logger
	metrics repository.Metrics
	now     func() time.Time

	mu         sync.RWMutex
	entries    map[string]entry
	quarantine map[string]time.Time

	group singleflight.Group
}

var (
	_ service.SentimentProvider = (*Cache)(nil)
	_ service.TrendProvider     = (*Cache)(nil)
	_ service.RuleProvider      = (*Cache)(nil)
)

type Option func(*Cache)

func WithClock(now func() time.Time) Option { return func(c *Cache) { c.now = now } }

func WithMetrics(m repository.Metrics) Option { return func(c *Cache) { c.metrics = m } }

func NewCache(store repository.SignalStore, cfg Config, log *logger.Logger, opts ...Option) *Cache {
	c := &Cache{
		store:      store,
		cfg:        cfg,
		log:        log.With(logger.String("component", "signal_cache")),
		now:        time.Now,
		entries:    make(map[string]entry),
		quarantine: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) freshness(kind models.SignalKind) time.Duration {
	switch kind {
	case models.SignalSentiment:
		return c.cfg.SentimentFreshness
	case models.SignalTrend:
		return c.cfg.TrendFreshness
	default:
		return c.cfg.RuleFreshness
	}
}

func (c *Cache) fresh(sig models.AgentSignal, now time.Time) bool {
	age := sig.Age(now)
	return age >= 0 && age <= c.freshness(sig.Kind)
}

// Get returns the fresh signal for key or an error wrapping models.ErrSignalStale.
func (c *Cache) Get(ctx context.Context, key models.SignalKey) (models.AgentSignal, error) {
	k := key.String()
	now := c.now()

	c.mu.RLock()
	e, cached := c.entries[k]
	until, quarantined := c.quarantine[k]
	c.mu.RUnlock()

	if quarantined && now.Before(until) {
		c.record(key.Kind, "quarantined")
		return models.AgentSignal{}, fmt.Errorf("%w: %s quarantined", models.ErrSignalStale, k)
	}
	if cached && c.fresh(e.sig, now) && now.Sub(e.fetchedAt) < c.cfg.RecheckAfter {
		c.record(key.Kind, "hit")
		return e.sig, nil
	}

	v, err, _ := c.group.Do(k, func() (interface{}, error) {
		return c.refresh(ctx, key, e, cached)
	})
	if err != nil {
		return models.AgentSignal{}, err
	}
	return v.(models.AgentSignal), nil
}

func (c *Cache) refresh(ctx context.Context, key models.SignalKey, prev entry, hadPrev bool) (models.AgentSignal, error) {
	k := key.String()
	if c.cfg.ReadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.ReadTimeout)
		defer cancel()
	}

	raw, err := c.store.Read(ctx, key)
	now := c.now()
	if err != nil {
		if errors.Is(err, models.ErrSignalStale) {
			c.drop(k)
			c.record(key.Kind, "missing")
			return models.AgentSignal{}, err
		}
		// Store unreachable: a cached value is still usable while it is fresh.
		if hadPrev && c.fresh(prev.sig, now) {
			c.log.Warn("signal store read failed, serving cached signal",
				logger.String("key", k), logger.Error(err))
			c.record(key.Kind, "hit_degraded")
			return prev.sig, nil
		}
		c.record(key.Kind, "error")
		return models.AgentSignal{}, fmt.Errorf("%w: %s: %v", models.ErrSignalStale, k, err)
	}

	sig, err := Decode(key, raw)
	if err != nil {
		c.mu.Lock()
		c.quarantine[k] = now.Add(c.cfg.QuarantineTTL)
		delete(c.entries, k)
		c.mu.Unlock()
		c.log.Warn("quarantined malformed signal", logger.String("key", k), logger.Error(err))
		c.record(key.Kind, "malformed")
		return models.AgentSignal{}, fmt.Errorf("%w: %w", models.ErrSignalStale, err)
	}

	if !c.fresh(sig, now) {
		c.drop(k)
		c.record(key.Kind, "stale")
		return models.AgentSignal{}, fmt.Errorf("%w: %s issued %s ago", models.ErrSignalStale, k, sig.Age(now).Round(time.Second))
	}

	if hadPrev && key.Kind == models.SignalRule && prev.sig.Rule != nil && prev.sig.Rule.RuleHash != sig.Rule.RuleHash {
		c.log.Info("rule changed", logger.String("key", k),
			logger.String("old_hash", prev.sig.Rule.RuleHash), logger.String("new_hash", sig.Rule.RuleHash))
	}

	c.mu.Lock()
	c.entries[k] = entry{sig: sig, fetchedAt: now}
	delete(c.quarantine, k)
	c.mu.Unlock()
	c.record(key.Kind, "refreshed")
	return sig, nil
}

func (c *Cache) drop(k string) {
	c.mu.Lock()
	delete(c.entries, k)
	c.mu.Unlock()
}

// Invalidate forgets key so the next read goes to the store. It also lifts a
// quarantine, since the producer has rewritten the row.
func (c *Cache) Invalidate(key models.SignalKey) {
	k := key.String()
	c.mu.Lock()
	delete(c.entries, k)
	delete(c.quarantine, k)
	c.mu.Unlock()
}

// Len reports the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) record(kind models.SignalKind, status string) {
	if c.metrics != nil {
		c.metrics.RecordSignal(kind, status)
	}
}

// Sentiment falls back to a neutral score when nothing fresh exists.
func (c *Cache) Sentiment(ctx context.Context, token string) models.Sentiment {
	sig, err := c.Get(ctx, models.SignalKey{Kind: models.SignalSentiment, Token: token})
	if err != nil || sig.Sentiment == nil {
		return models.NeutralSentiment()
	}
	return models.Sentiment{
		Score:      sig.Sentiment.Score,
		Confidence: sig.Confidence,
		IssuedAt:   sig.IssuedAt,
		Source:     sig.Source,
		Fresh:      true,
	}
}

// Trend falls back to stage "unknown" with no rug risk.
func (c *Cache) Trend(ctx context.Context, token string) models.Trend {
	sig, err := c.Get(ctx, models.SignalKey{Kind: models.SignalTrend, Token: token})
	if err != nil || sig.Trend == nil {
		return models.NeutralTrend()
	}
	return models.Trend{
		Stage:      sig.Trend.Stage,
		RugRisk:    sig.Trend.RugRisk,
		TrendScore: sig.Trend.TrendScore,
		Confidence: sig.Confidence,
		IssuedAt:   sig.IssuedAt,
		Source:     sig.Source,
		Fresh:      true,
	}
}

// Rule fails closed: without a fresh rule the user may not trade the token.
func (c *Cache) Rule(ctx context.Context, userID, token string) models.Rule {
	sig, err := c.Get(ctx, models.SignalKey{Kind: models.SignalRule, Token: token, UserID: userID})
	if err != nil || sig.Rule == nil {
		return models.DeniedRule()
	}
	return models.Rule{
		Allowed:            sig.Rule.Allowed,
		MaxPositionNdollar: sig.Rule.MaxPositionNdollar,
		MaxDailyTrades:     sig.Rule.MaxDailyTrades,
		RuleHash:           sig.Rule.RuleHash,
		IssuedAt:           sig.IssuedAt,
		Source:             sig.Source,
		Fresh:              true,
	}
}

// Snapshot gathers the three advisory inputs for one (user, token).
func (c *Cache) Snapshot(ctx context.Context, userID, token string) models.SignalSnapshot {
	return models.SignalSnapshot{
		Sentiment: c.Sentiment(ctx, token),
		Trend:     c.Trend(ctx, token),
		Rule:      c.Rule(ctx, userID, token),
	}
}
