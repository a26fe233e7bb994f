package signals

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
)

type fakeStore struct {
	mu    sync.Mutex
	rows  map[string][]byte
	err   error
	reads int
}

func newFakeStore() *fakeStore { return &fakeStore{rows: map[string][]byte{}} }

func (f *fakeStore) Read(_ context.Context, key models.SignalKey) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if f.err != nil {
		return nil, f.err
	}
	raw, ok := f.rows[key.String()]
	if !ok {
		return nil, models.ErrSignalStale
	}
	return raw, nil
}

func (f *fakeStore) put(t *testing.T, sig models.AgentSignal) {
	t.Helper()
	raw, err := Encode(sig)
	require.NoError(t, err)
	f.mu.Lock()
	f.rows[sig.Key().String()] = raw
	f.mu.Unlock()
}

func (f *fakeStore) putRaw(key models.SignalKey, raw string) {
	f.mu.Lock()
	f.rows[key.String()] = []byte(raw)
	f.mu.Unlock()
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func testConfig() Config {
	return Config{
		SentimentFreshness: 2 * time.Hour,
		TrendFreshness:     2 * time.Hour,
		RuleFreshness:      2 * time.Hour,
		RecheckAfter:       time.Minute,
		QuarantineTTL:      time.Minute,
	}
}

var now0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func sentiment(score float64, issued time.Time) models.AgentSignal {
	return models.AgentSignal{Kind: models.SignalSentiment, Token: "PEPE", Confidence: 0.8, IssuedAt: issued,
		Source: "news", Sentiment: &models.SentimentPayload{Score: score}}
}

func rule(allowed bool, hash string, issued time.Time) models.AgentSignal {
	return models.AgentSignal{Kind: models.SignalRule, Token: "PEPE", UserID: "u1", Confidence: 1, IssuedAt: issued,
		Source: "rules", Rule: &models.RulePayload{Allowed: allowed, RuleHash: hash}}
}

func TestSentimentReadThroughAndHit(t *testing.T) {
	store := newFakeStore()
	clk := &clock{t: now0}
	c := NewCache(store, testConfig(), logger.Nop(), WithClock(clk.now))
	store.put(t, sentiment(0.5, now0.Add(-10*time.Minute)))

	s := c.Sentiment(context.Background(), "PEPE")
	assert.True(t, s.Fresh)
	assert.Equal(t, 0.5, s.Score)

	c.Sentiment(context.Background(), "PEPE")
	assert.Equal(t, 1, store.reads)
}

func TestExpiredSignalIsNeutralNotLastKnownGood(t *testing.T) {
	store := newFakeStore()
	clk := &clock{t: now0}
	c := NewCache(store, testConfig(), logger.Nop(), WithClock(clk.now))
	store.put(t, sentiment(0.9, now0.Add(-time.Hour)))
	require.True(t, c.Sentiment(context.Background(), "PEPE").Fresh)

	clk.t = now0.Add(90 * time.Minute)
	s := c.Sentiment(context.Background(), "PEPE")
	assert.False(t, s.Fresh)
	assert.Equal(t, 0.0, s.Score)
	assert.Equal(t, 0, c.Len())
}

func TestRuleFailsClosed(t *testing.T) {
	store := newFakeStore()
	c := NewCache(store, testConfig(), logger.Nop(), WithClock((&clock{t: now0}).now))

	r := c.Rule(context.Background(), "u1", "PEPE")
	assert.False(t, r.Allowed)
	assert.False(t, r.Fresh)

	store.put(t, rule(true, "h1", now0))
	c.Invalidate(models.SignalKey{Kind: models.SignalRule, Token: "PEPE", UserID: "u1"})
	assert.True(t, c.Rule(context.Background(), "u1", "PEPE").Allowed)
}

func TestRuleHashChangePickedUpOnRecheck(t *testing.T) {
	store := newFakeStore()
	clk := &clock{t: now0}
	c := NewCache(store, testConfig(), logger.Nop(), WithClock(clk.now))
	store.put(t, rule(true, "h1", now0))
	require.True(t, c.Rule(context.Background(), "u1", "PEPE").Allowed)

	store.put(t, rule(false, "h2", now0.Add(30*time.Second)))
	clk.t = now0.Add(2 * time.Minute)
	r := c.Rule(context.Background(), "u1", "PEPE")
	assert.False(t, r.Allowed)
	assert.Equal(t, "h2", r.RuleHash)
}

func TestTrendNeutralFallback(t *testing.T) {
	c := NewCache(newFakeStore(), testConfig(), logger.Nop())
	tr := c.Trend(context.Background(), "PEPE")
	assert.Equal(t, models.StageUnknown, tr.Stage)
	assert.Equal(t, 0.0, tr.RugRisk)
}

func TestMalformedSignalQuarantined(t *testing.T) {
	store := newFakeStore()
	clk := &clock{t: now0}
	c := NewCache(store, testConfig(), logger.Nop(), WithClock(clk.now))
	key := models.SignalKey{Kind: models.SignalSentiment, Token: "PEPE"}
	store.putRaw(key, `{"schema_version":1,"kind":"sentiment","token":"PEPE","payload":{"score":7},"confidence":0.5,"issued_at":"2024-03-01T11:59:00Z"}`)

	_, err := c.Get(context.Background(), key)
	assert.ErrorIs(t, err, models.ErrSignalStale)
	assert.ErrorIs(t, err, models.ErrSignalMalformed)

	// quarantined: no second store read
	_, err = c.Get(context.Background(), key)
	assert.ErrorIs(t, err, models.ErrSignalStale)
	assert.Equal(t, 1, store.reads)

	clk.t = now0.Add(2 * time.Minute)
	store.put(t, sentiment(0.2, now0.Add(time.Minute)))
	sig, err := c.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, 0.2, sig.Sentiment.Score)
}

func TestStoreErrorServesFreshCachedValue(t *testing.T) {
	store := newFakeStore()
	clk := &clock{t: now0}
	c := NewCache(store, testConfig(), logger.Nop(), WithClock(clk.now))
	store.put(t, sentiment(0.4, now0))
	require.True(t, c.Sentiment(context.Background(), "PEPE").Fresh)

	store.err = errors.New("connection refused")
	clk.t = now0.Add(5 * time.Minute)
	assert.Equal(t, 0.4, c.Sentiment(context.Background(), "PEPE").Score)

	clk.t = now0.Add(3 * time.Hour)
	assert.False(t, c.Sentiment(context.Background(), "PEPE").Fresh)
}

func TestDecodeRejections(t *testing.T) {
	key := models.SignalKey{Kind: models.SignalTrend, Token: "PEPE"}
	cases := map[string]string{
		"bad version":  `{"schema_version":2,"kind":"trend","token":"PEPE","payload":{"stage":"early","rug_risk":0.1},"confidence":1,"issued_at":"2024-03-01T11:00:00Z"}`,
		"wrong kind":   `{"schema_version":1,"kind":"sentiment","token":"PEPE","payload":{"score":0.1},"confidence":1,"issued_at":"2024-03-01T11:00:00Z"}`,
		"bad stage":    `{"schema_version":1,"kind":"trend","token":"PEPE","payload":{"stage":"moon","rug_risk":0.1},"confidence":1,"issued_at":"2024-03-01T11:00:00Z"}`,
		"no rug risk":  `{"schema_version":1,"kind":"trend","token":"PEPE","payload":{"stage":"early"},"confidence":1,"issued_at":"2024-03-01T11:00:00Z"}`,
		"no issued_at": `{"schema_version":1,"kind":"trend","token":"PEPE","payload":{"stage":"early","rug_risk":0.1},"confidence":1}`,
		"not json":     `nope`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(key, []byte(raw))
			assert.ErrorIs(t, err, models.ErrSignalMalformed)
		})
	}
}

func TestRuleCarriesLimits(t *testing.T) {
	store := newFakeStore()
	c := NewCache(store, testConfig(), logger.Nop(), WithClock((&clock{t: now0}).now))
	sig := rule(true, "h1", now0)
	sig.Rule.MaxPositionNdollar = 40
	sig.Rule.MaxDailyTrades = 3
	store.put(t, sig)

	r := c.Rule(context.Background(), "u1", "PEPE")
	require.True(t, r.Fresh)
	assert.Equal(t, 40.0, r.MaxPositionNdollar)
	assert.Equal(t, 3, r.MaxDailyTrades)
}
