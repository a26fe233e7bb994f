package logger

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	mu      sync.Mutex
	topics  []string
	batches []AlertBatch
}

func (p *capturePublisher) PublishMessage(_ context.Context, topic string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.batches = append(p.batches, payload.(AlertBatch))
	return nil
}

func (p *capturePublisher) messages() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, b := range p.batches {
		for _, e := range b.Entries {
			out = append(out, e.Level+":"+e.Message)
		}
	}
	return out
}

func newFileLogger(t *testing.T, level string) (*Logger, string) {
	t.Helper()
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.TraceLevel) })
	path := filepath.Join(t.TempDir(), "app.log")
	l, err := New(&Config{Level: level, Format: "json", Output: path})
	require.NoError(t, err)
	return l, path
}

func TestLoggerLevelFiltering(t *testing.T) {
	l, path := newFileLogger(t, "warn")

	l.Debug("debug line")
	l.Info("info line")
	l.Warn("warn line", String("token", "PEPE"))
	l.Error("error line", Error(errors.New("boom")))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(raw)
	assert.NotContains(t, out, "debug line")
	assert.NotContains(t, out, "info line")
	assert.Contains(t, out, "warn line")
	assert.Contains(t, out, `"token":"PEPE"`)
	assert.Contains(t, out, "error line")
	assert.Contains(t, out, `"error":"boom"`)
}

func TestLoggerRejectsUnknownLevel(t *testing.T) {
	_, err := New(&Config{Level: "loud"})
	assert.Error(t, err)
}

func TestCollectorReceivesWarningsWhenEnabled(t *testing.T) {
	l, _ := newFileLogger(t, "info")
	child := l.With(String("component", "price_monitor"))
	pub := &capturePublisher{}

	// attached after the child was derived
	l.AddCollector(&CollectionConfig{
		TimeInterval:    time.Hour,
		CountThreshold:  1,
		Topic:           "alerts",
		Publisher:       pub,
		CollectWarnings: true,
	})
	child.Warn("poll slow")
	child.Error("poll failed")
	l.RemoveCollector()

	assert.ElementsMatch(t, []string{"warn:poll slow", "error:poll failed"}, pub.messages())
	for _, topic := range pub.topics {
		assert.Equal(t, "alerts", topic)
	}
}

func TestCollectorSkipsWarningsByDefault(t *testing.T) {
	l, _ := newFileLogger(t, "info")
	pub := &capturePublisher{}

	l.AddCollector(&CollectionConfig{TimeInterval: time.Hour, Publisher: pub})
	l.Warn("just a warning")
	for i := 0; i < 2; i++ {
		l.Error("real failure")
	}
	l.RemoveCollector()

	require.Len(t, pub.batches, 1)
	require.Len(t, pub.batches[0].Entries, 1)
	entry := pub.batches[0].Entries[0]
	assert.Equal(t, "error", entry.Level)
	assert.Equal(t, 2, entry.Count)
}

func TestNopLoggerIgnoresCollectorFreeCalls(t *testing.T) {
	l := Nop()
	l.Warn("nothing")
	l.Error("nothing")
	l.RemoveCollector()
}
