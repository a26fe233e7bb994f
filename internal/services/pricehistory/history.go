package pricehistory

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"TradeCore/internal/domain/models"
)

// MinRetention is the shortest window the 5-minute metrics can be computed over.
const MinRetention = 5 * time.Minute

// History is the rolling sample window of one token. It has a single writer;
// readers take Snapshot and get an immutable view that later appends never touch.
type History struct {
	token     string
	retention time.Duration

	writeMu sync.Mutex
	view    atomic.Pointer[models.HistoryView]
}

func New(token string, retention time.Duration) *History {
	if retention < MinRetention {
		retention = MinRetention
	}
	h := &History{token: token, retention: retention}
	empty := models.NewHistoryView(token, nil)
	h.view.Store(&empty)
	return h
}

func (h *History) Token() string { return h.token }

// Snapshot returns the current immutable view.
func (h *History) Snapshot() models.HistoryView {
	return *h.view.Load()
}

// Append validates s, evicts samples that fell out of the retention window and
// publishes a new view. Samples older than the latest one are rejected.
func (h *History) Append(s models.PriceSample) (models.HistoryView, error) {
	if s.Token != h.token || !s.Valid() {
		return h.Snapshot(), fmt.Errorf("%w: %s price=%v volume=%v", models.ErrInvalidSample, s.Token, s.Price, s.Volume)
	}

	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	cur := h.view.Load().Samples()
	if n := len(cur); n > 0 && s.ObservedAt.Before(cur[n-1].ObservedAt) {
		return *h.view.Load(), fmt.Errorf("%w: out of order sample at %s (latest %s)",
			models.ErrInvalidSample, s.ObservedAt.Format(time.RFC3339Nano), cur[n-1].ObservedAt.Format(time.RFC3339Nano))
	}

	cutoff := s.ObservedAt.Add(-h.retention)
	start := 0
	for start < len(cur) && cur[start].ObservedAt.Before(cutoff) {
		start++
	}

	next := make([]models.PriceSample, 0, len(cur)-start+1)
	next = append(next, cur[start:]...)
	next = append(next, s)

	v := models.NewHistoryView(h.token, next)
	h.view.Store(&v)
	return v, nil
}

// Set holds one History per token in the injected universe.
// The token set is fixed at construction.
type Set struct {
	histories map[string]*History
}

func NewSet(tokens []string, retention time.Duration) *Set {
	m := make(map[string]*History, len(tokens))
	for _, t := range tokens {
		m[t] = New(t, retention)
	}
	return &Set{histories: m}
}

func (s *Set) Get(token string) (*History, bool) {
	h, ok := s.histories[token]
	return h, ok
}

func (s *Set) Snapshot(token string) (models.HistoryView, bool) {
	h, ok := s.histories[token]
	if !ok {
		return models.HistoryView{}, false
	}
	return h.Snapshot(), true
}
