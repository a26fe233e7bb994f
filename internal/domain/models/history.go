package models

import (
	"sort"
	"time"
)

// HistoryView is an immutable snapshot of one token's price history,
// ordered by ObservedAt. Callers must not modify the returned samples.
type HistoryView struct {
	Token   string
	samples []PriceSample
}

// NewHistoryView wraps samples that are already ordered and owned by the view.
func NewHistoryView(token string, samples []PriceSample) HistoryView {
	return HistoryView{Token: token, samples: samples}
}

func (h HistoryView) Len() int { return len(h.samples) }

func (h HistoryView) Samples() []PriceSample { return h.samples }

func (h HistoryView) Latest() (PriceSample, bool) {
	if len(h.samples) == 0 {
		return PriceSample{}, false
	}
	return h.samples[len(h.samples)-1], true
}

func (h HistoryView) Oldest() (PriceSample, bool) {
	if len(h.samples) == 0 {
		return PriceSample{}, false
	}
	return h.samples[0], true
}

// AtOrBefore returns the latest sample observed at or before t.
func (h HistoryView) AtOrBefore(t time.Time) (PriceSample, bool) {
	i := sort.Search(len(h.samples), func(i int) bool {
		return h.samples[i].ObservedAt.After(t)
	})
	if i == 0 {
		return PriceSample{}, false
	}
	return h.samples[i-1], true
}

// Since returns the samples observed at or after t.
func (h HistoryView) Since(t time.Time) []PriceSample {
	i := sort.Search(len(h.samples), func(i int) bool {
		return !h.samples[i].ObservedAt.Before(t)
	})
	return h.samples[i:]
}

// ReferenceFor picks the sample a change over window is measured against:
// the latest sample at or before latest-window, or the oldest sample when
// the history is shorter than the window.
func (h HistoryView) ReferenceFor(window time.Duration) (PriceSample, bool) {
	latest, ok := h.Latest()
	if !ok {
		return PriceSample{}, false
	}
	if ref, ok := h.AtOrBefore(latest.ObservedAt.Add(-window)); ok {
		return ref, true
	}
	return h.Oldest()
}

// ChangeOver is the simple return of the latest price against ReferenceFor(window).
func (h HistoryView) ChangeOver(window time.Duration) float64 {
	latest, ok := h.Latest()
	if !ok {
		return 0
	}
	ref, _ := h.ReferenceFor(window)
	if ref.Price <= 0 {
		return 0
	}
	return latest.Price/ref.Price - 1
}
