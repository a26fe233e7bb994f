package usecase

import (
	"context"
	"sort"
	"sync"

	"TradeCore/internal/domain/models"
)

// PatternBoard keeps the latest update and pattern per token for the
// periodic decision cycle and the API.
type PatternBoard struct {
	mu     sync.RWMutex
	latest map[string]boardEntry
}

type boardEntry struct {
	update models.PriceUpdate
	event  models.PatternEvent
}

func NewPatternBoard() *PatternBoard {
	return &PatternBoard{latest: make(map[string]boardEntry)}
}

func (b *PatternBoard) OnPriceUpdate(_ context.Context, u models.PriceUpdate, ev models.PatternEvent) {
	b.mu.Lock()
	b.latest[u.Token] = boardEntry{update: u, event: ev}
	b.mu.Unlock()
}

// Latest returns the most recent update and its classification for token.
func (b *PatternBoard) Latest(token string) (models.PriceUpdate, models.PatternEvent, bool) {
	b.mu.RLock()
	e, ok := b.latest[token]
	b.mu.RUnlock()
	return e.update, e.event, ok
}

// Patterns lists the latest event of every token seen so far.
func (b *PatternBoard) Patterns() []models.PatternEvent {
	b.mu.RLock()
	out := make([]models.PatternEvent, 0, len(b.latest))
	for _, e := range b.latest {
		out = append(out, e.event)
	}
	b.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Token < out[j].Token })
	return out
}
