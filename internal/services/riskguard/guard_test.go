package riskguard

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TradeCore/internal/domain/models"
	"TradeCore/internal/repository/memory"
	"TradeCore/internal/services/portfolio"
	"TradeCore/pkg/logger"
	"TradeCore/pkg/metrics"
)

type fakeExec struct {
	book       *portfolio.Book
	mu         sync.Mutex
	decisions  []models.Decision
	emergency  []models.CloseReason
	failNormal bool
}

func (f *fakeExec) ExecuteRiskExit(ctx context.Context, d models.Decision) (models.ExecutionResult, error) {
	f.mu.Lock()
	f.decisions = append(f.decisions, d)
	f.mu.Unlock()
	if f.failNormal {
		_, _ = f.book.MarkExitFailed(ctx, d.Key(), d.Provenance.CloseReason)
		return models.ExecutionResult{}, models.ErrExecutionFailure
	}
	res := models.ExecutionResult{Filled: true, FillPrice: d.ReferencePrice, FillQuantity: d.Quantity}
	_, err := f.book.ApplySellFill(ctx, d.Key(), res, d.FullClose(), d.Provenance.CloseReason)
	return res, err
}

func (f *fakeExec) Emergency(ctx context.Context, pos models.Position, reason models.CloseReason, price float64, _ *models.PatternEvent) (models.Decision, error) {
	f.mu.Lock()
	f.emergency = append(f.emergency, reason)
	f.mu.Unlock()
	res := models.ExecutionResult{Filled: true, FillPrice: price, FillQuantity: pos.Quantity}
	_, err := f.book.ApplySellFill(ctx, pos.Key(), res, true, reason)
	return models.Decision{}, err
}

func setup(t *testing.T, positions ...models.Position) (*Guard, *fakeExec, *portfolio.Book) {
	t.Helper()
	store := memory.NewPositionStore()
	store.Seed(positions)
	book := portfolio.NewBook(store, models.DefaultRiskConfig(), logger.Nop())
	_, err := book.Load(context.Background())
	require.NoError(t, err)
	exec := &fakeExec{book: book}
	g := New(book, exec, models.DefaultRiskConfig(), 0.03, metrics.Nop{}, logger.Nop())
	return g, exec, book
}

func update(price float64) models.PriceUpdate {
	return models.PriceUpdate{Token: "PEPE", Price: price}
}

func TestGuardStopLossClosesOnce(t *testing.T) {
	g, exec, book := setup(t, openPosition())
	ctx := context.Background()

	for _, price := range []float64{0.89, 0.88, 0.87} {
		g.OnPriceUpdate(ctx, update(price), none)
	}
	require.Len(t, exec.decisions, 1)
	d := exec.decisions[0]
	assert.Equal(t, models.SourceRiskGuard, d.Source)
	assert.Equal(t, models.ReasonStopLoss, d.Provenance.CloseReason)
	assert.Equal(t, models.ActionSell, d.Action)

	_, open := book.Get(models.PositionKey{UserID: "u1", Token: "PEPE"})
	assert.False(t, open)
}

func TestGuardRugPullUsesEmergencyPath(t *testing.T) {
	other := openPosition()
	other.UserID = "u2"
	g, exec, _ := setup(t, openPosition(), other)

	g.OnPriceUpdate(context.Background(), update(0.45), models.PatternEvent{Token: "PEPE", Kind: models.PatternRugPull})
	assert.Len(t, exec.emergency, 2)
	assert.Empty(t, exec.decisions)
}

func TestGuardFailedFullExitStopsFurtherEvaluation(t *testing.T) {
	g, exec, book := setup(t, openPosition())
	exec.failNormal = true

	g.OnPriceUpdate(context.Background(), update(0.89), none)
	g.OnPriceUpdate(context.Background(), update(0.85), none)
	assert.Len(t, exec.decisions, 1)
	assert.Empty(t, book.Open("", ""))
}

func TestGuardPartialThenTrailing(t *testing.T) {
	g, exec, book := setup(t, openPosition())
	ctx := context.Background()
	key := models.PositionKey{UserID: "u1", Token: "PEPE"}

	for _, price := range []float64{1.06, 1.20} {
		g.OnPriceUpdate(ctx, update(price), none)
	}
	p, ok := book.Get(key)
	require.True(t, ok)
	assert.InDelta(t, 75, p.Quantity, 1e-9)
	assert.Equal(t, models.PositionTrailingActive, p.State)

	g.OnPriceUpdate(ctx, update(1.104), none)
	require.Len(t, exec.decisions, 2)
	assert.Equal(t, models.ReasonTrailingStop, exec.decisions[1].Provenance.CloseReason)
	assert.InDelta(t, 75, exec.decisions[1].Quantity, 1e-9)
	_, ok = book.Get(key)
	assert.False(t, ok)
}

func TestGuardConcurrentUpdatesFireStopLossOnce(t *testing.T) {
	g, exec, book := setup(t, openPosition())
	ctx := context.Background()

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			g.OnPriceUpdate(ctx, update(0.89), none)
		}()
	}
	close(start)
	wg.Wait()

	exec.mu.Lock()
	defer exec.mu.Unlock()
	require.Len(t, exec.decisions, 1)
	assert.Equal(t, models.ReasonStopLoss, exec.decisions[0].Provenance.CloseReason)
	assert.Empty(t, exec.emergency)
	assert.False(t, book.Holding(models.PositionKey{UserID: "u1", Token: "PEPE"}))
}

func TestGuardFomoSpikeTakesPartial(t *testing.T) {
	g, exec, book := setup(t, openPosition())

	g.OnPriceUpdate(context.Background(), update(1.25), models.PatternEvent{Token: "PEPE", Kind: models.PatternFomoSpike})
	require.NotEmpty(t, exec.decisions)
	d := exec.decisions[0]
	assert.Equal(t, models.ReasonFomoProfit, d.Provenance.CloseReason)
	assert.InDelta(t, 50, d.Quantity, 1e-9)
	assert.False(t, d.FullClose())

	p, ok := book.Get(models.PositionKey{UserID: "u1", Token: "PEPE"})
	require.True(t, ok)
	assert.True(t, p.Fired.FomoProfit)
}
