package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"TradeCore/internal/domain/models"
	"TradeCore/internal/repository/memory"
	"TradeCore/internal/services/portfolio"
	"TradeCore/pkg/logger"
	"TradeCore/pkg/metrics"
)

type fakeGateway struct {
	mu      sync.Mutex
	calls   []models.Decision
	slips   []float64
	failN   int
	started chan struct{}
	block   chan struct{}
}

func (g *fakeGateway) Submit(ctx context.Context, d models.Decision, slippage float64) (models.ExecutionResult, error) {
	g.mu.Lock()
	g.calls = append(g.calls, d)
	g.slips = append(g.slips, slippage)
	fail := g.failN > 0
	if fail {
		g.failN--
	}
	started, block := g.started, g.block
	g.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return models.ExecutionResult{}, ctx.Err()
		}
	}
	if fail {
		return models.ExecutionResult{}, errors.New("gateway unavailable")
	}
	qty := d.Quantity
	if d.Action == models.ActionBuy {
		qty = d.Amount / d.ReferencePrice
	}
	return models.ExecutionResult{Filled: true, FillPrice: d.ReferencePrice, FillQuantity: qty, FillAmount: qty * d.ReferencePrice}, nil
}

func (g *fakeGateway) submitted() []models.Decision {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]models.Decision(nil), g.calls...)
}

type harness struct {
	store     *memory.PositionStore
	book      *portfolio.Book
	ledger    *memory.AuditLedger
	events    *memory.Events
	gw        *fakeGateway
	locks     *ExecLocks
	auditor   *Auditor
	exec      *Executor
	emergency *EmergencyExitHandler
}

func newHarness(t *testing.T, positions ...models.Position) *harness {
	t.Helper()
	h := &harness{
		store:  memory.NewPositionStore(),
		ledger: memory.NewAuditLedger(0),
		events: memory.NewEvents(0),
		gw:     &fakeGateway{},
	}
	h.store.Seed(positions)
	h.book = portfolio.NewBook(h.store, models.DefaultRiskConfig(), logger.Nop())
	_, err := h.book.Load(context.Background())
	require.NoError(t, err)

	h.locks = NewExecLocks(nil, 0, logger.Nop())
	h.auditor = NewAuditor(h.ledger, h.events, metrics.Nop{}, logger.Nop())
	h.exec = NewExecutor(h.gw, h.book, h.locks, h.auditor, h.events, metrics.Nop{}, ExecutorConfig{
		Attempts:       2,
		AttemptTimeout: time.Second,
		BackoffMin:     time.Millisecond,
		BackoffMax:     2 * time.Millisecond,
		LockWait:       time.Second,
	}, logger.Nop())
	h.emergency = NewEmergencyExitHandler(h.gw, h.book, h.locks, h.auditor, h.events, metrics.Nop{}, EmergencyConfig{
		Slippage:       0.10,
		AttemptTimeout: 400 * time.Millisecond,
		Deadline:       time.Second,
		Retries:        1,
	}, logger.Nop())
	return h
}

func openPosition(user, token string) models.Position {
	return models.Position{
		UserID:          user,
		Token:           token,
		EntryPrice:      1,
		Quantity:        100,
		InitialQuantity: 100,
		HighestPrice:    1,
		State:           models.PositionOpen,
		OpenedAt:        time.Unix(1_700_000_000, 0),
	}
}

func outcomes(recs []models.AuditRecord) []models.Outcome {
	out := make([]models.Outcome, len(recs))
	for i, r := range recs {
		out[i] = r.Outcome
	}
	return out
}
