package riskguard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"TradeCore/internal/domain/models"
	"TradeCore/internal/domain/repository"
	"TradeCore/internal/services/portfolio"
	"TradeCore/pkg/logger"
)

// ExitExecutor carries out the exits the guard decides on.
type ExitExecutor interface {
	// ExecuteRiskExit submits d ahead of any pending periodic decision for the
	// same position and applies the fill.
	ExecuteRiskExit(ctx context.Context, d models.Decision) (models.ExecutionResult, error)
	// Emergency closes the whole position on the short-circuit path.
	Emergency(ctx context.Context, pos models.Position, reason models.CloseReason, price float64, ev *models.PatternEvent) (models.Decision, error)
}

type Guard struct {
	book     *portfolio.Book
	exec     ExitExecutor
	log      *logger.Logger
	metrics  repository.Metrics
	defaults models.RiskConfig
	slippage float64
	now      func() time.Time
}

func New(book *portfolio.Book, exec ExitExecutor, defaults models.RiskConfig, slippage float64, m repository.Metrics, log *logger.Logger) *Guard {
	return &Guard{
		book:     book,
		exec:     exec,
		log:      log.With(logger.String("component", "risk_guard")),
		metrics:  m,
		defaults: defaults,
		slippage: slippage,
		now:      time.Now,
	}
}

// OnPriceUpdate evaluates every open position in the token. Positions are
// evaluated in parallel, each one serialized by its slot; the call returns
// once all resulting exits were submitted.
func (g *Guard) OnPriceUpdate(ctx context.Context, u models.PriceUpdate, ev models.PatternEvent) {
	var wg sync.WaitGroup
	for _, s := range g.book.Slots(u.Token) {
		if _, open := s.Position(); !open {
			continue
		}
		wg.Add(1)
		go func(s *portfolio.Slot) {
			defer wg.Done()
			g.evaluate(ctx, s, u, ev)
		}(s)
	}
	wg.Wait()
}

func (g *Guard) evaluate(ctx context.Context, s *portfolio.Slot, u models.PriceUpdate, ev models.PatternEvent) {
	s.EvalLock()
	defer s.EvalUnlock()

	key := s.Key()
	cfg, err := g.book.RiskConfig(ctx, key.UserID)
	if err != nil {
		// protection keeps running on defaults when the user's config is unusable
		g.log.Warn("risk config unavailable, guarding with defaults",
			logger.String("user_id", key.UserID), logger.Error(err))
		cfg = g.defaults
	}

	var exits []Exit
	pos, err := g.book.Mutate(ctx, key, func(p *models.Position) []models.TransitionKind {
		ex, tr := Evaluate(p, u.Price, ev, cfg)
		exits = ex
		return tr
	})
	if err != nil {
		if !errors.Is(err, models.ErrPositionNotFound) {
			g.log.Error("risk evaluation failed", logger.String("position", key.String()), logger.Error(err))
		}
		return
	}

	for _, ex := range exits {
		g.metrics.RecordRiskExit(ex.Reason)
		g.log.Info("risk threshold fired",
			logger.String("user_id", key.UserID), logger.String("token", key.Token),
			logger.String("reason", string(ex.Reason)), logger.Int("tier", ex.Tier),
			logger.Float64("price", u.Price), logger.Float64("entry", pos.EntryPrice),
			logger.Float64("highest", pos.HighestPrice), logger.Float64("quantity", ex.Quantity))

		if ex.Kind == ExitEmergency {
			evCopy := ev
			if _, err := g.exec.Emergency(ctx, pos, ex.Reason, u.Price, &evCopy); err != nil && !errors.Is(err, models.ErrPositionNotFound) {
				g.log.Error("emergency exit failed", logger.String("position", key.String()), logger.Error(err))
			}
			return
		}

		d := g.decision(pos, ex, u, ev)
		if _, err := g.exec.ExecuteRiskExit(ctx, d); err != nil {
			if errors.Is(err, models.ErrPositionNotFound) {
				// another fill closed it first
				return
			}
			g.log.Error("risk exit failed",
				logger.String("position", key.String()), logger.String("reason", string(ex.Reason)), logger.Error(err))
			if ex.Kind == ExitFull {
				return
			}
		}
	}
}

func (g *Guard) decision(pos models.Position, ex Exit, u models.PriceUpdate, ev models.PatternEvent) models.Decision {
	evCopy := ev
	reasons := []string{
		ex.Detail,
		fmt.Sprintf("price=%.8g entry=%.8g highest=%.8g pnl=%.2f%%", u.Price, pos.EntryPrice, pos.HighestPrice, pos.PnLPct(u.Price)*100),
	}
	if ex.Kind == ExitPartial && ex.Reason == models.ReasonTakeProfit {
		reasons = append(reasons, fmt.Sprintf("tier=%d", ex.Tier))
	}
	return models.Decision{
		ID:             uuid.NewString(),
		UserID:         pos.UserID,
		Token:          pos.Token,
		Action:         models.ActionSell,
		Quantity:       ex.Quantity,
		Amount:         ex.Quantity * u.Price,
		Confidence:     1,
		Score:          -1,
		Reasons:        reasons,
		Source:         models.SourceRiskGuard,
		Slippage:       g.slippage,
		ReferencePrice: u.Price,
		CreatedAt:      g.now(),
		Provenance: models.Provenance{
			Pattern:     &evCopy,
			RuleAllowed: true,
			RiskState:   models.RiskStateOf(pos, u.Price),
			CloseReason: ex.Reason,
			Tier:        ex.Tier,
		},
	}
}
