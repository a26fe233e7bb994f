package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"TradeCore/internal/domain/models"
	"TradeCore/internal/domain/repository"
	"TradeCore/internal/services/decision"
	"TradeCore/internal/services/portfolio"
	"TradeCore/pkg/logger"
)

type CycleConfig struct {
	Interval     time.Duration `yaml:"interval" default:"15s"`
	MaxUpdateAge time.Duration `yaml:"max_update_age" default:"30s"`
	Workers      int           `yaml:"workers" default:"8" validate:"min=1"`
	Slippage     float64       `yaml:"slippage" default:"0.03" validate:"gt=0,lt=1"`
}

// TokenStatuses reports monitor health per token.
type TokenStatuses interface {
	Tokens() []string
	Status(token string) (models.TokenStatus, bool)
}

// SignalSnapshots gathers the advisory inputs for one (user, token).
type SignalSnapshots interface {
	Snapshot(ctx context.Context, userID, token string) models.SignalSnapshot
}

// PeriodicExecutor forwards decisions from the cycle.
type PeriodicExecutor interface {
	ExecutePeriodic(ctx context.Context, d models.Decision) (models.ExecutionResult, error)
}

// DecisionCycle runs the decision engine over every eligible (user, token)
// on its own cadence, independent of the monitors.
type DecisionCycle struct {
	monitor TokenStatuses
	board   *PatternBoard
	signals SignalSnapshots
	book    *portfolio.Book
	engine  *decision.Engine
	exec    PeriodicExecutor
	audit   *Auditor
	users   []string
	metrics repository.Metrics
	log     *logger.Logger
	cfg     CycleConfig
	now     func() time.Time

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewDecisionCycle(
	monitor TokenStatuses,
	board *PatternBoard,
	signals SignalSnapshots,
	book *portfolio.Book,
	engine *decision.Engine,
	exec PeriodicExecutor,
	audit *Auditor,
	users []string,
	m repository.Metrics,
	cfg CycleConfig,
	log *logger.Logger,
) *DecisionCycle {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &DecisionCycle{
		monitor: monitor,
		board:   board,
		signals: signals,
		book:    book,
		engine:  engine,
		exec:    exec,
		audit:   audit,
		users:   append([]string(nil), users...),
		metrics: m,
		log:     log.With(logger.String("component", "decision_cycle")),
		cfg:     cfg,
		now:     time.Now,
	}
}

func (c *DecisionCycle) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.RunOnce(ctx)
			}
		}
	}()
	c.log.Info("decision cycle started",
		logger.Int("users", len(c.users)), logger.Duration("interval_ms", c.cfg.Interval))
}

func (c *DecisionCycle) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

// RunOnce decides for every user on every eligible token and returns the
// decisions made. Degraded or stale tokens are skipped.
func (c *DecisionCycle) RunOnce(ctx context.Context) []models.Decision {
	start := c.now()
	var (
		mu  sync.Mutex
		out []models.Decision
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Workers)

	for _, token := range c.monitor.Tokens() {
		st, ok := c.monitor.Status(token)
		if !ok || !st.Eligible(start, c.cfg.MaxUpdateAge) {
			c.log.Debug("token skipped", logger.String("token", token),
				logger.Bool("degraded", st.Degraded), logger.String("last_update", st.LastUpdate.Format(time.RFC3339)))
			continue
		}
		u, ev, ok := c.board.Latest(token)
		if !ok {
			continue
		}
		for _, user := range c.users {
			user, token := user, token
			g.Go(func() error {
				d := c.decideOne(gctx, user, token, u, ev)
				mu.Lock()
				out = append(out, d)
				mu.Unlock()
				return nil
			})
		}
	}
	_ = g.Wait()
	c.metrics.RecordLatency("decision_cycle", c.now().Sub(start).Seconds())
	return out
}

func (c *DecisionCycle) decideOne(ctx context.Context, user, token string, u models.PriceUpdate, ev models.PatternEvent) models.Decision {
	key := models.PositionKey{UserID: user, Token: token}
	risk, err := c.book.RiskConfig(ctx, user)
	if err != nil {
		// an unusable per-user config disables trading for that user only
		d := models.Decision{
			ID:             uuid.NewString(),
			UserID:         user,
			Token:          token,
			Action:         models.ActionHold,
			Reasons:        []string{fmt.Sprintf("hold: risk config unusable: %v", err)},
			Source:         models.SourcePatternCycle,
			ReferencePrice: u.Price,
			CreatedAt:      c.now(),
			Provenance:     models.Provenance{Pattern: &ev},
		}
		c.audit.Record(ctx, d, models.OutcomeRejected, nil, err)
		c.log.Warn("trading disabled for user", logger.String("user_id", user), logger.Error(err))
		return d
	}

	in := decision.Input{
		UserID:  user,
		Token:   token,
		Pattern: ev,
		Signals: c.signals.Snapshot(ctx, user, token),
		Risk:    risk,
		Price:   u.Price,
		Now:     c.now(),

		EntriesToday: c.book.EntriesToday(user),
	}
	if pos, open := c.book.Get(key); open {
		in.Position = &pos
	}
	d := c.engine.Decide(in)
	d.Slippage = c.cfg.Slippage

	if !c.engine.ShouldExecute(d) {
		c.audit.Record(ctx, d, models.OutcomeLoggedOnly, nil, nil)
		if d.Action != models.ActionHold {
			c.log.Info("decision below execution threshold",
				logger.String("decision_id", d.ID), logger.String("user_id", user), logger.String("token", token),
				logger.String("action", string(d.Action)), logger.Float64("confidence", d.Confidence))
		}
		return d
	}

	c.log.Info("forwarding decision",
		logger.String("decision_id", d.ID), logger.String("user_id", user), logger.String("token", token),
		logger.String("action", string(d.Action)), logger.Float64("amount", d.Amount),
		logger.Float64("confidence", d.Confidence), logger.Strings("reasons", d.Reasons))
	if _, err := c.exec.ExecutePeriodic(ctx, d); err != nil {
		c.log.Warn("decision not executed", logger.String("decision_id", d.ID), logger.Error(err))
	}
	return d
}
