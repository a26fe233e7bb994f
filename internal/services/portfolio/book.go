package portfolio

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"TradeCore/internal/domain/models"
	"TradeCore/internal/domain/repository"
	"TradeCore/pkg/logger"
)

// dustQuantity is treated as fully closed.
const dustQuantity = 1e-12

// Slot owns the single authoritative position for one (user, token).
// EvalLock serializes risk evaluations; field access goes through the Book.
type Slot struct {
	key  models.PositionKey
	eval sync.Mutex
	mu   sync.RWMutex
	pos  models.Position
	open bool
}

func (s *Slot) Key() models.PositionKey { return s.key }

func (s *Slot) EvalLock()   { s.eval.Lock() }
func (s *Slot) EvalUnlock() { s.eval.Unlock() }

// Position returns a copy of the slot's position.
func (s *Slot) Position() (models.Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pos, s.open
}

type cachedRisk struct {
	cfg      models.RiskConfig
	err      error
	loadedAt time.Time
}

// Book is the in-memory position book with write-through to the store.
type Book struct {
	store    repository.PositionStore
	log      *logger.Logger
	defaults models.RiskConfig
	riskTTL  time.Duration
	now      func() time.Time

	mu      sync.RWMutex
	slots   map[models.PositionKey]*Slot
	byToken map[string][]*Slot

	riskMu sync.Mutex
	risk   map[string]cachedRisk

	entriesMu sync.Mutex
	entries   map[string]dailyCount

	listeners []func(ctx context.Context, t models.PositionTransition)
}

type Option func(*Book)

func WithClock(now func() time.Time) Option { return func(b *Book) { b.now = now } }

func WithRiskTTL(d time.Duration) Option { return func(b *Book) { b.riskTTL = d } }

func NewBook(store repository.PositionStore, defaults models.RiskConfig, log *logger.Logger, opts ...Option) *Book {
	b := &Book{
		store:    store,
		log:      log.With(logger.String("component", "portfolio")),
		defaults: defaults,
		riskTTL:  time.Minute,
		now:      time.Now,
		slots:    make(map[models.PositionKey]*Slot),
		byToken:  make(map[string][]*Slot),
		risk:     make(map[string]cachedRisk),
		entries:  make(map[string]dailyCount),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// OnTransition registers a listener called after every persisted transition.
func (b *Book) OnTransition(fn func(ctx context.Context, t models.PositionTransition)) {
	b.listeners = append(b.listeners, fn)
}

// Load reads the open and parked positions from the store. Call once before
// monitors start.
func (b *Book) Load(ctx context.Context) (int, error) {
	positions, err := b.store.LoadOpen(ctx)
	if err != nil {
		return 0, fmt.Errorf("load positions: %w", err)
	}
	n := 0
	for _, p := range positions {
		if !p.IsOpen() && p.State != models.PositionExitFailed {
			continue
		}
		s := b.slot(p.Key())
		s.mu.Lock()
		s.pos, s.open = p, p.IsOpen()
		s.mu.Unlock()
		n++
	}
	return n, nil
}

func (b *Book) slot(key models.PositionKey) *Slot {
	b.mu.RLock()
	s, ok := b.slots[key]
	b.mu.RUnlock()
	if ok {
		return s
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok = b.slots[key]; ok {
		return s
	}
	s = &Slot{key: key}
	b.slots[key] = s
	b.byToken[key.Token] = append(b.byToken[key.Token], s)
	return s
}

// Slots returns the slots known for token, open or not.
func (b *Book) Slots(token string) []*Slot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*Slot, len(b.byToken[token]))
	copy(out, b.byToken[token])
	return out
}

// Get returns the open position for key.
func (b *Book) Get(key models.PositionKey) (models.Position, bool) {
	b.mu.RLock()
	s, ok := b.slots[key]
	b.mu.RUnlock()
	if !ok {
		return models.Position{}, false
	}
	p, open := s.Position()
	if !open {
		return models.Position{}, false
	}
	return p, true
}

// Holding reports whether key still holds tokens: open, or parked after a
// failed exit. No new entry is allowed while it does.
func (b *Book) Holding(key models.PositionKey) bool {
	b.mu.RLock()
	s, ok := b.slots[key]
	b.mu.RUnlock()
	if !ok {
		return false
	}
	p, open := s.Position()
	return open || p.State == models.PositionExitFailed
}

// ExitFailed lists positions parked after a failed full exit.
func (b *Book) ExitFailed(userID string) []models.Position {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []models.Position
	for _, s := range b.slots {
		p, _ := s.Position()
		if p.State == models.PositionExitFailed && (userID == "" || p.UserID == userID) {
			out = append(out, p)
		}
	}
	return out
}

// Open lists open positions, optionally filtered, ordered by user and token.
func (b *Book) Open(userID, token string) []models.Position {
	b.mu.RLock()
	slots := make([]*Slot, 0, len(b.slots))
	for _, s := range b.slots {
		slots = append(slots, s)
	}
	b.mu.RUnlock()

	out := make([]models.Position, 0, len(slots))
	for _, s := range slots {
		p, open := s.Position()
		if !open || (userID != "" && p.UserID != userID) || (token != "" && p.Token != token) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].Token < out[j].Token
	})
	return out
}

// Mutate runs fn on the position under the slot lock. fn returns the
// transition kinds it caused; each is persisted and announced.
func (b *Book) Mutate(ctx context.Context, key models.PositionKey, fn func(p *models.Position) []models.TransitionKind) (models.Position, error) {
	return b.mutate(ctx, key, false, fn)
}

// mutate with parked set also reaches a position parked after a failed exit,
// which still holds tokens.
func (b *Book) mutate(ctx context.Context, key models.PositionKey, parked bool, fn func(p *models.Position) []models.TransitionKind) (models.Position, error) {
	s := b.slot(key)
	s.mu.Lock()
	if !s.open && !(parked && s.pos.State == models.PositionExitFailed) {
		s.mu.Unlock()
		return models.Position{}, fmt.Errorf("%w: %s", models.ErrPositionNotFound, key)
	}
	kinds := fn(&s.pos)
	if len(kinds) > 0 {
		s.pos.UpdatedAt = b.now()
	}
	if !s.pos.IsOpen() {
		s.open = false
	}
	p := s.pos
	s.mu.Unlock()

	for _, k := range kinds {
		b.persist(ctx, models.PositionTransition{Kind: k, Position: p, Reason: string(p.CloseReason), At: p.UpdatedAt})
	}
	return p, nil
}

// ApplyBuyFill opens the position for a filled buy.
func (b *Book) ApplyBuyFill(ctx context.Context, key models.PositionKey, res models.ExecutionResult) (models.Position, error) {
	if res.FillQuantity <= 0 || res.FillPrice <= 0 {
		return models.Position{}, fmt.Errorf("%w: empty buy fill for %s", models.ErrExecutionFailure, key)
	}
	s := b.slot(key)
	s.mu.Lock()
	if s.open || s.pos.State == models.PositionExitFailed {
		s.mu.Unlock()
		return models.Position{}, fmt.Errorf("%w: %s", models.ErrPositionExists, key)
	}
	now := b.now()
	s.pos = models.Position{
		UserID:          key.UserID,
		Token:           key.Token,
		EntryPrice:      res.FillPrice,
		Quantity:        res.FillQuantity,
		InitialQuantity: res.FillQuantity,
		OpenedAt:        now,
		HighestPrice:    res.FillPrice,
		State:           models.PositionOpen,
		UpdatedAt:       now,
	}
	s.open = true
	p := s.pos
	s.mu.Unlock()

	b.persist(ctx, models.PositionTransition{Kind: models.TransitionOpened, Position: p, At: now})
	b.adjustCapital(ctx, key.UserID, -res.FillPrice*res.FillQuantity)
	b.countEntry(key.UserID, now)
	return p, nil
}

type dailyCount struct {
	day string
	n   int
}

func utcDay(t time.Time) string { return t.UTC().Format("2006-01-02") }

func (b *Book) countEntry(userID string, at time.Time) {
	day := utcDay(at)
	b.entriesMu.Lock()
	defer b.entriesMu.Unlock()
	c := b.entries[userID]
	if c.day != day {
		c = dailyCount{day: day}
	}
	c.n++
	b.entries[userID] = c
}

// EntriesToday returns how many buys filled for userID since UTC midnight.
// The count lives in memory and starts from zero after a restart.
func (b *Book) EntriesToday(userID string) int {
	day := utcDay(b.now())
	b.entriesMu.Lock()
	defer b.entriesMu.Unlock()
	if c := b.entries[userID]; c.day == day {
		return c.n
	}
	return 0
}

// ApplySellFill reduces the position by the filled quantity and closes it on
// a full exit or when nothing is left. A parked position is closed by a fill
// that was in flight when its exit was marked failed.
func (b *Book) ApplySellFill(ctx context.Context, key models.PositionKey, res models.ExecutionResult, fullClose bool, reason models.CloseReason) (models.Position, error) {
	if res.FillQuantity < 0 {
		return models.Position{}, fmt.Errorf("%w: negative sell fill for %s", models.ErrExecutionFailure, key)
	}
	var sold float64
	p, err := b.mutate(ctx, key, true, func(p *models.Position) []models.TransitionKind {
		sold = res.FillQuantity
		if sold > p.Quantity {
			sold = p.Quantity
		}
		p.Quantity -= sold
		if fullClose || p.Quantity <= dustQuantity {
			p.Quantity = 0
			p.State = models.PositionClosed
			p.CloseReason = reason
			p.ClosedAt = b.now()
			return []models.TransitionKind{models.TransitionClosed}
		}
		return []models.TransitionKind{models.TransitionPartial}
	})
	if err != nil {
		return p, err
	}
	b.adjustCapital(ctx, key.UserID, res.FillPrice*sold)
	return p, nil
}

// MarkExitFailed parks the position after a full exit could not be executed.
func (b *Book) MarkExitFailed(ctx context.Context, key models.PositionKey, reason models.CloseReason) (models.Position, error) {
	return b.Mutate(ctx, key, func(p *models.Position) []models.TransitionKind {
		p.State = models.PositionExitFailed
		p.CloseReason = reason
		return []models.TransitionKind{models.TransitionExitFailed}
	})
}

func (b *Book) persist(ctx context.Context, t models.PositionTransition) {
	if err := b.store.SaveTransition(ctx, t); err != nil {
		b.log.Error("persist position transition failed",
			logger.String("user_id", t.Position.UserID), logger.String("token", t.Position.Token),
			logger.String("transition", string(t.Kind)), logger.Error(err))
	}
	for _, fn := range b.listeners {
		fn(ctx, t)
	}
}

func (b *Book) adjustCapital(ctx context.Context, userID string, delta float64) {
	b.riskMu.Lock()
	if c, ok := b.risk[userID]; ok && c.err == nil {
		c.cfg.DeployableCapital += delta
		if c.cfg.DeployableCapital < 0 {
			c.cfg.DeployableCapital = 0
		}
		b.risk[userID] = c
	}
	b.riskMu.Unlock()

	if err := b.store.UpdateDeployable(ctx, userID, delta); err != nil {
		b.log.Error("update deployable capital failed", logger.String("user_id", userID),
			logger.Float64("delta", delta), logger.Error(err))
	}
}

// RiskConfig returns the user's validated risk configuration, cached for a
// short time. Users without a stored configuration get the defaults; an
// invalid stored configuration is an error and blocks trading for that user.
func (b *Book) RiskConfig(ctx context.Context, userID string) (models.RiskConfig, error) {
	now := b.now()
	b.riskMu.Lock()
	c, ok := b.risk[userID]
	b.riskMu.Unlock()
	if ok && now.Sub(c.loadedAt) < b.riskTTL {
		return c.cfg, c.err
	}

	cfg, err := b.store.RiskConfig(ctx, userID)
	switch {
	case err == nil:
		cfg.UserID = userID
		err = cfg.Validate()
	case errors.Is(err, models.ErrNotFound):
		cfg = b.defaults
		cfg.UserID = userID
		err = nil
	case ok && c.err == nil:
		// store unavailable: keep using the last good copy
		b.log.Warn("risk config reload failed", logger.String("user_id", userID), logger.Error(err))
		return c.cfg, nil
	default:
		return models.RiskConfig{}, fmt.Errorf("load risk config for %s: %w", userID, err)
	}

	b.riskMu.Lock()
	b.risk[userID] = cachedRisk{cfg: cfg, err: err, loadedAt: now}
	b.riskMu.Unlock()
	return cfg, err
}
