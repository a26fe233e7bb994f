package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"TradeCore/internal/domain/models"
	"TradeCore/internal/domain/repository"
	"TradeCore/internal/services/portfolio"
	"TradeCore/pkg/logger"
)

type EmergencyConfig struct {
	Slippage       float64       `yaml:"slippage" default:"0.10" validate:"gt=0,lt=1"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout" default:"400ms"`
	Deadline       time.Duration `yaml:"deadline" default:"1s"`
	Retries        int           `yaml:"retries" default:"1" validate:"min=0,max=1"`
}

// ExitStats summarizes emergency exits since start.
type ExitStats struct {
	Total        int64            `json:"total"`
	Succeeded    int64            `json:"succeeded"`
	Failed       int64            `json:"failed"`
	AvgLatencyMs float64          `json:"avg_latency_ms"`
	ByReason     map[string]int64 `json:"by_reason"`
}

// EmergencyExitHandler closes whole positions on the short-circuit path,
// bypassing the decision engine.
type EmergencyExitHandler struct {
	gw      repository.ExecutionGateway
	book    *portfolio.Book
	locks   *ExecLocks
	audit   *Auditor
	alerts  repository.AlertSink
	metrics repository.Metrics
	log     *logger.Logger
	cfg     EmergencyConfig
	now     func() time.Time

	mu        sync.Mutex
	stats     ExitStats
	latencyMs float64
}

func NewEmergencyExitHandler(
	gw repository.ExecutionGateway,
	book *portfolio.Book,
	locks *ExecLocks,
	audit *Auditor,
	alerts repository.AlertSink,
	m repository.Metrics,
	cfg EmergencyConfig,
	log *logger.Logger,
) *EmergencyExitHandler {
	return &EmergencyExitHandler{
		gw:      gw,
		book:    book,
		locks:   locks,
		audit:   audit,
		alerts:  alerts,
		metrics: m,
		log:     log.With(logger.String("component", "emergency_exit")),
		cfg:     cfg,
		now:     time.Now,
		stats:   ExitStats{ByReason: make(map[string]int64)},
	}
}

// Emergency emits a full-close sell for pos, preempting any pending periodic
// decision, and submits it within the configured deadline. A position that
// cannot be closed is parked as exit-failed and an alert is raised.
func (h *EmergencyExitHandler) Emergency(ctx context.Context, pos models.Position, reason models.CloseReason, price float64, ev *models.PatternEvent) (models.Decision, error) {
	start := h.now()
	d := h.decision(pos, reason, price, ev)
	key := pos.Key()

	dctx, cancel := context.WithTimeout(ctx, h.cfg.Deadline)
	defer cancel()

	if h.locks.Preempt(key) {
		h.log.Info("pending periodic decision superseded by emergency exit", logger.String("position", key.String()))
	}

	var res models.ExecutionResult
	release, err := h.locks.Acquire(dctx, key)
	if err == nil {
		defer release()
		if d, err = currentExit(h.book, d); err != nil {
			h.audit.Record(ctx, d, models.OutcomeRejected, nil, err)
			h.log.Info("emergency exit dropped, position closed while waiting",
				logger.String("decision_id", d.ID), logger.String("position", key.String()))
			return d, err
		}
		res, err = h.submit(dctx, d)
	} else if _, open := h.book.Get(key); !open {
		// the fill that held the lock closed the position
		err = fmt.Errorf("%w: %s closed before the emergency exit", models.ErrPositionNotFound, key)
		h.audit.Record(ctx, d, models.OutcomeRejected, nil, err)
		return d, err
	}
	latency := h.now().Sub(start)
	res.Latency = latency
	h.metrics.RecordExecution(models.SourceEmergency, statusOf(err), latency)

	if err != nil {
		err = fmt.Errorf("%w: emergency exit %s: %v", models.ErrExecutionFailure, key, err)
		h.audit.Record(ctx, d, models.OutcomeFailed, &res, err)
		if _, merr := h.book.MarkExitFailed(ctx, key, reason); merr != nil {
			h.log.Error("mark exit failed", logger.String("position", key.String()), logger.Error(merr))
		}
		raise(ctx, h.alerts, h.log, models.Alert{
			Kind:     "emergency_exit_failed",
			Severity: models.SeverityCritical,
			UserID:   pos.UserID,
			Token:    pos.Token,
			Message:  "emergency exit failed, position parked",
			Details: map[string]string{
				"decision_id": d.ID,
				"reason":      string(reason),
				"error":       err.Error(),
			},
			RaisedAt: h.now(),
		})
		h.record(reason, latency, false)
		return d, err
	}

	if _, aerr := h.book.ApplySellFill(ctx, key, res, true, reason); aerr != nil {
		h.log.Error("apply emergency fill failed", logger.String("decision_id", d.ID), logger.Error(aerr))
	}
	h.audit.Record(ctx, d, models.OutcomeFilled, &res, nil)
	h.record(reason, latency, true)
	h.log.Error("emergency exit executed",
		logger.String("user_id", pos.UserID), logger.String("token", pos.Token),
		logger.String("reason", string(reason)), logger.Duration("latency_ms", latency),
		logger.Float64("fill_price", res.FillPrice), logger.Int("attempts", res.Attempts))
	return d, nil
}

func (h *EmergencyExitHandler) submit(ctx context.Context, d models.Decision) (models.ExecutionResult, error) {
	var (
		res models.ExecutionResult
		err error
	)
	for attempt := 1; attempt <= 1+h.cfg.Retries; attempt++ {
		res, err = submitOnce(ctx, h.gw, d, h.cfg.AttemptTimeout)
		res.Attempts = attempt
		if err == nil || ctx.Err() != nil {
			break
		}
		h.log.Warn("emergency submission failed",
			logger.String("decision_id", d.ID), logger.Int("attempt", attempt), logger.Error(err))
	}
	return res, err
}

func (h *EmergencyExitHandler) decision(pos models.Position, reason models.CloseReason, price float64, ev *models.PatternEvent) models.Decision {
	return models.Decision{
		ID:             uuid.NewString(),
		UserID:         pos.UserID,
		Token:          pos.Token,
		Action:         models.ActionSell,
		Quantity:       pos.Quantity,
		Amount:         pos.Quantity * price,
		Confidence:     1,
		Score:          -1,
		Reasons:        []string{fmt.Sprintf("emergency exit: %s at %.8g (entry %.8g)", reason, price, pos.EntryPrice)},
		Source:         models.SourceEmergency,
		Slippage:       h.cfg.Slippage,
		ReferencePrice: price,
		CreatedAt:      h.now(),
		Provenance: models.Provenance{
			Pattern:     ev,
			RuleAllowed: true,
			RiskState:   models.RiskStateOf(pos, price),
			CloseReason: reason,
		},
	}
}

func (h *EmergencyExitHandler) record(reason models.CloseReason, latency time.Duration, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stats.Total++
	if ok {
		h.stats.Succeeded++
	} else {
		h.stats.Failed++
	}
	h.stats.ByReason[string(reason)]++
	h.latencyMs += float64(latency) / float64(time.Millisecond)
	h.stats.AvgLatencyMs = h.latencyMs / float64(h.stats.Total)
}

// Stats returns a copy of the exit statistics.
func (h *EmergencyExitHandler) Stats() ExitStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := h.stats
	out.ByReason = make(map[string]int64, len(h.stats.ByReason))
	for k, v := range h.stats.ByReason {
		out.ByReason[k] = v
	}
	return out
}

func statusOf(err error) string {
	if err != nil {
		return "failed"
	}
	return "filled"
}

// RiskExits routes the guard's exits: ordinary ones through the executor,
// emergencies through the short-circuit handler.
type RiskExits struct {
	Executor *Executor
	Handler  *EmergencyExitHandler
}

func (r RiskExits) ExecuteRiskExit(ctx context.Context, d models.Decision) (models.ExecutionResult, error) {
	return r.Executor.ExecuteRiskExit(ctx, d)
}

func (r RiskExits) Emergency(ctx context.Context, pos models.Position, reason models.CloseReason, price float64, ev *models.PatternEvent) (models.Decision, error) {
	return r.Handler.Emergency(ctx, pos, reason, price, ev)
}
