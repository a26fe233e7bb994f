package usecase

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"TradeCore/internal/domain/models"
	"TradeCore/internal/domain/repository"
	"TradeCore/internal/services/portfolio"
	"TradeCore/pkg/logger"
)

type ExecutorConfig struct {
	Attempts       int           `yaml:"attempts" default:"2" validate:"min=1,max=2"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout" default:"3s"`
	BackoffMin     time.Duration `yaml:"backoff_min" default:"200ms"`
	BackoffMax     time.Duration `yaml:"backoff_max" default:"1s"`
	LockWait       time.Duration `yaml:"lock_wait" default:"5s"`
}

// Executor submits decisions to the gateway under the per-position
// execution lock and applies the fills to the book.
type Executor struct {
	gw      repository.ExecutionGateway
	book    *portfolio.Book
	locks   *ExecLocks
	audit   *Auditor
	alerts  repository.AlertSink
	metrics repository.Metrics
	log     *logger.Logger
	cfg     ExecutorConfig
	now     func() time.Time
}

func NewExecutor(
	gw repository.ExecutionGateway,
	book *portfolio.Book,
	locks *ExecLocks,
	audit *Auditor,
	alerts repository.AlertSink,
	m repository.Metrics,
	cfg ExecutorConfig,
	log *logger.Logger,
) *Executor {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 2
	}
	return &Executor{
		gw:      gw,
		book:    book,
		locks:   locks,
		audit:   audit,
		alerts:  alerts,
		metrics: m,
		log:     log.With(logger.String("component", "executor")),
		cfg:     cfg,
		now:     time.Now,
	}
}

// ExecutePeriodic forwards a decision from the periodic cycle. It is dropped
// as superseded when a risk or emergency exit preempts it before submission.
func (e *Executor) ExecutePeriodic(ctx context.Context, d models.Decision) (models.ExecutionResult, error) {
	key := d.Key()
	ticket := e.locks.Reserve(key)
	defer e.locks.Finish(ticket)

	lockCtx, cancel := context.WithTimeout(ctx, e.cfg.LockWait)
	release, err := e.locks.Acquire(lockCtx, key)
	cancel()
	if err != nil {
		e.audit.Record(ctx, d, models.OutcomeFailed, nil, fmt.Errorf("%w: %v", models.ErrExecutionFailure, err))
		return models.ExecutionResult{}, err
	}
	defer release()

	if !ticket.Begin() {
		err := fmt.Errorf("%w: %s preempted", models.ErrSuperseded, key)
		e.audit.Record(ctx, d, models.OutcomeSuperseded, nil, err)
		e.log.Info("periodic decision superseded",
			logger.String("decision_id", d.ID), logger.String("position", key.String()))
		return models.ExecutionResult{}, err
	}

	// the book may have moved while the decision waited for the lock
	switch d.Action {
	case models.ActionBuy:
		if e.book.Holding(key) {
			err := fmt.Errorf("%w: %s", models.ErrPositionExists, key)
			e.audit.Record(ctx, d, models.OutcomeRejected, nil, err)
			return models.ExecutionResult{}, err
		}
	case models.ActionSell:
		pos, open := e.book.Get(key)
		if !open {
			err := fmt.Errorf("%w: %s", models.ErrPositionNotFound, key)
			e.audit.Record(ctx, d, models.OutcomeRejected, nil, err)
			return models.ExecutionResult{}, err
		}
		d.Quantity = pos.Quantity
		d.Amount = pos.Quantity * d.ReferencePrice
	default:
		return models.ExecutionResult{}, nil
	}

	res, err := e.submit(ctx, d, e.cfg.Attempts, e.cfg.AttemptTimeout)
	if err != nil {
		e.audit.Record(ctx, d, models.OutcomeFailed, &res, err)
		e.log.Error("periodic decision failed",
			logger.String("decision_id", d.ID), logger.String("position", key.String()),
			logger.String("action", string(d.Action)), logger.Int("attempts", res.Attempts), logger.Error(err))
		return res, err
	}

	if d.Action == models.ActionBuy {
		_, err = e.book.ApplyBuyFill(ctx, key, res)
	} else {
		_, err = e.book.ApplySellFill(ctx, key, res, true, models.ReasonSignalExit)
	}
	if err != nil {
		e.log.Error("apply fill failed", logger.String("decision_id", d.ID), logger.Error(err))
	}
	e.audit.Record(ctx, d, models.OutcomeFilled, &res, nil)
	return res, nil
}

// ExecuteRiskExit submits a risk guard exit ahead of any pending periodic
// decision for the same position. A failed full exit parks the position.
func (e *Executor) ExecuteRiskExit(ctx context.Context, d models.Decision) (models.ExecutionResult, error) {
	key := d.Key()
	if e.locks.Preempt(key) {
		e.log.Info("pending periodic decision preempted by risk exit", logger.String("position", key.String()))
	}

	lockCtx, cancel := context.WithTimeout(ctx, e.cfg.LockWait)
	release, err := e.locks.Acquire(lockCtx, key)
	cancel()
	if err != nil {
		return models.ExecutionResult{}, e.failRiskExit(ctx, d, models.ExecutionResult{}, err)
	}
	defer release()

	d, err = currentExit(e.book, d)
	if err != nil {
		e.audit.Record(ctx, d, models.OutcomeRejected, nil, err)
		e.log.Info("risk exit dropped, position closed while waiting",
			logger.String("decision_id", d.ID), logger.String("position", key.String()))
		return models.ExecutionResult{}, err
	}

	res, err := e.submit(ctx, d, e.cfg.Attempts, e.cfg.AttemptTimeout)
	if err != nil {
		return res, e.failRiskExit(ctx, d, res, err)
	}
	if _, aerr := e.book.ApplySellFill(ctx, key, res, d.FullClose(), d.Provenance.CloseReason); aerr != nil {
		e.log.Error("apply risk exit fill failed", logger.String("decision_id", d.ID), logger.Error(aerr))
	}
	e.audit.Record(ctx, d, models.OutcomeFilled, &res, nil)
	return res, nil
}

func (e *Executor) failRiskExit(ctx context.Context, d models.Decision, res models.ExecutionResult, cause error) error {
	// a fill that held the lock meanwhile may have closed the position
	if _, open := e.book.Get(d.Key()); !open {
		err := fmt.Errorf("%w: %s closed before the %s exit", models.ErrPositionNotFound, d.Key(), d.Provenance.CloseReason)
		e.audit.Record(ctx, d, models.OutcomeRejected, &res, err)
		return err
	}
	err := fmt.Errorf("%w: %v", models.ErrExecutionFailure, cause)
	e.audit.Record(ctx, d, models.OutcomeFailed, &res, err)
	if d.FullClose() {
		e.parkFailed(ctx, d, err)
	}
	return err
}

// currentExit re-reads the position once the execution lock is held. A fill
// that landed while d waited may have closed or reduced it.
func currentExit(book *portfolio.Book, d models.Decision) (models.Decision, error) {
	pos, open := book.Get(d.Key())
	if !open {
		return d, fmt.Errorf("%w: %s closed before the %s exit", models.ErrPositionNotFound, d.Key(), d.Provenance.CloseReason)
	}
	if d.FullClose() || d.Quantity > pos.Quantity {
		d.Quantity = pos.Quantity
	}
	d.Amount = d.Quantity * d.ReferencePrice
	return d, nil
}

func (e *Executor) parkFailed(ctx context.Context, d models.Decision, cause error) {
	if _, err := e.book.MarkExitFailed(ctx, d.Key(), d.Provenance.CloseReason); err != nil {
		e.log.Error("mark exit failed", logger.String("position", d.Key().String()), logger.Error(err))
	}
	raise(ctx, e.alerts, e.log, models.Alert{
		Kind:     "exit_failed",
		Severity: models.SeverityCritical,
		UserID:   d.UserID,
		Token:    d.Token,
		Message:  "full exit could not be executed",
		Details: map[string]string{
			"decision_id": d.ID,
			"reason":      string(d.Provenance.CloseReason),
			"source":      string(d.Source),
			"error":       cause.Error(),
		},
		RaisedAt: e.now(),
	})
}

// submit tries the gateway up to attempts times, backing off between tries.
func (e *Executor) submit(ctx context.Context, d models.Decision, attempts int, timeout time.Duration) (models.ExecutionResult, error) {
	start := e.now()
	var (
		res     models.ExecutionResult
		lastErr error
	)
retry:
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
				break retry
			case <-time.After(backoffWithJitter(e.cfg.BackoffMin, e.cfg.BackoffMax, attempt-1)):
			}
		}
		res, lastErr = submitOnce(ctx, e.gw, d, timeout)
		res.Attempts = attempt
		if lastErr == nil {
			break
		}
		e.log.Warn("gateway submission failed",
			logger.String("decision_id", d.ID), logger.Int("attempt", attempt), logger.Error(lastErr))
	}
	res.Latency = e.now().Sub(start)

	status := "filled"
	if lastErr != nil {
		status = "failed"
	}
	e.metrics.RecordExecution(d.Source, status, res.Latency)
	if lastErr != nil {
		return res, fmt.Errorf("submit %s %s: %w", d.Action, d.Key(), lastErr)
	}
	return res, nil
}

func submitOnce(ctx context.Context, gw repository.ExecutionGateway, d models.Decision, timeout time.Duration) (models.ExecutionResult, error) {
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	res, err := gw.Submit(actx, d, d.Slippage)
	if err != nil {
		return res, err
	}
	if !res.Filled {
		msg := res.Error
		if msg == "" {
			msg = "not filled"
		}
		return res, fmt.Errorf("%w: %s", models.ErrExecutionFailure, msg)
	}
	return res, nil
}

func raise(ctx context.Context, sink repository.AlertSink, log *logger.Logger, a models.Alert) {
	log.Error("alert raised",
		logger.String("kind", a.Kind), logger.String("user_id", a.UserID),
		logger.String("token", a.Token), logger.String("message", a.Message))
	if sink == nil {
		return
	}
	// the caller's deadline may already be spent on the exit itself
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := sink.Raise(actx, a); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("raise alert failed", logger.String("kind", a.Kind), logger.Error(err))
	}
}

func backoffWithJitter(min, max time.Duration, attempt int) time.Duration {
	if min <= 0 {
		min = 50 * time.Millisecond
	}
	if max < min {
		max = min
	}
	exp := min * time.Duration(1<<uint(attempt-1))
	if exp > max {
		exp = max
	}
	jitter := time.Duration(rand.Int63n(int64(exp)/2 + 1))
	return exp - jitter
}
