package api

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/labstack/echo/v4"

	"TradeCore/internal/domain/models"
	domrepo "TradeCore/internal/domain/repository"
	"TradeCore/internal/service/metrics"
	"TradeCore/internal/service/ratelimit"
	"TradeCore/internal/usecase"
	xhttp "TradeCore/pkg/http"
	xlogger "TradeCore/pkg/logger"
)

type TokenReader interface {
	Statuses() []models.TokenStatus
}

type PatternReader interface {
	Latest(token string) (models.PriceUpdate, models.PatternEvent, bool)
}

type PositionReader interface {
	Open(userID, token string) []models.Position
	ExitFailed(userID string) []models.Position
}

type ExitStatsReader interface {
	Stats() usecase.ExitStats
}

type SignalInvalidator interface {
	Invalidate(key models.SignalKey)
}

// HealthCheck pings one dependency.
type HealthCheck struct {
	Name string
	Ping func(ctx context.Context) error
}

// Sources are the read models the operator API serves from.
type Sources struct {
	Tokens    TokenReader
	Patterns  PatternReader
	Positions PositionReader
	Audit     domrepo.AuditLedger
	Exits     ExitStatsReader
	Signals   SignalInvalidator
	Health    []HealthCheck
}

type decisionsRequest struct {
	Token  string `query:"token"`
	UserID string `query:"user_id"`
	Since  string `query:"since"`
	Limit  int    `query:"limit" default:"100" validate:"min=1,max=1000"`
}

type positionsRequest struct {
	UserID string `query:"user_id"`
	Token  string `query:"token"`
}

type invalidateRequest struct {
	Kind   string `param:"kind" validate:"required,oneof=sentiment trend rule"`
	Token  string `param:"token" validate:"required"`
	UserID string `query:"user_id"`
}

type positionsResponse struct {
	Open       []models.Position `json:"open"`
	ExitFailed []models.Position `json:"exit_failed"`
}

// OperatorHandler serves the read-only operator API plus manual signal
// invalidation.
type OperatorHandler struct {
	logger *xlogger.Logger
	src    Sources
	rl     *ratelimit.Limiter
}

func NewOperatorHandler(logger *xlogger.Logger, src Sources) *OperatorHandler {
	metrics.Register()
	return &OperatorHandler{
		logger: logger.With(xlogger.String("component", "operator_api")),
		src:    src,
		rl:     ratelimit.New(5, 2),
	}
}

func (h *OperatorHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)
	g := e.Group("/api")
	g.GET("/tokens", h.Tokens)
	g.GET("/patterns/:token", h.Pattern)
	g.GET("/positions", h.Positions)
	g.GET("/decisions", h.Decisions)
	g.GET("/exits/stats", h.ExitStats)
	g.DELETE("/signals/:kind/:token", h.InvalidateSignal)
}

func observe(endpoint string) func() {
	start := time.Now()
	return func() { metrics.APILatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds()) }
}

func (h *OperatorHandler) fail(c echo.Context, endpoint string, err error) error {
	metrics.APIErrors.WithLabelValues(endpoint).Inc()
	var appErr *xhttp.AppError
	if !errors.As(err, &appErr) {
		h.logger.Error("operator api error", xlogger.String("endpoint", endpoint), xlogger.Error(err))
		appErr = toAppError(err)
	}
	return xhttp.AppErrorResponse(c, appErr)
}

func toAppError(err error) *xhttp.AppError {
	switch {
	case errors.Is(err, models.ErrTokenNotFound), errors.Is(err, models.ErrPositionNotFound), errors.Is(err, models.ErrNotFound):
		return xhttp.NotFoundError(err.Error()).WithError(err)
	case errors.Is(err, models.ErrDataUnavailable):
		return xhttp.NewAppError("ERR_UNAVAILABLE", "", "data unavailable", http.StatusServiceUnavailable).WithError(err)
	default:
		return xhttp.InternalError("internal error").WithError(err)
	}
}

func (h *OperatorHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	res := make(map[string]string, len(h.src.Health))
	for _, chk := range h.src.Health {
		if err := chk.Ping(ctx); err != nil {
			res[chk.Name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		res[chk.Name] = "ok"
	}
	return xhttp.DataResponse(c, status, res)
}

func (h *OperatorHandler) Tokens(c echo.Context) error {
	defer observe("tokens")()
	st := h.src.Tokens.Statuses()
	sort.Slice(st, func(i, j int) bool { return st[i].Token < st[j].Token })
	return xhttp.ListResponse(c, st, int64(len(st)))
}

func (h *OperatorHandler) Pattern(c echo.Context) error {
	defer observe("pattern")()
	token := c.Param("token")
	u, ev, ok := h.src.Patterns.Latest(token)
	if !ok {
		return h.fail(c, "pattern", xhttp.NotFoundErrorf("no pattern observed for %s", token))
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	return xhttp.SuccessResponse(c, map[string]interface{}{"update": u, "pattern": ev})
}

func (h *OperatorHandler) Positions(c echo.Context) error {
	defer observe("positions")()
	req := &positionsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	open := h.src.Positions.Open(req.UserID, req.Token)
	parked := h.src.Positions.ExitFailed(req.UserID)
	if req.Token != "" {
		kept := parked[:0]
		for _, p := range parked {
			if p.Token == req.Token {
				kept = append(kept, p)
			}
		}
		parked = kept
	}
	return xhttp.SuccessResponse(c, positionsResponse{Open: open, ExitFailed: parked})
}

func (h *OperatorHandler) Decisions(c echo.Context) error {
	defer observe("decisions")()
	if !h.rl.Allow(c.RealIP() + ":decisions") {
		h.logger.Warn("decisions rate limited", xlogger.String("remote", c.RealIP()))
		return xhttp.DataResponse(c, http.StatusTooManyRequests, "rate limited")
	}
	req := &decisionsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	q := models.AuditQuery{UserID: req.UserID, Token: req.Token, Limit: req.Limit}
	if req.Since != "" {
		t, ok := xhttp.ParseTime(req.Since)
		if !ok {
			return h.fail(c, "decisions", xhttp.BadRequestErrorf("invalid since %q", req.Since))
		}
		q.Since = t
	}
	recs, err := h.src.Audit.Recent(c.Request().Context(), q)
	if err != nil {
		return h.fail(c, "decisions", err)
	}
	return xhttp.ListResponse(c, recs, int64(len(recs)))
}

func (h *OperatorHandler) ExitStats(c echo.Context) error {
	defer observe("exit_stats")()
	return xhttp.SuccessResponse(c, h.src.Exits.Stats())
}

func (h *OperatorHandler) InvalidateSignal(c echo.Context) error {
	defer observe("invalidate_signal")()
	req := &invalidateRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	key := models.SignalKey{Kind: models.SignalKind(req.Kind), Token: req.Token}
	if key.Kind == models.SignalRule {
		if req.UserID == "" {
			return h.fail(c, "invalidate_signal", xhttp.BadRequestError("user_id is required for rule signals"))
		}
		key.UserID = req.UserID
	}
	h.src.Signals.Invalidate(key)
	h.logger.Info("signal invalidated",
		xlogger.String("kind", req.Kind), xlogger.String("token", req.Token), xlogger.String("user_id", req.UserID))
	return xhttp.NoContentResponse(c)
}
