package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TradeCore/internal/domain/models"
	"TradeCore/internal/repository/memory"
	"TradeCore/internal/usecase"
	xlogger "TradeCore/pkg/logger"
)

type fakeTokens []models.TokenStatus

func (f fakeTokens) Statuses() []models.TokenStatus { return append([]models.TokenStatus(nil), f...) }

type fakePatterns map[string]models.PatternEvent

func (f fakePatterns) Latest(token string) (models.PriceUpdate, models.PatternEvent, bool) {
	ev, ok := f[token]
	return models.PriceUpdate{Token: token}, ev, ok
}

type fakePositions struct {
	open   []models.Position
	parked []models.Position
}

func (f *fakePositions) Open(userID, token string) []models.Position {
	var out []models.Position
	for _, p := range f.open {
		if (userID == "" || p.UserID == userID) && (token == "" || p.Token == token) {
			out = append(out, p)
		}
	}
	return out
}

func (f *fakePositions) ExitFailed(userID string) []models.Position {
	var out []models.Position
	for _, p := range f.parked {
		if userID == "" || p.UserID == userID {
			out = append(out, p)
		}
	}
	return out
}

type fakeExits usecase.ExitStats

func (f fakeExits) Stats() usecase.ExitStats { return usecase.ExitStats(f) }

type fakeSignals struct{ keys []models.SignalKey }

func (f *fakeSignals) Invalidate(key models.SignalKey) { f.keys = append(f.keys, key) }

type envelope struct {
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data"`
}

type fixture struct {
	e       *echo.Echo
	signals *fakeSignals
	audit   *memory.AuditLedger
}

func newFixture(t *testing.T, health ...HealthCheck) *fixture {
	t.Helper()
	f := &fixture{e: echo.New(), signals: &fakeSignals{}, audit: memory.NewAuditLedger(0)}
	h := NewOperatorHandler(xlogger.Nop(), Sources{
		Tokens: fakeTokens{
			{Token: "WIF", LastPrice: 2.5},
			{Token: "PEPE", LastPrice: 1.1, Degraded: true, ConsecutiveFailures: 2},
		},
		Patterns: fakePatterns{"PEPE": {Token: "PEPE", Kind: models.PatternMicroPump, Confidence: 0.55}},
		Positions: &fakePositions{
			open:   []models.Position{{UserID: "u1", Token: "PEPE", State: models.PositionOpen}},
			parked: []models.Position{{UserID: "u1", Token: "WIF", State: models.PositionExitFailed}},
		},
		Audit:   f.audit,
		Exits:   fakeExits{Total: 3, Succeeded: 2, Failed: 1},
		Signals: f.signals,
		Health:  health,
	})
	h.RegisterRoutes(f.e)
	return f
}

func (f *fixture) do(t *testing.T, method, target string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func TestTokensSortedByName(t *testing.T) {
	f := newFixture(t)
	rec, env := f.do(t, http.MethodGet, "/api/tokens")
	require.Equal(t, http.StatusOK, rec.Code)

	var list struct {
		Rows  []models.TokenStatus `json:"rows"`
		Total int64                `json:"total"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list.Rows, 2)
	assert.Equal(t, "PEPE", list.Rows[0].Token)
	assert.True(t, list.Rows[0].Degraded)
	assert.EqualValues(t, 2, list.Total)
}

func TestPatternUnknownTokenIs404(t *testing.T) {
	f := newFixture(t)
	rec, _ := f.do(t, http.MethodGet, "/api/patterns/BONK")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, env := f.do(t, http.MethodGet, "/api/patterns/PEPE")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(env.Data), `"MICRO_PUMP"`)
}

func TestPositionsIncludesParked(t *testing.T) {
	f := newFixture(t)
	rec, env := f.do(t, http.MethodGet, "/api/positions?user_id=u1")
	require.Equal(t, http.StatusOK, rec.Code)

	var got positionsResponse
	require.NoError(t, json.Unmarshal(env.Data, &got))
	require.Len(t, got.Open, 1)
	require.Len(t, got.ExitFailed, 1)
	assert.Equal(t, "WIF", got.ExitFailed[0].Token)

	_, env = f.do(t, http.MethodGet, "/api/positions?user_id=u1&token=PEPE")
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Len(t, got.Open, 1)
	assert.Empty(t, got.ExitFailed)
}

func TestDecisionsFiltersAndValidates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now()
	for _, tok := range []string{"PEPE", "WIF", "PEPE"} {
		require.NoError(t, f.audit.Append(ctx, models.AuditRecord{
			Decision:   models.Decision{UserID: "u1", Token: tok, Action: models.ActionHold},
			Outcome:    models.OutcomeLoggedOnly,
			RecordedAt: now,
		}))
	}

	rec, env := f.do(t, http.MethodGet, "/api/decisions?token=PEPE&user_id=u1")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Rows []models.AuditRecord `json:"rows"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Len(t, list.Rows, 2)

	rec, _ = f.do(t, http.MethodGet, "/api/decisions?limit=5000")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = f.do(t, http.MethodGet, "/api/decisions?since=yesterday")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExitStats(t *testing.T) {
	f := newFixture(t)
	rec, env := f.do(t, http.MethodGet, "/api/exits/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var st usecase.ExitStats
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.EqualValues(t, 3, st.Total)
	assert.EqualValues(t, 1, st.Failed)
}

func TestInvalidateSignal(t *testing.T) {
	f := newFixture(t)

	rec, _ := f.do(t, http.MethodDelete, "/api/signals/sentiment/PEPE")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec, _ = f.do(t, http.MethodDelete, "/api/signals/rule/PEPE")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = f.do(t, http.MethodDelete, "/api/signals/rule/PEPE?user_id=u1")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec, _ = f.do(t, http.MethodDelete, "/api/signals/gossip/PEPE")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, []models.SignalKey{
		{Kind: models.SignalSentiment, Token: "PEPE"},
		{Kind: models.SignalRule, Token: "PEPE", UserID: "u1"},
	}, f.signals.keys)
}

func TestHealthReportsFailingDependency(t *testing.T) {
	f := newFixture(t,
		HealthCheck{Name: "redis", Ping: func(context.Context) error { return nil }},
		HealthCheck{Name: "postgres", Ping: func(context.Context) error { return errors.New("connection refused") }},
	)
	rec, env := f.do(t, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var res map[string]string
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, "ok", res["redis"])
	assert.Equal(t, "connection refused", res["postgres"])
}
