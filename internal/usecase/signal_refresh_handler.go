package usecase

import (
	"context"
	"encoding/json"
	"fmt"

	"TradeCore/internal/domain/models"
	domrepo "TradeCore/internal/domain/repository"
	pkgkafka "TradeCore/pkg/kafka"
	"TradeCore/pkg/logger"
)

// SignalInvalidator drops one cached signal.
type SignalInvalidator interface {
	Invalidate(key models.SignalKey)
}

// SignalRefreshHandler consumes producer notifications and drops the cached
// entry so the next read goes back to the store.
type SignalRefreshHandler struct {
	topic   string
	cache   SignalInvalidator
	metrics domrepo.Metrics
	log     *logger.Logger
}

func NewSignalRefreshHandler(topic string, cache SignalInvalidator, metrics domrepo.Metrics, log *logger.Logger) *SignalRefreshHandler {
	return &SignalRefreshHandler{
		topic:   topic,
		cache:   cache,
		metrics: metrics,
		log:     log.With(logger.String("component", "signal_refresh")),
	}
}

func (h *SignalRefreshHandler) Topic() string { return h.topic }

// Handle expects {kind, token, user_id}. Malformed notices are permanent
// failures: they go to the DLQ without retries.
func (h *SignalRefreshHandler) Handle(_ context.Context, b []byte) error {
	var m struct {
		Kind   models.SignalKind `json:"kind"`
		Token  string            `json:"token"`
		UserID string            `json:"user_id"`
	}
	if err := json.Unmarshal(b, &m); err != nil {
		h.metrics.RecordError("signal_refresh_unmarshal")
		return pkgkafka.Permanent(fmt.Errorf("%w: decode signal refresh: %v", models.ErrSignalMalformed, err))
	}
	if !m.Kind.Valid() || m.Token == "" || (m.Kind == models.SignalRule && m.UserID == "") {
		h.metrics.RecordError("signal_refresh_invalid")
		return pkgkafka.Permanent(fmt.Errorf("%w: refresh notice kind=%q token=%q", models.ErrSignalMalformed, m.Kind, m.Token))
	}

	key := models.SignalKey{Kind: m.Kind, Token: m.Token}
	if m.Kind == models.SignalRule {
		key.UserID = m.UserID
	}
	h.cache.Invalidate(key)
	h.metrics.RecordSignal(m.Kind, "invalidated")
	h.log.Debug("signal invalidated", logger.String("key", key.String()))
	return nil
}

var _ pkgkafka.MessageHandler = (*SignalRefreshHandler)(nil)
