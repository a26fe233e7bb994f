package repository

import (
	"context"

	"TradeCore/internal/domain/models"
	"TradeCore/internal/domain/repository"
	pkgkafka "TradeCore/pkg/kafka"
)

type Topics struct {
	Prices      string `yaml:"prices" default:"tradecore.prices"`
	Patterns    string `yaml:"patterns" default:"tradecore.patterns"`
	Decisions   string `yaml:"decisions" default:"tradecore.decisions"`
	Transitions string `yaml:"transitions" default:"tradecore.positions"`
	Alerts      string `yaml:"alerts" default:"tradecore.alerts"`
	Signals     string `yaml:"signals" default:"signals.refreshed"`
}

// KafkaPublisher fans events out to one topic per kind, keyed by token so a
// token's events stay ordered within a partition.
type KafkaPublisher struct {
	producer *pkgkafka.Producer
	topics   Topics
}

var (
	_ repository.EventPublisher = (*KafkaPublisher)(nil)
	_ repository.AlertSink      = (*KafkaPublisher)(nil)
)

func NewKafkaPublisher(producer *pkgkafka.Producer, topics Topics) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topics: topics}
}

func (p *KafkaPublisher) PublishPriceUpdate(ctx context.Context, u models.PriceUpdate) error {
	return p.producer.Publish(ctx, p.topics.Prices, []byte(u.Token), u, event("price_update"))
}

func (p *KafkaPublisher) PublishPattern(ctx context.Context, e models.PatternEvent) error {
	return p.producer.Publish(ctx, p.topics.Patterns, []byte(e.Token), e, event(string(e.Kind)))
}

func (p *KafkaPublisher) PublishDecision(ctx context.Context, rec models.AuditRecord) error {
	return p.producer.Publish(ctx, p.topics.Decisions, []byte(rec.Decision.Token), rec, event(string(rec.Decision.Action)))
}

func (p *KafkaPublisher) PublishTransition(ctx context.Context, t models.PositionTransition) error {
	return p.producer.Publish(ctx, p.topics.Transitions, []byte(t.Position.Token), t, event(string(t.Kind)))
}

func (p *KafkaPublisher) PublishAlert(ctx context.Context, a models.Alert) error {
	return p.producer.Publish(ctx, p.topics.Alerts, []byte(a.Token), a, event(a.Kind))
}

// Raise publishes the alert directly, for deployments without the alert queue.
func (p *KafkaPublisher) Raise(ctx context.Context, a models.Alert) error {
	return p.PublishAlert(ctx, a)
}

// event labels a record so consumers can filter without decoding it.
func event(kind string) pkgkafka.Header {
	return pkgkafka.Header{Key: "event", Value: []byte(kind)}
}
