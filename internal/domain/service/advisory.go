package service

import (
	"context"

	"TradeCore/internal/domain/models"
)

// SentimentProvider returns the advisory sentiment for a token.
// A stale or missing signal yields the neutral value with Fresh=false.
type SentimentProvider interface {
	Sentiment(ctx context.Context, token string) models.Sentiment
}

// TrendProvider returns the trend stage and rug risk for a token.
type TrendProvider interface {
	Trend(ctx context.Context, token string) models.Trend
}

// RuleProvider returns whether a user may trade a token. Fails closed.
type RuleProvider interface {
	Rule(ctx context.Context, userID, token string) models.Rule
}

// PatternClassifier turns a price update and its history into a pattern event.
type PatternClassifier interface {
	Classify(u models.PriceUpdate, h models.HistoryView) models.PatternEvent
}
