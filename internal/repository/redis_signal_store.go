package repository

import (
	"context"
	"errors"
	"fmt"

	"TradeCore/internal/domain/models"
	"TradeCore/internal/domain/repository"
	"TradeCore/pkg/cache"
)

// RedisSignalStore reads the rows advisory producers write under
// signal:{kind}:{token} and signal:rule:{user}:{token}. It never writes.
type RedisSignalStore struct {
	cache cache.Service
}

var _ repository.SignalStore = (*RedisSignalStore)(nil)

func NewRedisSignalStore(c cache.Service) *RedisSignalStore {
	return &RedisSignalStore{cache: c}
}

func (s *RedisSignalStore) Read(ctx context.Context, key models.SignalKey) ([]byte, error) {
	var raw string
	err := s.cache.Get(ctx, key.String(), &raw)
	switch {
	case errors.Is(err, cache.ErrCacheMiss):
		return nil, fmt.Errorf("%w: %s missing", models.ErrSignalStale, key)
	case err != nil:
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return []byte(raw), nil
}
