package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TradeCore/internal/domain/models"
	"TradeCore/pkg/cache"
	"TradeCore/pkg/logger"
)

var lockKey = models.PositionKey{UserID: "u1", Token: "PEPE"}

func TestPreemptCancelsPendingTicket(t *testing.T) {
	l := NewExecLocks(nil, 0, logger.Nop())
	ticket := l.Reserve(lockKey)

	assert.True(t, l.Preempt(lockKey))
	assert.False(t, ticket.Begin())
	assert.True(t, ticket.Cancelled())
}

func TestPreemptLeavesSubmittingTicket(t *testing.T) {
	l := NewExecLocks(nil, 0, logger.Nop())
	ticket := l.Reserve(lockKey)
	require.True(t, ticket.Begin())

	assert.False(t, l.Preempt(lockKey))
	assert.False(t, ticket.Cancelled())
}

func TestReserveSupersedesOlderTicket(t *testing.T) {
	l := NewExecLocks(nil, 0, logger.Nop())
	older := l.Reserve(lockKey)
	newer := l.Reserve(lockKey)

	assert.False(t, older.Begin())
	assert.True(t, newer.Begin())
}

func TestAcquireSerializesPerPosition(t *testing.T) {
	l := NewExecLocks(nil, 0, logger.Nop())
	release, err := l.Acquire(context.Background(), lockKey)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, lockKey)
	require.Error(t, err)

	other, err := l.Acquire(context.Background(), models.PositionKey{UserID: "u2", Token: "PEPE"})
	require.NoError(t, err)
	other()

	release()
	release() // idempotent
	again, err := l.Acquire(context.Background(), lockKey)
	require.NoError(t, err)
	again()
}

func TestSharedLockAcrossInstances(t *testing.T) {
	shared := cache.NewMemoryCache()
	defer shared.Close()
	a := NewExecLocks(shared, time.Second, logger.Nop())
	b := NewExecLocks(shared, time.Second, logger.Nop())

	releaseA, err := a.Acquire(context.Background(), lockKey)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	_, err = b.Acquire(ctx, lockKey)
	require.Error(t, err)

	releaseA()
	releaseB, err := b.Acquire(context.Background(), lockKey)
	require.NoError(t, err)
	releaseB()
}
