package usecase

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"TradeCore/internal/domain/models"
	"TradeCore/pkg/cache"
	"TradeCore/pkg/logger"
)

const (
	ticketPending int32 = iota
	ticketSubmitting
	ticketCancelled
)

// Ticket is a periodic decision waiting for its position's execution lock.
type Ticket struct {
	key   models.PositionKey
	state atomic.Int32
}

// Begin moves the ticket to submitting. It fails once the ticket was preempted.
func (t *Ticket) Begin() bool { return t.state.CompareAndSwap(ticketPending, ticketSubmitting) }

func (t *Ticket) Cancelled() bool { return t.state.Load() == ticketCancelled }

type lockSlot struct {
	sem     chan struct{}
	pending *Ticket
}

// ExecLocks allows at most one in-flight submission per (user, token).
// When dist is set the lock is also taken in the shared cache so that two
// instances never submit for the same position at once.
type ExecLocks struct {
	mu    sync.Mutex
	slots map[models.PositionKey]*lockSlot

	dist    cache.Service
	distTTL time.Duration
	poll    time.Duration
	log     *logger.Logger
}

func NewExecLocks(dist cache.Service, ttl time.Duration, log *logger.Logger) *ExecLocks {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &ExecLocks{
		slots:   make(map[models.PositionKey]*lockSlot),
		dist:    dist,
		distTTL: ttl,
		poll:    20 * time.Millisecond,
		log:     log.With(logger.String("component", "exec_lock")),
	}
}

func (l *ExecLocks) slot(key models.PositionKey) *lockSlot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[key]
	if !ok {
		s = &lockSlot{sem: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	return s
}

// Reserve queues a periodic decision for key. An older pending ticket for the
// same key is superseded.
func (l *ExecLocks) Reserve(key models.PositionKey) *Ticket {
	s := l.slot(key)
	t := &Ticket{key: key}
	l.mu.Lock()
	if s.pending != nil {
		s.pending.state.CompareAndSwap(ticketPending, ticketCancelled)
	}
	s.pending = t
	l.mu.Unlock()
	return t
}

// Preempt cancels the pending periodic ticket for key, unless it is already
// submitting. It reports whether a ticket was cancelled.
func (l *ExecLocks) Preempt(key models.PositionKey) bool {
	s := l.slot(key)
	l.mu.Lock()
	defer l.mu.Unlock()
	if s.pending == nil {
		return false
	}
	cancelled := s.pending.state.CompareAndSwap(ticketPending, ticketCancelled)
	s.pending = nil
	return cancelled
}

// Finish clears t if it is still the pending ticket for its key.
func (l *ExecLocks) Finish(t *Ticket) {
	s := l.slot(t.key)
	l.mu.Lock()
	if s.pending == t {
		s.pending = nil
	}
	l.mu.Unlock()
}

// Acquire blocks until the lock for key is held or ctx is done.
func (l *ExecLocks) Acquire(ctx context.Context, key models.PositionKey) (func(), error) {
	s := l.slot(key)
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire execution lock %s: %w", key, ctx.Err())
	}

	held, err := l.acquireShared(ctx, key)
	if err != nil {
		<-s.sem
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if held {
				l.releaseShared(key)
			}
			<-s.sem
		})
	}, nil
}

func sharedKey(key models.PositionKey) string {
	return cache.GenerateKeyWithParams("exec", key.UserID, key.Token)
}

func (l *ExecLocks) acquireShared(ctx context.Context, key models.PositionKey) (bool, error) {
	if l.dist == nil {
		return false, nil
	}
	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()
	for {
		ok, err := l.dist.TryLock(ctx, sharedKey(key), l.distTTL)
		if err != nil {
			// the local lock still serializes this instance
			l.log.Warn("shared execution lock unavailable", logger.String("position", key.String()), logger.Error(err))
			return false, nil
		}
		if ok {
			return true, nil
		}
		select {
		case <-ctx.Done():
			return false, fmt.Errorf("acquire shared execution lock %s: %w", key, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (l *ExecLocks) releaseShared(key models.PositionKey) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := l.dist.Unlock(ctx, sharedKey(key)); err != nil {
		l.log.Warn("release shared execution lock failed", logger.String("position", key.String()), logger.Error(err))
	}
}
