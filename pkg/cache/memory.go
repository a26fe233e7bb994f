package cache

import (
	"context"
	"sync"
	"time"
)

type memoryItem struct {
	data     []byte
	expireAt time.Time // zero means no expiry
	owner    bool      // lock taken through this instance
}

func (i memoryItem) expired(now time.Time) bool {
	return !i.expireAt.IsZero() && now.After(i.expireAt)
}

// MemoryCache is the in-process Service used when Redis is disabled and in
// tests. Expired keys are dropped lazily on access and by a sweeper; when
// MaxSize is reached the entry closest to expiry is evicted.
type MemoryCache struct {
	mu      sync.Mutex
	items   map[string]memoryItem
	maxSize int
	now     func() time.Time

	stop chan struct{}
	once sync.Once
}

var _ Service = (*MemoryCache)(nil)

// NewMemoryCache creates an in-memory cache and starts its sweeper.
func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	cfg := &MemoryConfig{
		MaxSize:         1000,
		CleanupInterval: time.Minute,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	mc := &MemoryCache{
		items:   make(map[string]memoryItem),
		maxSize: cfg.MaxSize,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go mc.sweep(cfg.CleanupInterval)
	return mc
}

func (mc *MemoryCache) Set(_ context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.put(key, memoryItem{data: data, expireAt: mc.deadline(expiration)})
	return nil
}

func (mc *MemoryCache) Get(_ context.Context, key string, dest interface{}) error {
	mc.mu.Lock()
	item, ok := mc.lookup(key)
	mc.mu.Unlock()
	if !ok {
		return ErrCacheMiss
	}
	return decode(item.data, dest)
}

func (mc *MemoryCache) Delete(_ context.Context, keys ...string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for _, k := range keys {
		delete(mc.items, k)
	}
	return nil
}

func (mc *MemoryCache) TryLock(_ context.Context, key string, ttl time.Duration) (bool, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if _, held := mc.lookup(key); held {
		return false, nil
	}
	mc.put(key, memoryItem{data: []byte("locked"), expireAt: mc.deadline(ttl), owner: true})
	return true, nil
}

func (mc *MemoryCache) Unlock(_ context.Context, key string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if item, ok := mc.items[key]; ok && item.owner {
		delete(mc.items, key)
	}
	return nil
}

// Close stops the sweeper. Safe to call more than once.
func (mc *MemoryCache) Close() error {
	mc.once.Do(func() { close(mc.stop) })
	return nil
}

// lookup must be called with mu held.
func (mc *MemoryCache) lookup(key string) (memoryItem, bool) {
	item, ok := mc.items[key]
	if !ok {
		return memoryItem{}, false
	}
	if item.expired(mc.now()) {
		delete(mc.items, key)
		return memoryItem{}, false
	}
	return item, true
}

// put must be called with mu held.
func (mc *MemoryCache) put(key string, item memoryItem) {
	if _, exists := mc.items[key]; !exists && mc.maxSize > 0 && len(mc.items) >= mc.maxSize {
		mc.evict()
	}
	mc.items[key] = item
}

func (mc *MemoryCache) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return mc.now().Add(ttl)
}

func (mc *MemoryCache) evict() {
	var victim string
	var soonest time.Time
	for k, it := range mc.items {
		if victim == "" || (!it.expireAt.IsZero() && (soonest.IsZero() || it.expireAt.Before(soonest))) {
			victim, soonest = k, it.expireAt
		}
	}
	delete(mc.items, victim)
}

func (mc *MemoryCache) sweep(every time.Duration) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-mc.stop:
			return
		case <-t.C:
			mc.mu.Lock()
			now := mc.now()
			for k, it := range mc.items {
				if it.expired(now) {
					delete(mc.items, k)
				}
			}
			mc.mu.Unlock()
		}
	}
}
