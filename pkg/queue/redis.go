package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"TradeCore/pkg/logger"
)

// promoteScript moves due retries back onto the work list in one step, so
// several instances polling the same retry set never run a message twice.
var promoteScript = redis.NewScript(`
local due = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, tonumber(ARGV[2]))
for _, m in ipairs(due) do
	redis.call("ZREM", KEYS[1], m)
	redis.call("LPUSH", KEYS[2], m)
end
return #due
`)

const (
	popTimeout     = time.Second
	retryTick      = time.Second
	promoteBatch   = 100
	defaultTimeout = 5 * time.Second
)

// RedisQueue is a reliable-enough job queue on Redis lists: LPUSH/BRPOP for
// work, a sorted set for delayed retries and a list for dead letters.
type RedisQueue struct {
	logger *logger.Logger
	config *QueueConfig
	client *redis.Client
	prefix string

	mu      sync.RWMutex
	jobs    map[string]Job
	running bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// RedisQueueOption configures RedisQueue.
type RedisQueueOption func(*RedisQueue)

// WithKeyPrefix sets the Redis key prefix.
func WithKeyPrefix(prefix string) RedisQueueOption {
	return func(r *RedisQueue) {
		r.prefix = prefix
	}
}

// NewRedisQueue creates a queue. Register jobs before Start.
func NewRedisQueue(lgr *logger.Logger, config *QueueConfig, client *redis.Client, opts ...RedisQueueOption) *RedisQueue {
	if config == nil {
		config = &QueueConfig{}
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = 10 * time.Second
	}
	initQueueMetricsOnce()

	ctx, cancel := context.WithCancel(context.Background())
	rq := &RedisQueue{
		logger: lgr,
		config: config,
		client: client,
		prefix: "tradecore:queue",
		jobs:   make(map[string]Job),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(rq)
	}
	return rq
}

// RegisterJobs registers jobs by message type; the first registration wins.
func (r *RedisQueue) RegisterJobs(jobs []Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, job := range jobs {
		if _, exists := r.jobs[job.Type()]; exists {
			r.logger.Warn("job already registered", logger.String("job", job.Name()))
			continue
		}
		r.jobs[job.Type()] = job
		r.logger.Debug("job registered", logger.String("job", job.Name()), logger.String("type", job.Type()))
	}
}

// Start pings Redis and launches the workers and the retry promoter.
func (r *RedisQueue) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return fmt.Errorf("queue already running")
	}

	ctx, cancel := context.WithTimeout(r.ctx, defaultTimeout)
	defer cancel()
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	r.running = true

	for i := 0; i < r.config.Workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
	r.wg.Add(1)
	go r.promoter()

	r.logger.Info("redis queue started",
		logger.Int("workers", r.config.Workers),
		logger.String("prefix", r.prefix))
	return nil
}

// Stop cancels the workers and waits for in-flight jobs until ctx is done.
func (r *RedisQueue) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	r.mu.Unlock()
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("queue stop: %w", ctx.Err())
	case <-done:
		r.logger.Info("redis queue stopped")
		return nil
	}
}

// Enqueue pushes a message for a registered job type.
func (r *RedisQueue) Enqueue(ctx context.Context, msgType string, payload interface{}) error {
	r.mu.RLock()
	running := r.running
	_, known := r.jobs[msgType]
	r.mu.RUnlock()

	if !running {
		return fmt.Errorf("queue not running")
	}
	if !known {
		return fmt.Errorf("no job registered for type: %s", msgType)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	data, err := json.Marshal(Message{
		ID:        uuid.NewString(),
		Type:      msgType,
		Payload:   body,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := r.client.LPush(ctx, r.key("messages"), data).Err(); err != nil {
		return fmt.Errorf("lpush: %w", err)
	}
	queueMessages.WithLabelValues(msgType, "enqueued").Inc()
	return nil
}

// PublishMessage implements QueueService.
func (r *RedisQueue) PublishMessage(ctx context.Context, msgType string, payload interface{}) error {
	return r.Enqueue(ctx, msgType, payload)
}

// Depth returns the number of pending, delayed and dead-lettered messages.
func (r *RedisQueue) Depth(ctx context.Context) (pending, delayed, dead int64, err error) {
	pipe := r.client.Pipeline()
	p := pipe.LLen(ctx, r.key("messages"))
	d := pipe.ZCard(ctx, r.key("retry"))
	x := pipe.LLen(ctx, r.key("dlq"))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, 0, fmt.Errorf("queue depth: %w", err)
	}
	return p.Val(), d.Val(), x.Val(), nil
}

func (r *RedisQueue) worker() {
	defer r.wg.Done()
	for r.ctx.Err() == nil {
		res, err := r.client.BRPop(r.ctx, popTimeout, r.key("messages")).Result()
		switch {
		case errors.Is(err, redis.Nil), r.ctx.Err() != nil:
			continue
		case err != nil:
			r.logger.Error("brpop error", logger.Error(err))
			sleepCtx(r.ctx, popTimeout)
			continue
		}

		var msg Message
		if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
			r.logger.Error("undecodable message dropped", logger.Error(err))
			continue
		}
		r.process(msg)
	}
}

func (r *RedisQueue) process(msg Message) {
	r.mu.RLock()
	job, ok := r.jobs[msg.Type]
	r.mu.RUnlock()
	if !ok {
		r.logger.Error("no job for message", logger.String("type", msg.Type), logger.String("id", msg.ID))
		r.deadLetter(msg)
		return
	}

	ctx, cancel := r.ctx, context.CancelFunc(func() {})
	if r.config.JobTimeout > 0 {
		ctx, cancel = context.WithTimeout(r.ctx, r.config.JobTimeout)
	}
	start := time.Now()
	err := job.Handle(ctx, msg.Payload)
	cancel()
	queueLatency.WithLabelValues(msg.Type).Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		queueMessages.WithLabelValues(msg.Type, "ok").Inc()
	case r.ctx.Err() != nil:
		// shutting down: put it back untouched for the next run
		r.requeue(msg)
	default:
		r.fail(msg, job, err)
	}
}

func (r *RedisQueue) fail(msg Message, job Job, err error) {
	msg.Attempts++
	if msg.Attempts > r.config.RetryLimit {
		r.logger.Error("job failed permanently",
			logger.String("id", msg.ID),
			logger.String("job", job.Name()),
			logger.Int("attempts", msg.Attempts),
			logger.Error(err))
		queueMessages.WithLabelValues(msg.Type, "dead").Inc()
		r.deadLetter(msg)
		return
	}

	at := time.Now().Add(r.config.retryDelay(msg.Attempts))
	r.logger.Warn("job failed, retry scheduled",
		logger.String("id", msg.ID),
		logger.String("job", job.Name()),
		logger.Int("attempt", msg.Attempts),
		logger.String("retry_at", at.Format(time.RFC3339)),
		logger.Error(err))
	queueMessages.WithLabelValues(msg.Type, "retry").Inc()

	data, _ := json.Marshal(msg)
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()
	if err := r.client.ZAdd(ctx, r.key("retry"), redis.Z{Score: float64(at.UnixMilli()), Member: data}).Err(); err != nil {
		r.logger.Error("schedule retry failed", logger.String("id", msg.ID), logger.Error(err))
	}
}

func (r *RedisQueue) requeue(msg Message) {
	data, _ := json.Marshal(msg)
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()
	if err := r.client.RPush(ctx, r.key("messages"), data).Err(); err != nil {
		r.logger.Error("requeue failed", logger.String("id", msg.ID), logger.Error(err))
	}
}

func (r *RedisQueue) deadLetter(msg Message) {
	data, _ := json.Marshal(msg)
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()
	if err := r.client.LPush(ctx, r.key("dlq"), data).Err(); err != nil {
		r.logger.Error("dead-letter failed", logger.String("id", msg.ID), logger.Error(err))
	}
}

func (r *RedisQueue) promoter() {
	defer r.wg.Done()
	t := time.NewTicker(retryTick)
	defer t.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-t.C:
			now := strconv.FormatInt(time.Now().UnixMilli(), 10)
			n, err := promoteScript.Run(r.ctx, r.client,
				[]string{r.key("retry"), r.key("messages")}, now, promoteBatch).Int()
			if err != nil && r.ctx.Err() == nil {
				r.logger.Error("promote retries failed", logger.Error(err))
			} else if n > 0 {
				r.logger.Debug("retries promoted", logger.Int("count", n))
			}
		}
	}
}

func (r *RedisQueue) key(name string) string {
	return r.prefix + ":" + name
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

var (
	queueMessages *prometheus.CounterVec
	queueLatency  *prometheus.HistogramVec
	queueOnce     sync.Once
)

func initQueueMetricsOnce() {
	queueOnce.Do(func() {
		queueMessages = promauto.NewCounterVec(
			prometheus.CounterOpts{Name: "tradecore_queue_messages_total", Help: "Queue messages by type and result"},
			[]string{"type", "result"},
		)
		queueLatency = promauto.NewHistogramVec(
			prometheus.HistogramOpts{Name: "tradecore_queue_handle_seconds", Help: "Job handling time"},
			[]string{"type"},
		)
	})
}
