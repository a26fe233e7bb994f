package di

import (
	"context"
	"fmt"
	"time"

	"TradeCore/internal/domain/models"
	"TradeCore/internal/domain/repository"
	"TradeCore/internal/handler/api"
	"TradeCore/internal/middleware"
	internalrepo "TradeCore/internal/repository"
	"TradeCore/internal/repository/memory"
	"TradeCore/internal/service/pricesource"
	"TradeCore/internal/services/decision"
	"TradeCore/internal/services/gateway"
	"TradeCore/internal/services/pattern"
	"TradeCore/internal/services/portfolio"
	"TradeCore/internal/services/riskguard"
	"TradeCore/internal/services/signals"
	"TradeCore/internal/usecase"
	"TradeCore/pkg/cache"
	pkgch "TradeCore/pkg/clickhouse"
	"TradeCore/pkg/config"
	xhttp "TradeCore/pkg/http"
	pkgkafka "TradeCore/pkg/kafka"
	applogger "TradeCore/pkg/logger"
	"TradeCore/pkg/metrics"
	pkgpg "TradeCore/pkg/postgres"
	"TradeCore/pkg/queue"
)

const memoryRetention = 10000

func nop() {}

// ProvideLogger creates the root logger.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(applogger.String("env", cfg.Environment)), nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideRedis connects to Redis; nil when disabled. Keys the core owns
// carry cfg.Redis.Prefix.
func ProvideRedis(cfg *config.Config) (*cache.RedisCache, func(), error) {
	if !cfg.Redis.Enabled {
		return nil, nop, nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisHost(cfg.Redis.Host),
		cache.WithRedisPort(cfg.Redis.Port),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPool(cfg.Redis.PoolSize, cfg.Redis.PoolSize/4, 30*time.Second),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("redis: %w", err)
	}
	return rc, func() { _ = rc.Close() }, nil
}

// ProvidePostgres connects the position store and applies the schema.
func ProvidePostgres(cfg *config.Config, log *applogger.Logger) (*pkgpg.Client, func(), error) {
	if !cfg.Postgres.Enabled {
		return nil, nop, nil
	}
	client, err := pkgpg.NewClient(cfg.Postgres.DSN, pkgpg.WithPoolSize(cfg.Postgres.MaxConns, cfg.Postgres.MinConns))
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: %w", err)
	}
	if cfg.Postgres.Migrate {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := client.Migrate(ctx, internalrepo.PositionSchema); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("postgres schema: %w", err)
		}
		log.Info("postgres schema ready")
	}
	return client, client.Close, nil
}

// ProvideClickHouseClient connects the audit/archive store and applies the schema.
func ProvideClickHouseClient(cfg *config.Config, log *applogger.Logger) (*pkgch.Client, func(), error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nop, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
		pkgch.WithCreateDatabase(true),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	stmts := append(append([]string{}, internalrepo.AuditSchema...), internalrepo.PriceSchema...)
	if err := client.InitSchema(ctx, stmts); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	log.Info("clickhouse schema ready", applogger.String("database", cfg.ClickHouse.Database))
	return client, func() { _ = client.Close() }, nil
}

// ProvideKafkaProducer creates a Kafka producer; nil when disabled.
func ProvideKafkaProducer(cfg *config.Config, log *applogger.Logger) (*pkgkafka.Producer, func(), error) {
	if !cfg.Kafka.Enabled {
		return nil, nop, nil
	}
	plog := log.With(applogger.String("component", "kafka_producer"))
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
		pkgkafka.WithAsyncErrorHandler(func(topic string, count int, err error) {
			plog.Warn("async delivery failed",
				applogger.String("topic", topic), applogger.Int("messages", count), applogger.Error(err))
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, func() { _ = producer.Close() }, nil
}

// ProvideEventPublisher fans events out to Kafka, or keeps the most recent
// ones in memory when Kafka is disabled.
func ProvideEventPublisher(cfg *config.Config, producer *pkgkafka.Producer) repository.EventPublisher {
	if producer == nil {
		return memory.NewEvents(memoryRetention)
	}
	return internalrepo.NewKafkaPublisher(producer, cfg.Kafka.Topics)
}

// AlertQueue is the Redis job queue that carries alerts and aggregated error
// logs to the event stream; nil without Redis.
type AlertQueue struct {
	*queue.RedisQueue
}

// ProvideAlertQueue starts the queue with the alert jobs registered and
// attaches the error-log collector to it.
func ProvideAlertQueue(cfg *config.Config, rc *cache.RedisCache, pub repository.EventPublisher, log *applogger.Logger) (*AlertQueue, func(), error) {
	if rc == nil {
		return nil, nop, nil
	}
	q := queue.NewRedisQueue(log.With(applogger.String("component", "alert_queue")), &queue.QueueConfig{
		Workers:    cfg.Alerts.Workers,
		RetryLimit: cfg.Alerts.RetryLimit,
		RetryDelay: cfg.Alerts.RetryDelay,
		JobTimeout: 10 * time.Second,
	}, rc.Client(), queue.WithKeyPrefix(cfg.Redis.Prefix+":queue"))
	q.RegisterJobs([]queue.Job{usecase.NewAlertJob(pub), usecase.NewLogBatchJob(pub)})
	if err := q.Start(); err != nil {
		return nil, nil, fmt.Errorf("alert queue: %w", err)
	}

	log.AddCollector(&applogger.CollectionConfig{
		TimeInterval:    cfg.Alerts.FlushInterval,
		CountThreshold:  cfg.Alerts.FlushThreshold,
		Topic:           usecase.LogBatchMessageType,
		Publisher:       q,
		CollectWarnings: cfg.Alerts.CollectWarnings,
	})
	cleanup := func() {
		log.RemoveCollector()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = q.Stop(ctx)
	}
	return &AlertQueue{q}, cleanup, nil
}

// ProvideAlertSink routes alerts through the queue when there is one.
func ProvideAlertSink(q *AlertQueue, pub repository.EventPublisher) repository.AlertSink {
	if q != nil {
		return internalrepo.NewQueueAlertSink(q.RedisQueue)
	}
	if sink, ok := pub.(repository.AlertSink); ok {
		return sink
	}
	return memory.NewEvents(memoryRetention)
}

func ProvidePositionStore(pg *pkgpg.Client) repository.PositionStore {
	if pg == nil {
		return memory.NewPositionStore()
	}
	return internalrepo.NewPostgresPositionStore(pg)
}

func ProvideAuditLedger(ch *pkgch.Client, log *applogger.Logger) repository.AuditLedger {
	if ch == nil {
		return memory.NewAuditLedger(memoryRetention)
	}
	return internalrepo.NewCHAuditLedger(ch, log)
}

// ProvideArchivePipeline buffers accepted samples into ClickHouse; nil
// without ClickHouse.
func ProvideArchivePipeline(cfg *config.Config, ch *pkgch.Client, m repository.Metrics, log *applogger.Logger) *middleware.ArchivePipeline {
	if ch == nil {
		return nil
	}
	return middleware.NewArchivePipeline(internalrepo.NewCHPriceArchive(ch), m, log,
		middleware.WithBatch(cfg.ClickHouse.BatchSize, cfg.ClickHouse.FlushInterval),
		middleware.WithBufferSize(cfg.ClickHouse.BufferSize),
	)
}

// ProvideSignalStore reads advisory rows verbatim from Redis. Without Redis
// every signal reads as stale, so the rule gate holds all entries.
func ProvideSignalStore(rc *cache.RedisCache) repository.SignalStore {
	if rc == nil {
		return internalrepo.NewRedisSignalStore(cache.NewMemoryCache())
	}
	return internalrepo.NewRedisSignalStore(rc.WithPrefix(""))
}

func ProvideSignalCache(cfg *config.Config, store repository.SignalStore, m repository.Metrics, log *applogger.Logger) *signals.Cache {
	return signals.NewCache(store, cfg.Signals, log, signals.WithMetrics(m))
}

func ProvidePriceSource(cfg *config.Config, log *applogger.Logger) repository.PriceSource {
	if cfg.PriceSource.Kind == "stream" {
		return pricesource.NewStreamSource(cfg.PriceSource.Stream, cfg.Universe.Tokens, log)
	}
	return pricesource.NewHTTPSource(cfg.PriceSource.HTTP)
}

func ProvideGateway(cfg *config.Config, log *applogger.Logger) repository.ExecutionGateway {
	return gateway.NewClient(cfg.Gateway, log)
}

// ProvideBook builds the position book and announces every transition.
func ProvideBook(cfg *config.Config, store repository.PositionStore, pub repository.EventPublisher, log *applogger.Logger) *portfolio.Book {
	book := portfolio.NewBook(store, cfg.Risk, log)
	tlog := log.With(applogger.String("component", "transition_publisher"))
	book.OnTransition(func(ctx context.Context, t models.PositionTransition) {
		if err := pub.PublishTransition(ctx, t); err != nil {
			tlog.Warn("publish transition failed",
				applogger.String("position", t.Position.Key().String()), applogger.Error(err))
		}
	})
	return book
}

// ProvideExecLocks guards submissions per position, across instances when
// Redis is available.
func ProvideExecLocks(cfg *config.Config, rc *cache.RedisCache, log *applogger.Logger) *usecase.ExecLocks {
	var dist cache.Service
	if rc != nil {
		dist = rc
	}
	return usecase.NewExecLocks(dist, cfg.Redis.LockTTL, log)
}

func ProvideExecutor(
	cfg *config.Config,
	gw repository.ExecutionGateway,
	book *portfolio.Book,
	locks *usecase.ExecLocks,
	audit *usecase.Auditor,
	alerts repository.AlertSink,
	m repository.Metrics,
	log *applogger.Logger,
) *usecase.Executor {
	return usecase.NewExecutor(gw, book, locks, audit, alerts, m, cfg.Execution, log)
}

func ProvideEmergencyExit(
	cfg *config.Config,
	gw repository.ExecutionGateway,
	book *portfolio.Book,
	locks *usecase.ExecLocks,
	audit *usecase.Auditor,
	alerts repository.AlertSink,
	m repository.Metrics,
	log *applogger.Logger,
) *usecase.EmergencyExitHandler {
	return usecase.NewEmergencyExitHandler(gw, book, locks, audit, alerts, m, cfg.Emergency, log)
}

func ProvideRiskGuard(
	cfg *config.Config,
	book *portfolio.Book,
	exec *usecase.Executor,
	emergency *usecase.EmergencyExitHandler,
	m repository.Metrics,
	log *applogger.Logger,
) *riskguard.Guard {
	return riskguard.New(book, usecase.RiskExits{Executor: exec, Handler: emergency}, cfg.Risk, cfg.Decision.Slippage, m, log)
}

func ProvidePatternDetector(cfg *config.Config) (*pattern.Detector, error) {
	return pattern.New(cfg.Pattern)
}

// ProvidePriceMonitor wires the per-token polling tasks. The board is
// updated before the guard so emergency exits see the newest price.
func ProvidePriceMonitor(
	cfg *config.Config,
	source repository.PriceSource,
	detector *pattern.Detector,
	board *usecase.PatternBoard,
	guard *riskguard.Guard,
	archive *middleware.ArchivePipeline,
	pub repository.EventPublisher,
	m repository.Metrics,
	log *applogger.Logger,
) *usecase.PriceMonitor {
	var sink usecase.SampleSink
	if archive != nil {
		sink = archive
	}
	handlers := []usecase.UpdateHandler{board, guard}
	return usecase.NewPriceMonitor(source, cfg.Universe.Tokens, detector, handlers, sink, pub, m, cfg.Monitor, log)
}

func ProvideDecisionEngine(cfg *config.Config) *decision.Engine {
	return decision.New(cfg.Decision.Config)
}

func ProvideDecisionCycle(
	cfg *config.Config,
	monitor *usecase.PriceMonitor,
	board *usecase.PatternBoard,
	sc *signals.Cache,
	book *portfolio.Book,
	engine *decision.Engine,
	exec *usecase.Executor,
	audit *usecase.Auditor,
	m repository.Metrics,
	log *applogger.Logger,
) *usecase.DecisionCycle {
	return usecase.NewDecisionCycle(monitor, board, sc, book, engine, exec, audit, cfg.Universe.Users, m, cfg.Decision.CycleConfig, log)
}

// ProvideKafkaConsumer listens for signal refresh notices; nil when Kafka is
// disabled.
func ProvideKafkaConsumer(cfg *config.Config, sc *signals.Cache, m repository.Metrics, log *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerLogger(log),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.RegisterHandler(usecase.NewSignalRefreshHandler(cfg.Kafka.Topics.Signals, sc, m, log))
	consumer.WithConsumerHook(pkgkafka.NewHookChain(pkgkafka.NewLoggingHook(log)))
	return consumer, nil
}

// ProvideOperatorHandler exposes read models and dependency health.
func ProvideOperatorHandler(
	log *applogger.Logger,
	monitor *usecase.PriceMonitor,
	board *usecase.PatternBoard,
	book *portfolio.Book,
	ledger repository.AuditLedger,
	emergency *usecase.EmergencyExitHandler,
	sc *signals.Cache,
	rc *cache.RedisCache,
	q *AlertQueue,
	pg *pkgpg.Client,
	ch *pkgch.Client,
) *api.OperatorHandler {
	var checks []api.HealthCheck
	if rc != nil {
		checks = append(checks, api.HealthCheck{Name: "redis", Ping: func(ctx context.Context) error {
			return rc.Client().Ping(ctx).Err()
		}})
	}
	if q != nil {
		checks = append(checks, api.HealthCheck{Name: "alert_queue", Ping: func(ctx context.Context) error {
			_, _, dead, err := q.Depth(ctx)
			if err == nil && dead > 0 {
				log.Warn("alert queue has dead letters", applogger.Int64("dead", dead))
			}
			return err
		}})
	}
	if pg != nil {
		checks = append(checks, api.HealthCheck{Name: "postgres", Ping: pg.Health})
	}
	if ch != nil {
		checks = append(checks, api.HealthCheck{Name: "clickhouse", Ping: ch.Health})
	}
	return api.NewOperatorHandler(log, api.Sources{
		Tokens:    monitor,
		Patterns:  board,
		Positions: book,
		Audit:     ledger,
		Exits:     emergency,
		Signals:   sc,
		Health:    checks,
	})
}

func ProvideHTTPServer(cfg *config.Config, h *api.OperatorHandler, log *applogger.Logger) *xhttp.Server {
	path := ""
	if cfg.Metrics.Enabled {
		path = cfg.Metrics.Path
	}
	return xhttp.NewServer(h, log,
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithMetricsPath(path),
		xhttp.WithCORS(cfg.Server.CORSOrigins),
	)
}
