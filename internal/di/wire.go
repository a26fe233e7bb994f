//go:build wireinject
// +build wireinject

package di

import (
	"TradeCore/internal/usecase"
	"TradeCore/pkg/config"
	"TradeCore/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application plus a
// cleanup func that closes infrastructure clients in reverse order.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		// Ambient
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideRedis,
		ProvidePostgres,
		ProvideClickHouseClient,
		ProvideKafkaProducer,

		// Repositories
		ProvideEventPublisher,
		ProvideAlertQueue,
		ProvideAlertSink,
		ProvidePositionStore,
		ProvideAuditLedger,
		ProvideArchivePipeline,
		ProvideSignalStore,

		// Services
		ProvideSignalCache,
		ProvidePriceSource,
		ProvideGateway,
		ProvideBook,
		ProvidePatternDetector,
		ProvideDecisionEngine,
		ProvideRiskGuard,

		// Use cases
		usecase.NewPatternBoard,
		usecase.NewAuditor,
		ProvideExecLocks,
		ProvideExecutor,
		ProvideEmergencyExit,
		ProvidePriceMonitor,
		ProvideDecisionCycle,
		ProvideKafkaConsumer,

		// Delivery
		ProvideOperatorHandler,
		ProvideHTTPServer,

		wire.Struct(new(server.Components), "*"),
		server.New,
	)
	return nil, nil, nil
}
