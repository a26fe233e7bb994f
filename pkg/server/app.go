package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"TradeCore/internal/domain/repository"
	"TradeCore/internal/middleware"
	"TradeCore/internal/services/portfolio"
	"TradeCore/internal/usecase"
	xhttp "TradeCore/pkg/http"
	pkgkafka "TradeCore/pkg/kafka"
	applogger "TradeCore/pkg/logger"
)

// Background is a price source that keeps a connection of its own.
type Background interface {
	Start(ctx context.Context)
	Close() error
}

// Components are the long-running parts of the service. Optional parts are
// nil when their backing infrastructure is disabled.
type Components struct {
	Log      *applogger.Logger
	Book     *portfolio.Book
	Source   repository.PriceSource
	Monitor  *usecase.PriceMonitor
	Cycle    *usecase.DecisionCycle
	Archive  *middleware.ArchivePipeline
	Consumer *pkgkafka.Consumer
	HTTP     *xhttp.Server
}

// App encapsulates the application lifecycle.
type App struct {
	c   Components
	log *applogger.Logger
}

func New(c Components) *App {
	return &App{c: c, log: c.Log.With(applogger.String("component", "app"))}
}

// Start restores the book and launches every task. It does not block.
func (a *App) Start(ctx context.Context) error {
	n, err := a.c.Book.Load(ctx)
	if err != nil {
		return fmt.Errorf("restore positions: %w", err)
	}
	a.log.Info("positions restored", applogger.Int("count", n))

	if bg, ok := a.c.Source.(Background); ok {
		bg.Start(ctx)
	}
	if a.c.Archive != nil {
		a.c.Archive.Start(ctx)
	}
	a.c.Monitor.Start(ctx)
	a.c.Cycle.Start(ctx)

	if a.c.Consumer != nil {
		if err := a.c.Consumer.Start(); err != nil {
			return fmt.Errorf("kafka consumer: %w", err)
		}
		a.log.Info("kafka consumer started", applogger.Strings("topics", a.c.Consumer.Topics()))
	}
	if a.c.HTTP != nil {
		if err := a.c.HTTP.Start(); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}
	return nil
}

// Run starts the app and blocks until SIGINT/SIGTERM or ctx is done, then
// shuts down within timeout.
func (a *App) Run(ctx context.Context, timeout time.Duration) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		a.Shutdown(context.Background(), timeout)
		return err
	}
	<-ctx.Done()
	a.log.Info("shutdown signal received")
	a.Shutdown(context.Background(), timeout)
	return nil
}

// Shutdown stops producers of work before their consumers: the HTTP surface
// and monitors first, then the decision cycle, the archive drain and the
// Kafka consumer. Infrastructure clients are closed by the caller afterwards.
func (a *App) Shutdown(ctx context.Context, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if a.c.HTTP != nil {
		if err := a.c.HTTP.Stop(ctx); err != nil {
			a.log.Warn("http shutdown error", applogger.Error(err))
		}
	}
	a.c.Monitor.Stop()
	a.c.Cycle.Stop()
	if bg, ok := a.c.Source.(Background); ok {
		if err := bg.Close(); err != nil {
			a.log.Warn("price source close error", applogger.Error(err))
		}
	}
	if a.c.Archive != nil {
		a.c.Archive.Stop()
	}
	if a.c.Consumer != nil {
		if err := a.c.Consumer.Stop(ctx); err != nil {
			a.log.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}
	a.log.Info("shutdown complete")
}
