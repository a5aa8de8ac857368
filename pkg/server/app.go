package server

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"SignalGate/internal/domain/models"
	"SignalGate/internal/domain/repository"
	"SignalGate/internal/usecase"
	pkgcache "SignalGate/pkg/cache"
	pkgch "SignalGate/pkg/clickhouse"
	"SignalGate/pkg/config"
	xhttp "SignalGate/pkg/http"
	pkgkafka "SignalGate/pkg/kafka"
	"SignalGate/pkg/logger"
)

// App encapsulates the application lifecycle for both one-shot runs and the
// long-running service.
type App struct {
	cfg        *config.Config
	log        *logger.Logger
	orch       *usecase.Orchestrator
	httpServer *xhttp.Server
	consumer   *pkgkafka.Consumer
	handler    pkgkafka.MessageHandler
	sink       repository.DecisionSink
	producer   *pkgkafka.Producer
	chClient   *pkgch.Client
	cache      pkgcache.Service
}

// New creates a new App instance with all dependencies. consumer, producer
// and chClient may be nil.
func New(
	cfg *config.Config,
	log *logger.Logger,
	orch *usecase.Orchestrator,
	httpServer *xhttp.Server,
	consumer *pkgkafka.Consumer,
	handler pkgkafka.MessageHandler,
	sink repository.DecisionSink,
	producer *pkgkafka.Producer,
	chClient *pkgch.Client,
	cache pkgcache.Service,
) *App {
	return &App{
		cfg:        cfg,
		log:        log,
		orch:       orch,
		httpServer: httpServer,
		consumer:   consumer,
		handler:    handler,
		sink:       sink,
		producer:   producer,
		chClient:   chClient,
		cache:      cache,
	}
}

func (a *App) Logger() *logger.Logger { return a.log }

// RunOnce executes one run in the foreground. SIGINT or SIGTERM cancels it;
// the summary then reports CANCELLED.
func (a *App) RunOnce(req usecase.RunRequest) (*models.RunSummary, error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return a.orch.Run(ctx, req, func(ev models.ProgressEvent) {
		a.log.Debug("progress",
			logger.String("run_id", ev.RunID),
			logger.String("symbol", ev.Symbol),
			logger.String("status", string(ev.Status)),
			logger.Float64("pct", ev.Percent),
		)
	})
}

// Serve starts the HTTP API and the run-request consumer and blocks until
// interrupted.
func (a *App) Serve() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if a.consumer != nil && a.handler != nil {
		if err := a.consumer.RegisterHandler(a.handler); err != nil {
			return err
		}
		if err := a.consumer.Start(ctx); err != nil {
			return err
		}
		a.log.Info("run-request consumer started", logger.String("topic", a.handler.Topic()))
	}

	if err := a.httpServer.Start(); err != nil {
		a.log.Error("http server start error", logger.Error(err))
		return err
	}
	a.log.Info("http server started", logger.Int("port", a.cfg.Server.Port))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.log.Info("shutdown signal received")
	return a.shutdown()
}

func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := a.httpServer.Stop(ctx); err != nil {
		a.log.Error("http shutdown error", logger.Error(err))
	}
	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.log.Warn("kafka consumer stop error", logger.Error(err))
		}
	}
	a.Close()
	a.log.Info("shutdown complete")
	return nil
}

// Close cancels background runs and releases clients. Safe to call after a
// one-shot run.
func (a *App) Close() {
	done := make(chan struct{})
	go func() {
		a.orch.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(a.cfg.Server.ShutdownTimeout):
		a.log.Warn("background runs did not stop in time")
	}

	if err := a.sink.Close(); err != nil {
		a.log.Warn("decision sink close error", logger.Error(err))
	}
	if a.producer != nil {
		a.log.RemoveCollector()
		if err := a.producer.Close(); err != nil {
			a.log.Warn("kafka producer close error", logger.Error(err))
		}
	}
	if a.chClient != nil {
		if err := a.chClient.Close(); err != nil {
			a.log.Warn("clickhouse close error", logger.Error(err))
		}
	}
	if c, ok := a.cache.(io.Closer); ok {
		_ = c.Close()
	}
}
