package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/t77yq/nats-alerts/internal/aggregator"
	"github.com/t77yq/nats-alerts/internal/alertapi"
	"github.com/t77yq/nats-alerts/internal/bus"
	"github.com/t77yq/nats-alerts/internal/config"
	"github.com/t77yq/nats-alerts/internal/engine"
	"github.com/t77yq/nats-alerts/internal/ingest"
	"github.com/t77yq/nats-alerts/internal/listener"
	"github.com/t77yq/nats-alerts/internal/metrics"
	"github.com/t77yq/nats-alerts/internal/monitor"
	"github.com/t77yq/nats-alerts/internal/publisher"
	"github.com/t77yq/nats-alerts/internal/storage"
)

type alertStore interface {
	storage.AlertStore
	Close() error
}

type memoryStore struct {
	*storage.MemoryAlertStore
}

func (memoryStore) Close() error { return nil }

func openStore(cfg config.StorageConfig, logger *zap.Logger) (alertStore, error) {
	if cfg.Driver == "memory" {
		logger.Warn("Using in-memory alert store, alerts are lost on restart")
		return memoryStore{storage.NewMemoryAlertStore()}, nil
	}
	store, err := storage.NewSQLiteAlertStore(logger, cfg.Path)
	if err != nil {
		return nil, err
	}
	return store, nil
}

func connectNATS(cfg config.Config, logger *zap.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(cfg.App.Name),
		nats.MaxReconnects(cfg.NATS.MaxReconnects),
		nats.ReconnectWait(cfg.NATS.ReconnectWait),
		nats.Timeout(cfg.NATS.ConnectTimeout),
		nats.PingInterval(20 * time.Second),
		nats.MaxPingsOutstanding(5),
		nats.ReconnectBufSize(5 * 1024 * 1024), // 5MB
		nats.DrainTimeout(30 * time.Second),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Error("NATS connection error",
				zap.String("subject", subject),
				zap.Error(err))
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected",
				zap.String("url", nc.ConnectedUrl()))
		}),
	}

	// Connect with retry
	var (
		nc  *nats.Conn
		err error
	)
	maxRetries := 5
	for i := 0; i < maxRetries; i++ {
		nc, err = nats.Connect(strings.Join(cfg.NATS.URLs, ","), opts...)
		if err == nil {
			return nc, nil
		}
		logger.Warn("Failed to connect to NATS, retrying...",
			zap.Int("attempt", i+1),
			zap.Error(err))
		time.Sleep(time.Second * time.Duration(i+1))
	}
	return nil, err
}

func main() {
	// Initialize logger
	zapConfig := zap.NewDevelopmentConfig()
	logger, err := zapConfig.Build()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// Load configuration
	loader := config.NewLoader(os.Getenv("ALERTD_CONFIG"), logger)
	cfg, err := loader.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}
	if level, err := zapcore.ParseLevel(cfg.App.LogLevel); err == nil {
		zapConfig.Level.SetLevel(level)
	}

	nc, err := connectNATS(*cfg, logger)
	if err != nil {
		logger.Fatal("Failed to connect to NATS after retries", zap.Error(err))
	}
	defer nc.Close()

	logger.Info("Connected to NATS successfully",
		zap.String("url", nc.ConnectedUrl()))

	// Create JetStream context
	js, err := nc.JetStream(nats.PublishAsyncErrHandler(func(_ nats.JetStream, msg *nats.Msg, err error) {
		logger.Error("Async publish failed",
			zap.String("subject", msg.Subject),
			zap.Error(err))
	}))
	if err != nil {
		logger.Fatal("Failed to create JetStream context", zap.Error(err))
	}

	if err := bus.EnsureStreams(js, logger); err != nil {
		logger.Fatal("Failed to set up streams", zap.Error(err))
	}

	store, err := openStore(cfg.Storage, logger)
	if err != nil {
		logger.Fatal("Failed to open alert store", zap.Error(err))
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	alertMetrics := metrics.New(reg)

	var digests publisher.DigestPublisher = publisher.NewNATSDigestPublisher(js, logger)
	if cfg.Webhook.URL != "" {
		webhook := publisher.NewWebhookDigestPublisher(publisher.WebhookConfig{
			URL:     cfg.Webhook.URL,
			Headers: cfg.Webhook.Headers,
			Timeout: cfg.Webhook.Timeout,
		}, logger)
		defer webhook.Close()
		digests = publisher.Fanout(digests, webhook)
	}
	alertEngine := engine.NewEngine(store, digests, logger, engine.WithMetrics(alertMetrics))

	agg, err := aggregator.NewAggregator(store, digests, cfg.Aggregator.Interval(), logger,
		aggregator.WithMetrics(alertMetrics))
	if err != nil {
		logger.Fatal("Failed to start aggregator", zap.Error(err))
	}
	defer agg.Stop()

	loader.Watch(func(next *config.Config) {
		if err := agg.SetIntervalMinutes(next.Aggregator.IntervalMinutes); err != nil {
			logger.Error("Failed to apply aggregation interval", zap.Error(err))
		}
		if level, err := zapcore.ParseLevel(next.App.LogLevel); err == nil {
			zapConfig.Level.SetLevel(level)
		}
	})

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	ingestor := ingest.NewIngestor(logger, ingest.WithLocalHost(ingest.LocalHost()))

	subscriber := listener.NewListener(js, ingestor, alertEngine, logger)
	if err := subscriber.Start(ctx); err != nil {
		logger.Fatal("Failed to start listener", zap.Error(err))
	}
	defer subscriber.Stop()

	if cfg.Monitor.Enabled {
		watcher, err := monitor.NewResourceWatcher(alertEngine, cfg.Monitor.Interval, monitor.Thresholds{
			CPU:    cfg.Monitor.CPUThreshold,
			Memory: cfg.Monitor.MemoryThreshold,
		}, logger)
		if err != nil {
			logger.Fatal("Failed to create resource watcher", zap.Error(err))
		}
		if err := watcher.Start(ctx); err != nil {
			logger.Fatal("Failed to start resource watcher", zap.Error(err))
		}
		defer watcher.Stop()
	}

	api := alertapi.New(logger, ingestor, alertEngine, store, agg)
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           alertapi.NewRouter(api, reg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", zap.Error(err))
			cancel()
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown did not complete", zap.Error(err))
	}

	logger.Info("Server shutting down gracefully")
}
