package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/imageutils/internal/config"
	"github.com/dunamismax/imageutils/internal/dispatch"
	"github.com/dunamismax/imageutils/internal/engine"
	"github.com/dunamismax/imageutils/internal/engine/native"
	"github.com/dunamismax/imageutils/internal/events"
	"github.com/dunamismax/imageutils/internal/logging"
	"github.com/dunamismax/imageutils/internal/platform"
	"github.com/dunamismax/imageutils/internal/storage"
	"github.com/dunamismax/imageutils/internal/store"
	"github.com/dunamismax/imageutils/internal/telemetry"
	"github.com/dunamismax/imageutils/internal/webhook"
	"github.com/dunamismax/imageutils/internal/worker"
	"github.com/hashicorp/go-hclog"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		hclog.Default().Error("load config", "error", err)
		os.Exit(1)
	}
	logger := logging.New("worker", logging.Options{Level: cfg.Log.Level, JSON: cfg.Log.JSON})

	if err := run(cfg, logger); err != nil {
		logger.Error("worker exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger hclog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "imageutils-worker",
		Exporter:     cfg.Tracing.Exporter,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		OTLPInsecure: cfg.Tracing.OTLPInsecure,
	}, logger)
	if err != nil {
		return err
	}
	defer shutdownTracing(context.Background())

	p, err := platform.Parse(cfg.Platform)
	if err != nil {
		return err
	}

	if err := native.Startup(); err != nil {
		return err
	}
	defer native.Shutdown()

	metrics := worker.NewMetrics()
	eng, err := native.New(native.Config{
		CacheDir:       cfg.Engine.CacheDir,
		SourceTimeout:  cfg.Engine.SourceTimeout,
		MaxSourceBytes: cfg.Engine.MaxSourceBytes,
	})
	if err != nil {
		return err
	}
	eng = engine.Instrument(eng, otel.Tracer("imageutils/engine"), engine.NewMetrics(metrics.Registry()))

	jobStore, closeStore, err := store.Open(ctx, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer closeStore()

	opts := worker.Options{
		Logger:     logger,
		Queue:      cfg.Queue,
		Worker:     cfg.Worker,
		Dispatcher: dispatch.New(p, eng, dispatch.WithEngineFormats(native.Formats())),
		JobStore:   jobStore,
		Webhook: webhook.NewClient(webhook.Config{
			SigningSecret:  cfg.Webhook.SigningSecret,
			Timeout:        cfg.Webhook.Timeout,
			MaxAttempts:    cfg.Webhook.MaxAttempts,
			InitialBackoff: cfg.Webhook.InitialBackoff,
			MaxBackoff:     cfg.Webhook.MaxBackoff,
		}),
		Metrics: metrics,
	}

	if cfg.Storage.Enabled {
		storageClient, err := storage.NewClient(storage.Config{
			Endpoint: cfg.Storage.Endpoint,
			Access:   cfg.Storage.AccessKey,
			Secret:   cfg.Storage.SecretKey,
			Bucket:   cfg.Storage.Bucket,
			UseSSL:   cfg.Storage.UseSSL,
			Prefix:   cfg.Storage.Prefix,
		})
		if err != nil {
			return err
		}
		if err := storageClient.EnsureBucket(ctx); err != nil {
			return err
		}
		logger.Info("publishing outputs", "bucket", storageClient.Bucket(), "endpoint", cfg.Storage.Endpoint)
		opts.Storage = storageClient
	}

	if len(cfg.Events.Brokers) > 0 {
		publisher, err := events.NewKafkaPublisher(events.Config{Brokers: cfg.Events.Brokers, Topic: cfg.Events.Topic})
		if err != nil {
			return err
		}
		defer publisher.Close()
		opts.Events = publisher
	}

	srv, err := worker.NewServer(opts)
	if err != nil {
		return err
	}

	metricsServer := &http.Server{
		Addr:              cfg.Worker.MetricsAddr,
		Handler:           srv.MetricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("starting worker",
		"concurrency", cfg.Worker.Concurrency,
		"max_active_jobs", cfg.Worker.MaxActiveJobs,
		"queue", cfg.Queue.Name,
		"redis", cfg.Queue.RedisAddr,
		"platform", p,
		"engine", native.Name,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(); err != nil {
			return err
		}
		<-gctx.Done()
		srv.Shutdown()
		return nil
	})
	g.Go(func() error {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
