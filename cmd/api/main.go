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

	"github.com/dunamismax/imageutils/internal/api"
	"github.com/dunamismax/imageutils/internal/config"
	"github.com/dunamismax/imageutils/internal/dispatch"
	"github.com/dunamismax/imageutils/internal/engine"
	"github.com/dunamismax/imageutils/internal/engine/native"
	"github.com/dunamismax/imageutils/internal/logging"
	"github.com/dunamismax/imageutils/internal/platform"
	"github.com/dunamismax/imageutils/internal/queue"
	"github.com/dunamismax/imageutils/internal/ratelimit"
	"github.com/dunamismax/imageutils/internal/storage"
	"github.com/dunamismax/imageutils/internal/store"
	"github.com/dunamismax/imageutils/internal/telemetry"
	"github.com/hashicorp/go-hclog"
	"github.com/redis/go-redis/v9"
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
	logger := logging.New("api", logging.Options{Level: cfg.Log.Level, JSON: cfg.Log.JSON})

	if err := run(cfg, logger); err != nil {
		logger.Error("api exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger hclog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "imageutils-api",
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

	metrics := api.NewMetrics()
	eng, err := native.New(native.Config{
		CacheDir:       cfg.Engine.CacheDir,
		SourceTimeout:  cfg.Engine.SourceTimeout,
		MaxSourceBytes: cfg.Engine.MaxSourceBytes,
	})
	if err != nil {
		return err
	}
	eng = engine.Instrument(eng, otel.Tracer("imageutils/engine"), engine.NewMetrics(metrics.Registry()))

	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name, cfg.Queue.MaxRetry, cfg.Queue.TaskTimeout)
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Warn("queue client close", "error", err)
		}
	}()

	jobStore, closeStore, err := store.Open(ctx, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer closeStore()

	opts := api.Options{
		Logger:       logger,
		Dispatcher:   dispatch.New(p, eng, dispatch.WithEngineFormats(native.Formats())),
		Queue:        queueClient,
		QueueName:    cfg.Queue.Name,
		JobStore:     jobStore,
		PresignTTL:   cfg.API.PresignTTL,
		Access: api.AccessPolicy{
			SourceRoots: cfg.API.SourceRoots,
			RemoteHosts: cfg.API.RemoteHosts,
			OutputRoot:  cfg.Engine.CacheDir,
		},
		UserIDHeader: cfg.RateLimit.UserIDHeader,
		Tracer:       otel.Tracer("imageutils/api"),
		Metrics:      metrics,
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
		opts.Storage = storageClient
	}

	if cfg.RateLimit.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Queue.RedisAddr,
			Password: cfg.Queue.RedisPassword,
			DB:       cfg.Queue.RedisDB,
		})
		defer redisClient.Close()

		limiter, err := ratelimit.NewRedisTokenBucket(redisClient, ratelimit.Config{
			Capacity: cfg.RateLimit.Capacity,
			Window:   cfg.RateLimit.Window,
		})
		if err != nil {
			return err
		}
		opts.RateLimiter = limiter
	}

	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      api.NewServer(opts).Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", "addr", cfg.API.Addr, "platform", p, "engine", native.Name)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("shutting down")
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
