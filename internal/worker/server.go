package worker

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"time"

	"github.com/dunamismax/imageutils/internal/config"
	"github.com/dunamismax/imageutils/internal/dispatch"
	"github.com/dunamismax/imageutils/internal/domain"
	"github.com/dunamismax/imageutils/internal/events"
	"github.com/dunamismax/imageutils/internal/platform"
	"github.com/dunamismax/imageutils/internal/queue"
	"github.com/dunamismax/imageutils/internal/store"
	"github.com/hashicorp/go-hclog"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var ErrStorageNotConfigured = errors.New("publish requested but object storage is not configured")

type Server struct {
	logger     hclog.Logger
	server     *asynq.Server
	queueName  string
	sem        chan struct{}
	dispatcher *dispatch.Dispatcher
	jobStore   store.JobStore
	storage    objectPublisher
	webhook    webhookSender
	events     events.Publisher
	metrics    *Metrics
	tracer     trace.Tracer
	now        func() time.Time
}

type webhookSender interface {
	Send(ctx context.Context, endpoint string, event domain.JobEvent) error
}

type objectPublisher interface {
	ObjectKey(jobID, fileName string) string
	PublishFile(ctx context.Context, objectKey, localPath, contentType string) error
}

type Options struct {
	Logger     hclog.Logger
	Queue      config.QueueConfig
	Worker     config.WorkerConfig
	Dispatcher *dispatch.Dispatcher
	JobStore   store.JobStore
	// Storage may be nil; jobs asking to publish then fail permanently.
	Storage objectPublisher
	Webhook webhookSender
	Events  events.Publisher
	Metrics *Metrics
}

func NewServer(opts Options) (*Server, error) {
	if opts.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if opts.JobStore == nil {
		return nil, fmt.Errorf("job store is required")
	}

	s := newServer(opts)
	logger := s.logger
	s.server = asynq.NewServer(
		opts.Queue.RedisClientOpt(),
		asynq.Config{
			Concurrency: opts.Worker.Concurrency,
			Queues: map[string]int{
				s.queueName: 1,
			},
			LogLevel: asynq.InfoLevel,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				logger.Warn("task failed", "type", task.Type(), "retry", retried, "max_retry", maxRetry, "error", err)
			}),
		},
	)
	return s, nil
}

func newServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = hclog.NewNullLogger()
	}
	if opts.Events == nil {
		opts.Events = events.NopPublisher{}
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics()
	}
	queueName := opts.Queue.Name
	if queueName == "" {
		queueName = "default"
	}

	return &Server{
		logger:     opts.Logger,
		queueName:  queueName,
		sem:        make(chan struct{}, max(1, opts.Worker.MaxActiveJobs)),
		dispatcher: opts.Dispatcher,
		jobStore:   opts.JobStore,
		storage:    opts.Storage,
		webhook:    opts.Webhook,
		events:     opts.Events,
		metrics:    opts.Metrics,
		tracer:     otel.Tracer("imageutils/worker"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Start begins processing in the background; pair it with Shutdown.
func (s *Server) Start() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeResizeImage, s.handleResize)
	return s.server.Start(mux)
}

func (s *Server) Shutdown() {
	s.server.Shutdown()
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleResize(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.ParseResizePayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	startedAt := time.Now()
	format := payload.Request.Format.String()
	outcome := domain.JobStatusFailed

	ctx, span := s.tracer.Start(ctx, "worker.resize_image", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.String("job.format", format),
		attribute.Int("job.width", payload.Request.Width),
		attribute.Int("job.height", payload.Request.Height),
		attribute.Bool("job.publish", payload.Publish),
	)
	defer span.End()
	defer func() {
		s.metrics.jobDuration.WithLabelValues(format, outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.jobsTotal.WithLabelValues(format, outcome).Inc()
	}()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.metrics.activeJobs.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeJobs.Dec()
	}()

	logger := s.logger.With("job_id", payload.JobID)
	logger.Info("resizing", "source", payload.Request.SourcePath, "format", format,
		"width", payload.Request.Width, "height", payload.Request.Height)
	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusProcessing)

	result, objectKey, err := s.process(ctx, payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "resize failed")

		permanent := errors.Is(err, platform.ErrUnsupportedFormat) || errors.Is(err, ErrStorageNotConfigured)
		if !permanent && !finalAttempt(ctx) {
			logger.Warn("resize attempt failed, will retry", "error", err)
			s.updateJobStatus(ctx, payload.JobID, domain.JobStatusQueued)
			return fmt.Errorf("resize: %w", err)
		}

		logger.Error("resize failed", "error", err)
		if _, storeErr := s.jobStore.Fail(ctx, payload.JobID, err.Error()); storeErr != nil {
			logger.Warn("job failure write failed", "error", storeErr)
		}
		s.notify(ctx, payload, domain.JobEvent{
			Type:       domain.EventResizeFailed,
			JobID:      payload.JobID,
			Status:     domain.JobStatusFailed,
			Error:      err.Error(),
			OccurredAt: s.now(),
		})
		if permanent {
			return fmt.Errorf("resize: %v: %w", err, asynq.SkipRetry)
		}
		return fmt.Errorf("resize: %w", err)
	}

	if _, err := s.jobStore.Complete(ctx, payload.JobID, result, objectKey); err != nil {
		logger.Warn("job result write failed", "error", err)
	}
	if result.Size != nil {
		s.metrics.outputBytesTotal.Add(float64(*result.Size))
	}
	logger.Info("resized", "path", result.Path, "object_key", objectKey)

	s.notify(ctx, payload, domain.JobEvent{
		Type:       domain.EventResizeCompleted,
		JobID:      payload.JobID,
		Status:     domain.JobStatusSucceeded,
		Result:     &result,
		ObjectKey:  objectKey,
		OccurredAt: s.now(),
	})

	outcome = domain.JobStatusSucceeded
	span.SetStatus(codes.Ok, "resized")
	return nil
}

// process runs the transform and, when asked, uploads the output. It returns the object key
// of the upload, empty when nothing was published.
func (s *Server) process(ctx context.Context, payload queue.ResizePayload) (domain.TransformResult, string, error) {
	if payload.Publish && s.storage == nil {
		return domain.TransformResult{}, "", ErrStorageNotConfigured
	}

	result, err := s.dispatcher.CreateResizedImage(ctx, payload.Request)
	if err != nil {
		return domain.TransformResult{}, "", err
	}
	if !payload.Publish {
		return result, "", nil
	}

	objectKey := s.storage.ObjectKey(payload.JobID, result.Path)
	if err := s.storage.PublishFile(ctx, objectKey, result.Path, payload.Request.Format.ContentType()); err != nil {
		// A retry renders a fresh file, so this one would be orphaned.
		if rmErr := os.Remove(result.Path); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			s.logger.Warn("remove unpublished output", "job_id", payload.JobID, "path", result.Path, "error", rmErr)
		}
		return domain.TransformResult{}, "", fmt.Errorf("publish output: %w", err)
	}
	s.metrics.publishedTotal.Inc()
	return result, objectKey, nil
}

// notify delivers event to the job's webhook and the event stream. Delivery failures are
// logged and counted; they never change the job outcome.
func (s *Server) notify(ctx context.Context, payload queue.ResizePayload, event domain.JobEvent) {
	if payload.WebhookURL != "" && s.webhook != nil {
		if err := s.webhook.Send(ctx, payload.WebhookURL, event); err != nil {
			s.metrics.notificationErrors.WithLabelValues("webhook").Inc()
			s.logger.Warn("webhook delivery failed", "job_id", payload.JobID, "event", event.Type, "error", err)
		}
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.metrics.notificationErrors.WithLabelValues("kafka").Inc()
		s.logger.Warn("event publish failed", "job_id", payload.JobID, "event", event.Type, "error", err)
	}
}

func (s *Server) updateJobStatus(ctx context.Context, jobID, status string) {
	if _, err := s.jobStore.UpdateStatus(ctx, jobID, status); err != nil {
		s.logger.Warn("job status update failed", "job_id", jobID, "status", status, "error", err)
	}
}

// finalAttempt reports whether asynq will not retry the running task. Outside a worker
// context every attempt is final.
func finalAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return true
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return true
	}
	return retried >= maxRetry
}
