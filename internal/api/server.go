package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dunamismax/imageutils/internal/dispatch"
	"github.com/dunamismax/imageutils/internal/domain"
	"github.com/dunamismax/imageutils/internal/platform"
	"github.com/dunamismax/imageutils/internal/queue"
	"github.com/dunamismax/imageutils/internal/ratelimit"
	"github.com/dunamismax/imageutils/internal/store"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel/trace"
)

type Server struct {
	logger                hclog.Logger
	dispatcher            *dispatch.Dispatcher
	queueClient           queueEnqueuer
	queueName             string
	jobStore              store.JobStore
	storage               objectStorage
	presignTTL            time.Duration
	access                AccessPolicy
	rateLimiter           ratelimit.Limiter
	rateLimitUserIDHeader string
	tracer                trace.Tracer
	metrics               *Metrics
	mux                   *http.ServeMux
	now                   func() time.Time
}

type queueEnqueuer interface {
	EnqueueResize(ctx context.Context, payload queue.ResizePayload) (*asynq.TaskInfo, error)
}

type objectStorage interface {
	PresignedGetURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
}

type Options struct {
	Logger     hclog.Logger
	Dispatcher *dispatch.Dispatcher
	Queue      queueEnqueuer
	QueueName  string
	JobStore   store.JobStore
	Storage    objectStorage
	PresignTTL time.Duration
	// Access limits the sources and output paths clients may name.
	Access      AccessPolicy
	RateLimiter ratelimit.Limiter
	// UserIDHeader names the header whose value keys the rate limit bucket.
	UserIDHeader string
	Tracer       trace.Tracer
	Metrics      *Metrics
}

func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = hclog.NewNullLogger()
	}
	if opts.PresignTTL <= 0 {
		opts.PresignTTL = 15 * time.Minute
	}
	if opts.Storage == nil {
		opts.Storage = unavailableObjectStorage{}
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics()
	}
	if opts.UserIDHeader == "" {
		opts.UserIDHeader = "X-User-ID"
	}
	if opts.QueueName == "" {
		opts.QueueName = "default"
	}

	s := &Server{
		logger:                opts.Logger,
		dispatcher:            opts.Dispatcher,
		queueClient:           opts.Queue,
		queueName:             opts.QueueName,
		jobStore:              opts.JobStore,
		storage:               opts.Storage,
		presignTTL:            opts.PresignTTL,
		access:                opts.Access,
		rateLimiter:           opts.RateLimiter,
		rateLimitUserIDHeader: opts.UserIDHeader,
		tracer:                opts.Tracer,
		metrics:               opts.Metrics,
		mux:                   http.NewServeMux(),
		now:                   func() time.Time { return time.Now().UTC() },
	}
	s.routes()
	return s
}

type unavailableObjectStorage struct{}

func (unavailableObjectStorage) PresignedGetURL(context.Context, string, time.Duration) (string, error) {
	return "", errObjectStorageUnavailable
}

var errObjectStorageUnavailable = errors.New("object storage is unavailable")

// Handler returns the routed mux wrapped in metrics, tracing and rate limiting.
func (s *Server) Handler() http.Handler {
	return s.metrics.withHTTPMetrics(s.withTracing(s.withRateLimit(s.mux)))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.HandleFunc("GET /v1/capabilities", s.handleCapabilities)
	s.mux.HandleFunc("POST /v1/resize", s.handleResize)
	s.mux.HandleFunc("POST /v1/jobs", s.handleCreateJob)
	s.mux.HandleFunc("GET /v1/jobs/{id}", s.handleGetJob)
	s.mux.HandleFunc("GET /v1/jobs/{id}/download", s.handleDownload)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCapabilities(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"platform": s.dispatcher.Platform(),
		"formats":  s.dispatcher.SupportedFormats(),
	})
}

func (s *Server) handleResize(w http.ResponseWriter, r *http.Request) {
	var req domain.TransformRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.access.Check(req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := s.dispatcher.CreateResizedImage(r.Context(), req)
	if err != nil {
		status := statusForTransformError(err)
		if status != http.StatusUnprocessableEntity {
			s.logger.Warn("resize failed", "source", req.SourcePath, "format", req.Format, "error", err)
		}
		writeError(w, status, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func statusForTransformError(err error) int {
	switch {
	case errors.Is(err, platform.ErrUnsupportedFormat):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateJobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.access.Check(req.Transform); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.dispatcher.Validate(req.Transform); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	now := s.now()
	job := domain.Job{
		ID:         uuid.NewString(),
		Status:     domain.JobStatusCreated,
		Request:    req.Transform.Normalized(),
		WebhookURL: req.WebhookURL,
		Publish:    req.Publish,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.jobStore.Create(r.Context(), job); err != nil {
		s.logger.Error("create job failed", "job_id", job.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create job"})
		return
	}

	// The worker may finish the job before EnqueueResize returns, so the
	// queued transition has to land first.
	if _, err := s.jobStore.UpdateStatus(r.Context(), job.ID, domain.JobStatusQueued); err != nil {
		s.logger.Warn("update status failed", "job_id", job.ID, "error", err)
	}

	taskInfo, err := s.queueClient.EnqueueResize(r.Context(), queue.PayloadFromJob(job, now))
	if err != nil {
		s.logger.Error("enqueue failed", "job_id", job.ID, "error", err)
		if _, failErr := s.jobStore.Fail(r.Context(), job.ID, "enqueue failed"); failErr != nil {
			s.logger.Warn("mark job failed", "job_id", job.ID, "error", failErr)
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to enqueue job"})
		return
	}
	s.metrics.queueEnqueued.WithLabelValues(taskInfo.Queue).Inc()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":      job.ID,
		"status":      domain.JobStatusQueued,
		"queue":       taskInfo.Queue,
		"task_id":     taskInfo.ID,
		"status_url":  fmt.Sprintf("/v1/jobs/%s", job.ID),
		"enqueued_at": now,
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	if job.Status != domain.JobStatusSucceeded || job.ObjectKey == "" {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "job has no published output"})
		return
	}

	url, err := s.storage.PresignedGetURL(r.Context(), job.ObjectKey, s.presignTTL)
	if err != nil {
		if errors.Is(err, errObjectStorageUnavailable) {
			writeError(w, http.StatusServiceUnavailable, err)
			return
		}
		s.logger.Error("presign download failed", "job_id", job.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to generate download URL"})
		return
	}

	http.Redirect(w, r, url, http.StatusTemporaryRedirect)
}

func (s *Server) loadJob(w http.ResponseWriter, r *http.Request) (domain.Job, bool) {
	jobID := r.PathValue("id")
	job, ok, err := s.jobStore.Get(r.Context(), jobID)
	if err != nil {
		s.logger.Error("fetch job failed", "job_id", jobID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load job"})
		return domain.Job{}, false
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return domain.Job{}, false
	}
	return job, true
}

func decodeJSON(r *http.Request, into any) error {
	const maxBodyBytes = 1 << 20
	limited := io.LimitReader(r.Body, maxBodyBytes)
	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
