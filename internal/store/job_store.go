package store

import (
	"context"
	"errors"

	"github.com/dunamismax/imageutils/internal/domain"
)

var ErrJobNotFound = errors.New("job not found")

type JobStore interface {
	Create(ctx context.Context, job domain.Job) error
	Get(ctx context.Context, id string) (domain.Job, bool, error)
	UpdateStatus(ctx context.Context, id, status string) (domain.Job, error)
	Complete(ctx context.Context, id string, result domain.TransformResult, objectKey string) (domain.Job, error)
	Fail(ctx context.Context, id, reason string) (domain.Job, error)
}

// Open returns the postgres store for a non-empty dsn and the in-memory store otherwise.
// The returned close func is always safe to call.
func Open(ctx context.Context, dsn string) (JobStore, func() error, error) {
	if dsn == "" {
		return NewMemoryJobStore(), func() error { return nil }, nil
	}
	pg, err := NewPostgresJobStore(ctx, dsn)
	if err != nil {
		return nil, nil, err
	}
	return pg, pg.Close, nil
}
