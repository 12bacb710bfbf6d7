package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/dunamismax/imageutils/internal/domain"
)

var ErrNilRejection = errors.New("engine rejected without an error")

// Future holds the single eventual outcome of an engine call.
type Future struct {
	once   sync.Once
	done   chan struct{}
	result domain.TransformResult
	err    error
}

func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func Resolved(res domain.TransformResult) *Future {
	f := NewFuture()
	f.Resolve(res)
	return f
}

func Rejected(err error) *Future {
	f := NewFuture()
	f.Reject(err)
	return f
}

// Resolve settles the future with res. It reports false if the future was already settled.
func (f *Future) Resolve(res domain.TransformResult) bool {
	settled := false
	f.once.Do(func() {
		f.result = res
		settled = true
		close(f.done)
	})
	return settled
}

// Reject settles the future with err. It reports false if the future was already settled.
func (f *Future) Reject(err error) bool {
	if err == nil {
		err = ErrNilRejection
	}
	settled := false
	f.once.Do(func() {
		f.err = err
		settled = true
		close(f.done)
	})
	return settled
}

func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Await blocks until the future settles or ctx is done. Giving up on ctx does not stop the
// engine; the outcome is still recorded and visible to later Await calls.
func (f *Future) Await(ctx context.Context) (domain.TransformResult, error) {
	select {
	case <-f.done:
		return f.result, f.err
	default:
	}

	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return domain.TransformResult{}, ctx.Err()
	}
}
