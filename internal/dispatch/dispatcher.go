// Package dispatch validates resize requests against the platform's capability table and
// forwards them to an image engine.
package dispatch

import (
	"context"
	"slices"

	"github.com/dunamismax/imageutils/internal/domain"
	"github.com/dunamismax/imageutils/internal/engine"
	"github.com/dunamismax/imageutils/internal/platform"
)

// Dispatcher holds no mutable state; concurrent calls are independent.
type Dispatcher struct {
	platform platform.Platform
	engine   engine.Engine
	// encodable is nil when the engine encodes every format.
	encodable []domain.Format
}

type Option func(*Dispatcher)

// WithEngineFormats narrows the platform's formats to those the engine can encode.
func WithEngineFormats(formats []domain.Format) Option {
	return func(d *Dispatcher) {
		d.encodable = slices.Clone(formats)
	}
}

func New(p platform.Platform, eng engine.Engine, opts ...Option) *Dispatcher {
	d := &Dispatcher{platform: p, engine: eng}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// NewWithCallbacks accepts an engine using the success/failure callback convention.
func NewWithCallbacks(p platform.Platform, cb engine.CallbackEngine, opts ...Option) *Dispatcher {
	return New(p, engine.FromCallback(cb), opts...)
}

func (d *Dispatcher) Platform() platform.Platform {
	return d.platform
}

func (d *Dispatcher) SupportedFormats() []domain.Format {
	formats := platform.Formats(d.platform)
	if d.encodable == nil {
		return formats
	}
	return slices.DeleteFunc(formats, func(f domain.Format) bool {
		return !slices.Contains(d.encodable, f)
	})
}

// Validate reports whether req can be dispatched on this platform with this engine.
func (d *Dispatcher) Validate(req domain.TransformRequest) error {
	if err := platform.Check(d.platform, req.Format); err != nil {
		return err
	}
	if d.encodable != nil && !slices.Contains(d.encodable, req.Format) {
		return &platform.UnsupportedFormatError{
			Platform:  d.platform,
			Requested: req.Format,
			Allowed:   d.SupportedFormats(),
		}
	}
	return nil
}

// Transform normalizes and validates req, then forwards it to the engine. A request for an
// unsupported format yields an already rejected future and the engine is never called.
// Canceling ctx does not stop the engine once it has been called.
func (d *Dispatcher) Transform(ctx context.Context, req domain.TransformRequest) *engine.Future {
	req = req.Normalized()
	if err := d.Validate(req); err != nil {
		return engine.Rejected(err)
	}
	return d.engine.CreateResizedImage(context.WithoutCancel(ctx), engine.ArgsFrom(req))
}

// CreateResizedImage is Transform followed by Await.
func (d *Dispatcher) CreateResizedImage(ctx context.Context, req domain.TransformRequest) (domain.TransformResult, error) {
	return d.Transform(ctx, req).Await(ctx)
}
