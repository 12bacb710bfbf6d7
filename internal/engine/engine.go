// Package engine defines the contract between the dispatcher and the image engines that do
// the decoding, resizing, rotation and encoding. Two calling conventions are supported:
// engines that return a *Future and engines that report through a success and a failure
// callback. FromCallback adapts the second into the first.
package engine

import (
	"context"

	"github.com/dunamismax/imageutils/internal/domain"
)

// Args are the positional arguments of one engine call.
type Args struct {
	SourcePath string
	Width      int
	Height     int
	Format     domain.Format
	Quality    int
	Rotation   int
	OutputPath string
}

// ArgsFrom flattens a normalized request into engine arguments.
func ArgsFrom(req domain.TransformRequest) Args {
	return Args{
		SourcePath: req.SourcePath,
		Width:      req.Width,
		Height:     req.Height,
		Format:     req.Format,
		Quality:    req.Quality,
		Rotation:   req.RotationDegrees(),
		OutputPath: req.OutputPath,
	}
}

// Engine returns the eventual outcome of the call as a Future.
type Engine interface {
	CreateResizedImage(ctx context.Context, args Args) *Future
}

// CallbackEngine invokes exactly one of onSuccess or onFailure, possibly from another goroutine.
type CallbackEngine interface {
	CreateResizedImage(ctx context.Context, args Args, onSuccess func(domain.TransformResult), onFailure func(error))
}

// EngineFunc adapts a plain function to Engine.
type EngineFunc func(ctx context.Context, args Args) *Future

func (f EngineFunc) CreateResizedImage(ctx context.Context, args Args) *Future {
	return f(ctx, args)
}

type callbackAdapter struct {
	next CallbackEngine
}

// FromCallback wraps a two-callback engine so it can be used wherever an Engine is expected.
func FromCallback(cb CallbackEngine) Engine {
	return callbackAdapter{next: cb}
}

func (a callbackAdapter) CreateResizedImage(ctx context.Context, args Args) *Future {
	f := NewFuture()
	a.next.CreateResizedImage(ctx, args,
		func(res domain.TransformResult) { f.Resolve(res) },
		func(err error) { f.Reject(err) },
	)
	return f
}
