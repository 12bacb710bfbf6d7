//go:build govips && cgo

package vips

import (
	"context"
	"errors"
	"fmt"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/dunamismax/imageutils/internal/domain"
	"github.com/dunamismax/imageutils/internal/engine"
	"github.com/dunamismax/imageutils/internal/engine/output"
	"github.com/dunamismax/imageutils/internal/engine/source"
)

var ErrRotationNotRightAngle = errors.New("rotation must be a multiple of 90 degrees")

// Formats lists the output formats this engine can encode.
var Formats = []domain.Format{domain.FormatJPEG, domain.FormatPNG, domain.FormatWEBP}

type Engine struct {
	loader *source.Loader
	writer *output.Writer
}

func New(loader *source.Loader, writer *output.Writer) *Engine {
	return &Engine{loader: loader, writer: writer}
}

func (e *Engine) CreateResizedImage(ctx context.Context, args engine.Args) *engine.Future {
	f := engine.NewFuture()
	go func() {
		res, err := e.createResizedImage(ctx, args)
		if err != nil {
			f.Reject(err)
			return
		}
		f.Resolve(res)
	}()
	return f
}

func (e *Engine) createResizedImage(ctx context.Context, args engine.Args) (domain.TransformResult, error) {
	angle, err := vipsAngle(args.Rotation)
	if err != nil {
		return domain.TransformResult{}, err
	}

	data, err := e.loader.Load(ctx, args.SourcePath)
	if err != nil {
		return domain.TransformResult{}, err
	}

	img, err := vips.NewImageFromBuffer(data)
	if err != nil {
		return domain.TransformResult{}, fmt.Errorf("unable to load source image: %w", err)
	}
	defer img.Close()

	if err := img.AutoRotate(); err != nil {
		return domain.TransformResult{}, fmt.Errorf("apply exif orientation: %w", err)
	}

	w, h := engine.FitWithin(img.Width(), img.Height(), args.Width, args.Height)
	if w != img.Width() || h != img.Height() {
		hScale := float64(w) / float64(img.Width())
		vScale := float64(h) / float64(img.Height())
		if err := img.ResizeWithVScale(hScale, vScale, vips.KernelLanczos3); err != nil {
			return domain.TransformResult{}, fmt.Errorf("resize image: %w", err)
		}
	}

	if angle != vips.Angle0 {
		if err := img.Rotate(angle); err != nil {
			return domain.TransformResult{}, fmt.Errorf("rotate image: %w", err)
		}
	}

	encoded, err := export(img, args.Format, args.Quality)
	if err != nil {
		return domain.TransformResult{}, err
	}
	return e.writer.Write(args.OutputPath, args.Format, encoded)
}

// vipsAngle maps a clockwise rotation to a libvips right angle.
func vipsAngle(degrees int) (vips.Angle, error) {
	switch engine.NormalizeRotation(degrees) {
	case 0:
		return vips.Angle0, nil
	case 90:
		return vips.Angle90, nil
	case 180:
		return vips.Angle180, nil
	case 270:
		return vips.Angle270, nil
	default:
		return vips.Angle0, fmt.Errorf("%w: %d", ErrRotationNotRightAngle, degrees)
	}
}

func export(img *vips.ImageRef, format domain.Format, quality int) ([]byte, error) {
	switch format {
	case domain.FormatJPEG:
		params := vips.NewJpegExportParams()
		if quality >= 0 && quality <= 100 {
			// libvips jpegsave takes Q in 1..100.
			params.Quality = max(quality, 1)
		}
		data, _, err := img.ExportJpeg(params)
		if err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
		return data, nil
	case domain.FormatPNG:
		data, _, err := img.ExportPng(vips.NewPngExportParams())
		if err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
		return data, nil
	case domain.FormatWEBP:
		params := vips.NewWebpExportParams()
		if quality >= 0 && quality <= 100 {
			params.Quality = quality
		}
		data, _, err := img.ExportWebp(params)
		if err != nil {
			return nil, fmt.Errorf("encode webp: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}
