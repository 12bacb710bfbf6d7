// Package imaging is a pure Go image engine built on disintegration/imaging. It reports
// through success and failure callbacks.
package imaging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/imageutils/internal/domain"
	"github.com/dunamismax/imageutils/internal/engine"
	"github.com/dunamismax/imageutils/internal/engine/output"
	"github.com/dunamismax/imageutils/internal/engine/source"
	_ "golang.org/x/image/webp"
)

var ErrWebPEncodeUnsupported = errors.New("webp export requires govips build tag")

const defaultJPEGQuality = 80

// Formats lists the output formats this engine can encode.
var Formats = []domain.Format{domain.FormatJPEG, domain.FormatPNG}

type Engine struct {
	loader *source.Loader
	writer *output.Writer
	filter imaging.ResampleFilter
}

func New(loader *source.Loader, writer *output.Writer) *Engine {
	return &Engine{
		loader: loader,
		writer: writer,
		filter: imaging.Lanczos,
	}
}

func (e *Engine) CreateResizedImage(ctx context.Context, args engine.Args, onSuccess func(domain.TransformResult), onFailure func(error)) {
	go func() {
		res, err := e.createResizedImage(ctx, args)
		if err != nil {
			onFailure(err)
			return
		}
		onSuccess(res)
	}()
}

func (e *Engine) createResizedImage(ctx context.Context, args engine.Args) (domain.TransformResult, error) {
	data, err := e.loader.Load(ctx, args.SourcePath)
	if err != nil {
		return domain.TransformResult{}, err
	}

	// EXIF orientation is applied here so the fit box applies to the upright image.
	src, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return domain.TransformResult{}, fmt.Errorf("unable to load source image: %w", err)
	}

	img := e.resize(src, args.Width, args.Height)
	img = rotate(img, args.Rotation)

	encoded, err := encode(img, args.Format, args.Quality)
	if err != nil {
		return domain.TransformResult{}, err
	}
	return e.writer.Write(args.OutputPath, args.Format, encoded)
}

func (e *Engine) resize(src image.Image, maxW, maxH int) image.Image {
	b := src.Bounds()
	w, h := engine.FitWithin(b.Dx(), b.Dy(), maxW, maxH)
	if w == b.Dx() && h == b.Dy() {
		return src
	}
	return imaging.Resize(src, w, h, e.filter)
}

// rotate turns img clockwise by degrees. imaging rotates counter-clockwise.
func rotate(img image.Image, degrees int) image.Image {
	switch engine.NormalizeRotation(degrees) {
	case 0:
		return img
	case 90:
		return imaging.Rotate270(img)
	case 180:
		return imaging.Rotate180(img)
	case 270:
		return imaging.Rotate90(img)
	default:
		return imaging.Rotate(img, -float64(degrees), color.Transparent)
	}
}

func encode(img image.Image, format domain.Format, quality int) ([]byte, error) {
	var buf bytes.Buffer

	switch format {
	case domain.FormatJPEG:
		if quality < 0 || quality > 100 {
			quality = defaultJPEGQuality
		}
		if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
	case domain.FormatPNG:
		if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
	case domain.FormatWEBP:
		return nil, ErrWebPEncodeUnsupported
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}

	return buf.Bytes(), nil
}
