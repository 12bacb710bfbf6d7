//go:build !govips || !cgo

package native

import (
	"slices"

	"github.com/dunamismax/imageutils/internal/domain"
	"github.com/dunamismax/imageutils/internal/engine"
	"github.com/dunamismax/imageutils/internal/engine/imaging"
)

const Name = "imaging"

func Startup() error {
	return nil
}

func Shutdown() {}

func New(cfg Config) (engine.Engine, error) {
	return engine.FromCallback(imaging.New(cfg.loader(), cfg.writer())), nil
}

func Formats() []domain.Format {
	return slices.Clone(imaging.Formats)
}
