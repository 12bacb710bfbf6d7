// Package native picks the engine the process forwards to: libvips when built with the
// govips tag and cgo, the pure Go imaging engine otherwise.
package native

import (
	"time"

	"github.com/dunamismax/imageutils/internal/engine/output"
	"github.com/dunamismax/imageutils/internal/engine/source"
)

type Config struct {
	CacheDir       string
	SourceTimeout  time.Duration
	MaxSourceBytes int64
}

func (c Config) loader() *source.Loader {
	return source.NewLoader(c.SourceTimeout, c.MaxSourceBytes)
}

func (c Config) writer() *output.Writer {
	return output.NewWriter(c.CacheDir)
}
