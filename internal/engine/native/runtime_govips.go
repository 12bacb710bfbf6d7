//go:build govips && cgo

package native

import (
	"slices"
	"sync"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/dunamismax/imageutils/internal/domain"
	"github.com/dunamismax/imageutils/internal/engine"
	vipsengine "github.com/dunamismax/imageutils/internal/engine/vips"
)

const Name = "vips"

var (
	startupOnce sync.Once
	shutdownMu  sync.Mutex
	started     bool
)

func Startup() error {
	startupOnce.Do(func() {
		vips.LoggingSettings(nil, vips.LogLevelWarning)
		vips.Startup(&vips.Config{
			MaxCacheFiles: 0,
			MaxCacheMem:   128 * 1024 * 1024,
			MaxCacheSize:  100,
		})

		shutdownMu.Lock()
		started = true
		shutdownMu.Unlock()
	})
	return nil
}

func Shutdown() {
	shutdownMu.Lock()
	defer shutdownMu.Unlock()
	if !started {
		return
	}
	vips.Shutdown()
	started = false
}

func New(cfg Config) (engine.Engine, error) {
	return vipsengine.New(cfg.loader(), cfg.writer()), nil
}

func Formats() []domain.Format {
	return slices.Clone(vipsengine.Formats)
}
