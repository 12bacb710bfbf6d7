// Command imageutils resizes local or remote images from the command line and prints one
// JSON result per input.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"

	"github.com/dunamismax/imageutils/internal/config"
	"github.com/dunamismax/imageutils/internal/dispatch"
	"github.com/dunamismax/imageutils/internal/domain"
	"github.com/dunamismax/imageutils/internal/engine/native"
	"github.com/dunamismax/imageutils/internal/logging"
	"github.com/dunamismax/imageutils/internal/platform"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"
)

type options struct {
	configPath  string
	platform    string
	concurrency int
	sources     []string
	template    domain.TransformRequest
}

type line struct {
	Source string                  `json:"source"`
	Result *domain.TransformResult `json:"result,omitempty"`
	Error  string                  `json:"error,omitempty"`
}

func main() {
	opts, err := parseArgs(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := logging.New("imageutils", logging.Options{Level: cfg.Log.Level, JSON: cfg.Log.JSON, Output: os.Stderr})

	if opts.platform == "" {
		opts.platform = cfg.Platform
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	failed, err := run(ctx, cfg, opts, logger, os.Stdout)
	if err != nil {
		logger.Error("resize run failed", "error", err)
		os.Exit(1)
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func parseArgs(args []string, stderr io.Writer) (options, error) {
	fs := flag.NewFlagSet("imageutils", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		opts     options
		format   string
		rotation int
	)
	fs.StringVar(&opts.configPath, "config", "", "path to a YAML config file")
	fs.StringVar(&opts.platform, "platform", "", "capability row to validate against: ios, android or other")
	fs.IntVar(&opts.concurrency, "concurrency", runtime.NumCPU(), "images resized at once")
	fs.IntVar(&opts.template.Width, "width", 0, "maximum output width in pixels")
	fs.IntVar(&opts.template.Height, "height", 0, "maximum output height in pixels")
	fs.StringVar(&format, "format", "JPEG", "output format: JPEG, PNG or WEBP")
	fs.IntVar(&opts.template.Quality, "quality", 80, "encoder quality, 0-100")
	fs.IntVar(&rotation, "rotation", 0, "clockwise rotation in degrees")
	fs.StringVar(&opts.template.OutputPath, "out", "", "output directory; defaults to the engine cache dir")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "usage: imageutils -width W -height H [flags] SOURCE...")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	fs.Visit(func(f *flag.Flag) {
		if f.Name == "rotation" {
			opts.template.Rotation = domain.Int(rotation)
		}
	})

	parsed, err := domain.ParseFormat(format)
	if err != nil {
		return options{}, err
	}
	opts.template.Format = parsed

	opts.sources = fs.Args()
	if len(opts.sources) == 0 {
		return options{}, errors.New("at least one source is required")
	}
	opts.concurrency = max(opts.concurrency, 1)
	return opts, nil
}

// run resizes every source and writes one JSON line per source to out. It returns how many
// sources failed; err is reserved for setup failures.
func run(ctx context.Context, cfg config.Config, opts options, logger hclog.Logger, out io.Writer) (int, error) {
	p, err := platform.Parse(opts.platform)
	if err != nil {
		return 0, err
	}

	if err := native.Startup(); err != nil {
		return 0, err
	}
	defer native.Shutdown()

	eng, err := native.New(native.Config{
		CacheDir:       cfg.Engine.CacheDir,
		SourceTimeout:  cfg.Engine.SourceTimeout,
		MaxSourceBytes: cfg.Engine.MaxSourceBytes,
	})
	if err != nil {
		return 0, err
	}
	dispatcher := dispatch.New(p, eng, dispatch.WithEngineFormats(native.Formats()))
	logger.Debug("resizing", "sources", len(opts.sources), "platform", p, "engine", native.Name)

	var (
		mu     sync.Mutex
		failed int
		enc    = json.NewEncoder(out)
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.concurrency)
	for _, src := range opts.sources {
		g.Go(func() error {
			req := opts.template
			req.SourcePath = src

			entry := line{Source: src}
			if err := req.Validate(); err != nil {
				entry.Error = err.Error()
			} else if result, err := dispatcher.CreateResizedImage(gctx, req); err != nil {
				entry.Error = err.Error()
			} else {
				entry.Result = &result
			}

			mu.Lock()
			defer mu.Unlock()
			if entry.Error != "" {
				failed++
				logger.Warn("resize failed", "source", src, "error", entry.Error)
			}
			return enc.Encode(entry)
		})
	}
	if err := g.Wait(); err != nil {
		return failed, err
	}
	return failed, nil
}
