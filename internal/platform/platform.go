package platform

import (
	"errors"
	"fmt"
	"runtime"
	"slices"
	"strings"
	"sync"

	"github.com/dunamismax/imageutils/internal/domain"
)

type Platform string

const (
	IOS     Platform = "ios"
	Android Platform = "android"
	Other   Platform = "other"
)

// capabilities is the compiled-in table of output formats each platform's codecs can encode.
var capabilities = map[Platform][]domain.Format{
	IOS:     {domain.FormatJPEG, domain.FormatPNG},
	Android: {domain.FormatJPEG, domain.FormatPNG, domain.FormatWEBP},
	Other:   {domain.FormatJPEG, domain.FormatPNG, domain.FormatWEBP},
}

var ErrUnsupportedFormat = errors.New("unsupported format")

// UnsupportedFormatError is returned when a request names a format the platform cannot produce.
type UnsupportedFormatError struct {
	Platform  Platform
	Requested domain.Format
	Allowed   []domain.Format
}

func (e *UnsupportedFormatError) Error() string {
	names := make([]string, 0, len(e.Allowed))
	for _, f := range e.Allowed {
		names = append(names, string(f))
	}
	return fmt.Sprintf("only %s formats are supported on %s", strings.Join(names, ","), e.Platform)
}

func (e *UnsupportedFormatError) Is(target error) bool {
	return target == ErrUnsupportedFormat
}

var current = sync.OnceValue(func() Platform {
	return Detect(runtime.GOOS)
})

// Current is the platform of the running process, resolved once.
func Current() Platform {
	return current()
}

func Detect(goos string) Platform {
	switch goos {
	case "ios":
		return IOS
	case "android":
		return Android
	default:
		return Other
	}
}

// Parse maps a configured platform identifier to a Platform. Empty selects Current.
func Parse(in string) (Platform, error) {
	name := strings.ToLower(strings.TrimSpace(in))
	if name == "" {
		return Current(), nil
	}
	p := Platform(name)
	if _, ok := capabilities[p]; !ok {
		return "", fmt.Errorf("unknown platform: %q", in)
	}
	return p, nil
}

// Formats returns a copy of the formats p supports.
func Formats(p Platform) []domain.Format {
	formats, ok := capabilities[p]
	if !ok {
		formats = capabilities[Other]
	}
	return slices.Clone(formats)
}

func Supports(p Platform, f domain.Format) bool {
	return slices.Contains(Formats(p), f)
}

// Check returns an *UnsupportedFormatError when f is not in p's capability set.
func Check(p Platform, f domain.Format) error {
	if Supports(p, f) {
		return nil
	}
	return &UnsupportedFormatError{
		Platform:  p,
		Requested: f,
		Allowed:   Formats(p),
	}
}

func (p Platform) String() string {
	return string(p)
}
