package domain

import (
	"fmt"
	"strings"
)

type Format string

const (
	FormatJPEG Format = "JPEG"
	FormatPNG  Format = "PNG"
	FormatWEBP Format = "WEBP"
)

// ParseFormat accepts the lenient spellings clients send ("jpg", "png", "Webp")
// and returns the canonical upper-case Format.
func ParseFormat(in string) (Format, error) {
	switch strings.ToUpper(strings.TrimSpace(in)) {
	case "JPEG", "JPG":
		return FormatJPEG, nil
	case "PNG":
		return FormatPNG, nil
	case "WEBP":
		return FormatWEBP, nil
	default:
		return "", fmt.Errorf("unknown format: %q", in)
	}
}

func (f Format) Extension() string {
	switch f {
	case FormatJPEG:
		return "jpg"
	case FormatWEBP:
		return "webp"
	default:
		return "png"
	}
}

func (f Format) ContentType() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatWEBP:
		return "image/webp"
	default:
		return "image/png"
	}
}

func (f Format) String() string {
	return string(f)
}
