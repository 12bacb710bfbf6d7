package platform

import (
	"errors"
	"strings"
	"testing"

	"github.com/dunamismax/imageutils/internal/domain"
)

func TestDetect(t *testing.T) {
	cases := map[string]Platform{
		"ios":     IOS,
		"android": Android,
		"linux":   Other,
		"darwin":  Other,
	}
	for goos, want := range cases {
		if got := Detect(goos); got != want {
			t.Fatalf("Detect(%q) = %s, want %s", goos, got, want)
		}
	}
}

func TestCheckRejectsWebPOnIOS(t *testing.T) {
	err := Check(IOS, domain.FormatWEBP)
	if err == nil {
		t.Fatal("expected unsupported format error")
	}
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}

	msg := err.Error()
	if !strings.Contains(msg, "JPEG") || !strings.Contains(msg, "PNG") {
		t.Fatalf("expected message to list JPEG and PNG, got %q", msg)
	}
	if strings.Contains(msg, "WEBP") {
		t.Fatalf("expected message to list only supported formats, got %q", msg)
	}

	var typed *UnsupportedFormatError
	if !errors.As(err, &typed) {
		t.Fatalf("expected *UnsupportedFormatError, got %T", err)
	}
	if typed.Requested != domain.FormatWEBP {
		t.Fatalf("expected requested=WEBP, got %s", typed.Requested)
	}
}

func TestCheckAcceptsSupportedFormats(t *testing.T) {
	for _, f := range []domain.Format{domain.FormatJPEG, domain.FormatPNG, domain.FormatWEBP} {
		if err := Check(Android, f); err != nil {
			t.Fatalf("expected %s to be supported on android, got %v", f, err)
		}
	}
	if err := Check(IOS, domain.Format("jpeg")); err == nil {
		t.Fatal("expected exact-match check to reject lower-case format")
	}
}

func TestFormatsReturnsCopy(t *testing.T) {
	formats := Formats(IOS)
	formats[0] = domain.FormatWEBP
	if Supports(IOS, domain.FormatWEBP) {
		t.Fatal("mutating the returned slice must not change the capability table")
	}
}

func TestParse(t *testing.T) {
	p, err := Parse(" IOS ")
	if err != nil || p != IOS {
		t.Fatalf("expected ios, got %s err=%v", p, err)
	}
	if p, err := Parse(""); err != nil || p != Current() {
		t.Fatalf("expected empty to select current platform, got %s err=%v", p, err)
	}
	if _, err := Parse("windows-phone"); err == nil {
		t.Fatal("expected error for unknown platform")
	}
}
