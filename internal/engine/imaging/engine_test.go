package imaging

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dunamismax/imageutils/internal/domain"
	"github.com/dunamismax/imageutils/internal/engine"
	"github.com/dunamismax/imageutils/internal/engine/output"
	"github.com/dunamismax/imageutils/internal/engine/source"
)

func newTestEngine(t *testing.T) (engine.Engine, string) {
	t.Helper()
	cacheDir := t.TempDir()
	return engine.FromCallback(New(source.NewLoader(time.Second, 0), output.NewWriter(cacheDir))), cacheDir
}

func TestCreateResizedImageFitsAndWritesJPEG(t *testing.T) {
	eng, cacheDir := newTestEngine(t)
	inputPath := filepath.Join(t.TempDir(), "input.png")
	if err := os.WriteFile(inputPath, buildTestPNG(t, 240, 120), 0o644); err != nil {
		t.Fatalf("write input image: %v", err)
	}

	res, err := eng.CreateResizedImage(context.Background(), engine.Args{
		SourcePath: inputPath,
		Width:      80,
		Height:     80,
		Format:     domain.FormatJPEG,
		Quality:    75,
	}).Await(context.Background())
	if err != nil {
		t.Fatalf("create resized image: %v", err)
	}

	if filepath.Dir(res.Path) != cacheDir {
		t.Fatalf("expected output in cache dir %s, got %s", cacheDir, res.Path)
	}
	if res.Size == nil || *res.Size <= 0 {
		t.Fatalf("expected positive size, got %v", res.Size)
	}
	verifyImageSize(t, res.Path, 80, 40)
}

func TestCreateResizedImageRotatesClockwise(t *testing.T) {
	eng, _ := newTestEngine(t)
	outDir := t.TempDir()
	uri := "data:image/png;base64," + base64.StdEncoding.EncodeToString(buildTestPNG(t, 200, 100))

	res, err := eng.CreateResizedImage(context.Background(), engine.Args{
		SourcePath: uri,
		Width:      100,
		Height:     100,
		Format:     domain.FormatPNG,
		Rotation:   90,
		OutputPath: outDir,
	}).Await(context.Background())
	if err != nil {
		t.Fatalf("create resized image: %v", err)
	}

	if filepath.Dir(res.Path) != outDir {
		t.Fatalf("expected output in %s, got %s", outDir, res.Path)
	}
	verifyImageSize(t, res.Path, 50, 100)
}

func TestCreateResizedImageFailures(t *testing.T) {
	eng, _ := newTestEngine(t)
	inputPath := filepath.Join(t.TempDir(), "input.png")
	if err := os.WriteFile(inputPath, buildTestPNG(t, 20, 20), 0o644); err != nil {
		t.Fatalf("write input image: %v", err)
	}

	_, err := eng.CreateResizedImage(context.Background(), engine.Args{
		SourcePath: inputPath, Width: 10, Height: 10, Format: domain.FormatWEBP,
	}).Await(context.Background())
	if !errors.Is(err, ErrWebPEncodeUnsupported) {
		t.Fatalf("expected ErrWebPEncodeUnsupported, got %v", err)
	}

	_, err = eng.CreateResizedImage(context.Background(), engine.Args{
		SourcePath: filepath.Join(t.TempDir(), "missing.png"), Width: 10, Height: 10, Format: domain.FormatPNG,
	}).Await(context.Background())
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected missing source error, got %v", err)
	}

	garbage := filepath.Join(t.TempDir(), "garbage.png")
	if err := os.WriteFile(garbage, []byte("not an image"), 0o644); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	_, err = eng.CreateResizedImage(context.Background(), engine.Args{
		SourcePath: garbage, Width: 10, Height: 10, Format: domain.FormatPNG,
	}).Await(context.Background())
	if err == nil {
		t.Fatal("expected decode error")
	}
}

func TestEncodeJPEGHonoursQualityZero(t *testing.T) {
	img, err := png.Decode(bytes.NewReader(buildTestPNG(t, 64, 64)))
	if err != nil {
		t.Fatalf("decode fixture: %v", err)
	}

	sizes := make(map[int]int)
	for _, q := range []int{0, 80, -5} {
		data, err := encode(img, domain.FormatJPEG, q)
		if err != nil {
			t.Fatalf("encode quality %d: %v", q, err)
		}
		sizes[q] = len(data)
	}

	if sizes[0] >= sizes[80] {
		t.Fatalf("quality 0 should produce a smaller file than quality 80, got %d vs %d bytes", sizes[0], sizes[80])
	}
	if sizes[-5] != sizes[80] {
		t.Fatalf("out of range quality should fall back to %d, got %d vs %d bytes", defaultJPEGQuality, sizes[-5], sizes[80])
	}
}

func buildTestPNG(t *testing.T, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x * 255) / w),
				G: uint8((y * 255) / h),
				B: 140,
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode source png: %v", err)
	}
	return buf.Bytes()
}

func verifyImageSize(t *testing.T, path string, wantW, wantH int) {
	t.Helper()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open image %s: %v", path, err)
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		t.Fatalf("decode image %s: %v", path, err)
	}
	if cfg.Width != wantW || cfg.Height != wantH {
		t.Fatalf("expected %dx%d, got %dx%d", wantW, wantH, cfg.Width, cfg.Height)
	}
}
