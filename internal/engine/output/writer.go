package output

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dunamismax/imageutils/internal/domain"
	"github.com/google/uuid"
)

var ErrFileExists = errors.New("the file already exists")

type Writer struct {
	CacheDir string
	now      func() time.Time
	create   func(path string) (io.WriteCloser, error)
}

func NewWriter(cacheDir string) *Writer {
	if strings.TrimSpace(cacheDir) == "" {
		cacheDir = os.TempDir()
	}
	return &Writer{CacheDir: cacheDir, now: time.Now, create: createExclusive}
}

func createExclusive(path string) (io.WriteCloser, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
}

// Write stores data in outputDir (or the cache dir when empty) under a fresh
// <unix-millis>-<suffix>.<ext> name and describes the file it created.
func (w *Writer) Write(outputDir string, format domain.Format, data []byte) (domain.TransformResult, error) {
	dir := strings.TrimSpace(outputDir)
	if dir == "" {
		dir = w.CacheDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return domain.TransformResult{}, fmt.Errorf("create output dir: %w", err)
	}

	name := fmt.Sprintf("%d-%s.%s", w.now().UnixMilli(), uuid.NewString()[:8], format.Extension())
	path, err := filepath.Abs(filepath.Join(dir, name))
	if err != nil {
		return domain.TransformResult{}, fmt.Errorf("resolve output path: %w", err)
	}

	f, err := w.create(path)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return domain.TransformResult{}, fmt.Errorf("%w: %s", ErrFileExists, path)
		}
		return domain.TransformResult{}, fmt.Errorf("create output file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return domain.TransformResult{}, fmt.Errorf("write output file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return domain.TransformResult{}, fmt.Errorf("close output file: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return domain.TransformResult{}, fmt.Errorf("error getting resized image path: %w", err)
	}
	if !info.Mode().IsRegular() {
		return domain.TransformResult{}, errors.New("error getting resized image path")
	}

	return domain.TransformResult{
		Path: path,
		URI:  FileURI(path),
		Size: domain.Int64(info.Size()),
		Name: filepath.Base(path),
	}, nil
}

func FileURI(path string) string {
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String()
}
