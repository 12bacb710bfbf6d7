// Package source reads the bytes of a source image from a local path, a file:// URI,
// a base64 data: URI or an http(s) URL.
package source

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

var (
	ErrUnsupportedScheme  = errors.New("unsupported source scheme")
	ErrUnsupportedDataURI = errors.New("unsupported data URI")
	ErrSourceTooLarge     = errors.New("source image too large")
	ErrCrossHostRedirect  = errors.New("source redirected to another host")
)

const defaultMaxBytes = 64 << 20

type Loader struct {
	client   *http.Client
	maxBytes int64
}

func NewLoader(timeout time.Duration, maxBytes int64) *Loader {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	return &Loader{
		client:   &http.Client{Timeout: timeout, CheckRedirect: sameHostRedirect},
		maxBytes: maxBytes,
	}
}

// sameHostRedirect keeps downloads on the host the caller named, so a host allow list
// cannot be bypassed with a redirect.
func sameHostRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= 10 {
		return errors.New("stopped after 10 redirects")
	}
	if !strings.EqualFold(req.URL.Host, via[0].URL.Host) {
		return fmt.Errorf("%w: %s", ErrCrossHostRedirect, req.URL.Host)
	}
	return nil
}

func (l *Loader) Load(ctx context.Context, path string) ([]byte, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("source path is empty")
	}

	if strings.HasPrefix(path, "data:") {
		return decodeDataURI(path)
	}

	u, err := url.Parse(path)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// bare paths, including windows drive letters
		return l.readFile(path)
	}

	switch strings.ToLower(u.Scheme) {
	case "file":
		return l.readFile(u.Path)
	case "http", "https":
		return l.download(ctx, u.String())
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, u.Scheme)
	}
}

func (l *Loader) readFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("unable to load image: %w", err)
	}
	defer f.Close()
	return l.readLimited(f)
}

func (l *Loader) download(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("unable to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unable to download image: unexpected status %d", resp.StatusCode)
	}
	return l.readLimited(resp.Body)
}

func (l *Loader) readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, l.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read source image: %w", err)
	}
	if int64(len(data)) > l.maxBytes {
		return nil, ErrSourceTooLarge
	}
	return data, nil
}

// decodeDataURI accepts data:image/jpeg;base64,... and data:image/png;base64,...
func decodeDataURI(uri string) ([]byte, error) {
	meta, payload, ok := strings.Cut(strings.TrimPrefix(uri, "data:"), ",")
	if !ok {
		return nil, fmt.Errorf("%w: missing comma", ErrUnsupportedDataURI)
	}

	mediaType := strings.ToLower(strings.ReplaceAll(meta, `\`, "/"))
	if !strings.HasPrefix(mediaType, "image/jpeg") && !strings.HasPrefix(mediaType, "image/png") {
		return nil, fmt.Errorf("%w: media type %q", ErrUnsupportedDataURI, meta)
	}
	if !strings.HasSuffix(mediaType, ";base64") {
		return nil, fmt.Errorf("%w: payload is not base64", ErrUnsupportedDataURI)
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode data URI: %w", err)
	}
	return data, nil
}
