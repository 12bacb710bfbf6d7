package api

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"slices"
	"strings"

	"github.com/dunamismax/imageutils/internal/domain"
)

var (
	ErrSourceNotAllowed = errors.New("source not allowed")
	ErrOutputNotAllowed = errors.New("output_path not allowed")
)

// AccessPolicy bounds what an API client can make the server read and write. The zero value
// only admits data: sources and the default output location.
type AccessPolicy struct {
	// SourceRoots are the directories local and file:// sources must resolve under.
	SourceRoots []string
	// RemoteHosts are the hosts http(s) sources may name.
	RemoteHosts []string
	// OutputRoot confines output_path. Empty rejects any explicit output_path.
	OutputRoot string
}

func (p AccessPolicy) Check(req domain.TransformRequest) error {
	if err := p.checkSource(req.SourcePath); err != nil {
		return err
	}
	return p.checkOutput(req.OutputPath)
}

func (p AccessPolicy) checkSource(raw string) error {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "data:") {
		return nil
	}

	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		return p.checkLocal(raw)
	}

	switch strings.ToLower(u.Scheme) {
	case "file":
		return p.checkLocal(u.Path)
	case "http", "https":
		host := strings.ToLower(u.Hostname())
		if host != "" && slices.ContainsFunc(p.RemoteHosts, func(h string) bool {
			return strings.EqualFold(strings.TrimSpace(h), host)
		}) {
			return nil
		}
		return fmt.Errorf("%w: host %q is not in the allowed remote hosts", ErrSourceNotAllowed, u.Host)
	default:
		return fmt.Errorf("%w: scheme %q", ErrSourceNotAllowed, u.Scheme)
	}
}

func (p AccessPolicy) checkLocal(path string) error {
	resolved, err := resolve(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSourceNotAllowed, err)
	}
	for _, root := range p.SourceRoots {
		rootPath, err := resolve(root)
		if err == nil && within(rootPath, resolved) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s is outside the allowed source roots", ErrSourceNotAllowed, path)
}

func (p AccessPolicy) checkOutput(dir string) error {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil
	}
	if p.OutputRoot == "" {
		return fmt.Errorf("%w: explicit output paths are disabled", ErrOutputNotAllowed)
	}

	resolved, err := resolve(dir)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOutputNotAllowed, err)
	}
	root, err := resolve(p.OutputRoot)
	if err != nil || !within(root, resolved) {
		return fmt.Errorf("%w: %s is outside %s", ErrOutputNotAllowed, dir, p.OutputRoot)
	}
	return nil
}

// resolve returns the absolute, cleaned path with symlinks followed as far as the path exists.
func resolve(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	existing, rest := abs, ""
	for {
		if real, err := filepath.EvalSymlinks(existing); err == nil {
			return filepath.Join(real, rest), nil
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			return abs, nil
		}
		rest = filepath.Join(filepath.Base(existing), rest)
		existing = parent
	}
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}
