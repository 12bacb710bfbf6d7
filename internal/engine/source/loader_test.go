package source

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadLocalPathAndFileURI(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.png")
	if err := os.WriteFile(path, []byte("pixels"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	loader := NewLoader(time.Second, 0)
	for _, src := range []string{path, "file://" + filepath.ToSlash(path)} {
		data, err := loader.Load(context.Background(), src)
		if err != nil {
			t.Fatalf("load %s: %v", src, err)
		}
		if string(data) != "pixels" {
			t.Fatalf("unexpected bytes from %s: %q", src, data)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := NewLoader(time.Second, 0).Load(context.Background(), filepath.Join(t.TempDir(), "nope.png"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestLoadDataURI(t *testing.T) {
	uri := "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("png-bytes"))
	data, err := NewLoader(time.Second, 0).Load(context.Background(), uri)
	if err != nil {
		t.Fatalf("load data uri: %v", err)
	}
	if string(data) != "png-bytes" {
		t.Fatalf("unexpected bytes %q", data)
	}

	_, err = NewLoader(time.Second, 0).Load(context.Background(), "data:image/gif;base64,R0lG")
	if !errors.Is(err, ErrUnsupportedDataURI) {
		t.Fatalf("expected ErrUnsupportedDataURI for gif, got %v", err)
	}
}

func TestLoadHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.png" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("remote"))
	}))
	defer srv.Close()

	loader := NewLoader(time.Second, 0)
	data, err := loader.Load(context.Background(), srv.URL+"/a.png")
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if string(data) != "remote" {
		t.Fatalf("unexpected bytes %q", data)
	}

	if _, err := loader.Load(context.Background(), srv.URL+"/missing.png"); err == nil {
		t.Fatal("expected error for 404")
	}
}

func TestLoadRefusesCrossHostRedirect(t *testing.T) {
	other := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("secret"))
	}))
	defer other.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/moved" {
			http.Redirect(w, r, "/img.png", http.StatusFound)
			return
		}
		if r.URL.Path == "/img.png" {
			_, _ = w.Write([]byte("pixels"))
			return
		}
		http.Redirect(w, r, other.URL+"/meta", http.StatusFound)
	}))
	defer srv.Close()

	l := NewLoader(time.Second, 0)
	data, err := l.Load(context.Background(), srv.URL+"/moved")
	if err != nil || string(data) != "pixels" {
		t.Fatalf("same-host redirect: %q, %v", data, err)
	}
	if _, err := l.Load(context.Background(), srv.URL+"/escape"); !errors.Is(err, ErrCrossHostRedirect) {
		t.Fatalf("expected ErrCrossHostRedirect, got %v", err)
	}
}

func TestLoadRejectsOversizedAndUnknownSchemes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.bin")
	if err := os.WriteFile(path, make([]byte, 32), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if _, err := NewLoader(time.Second, 16).Load(context.Background(), path); !errors.Is(err, ErrSourceTooLarge) {
		t.Fatalf("expected ErrSourceTooLarge, got %v", err)
	}

	if _, err := NewLoader(time.Second, 0).Load(context.Background(), "content://media/1"); !errors.Is(err, ErrUnsupportedScheme) {
		t.Fatalf("expected ErrUnsupportedScheme, got %v", err)
	}
}
