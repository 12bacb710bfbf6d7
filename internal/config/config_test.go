package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv(EnvConfig, "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.API.Addr != ":8080" {
		t.Fatalf("expected default api addr, got %q", cfg.API.Addr)
	}
	if cfg.Queue.Name != "default" {
		t.Fatalf("expected default queue, got %q", cfg.Queue.Name)
	}
	if cfg.Worker.MaxActiveJobs < 1 {
		t.Fatalf("expected at least one active job slot, got %d", cfg.Worker.MaxActiveJobs)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "imageutils.yaml")
	yaml := []byte(`
platform: ios
api:
  addr: ":9000"
  source_roots: ["/srv/images"]
  remote_hosts: ["cdn.example.com"]
queue:
  redis_addr: "redis:6379"
  task_timeout: 45s
events:
  brokers: ["kafka-1:9092"]
`)
	if err := os.WriteFile(path, yaml, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("IMAGEUTILS_API__ADDR", ":7000")
	t.Setenv("IMAGEUTILS_WORKER__MAX_ACTIVE_JOBS", "7")
	t.Setenv("IMAGEUTILS_RATE_LIMIT__ENABLED", "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Platform != "ios" {
		t.Fatalf("expected platform from file, got %q", cfg.Platform)
	}
	if cfg.API.Addr != ":7000" {
		t.Fatalf("expected env to override file, got %q", cfg.API.Addr)
	}
	if cfg.Queue.RedisAddr != "redis:6379" {
		t.Fatalf("expected redis addr from file, got %q", cfg.Queue.RedisAddr)
	}
	if cfg.Queue.TaskTimeout != 45*time.Second {
		t.Fatalf("expected task timeout 45s, got %s", cfg.Queue.TaskTimeout)
	}
	if cfg.Worker.MaxActiveJobs != 7 {
		t.Fatalf("expected max active jobs 7, got %d", cfg.Worker.MaxActiveJobs)
	}
	if !cfg.RateLimit.Enabled {
		t.Fatal("expected rate limit enabled from env")
	}
	if len(cfg.Events.Brokers) != 1 || cfg.Events.Brokers[0] != "kafka-1:9092" {
		t.Fatalf("unexpected brokers %v", cfg.Events.Brokers)
	}
	if len(cfg.API.SourceRoots) != 1 || cfg.API.SourceRoots[0] != "/srv/images" {
		t.Fatalf("unexpected source roots %v", cfg.API.SourceRoots)
	}
	if len(cfg.API.RemoteHosts) != 1 || cfg.API.RemoteHosts[0] != "cdn.example.com" {
		t.Fatalf("unexpected remote hosts %v", cfg.API.RemoteHosts)
	}
	if cfg.Webhook.MaxAttempts != 5 {
		t.Fatalf("expected untouched default to survive, got %d", cfg.Webhook.MaxAttempts)
	}
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err != nil {
		t.Fatalf("expected missing file to be ignored, got %v", err)
	}
}
