package ratelimit

import (
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestNewRedisTokenBucketValidates(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	defer client.Close()

	if _, err := NewRedisTokenBucket(nil, Config{Capacity: 1, Window: time.Second}); err == nil {
		t.Fatal("expected error for nil client")
	}
	if _, err := NewRedisTokenBucket(client, Config{Capacity: 0, Window: time.Second}); err == nil {
		t.Fatal("expected error for zero capacity")
	}
	if _, err := NewRedisTokenBucket(client, Config{Capacity: 1}); err == nil {
		t.Fatal("expected error for zero window")
	}

	bucket, err := NewRedisTokenBucket(client, Config{Capacity: 60, Window: time.Minute})
	if err != nil {
		t.Fatalf("new bucket: %v", err)
	}
	if got := bucket.Key(" user-1 "); got != "imageutils:ratelimit:user-1" {
		t.Fatalf("unexpected key %q", got)
	}
	if got := bucket.Key(""); got != "imageutils:ratelimit:anonymous" {
		t.Fatalf("unexpected anonymous key %q", got)
	}
	if got := bucket.Key("user-1:/v1/jobs"); got != "imageutils:ratelimit:user-1:/v1/jobs" {
		t.Fatalf("unexpected per-route key %q", got)
	}
	if bucket.refillPerMS != 0.001 {
		t.Fatalf("unexpected refill rate %v", bucket.refillPerMS)
	}
}

func TestParseDecision(t *testing.T) {
	d, err := parseDecision([]any{int64(0), "3", float64(1500)})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if d.Allowed || d.Remaining != 3 || d.RetryAfter != 1500*time.Millisecond {
		t.Fatalf("unexpected decision %+v", d)
	}

	if _, err := parseDecision([]any{int64(1)}); err == nil {
		t.Fatal("expected error for short response")
	}
	if _, err := parseDecision([]any{true, int64(1), int64(0)}); err == nil {
		t.Fatal("expected error for unsupported value type")
	}
}
