package dispatch

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dunamismax/imageutils/internal/domain"
	"github.com/dunamismax/imageutils/internal/engine"
	"github.com/dunamismax/imageutils/internal/platform"
)

// futureStub is an engine using the future-returning convention.
type futureStub struct {
	mu     sync.Mutex
	calls  []engine.Args
	ctxs   []context.Context
	result domain.TransformResult
	err    error
}

func (s *futureStub) CreateResizedImage(ctx context.Context, args engine.Args) *engine.Future {
	s.mu.Lock()
	s.calls = append(s.calls, args)
	s.ctxs = append(s.ctxs, ctx)
	s.mu.Unlock()

	if s.err != nil {
		return engine.Rejected(s.err)
	}
	return engine.Resolved(s.result)
}

func (s *futureStub) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// callbackStub is an engine using the two-callback convention.
type callbackStub struct {
	mu     sync.Mutex
	calls  []engine.Args
	result domain.TransformResult
	err    error
}

func (s *callbackStub) CreateResizedImage(_ context.Context, args engine.Args, onSuccess func(domain.TransformResult), onFailure func(error)) {
	s.mu.Lock()
	s.calls = append(s.calls, args)
	s.mu.Unlock()

	go func() {
		if s.err != nil {
			onFailure(s.err)
			return
		}
		onSuccess(s.result)
	}()
}

func (s *callbackStub) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func sampleResult() domain.TransformResult {
	return domain.TransformResult{
		Path: "/tmp/out.jpg",
		URI:  "file:///tmp/out.jpg",
		Size: domain.Int64(1024),
	}
}

func sampleRequest(format domain.Format) domain.TransformRequest {
	return domain.TransformRequest{
		SourcePath: "/tmp/in.png",
		Width:      640,
		Height:     480,
		Format:     format,
		Quality:    80,
	}
}

type counter interface {
	callCount() int
}

func bothConventions(t *testing.T, result domain.TransformResult, err error, p platform.Platform, run func(t *testing.T, d *Dispatcher, stub counter)) {
	t.Helper()

	t.Run("future", func(t *testing.T) {
		stub := &futureStub{result: result, err: err}
		run(t, New(p, stub), stub)
	})
	t.Run("callback", func(t *testing.T) {
		stub := &callbackStub{result: result, err: err}
		run(t, NewWithCallbacks(p, stub), stub)
	})
}

func TestUnsupportedFormatRejectedBeforeEngine(t *testing.T) {
	bothConventions(t, sampleResult(), nil, platform.IOS, func(t *testing.T, d *Dispatcher, stub counter) {
		f := d.Transform(context.Background(), sampleRequest(domain.FormatWEBP))

		select {
		case <-f.Done():
		default:
			t.Fatal("expected validation failure to be settled synchronously")
		}

		_, err := f.Await(context.Background())
		if !errors.Is(err, platform.ErrUnsupportedFormat) {
			t.Fatalf("expected unsupported format error, got %v", err)
		}
		if stub.callCount() != 0 {
			t.Fatalf("expected engine not to be invoked, got %d calls", stub.callCount())
		}

		msg := err.Error()
		if !strings.Contains(msg, "JPEG") || !strings.Contains(msg, "PNG") {
			t.Fatalf("expected message to enumerate JPEG and PNG, got %q", msg)
		}
		if strings.Contains(msg, "WEBP") {
			t.Fatalf("expected message to list only supported formats, got %q", msg)
		}
	})
}

func TestUnsupportedFormatIsNotSubstituted(t *testing.T) {
	stub := &futureStub{result: sampleResult()}
	d := New(platform.IOS, stub)

	res, err := d.CreateResizedImage(context.Background(), sampleRequest(domain.FormatWEBP))
	if err == nil {
		t.Fatalf("expected rejection, got result %+v", res)
	}
	if res != (domain.TransformResult{}) {
		t.Fatalf("expected empty result alongside rejection, got %+v", res)
	}
	if stub.callCount() != 0 {
		t.Fatal("expected no engine call for a rejected format")
	}
}

func TestRotationDefaultsToZero(t *testing.T) {
	stub := &futureStub{result: sampleResult()}
	d := New(platform.Android, stub)

	if _, err := d.CreateResizedImage(context.Background(), sampleRequest(domain.FormatJPEG)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := stub.calls[0].Rotation; got != 0 {
		t.Fatalf("expected forwarded rotation 0, got %d", got)
	}
}

func TestExplicitRotationForwardedUnmodified(t *testing.T) {
	for _, rotation := range []int{0, 90, -90, 45, 720} {
		stub := &futureStub{result: sampleResult()}
		d := New(platform.Android, stub)

		req := sampleRequest(domain.FormatPNG)
		req.Rotation = domain.Int(rotation)
		if _, err := d.CreateResizedImage(context.Background(), req); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := stub.calls[0].Rotation; got != rotation {
			t.Fatalf("expected forwarded rotation %d, got %d", rotation, got)
		}
	}
}

func TestAllFieldsForwardedPositionally(t *testing.T) {
	stub := &futureStub{result: sampleResult()}
	d := New(platform.Android, stub)

	req := domain.TransformRequest{
		SourcePath: "content://photos/1",
		Width:      10,
		Height:     20,
		Format:     domain.FormatWEBP,
		Quality:    55,
		Rotation:   domain.Int(180),
		OutputPath: "/tmp/outdir",
	}
	if _, err := d.CreateResizedImage(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := engine.Args{
		SourcePath: "content://photos/1",
		Width:      10,
		Height:     20,
		Format:     domain.FormatWEBP,
		Quality:    55,
		Rotation:   180,
		OutputPath: "/tmp/outdir",
	}
	if stub.calls[0] != want {
		t.Fatalf("forwarded %+v, want %+v", stub.calls[0], want)
	}
}

func TestResultPassesThroughUnmodified(t *testing.T) {
	want := sampleResult()
	bothConventions(t, want, nil, platform.Android, func(t *testing.T, d *Dispatcher, _ counter) {
		got, err := d.CreateResizedImage(context.Background(), sampleRequest(domain.FormatJPEG))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("got %+v, want %+v", got, want)
		}
		if got.Name != "" {
			t.Fatalf("expected absent name to stay absent, got %q", got.Name)
		}
	})
}

func TestEngineFailurePropagatedVerbatim(t *testing.T) {
	diskFull := errors.New("disk full")
	bothConventions(t, domain.TransformResult{}, diskFull, platform.Android, func(t *testing.T, d *Dispatcher, _ counter) {
		_, err := d.CreateResizedImage(context.Background(), sampleRequest(domain.FormatPNG))
		if err == nil {
			t.Fatal("expected engine error")
		}
		if err.Error() != "disk full" {
			t.Fatalf("expected message %q, got %q", "disk full", err.Error())
		}
		if err != diskFull {
			t.Fatal("expected the engine's error value, not a wrapper")
		}
	})
}

func TestIdenticalCallsResolveIndependently(t *testing.T) {
	bothConventions(t, sampleResult(), nil, platform.Android, func(t *testing.T, d *Dispatcher, stub counter) {
		req := sampleRequest(domain.FormatJPEG)
		first := d.Transform(context.Background(), req)
		second := d.Transform(context.Background(), req)
		if first == second {
			t.Fatal("expected distinct futures for identical requests")
		}

		a, errA := first.Await(context.Background())
		b, errB := second.Await(context.Background())
		if errA != nil || errB != nil {
			t.Fatalf("unexpected errors: %v, %v", errA, errB)
		}
		if !reflect.DeepEqual(a, b) {
			t.Fatalf("expected identical payloads, got %+v and %+v", a, b)
		}
		if stub.callCount() != 2 {
			t.Fatalf("expected two engine calls, got %d", stub.callCount())
		}
	})
}

func TestCallerCancellationDoesNotReachEngine(t *testing.T) {
	stub := &futureStub{result: sampleResult()}
	d := New(platform.Android, stub)

	ctx, cancel := context.WithCancel(context.Background())
	f := d.Transform(ctx, sampleRequest(domain.FormatJPEG))
	cancel()

	if err := stub.ctxs[0].Err(); err != nil {
		t.Fatalf("expected engine context to outlive the caller, got %v", err)
	}
	if _, err := f.Await(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAwaitGivesUpWithoutAbortingEngine(t *testing.T) {
	release := make(chan struct{})
	f := engine.NewFuture()
	d := New(platform.Android, engine.EngineFunc(func(_ context.Context, _ engine.Args) *engine.Future {
		go func() {
			<-release
			f.Resolve(sampleResult())
		}()
		return f
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := d.CreateResizedImage(ctx, sampleRequest(domain.FormatJPEG)); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	close(release)
	res, err := f.Await(context.Background())
	if err != nil || res.Path != "/tmp/out.jpg" {
		t.Fatalf("expected late completion, got %+v err=%v", res, err)
	}
}

func TestSupportedFormatsAndValidate(t *testing.T) {
	d := New(platform.IOS, &futureStub{})
	if got := d.SupportedFormats(); !reflect.DeepEqual(got, []domain.Format{domain.FormatJPEG, domain.FormatPNG}) {
		t.Fatalf("unexpected formats %v", got)
	}
	if err := d.Validate(sampleRequest(domain.FormatPNG)); err != nil {
		t.Fatalf("expected PNG to validate on ios, got %v", err)
	}
	if d.Platform() != platform.IOS {
		t.Fatalf("unexpected platform %s", d.Platform())
	}
}

func TestEngineFormatsNarrowCapabilities(t *testing.T) {
	stub := &futureStub{result: sampleResult()}
	d := New(platform.Other, stub, WithEngineFormats([]domain.Format{domain.FormatJPEG, domain.FormatPNG}))

	if got := d.SupportedFormats(); !reflect.DeepEqual(got, []domain.Format{domain.FormatJPEG, domain.FormatPNG}) {
		t.Fatalf("unexpected formats %v", got)
	}

	_, err := d.CreateResizedImage(context.Background(), sampleRequest(domain.FormatWEBP))
	if !errors.Is(err, platform.ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
	if err.Error() != "only JPEG,PNG formats are supported on other" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if stub.callCount() != 0 {
		t.Fatalf("engine should not be called, got %d calls", stub.callCount())
	}

	if got := platform.Formats(platform.Other); len(got) != 3 {
		t.Fatalf("capability table must stay untouched, got %v", got)
	}
}
