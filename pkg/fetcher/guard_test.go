package fetcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ruslano69/datasync/pkg/core/dataset"
	"github.com/ruslano69/datasync/pkg/core/syncerr"
	"github.com/ruslano69/datasync/pkg/resilience"
	"github.com/ruslano69/datasync/pkg/retry"
)

// flaky падает первые failures вызовов ошибкой err
type flaky struct {
	calls    int
	failures int
	err      error
}

func (f *flaky) Name() string         { return "flaky" }
func (f *flaky) Interfaces() []string { return []string{"prices"} }

func (f *flaky) Fetch(ctx context.Context, iface string, params map[string]any) (*Result, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	return &Result{Dataset: dataset.New(), Metadata: dataset.Metadata{}}, nil
}

func TestGuard_RetriesUpstreamErrors(t *testing.T) {
	inner := &flaky{failures: 2, err: syncerr.Fetcherf("test", "upstream 502")}
	g, err := NewGuard(inner, GuardConfig{Retry: retry.EnableRetry(3, time.Millisecond)}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewGuard() error = %v", err)
	}

	if _, err := g.Fetch(context.Background(), "prices", nil); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if inner.calls != 3 {
		t.Errorf("calls = %d, want 3", inner.calls)
	}
}

func TestGuard_ConfigurationErrorNotRetried(t *testing.T) {
	inner := &flaky{failures: 5, err: syncerr.Configf("test", "bad query")}
	g, err := NewGuard(inner, GuardConfig{Retry: retry.EnableRetry(3, time.Millisecond)}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewGuard() error = %v", err)
	}

	_, err = g.Fetch(context.Background(), "prices", nil)
	if !errors.Is(err, syncerr.ErrConfiguration) {
		t.Errorf("error = %v, want configuration error", err)
	}
	if inner.calls != 1 {
		t.Errorf("calls = %d, want 1", inner.calls)
	}
}

func TestGuard_CircuitOpens(t *testing.T) {
	inner := &flaky{failures: 10, err: syncerr.Fetcherf("test", "down")}
	cb := resilience.DefaultConfig("")
	cb.MaxFailures = 2
	g, err := NewGuard(inner, GuardConfig{CircuitBreaker: cb}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewGuard() error = %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := g.Fetch(ctx, "prices", nil); err == nil {
			t.Fatal("expected failure")
		}
	}
	_, err = g.Fetch(ctx, "prices", nil)
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("error = %v, want ErrCircuitOpen", err)
	}
	if !errors.Is(err, syncerr.ErrFetcher) {
		t.Errorf("error = %v, want fetcher kind", err)
	}
	if inner.calls != 2 {
		t.Errorf("calls = %d, want 2 (open circuit must not reach the source)", inner.calls)
	}
	if names := g.Breakers().Names(); len(names) != 1 || names[0] != "flaky/prices" {
		t.Errorf("breakers = %v", names)
	}
}

func TestGuard_RateLimit(t *testing.T) {
	inner := &flaky{}
	g, err := NewGuard(inner, GuardConfig{
		RateLimit: RateLimitConfig{Enabled: true, RequestsPerSecond: 20, Burst: 1},
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewGuard() error = %v", err)
	}

	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := g.Fetch(context.Background(), "prices", nil); err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}
	}
	// 3 вызова при 20 rps и burst 1 занимают не меньше ~100ms
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("elapsed = %v, rate limit not applied", elapsed)
	}

	_, err = NewGuard(inner, GuardConfig{RateLimit: RateLimitConfig{Enabled: true}}, zerolog.Nop())
	if !errors.Is(err, syncerr.ErrConfiguration) {
		t.Errorf("error = %v, want configuration error", err)
	}
}
