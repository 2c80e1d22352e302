package resilience

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestBreaker(t *testing.T, maxFailures uint32) (*CircuitBreaker, *fakeClock) {
	t.Helper()
	cfg := DefaultConfig("prices")
	cfg.MaxFailures = maxFailures
	cfg.Timeout = time.Minute
	cfg.SuccessThreshold = 1
	cb, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	clock := &fakeClock{t: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
	cb.sm.now = clock.now
	return cb, clock
}

func TestStateManager_OpenHalfOpenClosed(t *testing.T) {
	cb, clock := newTestBreaker(t, 2)
	ctx := context.Background()
	fail := func(context.Context) error { return errors.New("upstream down") }
	ok := func(context.Context) error { return nil }

	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, fail)
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}

	if err := cb.Execute(ctx, ok); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if got := cb.Stats().TimeUntilHalfOpen; got != time.Minute {
		t.Errorf("TimeUntilHalfOpen = %v, want 1m", got)
	}

	clock.t = clock.t.Add(time.Minute + time.Second)
	if err := cb.Execute(ctx, ok); err != nil {
		t.Fatalf("probe call: %v", err)
	}
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed after successful probe", cb.State())
	}

	stats := cb.Stats()
	if stats.StateChanges[StateOpen] != 1 || stats.StateChanges[StateHalfOpen] != 1 || stats.StateChanges[StateClosed] != 1 {
		t.Errorf("state changes = %v", stats.StateChanges)
	}
	if stats.Generation != 3 {
		t.Errorf("generation = %d, want 3", stats.Generation)
	}
}

func TestStateManager_FailedProbeReopens(t *testing.T) {
	cb, clock := newTestBreaker(t, 1)
	ctx := context.Background()

	_ = cb.Execute(ctx, func(context.Context) error { return errors.New("down") })
	clock.t = clock.t.Add(2 * time.Minute)
	_ = cb.Execute(ctx, func(context.Context) error { return errors.New("still down") })

	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}
	if got := cb.Stats().TimeUntilHalfOpen; got != time.Minute {
		t.Errorf("pause must restart from the failed probe, got %v", got)
	}
}

func TestStats_JSON(t *testing.T) {
	cb, _ := newTestBreaker(t, 1)
	_ = cb.Execute(context.Background(), func(context.Context) error { return errors.New("down") })

	data, err := json.Marshal(cb.Stats())
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded["state"] != "open" {
		t.Errorf("state = %v, want \"open\"", decoded["state"])
	}
	changes, _ := decoded["state_changes"].(map[string]any)
	if changes["open"] != float64(1) {
		t.Errorf("state_changes = %v", decoded["state_changes"])
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateClosed:   "closed",
		StateHalfOpen: "half-open",
		StateOpen:     "open",
		State(7):      "unknown(7)",
	}
	for s, want := range tests {
		if s.String() != want {
			t.Errorf("State(%d).String() = %q, want %q", s, s.String(), want)
		}
	}
}
