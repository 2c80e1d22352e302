package retry

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ruslano69/datasync/pkg/core/syncerr"
)

func transient(msg string) error {
	return syncerr.New(syncerr.KindTransient, "test", "%s", msg)
}

func TestRetryer_Success(t *testing.T) {
	retryer, err := NewRetryer(EnableRetry(3, 10*time.Millisecond))
	if err != nil {
		t.Fatalf("Failed to create retryer: %v", err)
	}

	attempts := 0
	err = retryer.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return nil
	})
	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestRetryer_SuccessAfterTransientErrors(t *testing.T) {
	retryer, err := NewRetryer(EnableRetry(5, 10*time.Millisecond))
	if err != nil {
		t.Fatalf("Failed to create retryer: %v", err)
	}

	attempts := 0
	start := time.Now()
	err = retryer.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return transient("deadlock detected")
		}
		return nil
	})
	if err != nil {
		t.Errorf("Expected success, got error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
	// Проверяем что были задержки
	if time.Since(start) < 15*time.Millisecond {
		t.Errorf("Expected delays between retries")
	}
}

func TestRetryer_MaxAttemptsExceeded(t *testing.T) {
	retryer, err := NewRetryer(EnableRetry(3, time.Millisecond))
	if err != nil {
		t.Fatalf("Failed to create retryer: %v", err)
	}

	attempts := 0
	err = retryer.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return transient("lock timeout")
	})
	if err == nil {
		t.Fatal("Expected error after max attempts")
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) || exhausted.Attempts != 3 {
		t.Errorf("Expected ExhaustedError after 3 attempts, got %v", err)
	}
	// ошибка остается временной: эскалацию делает вызывающий
	if !syncerr.IsTransient(err) {
		t.Errorf("Expected wrapped transient error, got %v", err)
	}
	if esc := syncerr.Escalate("test", err); syncerr.KindOf(esc) != syncerr.KindDatabase {
		t.Errorf("Expected escalation to database error, got %s", syncerr.KindOf(esc))
	}
}

func TestRetryer_ClassifierSkipsPermanentErrors(t *testing.T) {
	retryer, err := NewRetryer(EnableRetry(3, time.Millisecond))
	if err != nil {
		t.Fatalf("Failed to create retryer: %v", err)
	}

	notFound := syncerr.NotFoundf("test", "table t not found")
	attempts := 0
	err = retryer.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return notFound
	})
	if attempts != 1 {
		t.Errorf("Expected 1 attempt for NotFound, got %d", attempts)
	}
	if !errors.Is(err, syncerr.ErrNotFound) {
		t.Errorf("Expected NotFound to pass through unchanged, got %v", err)
	}
}

func TestRetryer_ExponentialBackoff(t *testing.T) {
	config := EnableRetry(4, 100*time.Millisecond)
	config.BackoffStrategy = BackoffExponential
	config.BackoffMultiplier = 2.0
	config.Jitter = 0 // Отключаем jitter для предсказуемости

	retryer, err := NewRetryer(config)
	if err != nil {
		t.Fatalf("Failed to create retryer: %v", err)
	}

	if d := retryer.calculateDelay(1); d != 100*time.Millisecond {
		t.Errorf("Attempt 1 delay = %v, want 100ms", d)
	}
	if d := retryer.calculateDelay(2); d != 200*time.Millisecond {
		t.Errorf("Attempt 2 delay = %v, want 200ms", d)
	}
	if d := retryer.calculateDelay(10); d != config.MaxDelay {
		t.Errorf("Attempt 10 delay = %v, want capped %v", d, config.MaxDelay)
	}
}

func TestRetryer_ContextCancellation(t *testing.T) {
	retryer, err := NewRetryer(EnableRetry(10, 50*time.Millisecond))
	if err != nil {
		t.Fatalf("Failed to create retryer: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()

	attempts := 0
	err = retryer.Do(ctx, func(ctx context.Context) error {
		attempts++
		return transient("busy")
	})
	if err == nil {
		t.Fatal("Expected error on context cancellation")
	}
	if attempts >= 10 {
		t.Errorf("Expected cancellation before max attempts, got %d", attempts)
	}
}

func TestRetryer_OnRetryCallback(t *testing.T) {
	config := EnableRetry(3, time.Millisecond)
	var calls []int
	config.OnRetry = func(attempt int, err error, delay time.Duration) {
		calls = append(calls, attempt)
	}

	retryer, err := NewRetryer(config)
	if err != nil {
		t.Fatalf("Failed to create retryer: %v", err)
	}
	retryer.Do(context.Background(), func(ctx context.Context) error {
		return transient("busy")
	})

	if len(calls) != 2 || calls[0] != 1 || calls[1] != 2 {
		t.Errorf("Expected OnRetry calls [1 2], got %v", calls)
	}
}

func TestRetryer_WithDLQ(t *testing.T) {
	dlqFile := filepath.Join(t.TempDir(), "dlq.jsonl.zst")

	retryer, err := NewRetryer(EnableRetryWithDLQ(2, time.Millisecond, dlqFile))
	if err != nil {
		t.Fatalf("Failed to create retryer: %v", err)
	}
	defer retryer.Close()

	testData := map[string]string{"order_id": "12345"}
	err = retryer.DoWithData(context.Background(), func(ctx context.Context) error {
		return transient("persistent")
	}, testData)
	if err == nil {
		t.Error("Expected error")
	}

	dlq := retryer.GetDLQ()
	if dlq == nil {
		t.Fatal("DLQ should not be nil")
	}
	entries := dlq.Get()
	if len(entries) != 1 {
		t.Fatalf("Expected 1 DLQ entry, got %d", len(entries))
	}
	if entries[0].Kind != string(syncerr.KindTransient) {
		t.Errorf("Expected kind transient, got %q", entries[0].Kind)
	}
	if entries[0].FailureType != FailureMaxAttempts {
		t.Errorf("Expected failure type %s, got %s", FailureMaxAttempts, entries[0].FailureType)
	}
}

func TestRetryer_RetryableErrorPatterns(t *testing.T) {
	config := EnableRetry(3, time.Millisecond)
	config.IsRetryable = nil
	config.RetryableErrors = []string{"timeout", "connection refused"}

	retryer, err := NewRetryer(config)
	if err != nil {
		t.Fatalf("Failed to create retryer: %v", err)
	}

	attempts := 0
	retryer.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return errors.New("connection refused")
	})
	if attempts != 3 {
		t.Errorf("Expected 3 retries for retryable error, got %d", attempts)
	}

	attempts = 0
	retryer.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return errors.New("invalid input")
	})
	if attempts != 1 {
		t.Errorf("Expected 1 attempt for non-retryable error, got %d", attempts)
	}
}

func TestRetryer_Disabled(t *testing.T) {
	retryer, err := NewRetryer(DefaultConfig()) // disabled by default
	if err != nil {
		t.Fatalf("Failed to create retryer: %v", err)
	}

	attempts := 0
	err = retryer.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return transient("busy")
	})
	if err == nil {
		t.Error("Expected error when retry disabled")
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt when retry disabled, got %d", attempts)
	}
	if retryer.Attempts() != 1 {
		t.Errorf("Attempts() = %d, want 1", retryer.Attempts())
	}
}

func TestRetryer_JitterBounds(t *testing.T) {
	config := EnableRetry(3, 100*time.Millisecond)
	config.BackoffStrategy = BackoffConstant
	config.Jitter = 0.5

	retryer, err := NewRetryer(config)
	if err != nil {
		t.Fatalf("Failed to create retryer: %v", err)
	}

	tests := []struct {
		random float64
		want   time.Duration
	}{
		{0, 50 * time.Millisecond},
		{0.5, 100 * time.Millisecond},
		{1, 150 * time.Millisecond},
	}
	for _, tt := range tests {
		retryer.random = func() float64 { return tt.random }
		if d := retryer.calculateDelay(1); d != tt.want {
			t.Errorf("random=%v: delay = %v, want %v", tt.random, d, tt.want)
		}
	}
}

func TestRetryer_LinearBackoffSleeps(t *testing.T) {
	config := EnableRetry(4, 10*time.Millisecond)
	config.BackoffStrategy = BackoffLinear
	config.Jitter = 0

	retryer, err := NewRetryer(config)
	if err != nil {
		t.Fatalf("Failed to create retryer: %v", err)
	}
	var slept []time.Duration
	retryer.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	retryer.Do(context.Background(), func(ctx context.Context) error {
		return transient("busy")
	})

	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond}
	if len(slept) != len(want) {
		t.Fatalf("slept %v, want %v", slept, want)
	}
	for i := range want {
		if slept[i] != want[i] {
			t.Errorf("sleep[%d] = %v, want %v", i, slept[i], want[i])
		}
	}
}

func TestRetryer_InterruptedSleepKeepsCause(t *testing.T) {
	retryer, err := NewRetryer(EnableRetry(5, time.Millisecond))
	if err != nil {
		t.Fatalf("Failed to create retryer: %v", err)
	}
	retryer.sleep = func(ctx context.Context, d time.Duration) error {
		return context.Canceled
	}

	err = retryer.Do(context.Background(), func(ctx context.Context) error {
		return transient("busy")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if !syncerr.IsTransient(err) {
		t.Errorf("Expected last attempt error to be kept, got %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
	}{
		{"negative attempts", func(c *Config) { c.MaxAttempts = -1 }},
		{"negative delay", func(c *Config) { c.InitialDelay = -time.Second }},
		{"max below initial", func(c *Config) { c.MaxDelay = time.Millisecond }},
		{"unknown backoff", func(c *Config) { c.BackoffStrategy = "fibonacci" }},
		{"jitter above one", func(c *Config) { c.Jitter = 1.5 }},
		{"dlq without path", func(c *Config) { c.DLQ.Enabled = true; c.DLQ.FilePath = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := EnableRetry(3, time.Second)
			tt.modify(&cfg)
			err := cfg.Validate()
			if !errors.Is(err, syncerr.ErrConfiguration) {
				t.Errorf("Validate() = %v, want configuration error", err)
			}
		})
	}

	cfg := EnableRetry(3, time.Second)
	cfg.BackoffMultiplier = 0
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
	if cfg.BackoffMultiplier != 2 {
		t.Errorf("multiplier = %v, want default 2", cfg.BackoffMultiplier)
	}
}
