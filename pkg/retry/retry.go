package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/ruslano69/datasync/pkg/core/syncerr"
)

// RetryableFunc - одна попытка операции
type RetryableFunc func(ctx context.Context) error

// ExhaustedError - все попытки исчерпаны. Оборачивает последнюю ошибку,
// поэтому ее категория (syncerr.Kind) сохраняется.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Retryer повторяет операцию по политике из Config
type Retryer struct {
	config Config
	dlq    *DLQ

	// подменяются в тестах
	sleep  func(ctx context.Context, d time.Duration) error
	random func() float64
}

// NewRetryer проверяет конфигурацию и открывает DLQ, если она включена
func NewRetryer(config Config) (*Retryer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	r := &Retryer{
		config: config,
		sleep:  sleepContext,
		random: rand.Float64,
	}
	if config.DLQ.Enabled {
		dlq, err := NewDLQ(config.DLQ)
		if err != nil {
			return nil, fmt.Errorf("retry: open dlq: %w", err)
		}
		r.dlq = dlq
	}
	return r, nil
}

// Do выполняет fn, повторяя временные ошибки
func (r *Retryer) Do(ctx context.Context, fn RetryableFunc) error {
	return r.run(ctx, fn, nil)
}

// DoWithData как Do, но при исчерпании попыток кладет data в DLQ
func (r *Retryer) DoWithData(ctx context.Context, fn RetryableFunc, data any) error {
	return r.run(ctx, fn, data)
}

func (r *Retryer) run(ctx context.Context, fn RetryableFunc, data any) error {
	if !r.config.Enabled {
		return fn(ctx)
	}

	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		switch {
		case err == nil:
			return nil
		case !r.retryable(err):
			return err
		case r.config.MaxAttempts > 0 && attempt >= r.config.MaxAttempts:
			r.deadLetter(attempt, err, data)
			return &ExhaustedError{Attempts: attempt, Err: err}
		}

		delay := r.calculateDelay(attempt)
		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, delay)
		}
		if serr := r.sleep(ctx, delay); serr != nil {
			return errors.Join(serr, err)
		}
	}
}

func (r *Retryer) deadLetter(attempts int, err error, data any) {
	if r.dlq == nil {
		return
	}
	r.dlq.Add(DLQEntry{
		Timestamp:   time.Now(),
		Attempts:    attempts,
		LastError:   err.Error(),
		Kind:        string(syncerr.KindOf(err)),
		FailureType: FailureMaxAttempts,
		Data:        data,
	})
}

// calculateDelay - пауза перед попыткой attempt+1
func (r *Retryer) calculateDelay(attempt int) time.Duration {
	base := float64(r.config.InitialDelay)
	switch r.config.BackoffStrategy {
	case BackoffLinear:
		base *= float64(attempt)
	case BackoffExponential:
		base *= math.Pow(r.config.BackoffMultiplier, float64(attempt-1))
	}

	delay := time.Duration(min(base, float64(r.config.MaxDelay)))
	if r.config.Jitter == 0 {
		return delay
	}

	// равномерно в [delay*(1-jitter), delay*(1+jitter)]
	spread := float64(delay) * r.config.Jitter * (2*r.random() - 1)
	if jittered := delay + time.Duration(spread); jittered > 0 {
		return jittered
	}
	return r.config.InitialDelay
}

func (r *Retryer) retryable(err error) bool {
	if r.config.IsRetryable != nil {
		return r.config.IsRetryable(err)
	}
	if len(r.config.RetryableErrors) == 0 {
		return true
	}
	msg := err.Error()
	for _, pattern := range r.config.RetryableErrors {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// Attempts - максимальное число вызовов fn (1 при выключенном retry)
func (r *Retryer) Attempts() int {
	if !r.config.Enabled {
		return 1
	}
	return r.config.MaxAttempts
}

// GetDLQ возвращает DLQ или nil
func (r *Retryer) GetDLQ() *DLQ {
	return r.dlq
}

// Close сбрасывает DLQ на диск
func (r *Retryer) Close() error {
	if r.dlq == nil {
		return nil
	}
	return r.dlq.Save()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
