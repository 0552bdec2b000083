package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func quietLogger() *log.Entry {
	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	return log.NewEntry(logger)
}

func TestDefaultRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()
	if cfg.MaxAttempts != 3 {
		t.Fatalf("unexpected MaxAttempts: %d", cfg.MaxAttempts)
	}
	if cfg.InitialDelay <= 0 || cfg.MaxDelay <= 0 {
		t.Fatalf("delays must be positive: %+v", cfg)
	}
	if cfg.BackoffFactor <= 1 {
		t.Fatalf("backoff factor should be > 1: %f", cfg.BackoffFactor)
	}
}

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "unavailable", err: status.Error(codes.Unavailable, "x"), want: true},
		{name: "deadline", err: status.Error(codes.DeadlineExceeded, "x"), want: true},
		{name: "exhausted", err: status.Error(codes.ResourceExhausted, "x"), want: true},
		{name: "invalid argument", err: status.Error(codes.InvalidArgument, "x"), want: false},
		{name: "canceled", err: context.Canceled, want: false},
		{name: "context deadline", err: context.DeadlineExceeded, want: true},
		{name: "plain error", err: errors.New("x"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := shouldRetry(tt.err); got != tt.want {
				t.Fatalf("shouldRetry(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestExecuteWithRetry(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 2}
	transient := status.Error(codes.Unavailable, "down")

	t.Run("retry then success", func(t *testing.T) {
		attempts := 0
		err := executeWithRetry(context.Background(), cfg, quietLogger(), "op", func(context.Context) error {
			attempts++
			if attempts < 3 {
				return transient
			}
			return nil
		})
		if err != nil || attempts != 3 {
			t.Fatalf("expected success after 3 attempts, got %d (%v)", attempts, err)
		}
	})

	t.Run("exhausted retries", func(t *testing.T) {
		attempts := 0
		err := executeWithRetry(context.Background(), cfg, quietLogger(), "op", func(context.Context) error {
			attempts++
			return transient
		})
		if !errors.Is(err, transient) || attempts != cfg.MaxAttempts {
			t.Fatalf("expected %d attempts with last error, got %d (%v)", cfg.MaxAttempts, attempts, err)
		}
	})

	t.Run("cancelled while waiting", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		slow := RetryConfig{MaxAttempts: 3, InitialDelay: time.Hour, MaxDelay: time.Hour, BackoffFactor: 1}
		attempts := 0
		err := executeWithRetry(ctx, slow, quietLogger(), "op", func(context.Context) error {
			attempts++
			cancel()
			return transient
		})
		if !errors.Is(err, context.Canceled) || attempts != 1 {
			t.Fatalf("expected cancellation after one attempt, got %d (%v)", attempts, err)
		}
	})

	t.Run("zero attempts treated as one", func(t *testing.T) {
		attempts := 0
		_ = executeWithRetry(context.Background(), RetryConfig{}, quietLogger(), "op", func(context.Context) error {
			attempts++
			return transient
		})
		if attempts != 1 {
			t.Fatalf("expected single attempt, got %d", attempts)
		}
	})
}

func TestCircuitBreakerLifecycle(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(2, time.Minute, quietLogger())
	cb.now = func() time.Time { return now }

	failing := func() error { return errors.New("boom") }

	_ = cb.Execute("op", failing)
	if cb.State() != CircuitClosed {
		t.Fatalf("expected closed after one failure, got %s", cb.State())
	}
	_ = cb.Execute("op", failing)
	if cb.State() != CircuitOpen {
		t.Fatalf("expected open after two failures, got %s", cb.State())
	}

	called := false
	if err := cb.Execute("op", func() error { called = true; return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Fatal("open circuit must not run the operation")
	}

	now = now.Add(2 * time.Minute)
	if cb.State() != CircuitHalfOpen {
		t.Fatalf("expected half-open after reset timeout, got %s", cb.State())
	}
	if err := cb.Execute("op", func() error { return nil }); err != nil {
		t.Fatalf("expected probe to pass, got %v", err)
	}
	if cb.State() != CircuitClosed {
		t.Fatalf("expected closed after successful probe, got %s", cb.State())
	}
}

func TestCircuitBreakerIgnoresCancellation(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Minute, quietLogger())
	_ = cb.Execute("op", func() error { return context.Canceled })
	if cb.State() != CircuitClosed {
		t.Fatalf("cancellation must not open the circuit, got %s", cb.State())
	}
}

func TestCircuitBreakerIgnoresApplicationErrors(t *testing.T) {
	cb := NewCircuitBreaker(2, time.Minute, quietLogger())

	for _, code := range []codes.Code{codes.InvalidArgument, codes.NotFound, codes.FailedPrecondition, codes.InvalidArgument} {
		_ = cb.Execute("op", func() error { return status.Error(code, "rejected") })
	}
	if cb.State() != CircuitClosed {
		t.Fatalf("application errors must not open the circuit, got %s", cb.State())
	}

	_ = cb.Execute("op", func() error { return status.Error(codes.Unavailable, "down") })
	_ = cb.Execute("op", func() error { return status.Error(codes.InvalidArgument, "rejected") })
	_ = cb.Execute("op", func() error { return status.Error(codes.Unavailable, "down") })
	if cb.State() != CircuitClosed {
		t.Fatalf("a healthy answer must reset consecutive failures, got %s", cb.State())
	}
}

func TestCountsAsFailure(t *testing.T) {
	cases := map[string]struct {
		err  error
		want bool
	}{
		"nil":              {err: nil, want: false},
		"canceled":         {err: context.Canceled, want: false},
		"deadline":         {err: context.DeadlineExceeded, want: true},
		"unavailable":      {err: status.Error(codes.Unavailable, "down"), want: true},
		"internal":         {err: status.Error(codes.Internal, "panic"), want: true},
		"transport":        {err: errors.New("connection refused"), want: true},
		"invalid argument": {err: status.Error(codes.InvalidArgument, "bad id"), want: false},
		"not found":        {err: status.Error(codes.NotFound, "missing"), want: false},
		"unimplemented":    {err: status.Error(codes.Unimplemented, "old catalog"), want: false},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if got := countsAsFailure(tc.err); got != tc.want {
				t.Fatalf("countsAsFailure(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}
