package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	decoyErrors "github.com/bardlex/cryptodecoy/pkg/errors"
)

func fastConfig(attempts int) *Config {
	return &Config{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    10 * time.Millisecond,
		Multiplier:  2.0,
		Jitter:      false,
	}
}

func TestPresets(t *testing.T) {
	tests := []struct {
		name     string
		config   *Config
		attempts int
		base     time.Duration
	}{
		{"default", DefaultConfig(), 3, 100 * time.Millisecond},
		{"mirror", MirrorConfig(), 3, 50 * time.Millisecond},
		{"store", StoreConfig(), 4, 200 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.config.MaxAttempts != tt.attempts {
				t.Errorf("MaxAttempts = %d, want %d", tt.config.MaxAttempts, tt.attempts)
			}
			if tt.config.BaseDelay != tt.base {
				t.Errorf("BaseDelay = %v, want %v", tt.config.BaseDelay, tt.base)
			}
			if tt.config.MaxDelay < tt.config.BaseDelay {
				t.Error("MaxDelay must not be below BaseDelay")
			}
		})
	}
}

func TestDo_Success(t *testing.T) {
	callCount := 0
	err := Do(context.Background(), fastConfig(3), func() error {
		callCount++
		if callCount == 1 {
			return decoyErrors.New(decoyErrors.ErrorTypeNetwork, "test", "retryable error")
		}
		return nil
	})
	if err != nil {
		t.Errorf("Expected success, got error: %v", err)
	}
	if callCount != 2 {
		t.Errorf("Expected 2 calls, got %d", callCount)
	}
}

func TestDo_MaxAttemptsReached(t *testing.T) {
	callCount := 0
	err := Do(context.Background(), fastConfig(2), func() error {
		callCount++
		return decoyErrors.New(decoyErrors.ErrorTypeKafka, "publish", "broker down")
	})
	if err == nil {
		t.Fatal("Expected error after max attempts")
	}
	if callCount != 2 {
		t.Errorf("Expected 2 calls, got %d", callCount)
	}
	if !decoyErrors.IsType(err, decoyErrors.ErrorTypeInternal) {
		t.Error("Expected wrapped error to be internal type")
	}
	if decoyErrors.GetContext(err)["max_attempts"] != 2 {
		t.Error("Expected max_attempts in error context")
	}
}

func TestDo_NonRetryableError(t *testing.T) {
	callCount := 0
	err := Do(context.Background(), DefaultConfig(), func() error {
		callCount++
		return decoyErrors.New(decoyErrors.ErrorTypeWebhook, "post", "rejected")
	})
	if callCount != 1 {
		t.Errorf("Expected 1 call (no retry), got %d", callCount)
	}
	if !decoyErrors.IsType(err, decoyErrors.ErrorTypeWebhook) {
		t.Error("Expected original webhook error")
	}
}

func TestDo_RegularError(t *testing.T) {
	callCount := 0
	err := Do(context.Background(), DefaultConfig(), func() error {
		callCount++
		return errors.New("regular error")
	})
	if err == nil {
		t.Error("Expected error")
	}
	if callCount != 1 {
		t.Errorf("Expected 1 call, got %d", callCount)
	}
}

func TestDo_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	config := &Config{
		MaxAttempts: 5,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    time.Second,
		Multiplier:  2.0,
	}

	callCount := 0
	err := Do(ctx, config, func() error {
		callCount++
		cancel()
		return decoyErrors.New(decoyErrors.ErrorTypeNetwork, "test", "network error")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("Expected 1 call, got %d", callCount)
	}
}

func TestDoWithResult(t *testing.T) {
	callCount := 0
	result, err := DoWithResult(context.Background(), fastConfig(3), func() (string, error) {
		callCount++
		if callCount < 3 {
			return "", decoyErrors.New(decoyErrors.ErrorTypeStorage, "ping", "not ready")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Expected success, got error: %v", err)
	}
	if result != "ok" {
		t.Errorf("Expected result 'ok', got %q", result)
	}

	n, err := DoWithResult(context.Background(), fastConfig(2), func() (int, error) {
		return 7, decoyErrors.New(decoyErrors.ErrorTypeStorage, "ping", "not ready")
	})
	if err == nil || n != 0 {
		t.Errorf("Expected zero value and error, got %d, %v", n, err)
	}
}

func TestDo_NilConfig(t *testing.T) {
	callCount := 0
	err := Do(context.Background(), nil, func() error {
		callCount++
		if callCount == 1 {
			return decoyErrors.New(decoyErrors.ErrorTypeNetwork, "test", "retryable error")
		}
		return nil
	})
	if err != nil {
		t.Errorf("Expected success with default config, got error: %v", err)
	}
}

func TestConfig_calculateDelay(t *testing.T) {
	config := &Config{
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   time.Second,
		Multiplier: 2.0,
	}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, time.Second},
		{5, time.Second},
	}

	for _, tt := range tests {
		if delay := config.calculateDelay(tt.attempt); delay != tt.expected {
			t.Errorf("attempt %d: expected delay %v, got %v", tt.attempt, tt.expected, delay)
		}
	}

	config.Jitter = true
	if d := config.calculateDelay(0); d < 100*time.Millisecond || d > 110*time.Millisecond {
		t.Errorf("jittered delay out of range: %v", d)
	}
}

func TestSleep(t *testing.T) {
	if err := Sleep(context.Background(), 0); err != nil {
		t.Errorf("zero sleep error = %v", err)
	}
	if err := Sleep(context.Background(), time.Millisecond); err != nil {
		t.Errorf("short sleep error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if err := Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("cancelled sleep did not return promptly")
	}
}
