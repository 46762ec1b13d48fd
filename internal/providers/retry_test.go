package providers

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestHTTPErrorRetryable(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{429, true},
		{500, true},
		{502, true},
		{503, true},
		{504, true},
		{400, false},
		{401, false},
		{404, false},
	}
	for _, tt := range tests {
		err := &HTTPError{Status: tt.status}
		if got := err.Retryable(); got != tt.want {
			t.Errorf("status %d: Retryable() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestParseRetryAfter(t *testing.T) {
	if d := ParseRetryAfter("5"); d != 5*time.Second {
		t.Errorf("ParseRetryAfter(5) = %v", d)
	}
	if d := ParseRetryAfter(""); d != 0 {
		t.Errorf("ParseRetryAfter(empty) = %v", d)
	}
	if d := ParseRetryAfter("garbage"); d != 0 {
		t.Errorf("ParseRetryAfter(garbage) = %v", d)
	}
}

func TestRetryDoSucceedsAfterRetryableFailures(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	calls := 0
	got, err := RetryDo(context.Background(), cfg, func() (string, error) {
		calls++
		if calls < 3 {
			return "", &HTTPError{Status: 503}
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("RetryDo: %v", err)
	}
	if got != "ok" || calls != 3 {
		t.Fatalf("got %q after %d calls", got, calls)
	}
}

func TestRetryDoStopsOnNonRetryable(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	calls := 0
	_, err := RetryDo(context.Background(), cfg, func() (string, error) {
		calls++
		return "", &HTTPError{Status: 401}
	})
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.Status != 401 {
		t.Fatalf("err = %v, want 401", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (no retry on 401)", calls)
	}
}

func TestRetryDoExhaustsBudget(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	calls := 0
	_, err := RetryDo(context.Background(), cfg, func() (int, error) {
		calls++
		return 0, &HTTPError{Status: 500}
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls != 3 { // initial attempt + 2 retries
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestRetryDoHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := RetryConfig{MaxRetries: 5, BaseDelay: time.Hour, MaxDelay: time.Hour}
	calls := 0
	_, err := RetryDo(ctx, cfg, func() (int, error) {
		calls++
		return 0, &HTTPError{Status: 500}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestUsageNormalize(t *testing.T) {
	u := Usage{PromptTokens: 10, CompletionTokens: 5}
	u.Normalize()
	if u.TotalTokens != 15 {
		t.Fatalf("TotalTokens = %d, want 15", u.TotalTokens)
	}

	u = Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 99}
	u.Normalize()
	if u.TotalTokens != 99 {
		t.Fatalf("Normalize must not overwrite an explicit total, got %d", u.TotalTokens)
	}
}
