package llm

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status    int
		wantType  ErrorType
		retryable bool
	}{
		{400, ErrorTypeServer, false},
		{401, ErrorTypeAuth, false},
		{403, ErrorTypeAuth, false},
		{404, ErrorTypeModel, false},
		{418, ErrorTypeServer, false},
		{429, ErrorTypeRateLimit, true},
		{500, ErrorTypeServer, true},
		{502, ErrorTypeServer, true},
		{503, ErrorTypeServer, true},
		{504, ErrorTypeServer, true},
	}
	for _, tt := range tests {
		err := ClassifyStatus(tt.status, "")
		if err.Type != tt.wantType {
			t.Errorf("status %d: expected type %s, got %s", tt.status, tt.wantType, err.Type)
		}
		if err.Retryable != tt.retryable {
			t.Errorf("status %d: expected retryable=%v, got %v", tt.status, tt.retryable, err.Retryable)
		}
		if err.StatusCode != tt.status {
			t.Errorf("status %d: expected status code carried, got %d", tt.status, err.StatusCode)
		}
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		value string
		want  *time.Duration
	}{
		{"", nil},
		{"invalid", nil},
		{"-1000", nil},
		{"Infinity", nil},
		{"-Inf", nil},
		{"NaN", nil},
		{"0", durationPtr(0)},
		{"2", durationPtr(2 * time.Second)},
		{"1.5", durationPtr(1500 * time.Millisecond)},
		{" 30 ", durationPtr(30 * time.Second)},
		{"999999999", durationPtr(999999999 * time.Second)},
		// Seconds past what a time.Duration can hold must pin to the
		// maximum, never overflow into a negative duration.
		{"10000000000", durationPtr(time.Duration(math.MaxInt64))},
		{"1e18", durationPtr(time.Duration(math.MaxInt64))},
	}
	for _, tt := range tests {
		got := parseRetryAfter(tt.value)
		switch {
		case tt.want == nil && got != nil:
			t.Errorf("parseRetryAfter(%q): expected nil, got %v", tt.value, *got)
		case tt.want != nil && got == nil:
			t.Errorf("parseRetryAfter(%q): expected %v, got nil", tt.value, *tt.want)
		case tt.want != nil && got != nil && *got != *tt.want:
			t.Errorf("parseRetryAfter(%q): expected %v, got %v", tt.value, *tt.want, *got)
		}
		if got != nil && *got < 0 {
			t.Errorf("parseRetryAfter(%q): produced negative duration %v", tt.value, *got)
		}
	}
}

func TestRetryAfterAttachedToRateLimit(t *testing.T) {
	err := ClassifyStatus(429, "7")
	if err.RetryAfter == nil || *err.RetryAfter != 7*time.Second {
		t.Fatalf("expected retry-after of 7s, got %v", err.RetryAfter)
	}

	err = ClassifyStatus(429, "garbage")
	if err.RetryAfter != nil {
		t.Fatalf("expected garbage retry-after to be treated as absent, got %v", *err.RetryAfter)
	}
}

func TestParseErrorExcerptBounded(t *testing.T) {
	body := []byte(strings.Repeat("x", 10*maxBodyExcerpt))
	err := NewParseError("bad body", body, nil)
	if len(err.Message) > maxBodyExcerpt+64 {
		t.Errorf("expected bounded excerpt, message is %d bytes", len(err.Message))
	}
	if !strings.Contains(err.Message, "...") {
		t.Error("expected truncated excerpt to be marked")
	}
}

func TestErrorPredicates(t *testing.T) {
	if !IsRateLimitError(NewRateLimitError(429, nil, "limited")) {
		t.Error("expected rate limit error to be recognized")
	}
	if IsRateLimitError(NewServerError(500, "boom")) {
		t.Error("expected server error not to be a rate limit error")
	}
	if !IsRetryableError(NewNetworkError("down", nil)) {
		t.Error("expected network error to be retryable")
	}
	if IsRetryableError(NewAuthError(401, "denied")) {
		t.Error("expected auth error not to be retryable")
	}
	if !IsCancelledError(NewCancelledError("stopped", nil)) {
		t.Error("expected cancelled error to be recognized")
	}
	if !IsConcurrencyError(NewConcurrencyError("send")) {
		t.Error("expected concurrency error to be recognized")
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewNetworkError("transport call failed", cause)
	if !errors.Is(err, cause) {
		t.Error("expected error to unwrap to its cause")
	}

	var llmErr *Error
	wrapped := errWrap(err)
	if !errors.As(wrapped, &llmErr) || llmErr.Type != ErrorTypeNetwork {
		t.Error("expected errors.As to find the typed error through wrapping")
	}
}

func errWrap(err error) error {
	return &wrapperErr{err}
}

type wrapperErr struct{ inner error }

func (w *wrapperErr) Error() string { return "outer: " + w.inner.Error() }
func (w *wrapperErr) Unwrap() error { return w.inner }

func durationPtr(d time.Duration) *time.Duration {
	return &d
}
