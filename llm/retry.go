package llm

import (
	"context"
	"io"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultMaxRetries is the default number of retries after the
	// first attempt (so 4 total attempts).
	DefaultMaxRetries = 3

	// initialBackoff is the delay before the first retry; it doubles
	// on each subsequent one.
	initialBackoff = 1 * time.Second

	// maxBackoff is a hard cap on any single wait. A maliciously large
	// or garbage Retry-After header must never stall the caller longer
	// than this.
	maxBackoff = 30 * time.Second

	// jitterRange bounds the random perturbation added to computed
	// backoff delays to avoid synchronized retry storms.
	jitterRange = 200 * time.Millisecond
)

// retryPolicy governs how many times one logical request may be
// reissued. Constructed per call, never persisted.
type retryPolicy struct {
	maxRetries int
	enabled    bool
}

func (p retryPolicy) totalAttempts() int {
	if !p.enabled {
		return 1
	}
	return p.maxRetries + 1
}

// streamPolicy is the fixed policy for streaming calls: a request that
// may already be billed or partially emitted is never reissued.
var streamPolicy = retryPolicy{maxRetries: 0, enabled: false}

func policyFromOptions(opts *ChatOptions) retryPolicy {
	p := retryPolicy{maxRetries: DefaultMaxRetries, enabled: true}
	if opts == nil {
		return p
	}
	if opts.MaxRetries > 0 {
		p.maxRetries = opts.MaxRetries
	}
	if opts.DisableRetry {
		p.enabled = false
	}
	return p
}

// executor performs one logical HTTP request with bounded retry.
// Attempts are strictly sequential; the backoff wait is the only
// suspension point besides the transport call itself and it unwinds the
// moment the context is cancelled.
type executor struct {
	logger zerolog.Logger

	// sleep and jitter are swapped out in tests.
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() time.Duration
}

func newExecutor(logger zerolog.Logger) *executor {
	return &executor{
		logger: logger.With().Str("component", "executor").Logger(),
		sleep:  waitWithContext,
		jitter: func() time.Duration {
			return time.Duration(rand.Int64N(int64(jitterRange)))
		},
	}
}

// execute runs call until it returns a 2xx response or the policy is
// exhausted. Only transport failures, 429s, and 5xx responses are
// retried; everything else surfaces immediately as a classified *Error.
// A context that is already cancelled fails before any transport call.
func (e *executor) execute(ctx context.Context, policy retryPolicy, call func(context.Context) (*http.Response, error)) (*http.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewCancelledError("request cancelled before dispatch", err)
	}

	attempts := policy.totalAttempts()
	var lastErr *Error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt-1, lastErr.RetryAfter, e.jitter)
			e.logger.Warn().
				Int("attempt", attempt).
				Int("max_attempts", attempts).
				Str("error_type", string(lastErr.Type)).
				Dur("delay", delay).
				Msg("Transient failure, waiting before retry")
			if err := e.sleep(ctx, delay); err != nil {
				return nil, NewCancelledError("cancelled while waiting to retry", err)
			}
		}

		resp, err := call(ctx)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, NewCancelledError("request cancelled", ctx.Err())
			}
			lastErr = NewNetworkError("transport call failed", err)
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return resp, nil
		default:
			lastErr = ClassifyStatus(resp.StatusCode, resp.Header.Get("Retry-After"))
			drainAndClose(resp.Body)
		}

		if !policy.enabled || !lastErr.Retryable {
			return nil, lastErr
		}
	}
	return nil, lastErr
}

// backoffDelay computes the wait before the retry following failed
// attempt n (0-based). A usable Retry-After hint wins outright;
// otherwise the delay is 1s·2ⁿ plus jitter. Both forms are capped at
// maxBackoff.
func backoffDelay(attempt int, retryAfter *time.Duration, jitter func() time.Duration) time.Duration {
	// A negative hint (only possible via a hand-built error) falls
	// through to the computed backoff, like an absent header.
	if retryAfter != nil && *retryAfter >= 0 {
		if *retryAfter > maxBackoff {
			return maxBackoff
		}
		return *retryAfter
	}
	// Past attempt 4 the doubled base alone exceeds the cap; bail out
	// before the shift can overflow.
	if attempt > 4 {
		return maxBackoff
	}
	delay := initialBackoff<<uint(attempt) + jitter()
	if delay > maxBackoff {
		return maxBackoff
	}
	return delay
}

// waitWithContext waits for the delay, resolving early with the
// context's error the instant it is cancelled.
func waitWithContext(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// drainAndClose releases a response body we will not read, letting the
// transport reuse the connection.
func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 4096))
	_ = body.Close()
}
