package httputil

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const defaultMaxDelay = 30 * time.Second

// RetryConfig controls how Do retries a request.
type RetryConfig struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64 // 0..1, fraction of the delay randomized either way
	Linear       bool    // grow by BaseDelay per attempt instead of doubling

	// Client defaults to http.DefaultClient.
	Client *http.Client
}

// NoRetry performs exactly one attempt. The status poller uses it because it
// counts failed cycles itself.
func NoRetry(client *http.Client) RetryConfig {
	return RetryConfig{MaxAttempts: 1, Client: client}
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  4,
		BaseDelay:    time.Second,
		MaxDelay:     defaultMaxDelay,
		JitterFactor: 0.25,
	}
}

// Do sends the request built by buildReq, retrying network errors, 429 and
// 5xx. buildReq runs once per attempt since a body can only be read once.
// Any other status is returned to the caller with the body unread.
func Do(ctx context.Context, buildReq func() (*http.Request, error), cfg RetryConfig) (*http.Response, error) {
	attempts := max(cfg.MaxAttempts, 1)
	client := cfg.Client
	if client == nil {
		client = http.DefaultClient
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := SleepContext(ctx, lastWait(cfg, attempt-1, lastErr)); err != nil {
				return nil, err
			}
		}

		req, err := buildReq()
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		resp, err := client.Do(req)
		if err == nil && !retryable(resp.StatusCode) {
			return resp, nil
		}

		lastErr = attemptError(resp, err)
		if resp != nil {
			resp.Body.Close()
		}
		if attempt+1 < attempts {
			slog.Warn("httputil: retrying", "attempt", attempt+1, "max", attempts, "err", lastErr)
		}
	}
	if attempts == 1 {
		return nil, lastErr
	}
	return nil, fmt.Errorf("giving up after %d attempts: %w", attempts, lastErr)
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// statusError remembers a retryable response's Retry-After hint for the
// following sleep.
type statusError struct {
	status     int
	retryAfter time.Duration
}

func (e *statusError) Error() string { return "HTTP " + strconv.Itoa(e.status) }

func attemptError(resp *http.Response, err error) error {
	if err != nil {
		return err
	}
	return &statusError{status: resp.StatusCode, retryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
}

func lastWait(cfg RetryConfig, attempt int, lastErr error) time.Duration {
	if se, ok := lastErr.(*statusError); ok && se.retryAfter > 0 {
		return se.retryAfter
	}
	return backoff(cfg, attempt)
}

// backoff is the jittered, capped delay after the given zero-based attempt.
// An unset MaxDelay caps at defaultMaxDelay.
func backoff(cfg RetryConfig, attempt int) time.Duration {
	ceiling := cfg.MaxDelay
	if ceiling <= 0 {
		ceiling = defaultMaxDelay
	}
	delay := cfg.BaseDelay
	switch {
	case cfg.Linear && cfg.BaseDelay > 0 && int64(attempt) >= int64(ceiling/cfg.BaseDelay):
		delay = ceiling
	case cfg.Linear:
		delay = LinearDelay(cfg.BaseDelay, attempt+1)
	default:
		for i := 0; i < attempt && delay < ceiling; i++ {
			delay *= 2
		}
	}
	if delay < 0 || delay > ceiling {
		delay = ceiling
	}
	if cfg.JitterFactor <= 0 {
		return delay
	}
	spread := float64(delay) * cfg.JitterFactor
	return max(time.Duration(float64(delay)+spread*(2*rand.Float64()-1)), cfg.BaseDelay)
}

// parseRetryAfter accepts delta-seconds or an HTTP-date. Anything else, and
// dates in the past, yield 0.
func parseRetryAfter(val string) time.Duration {
	val = strings.TrimSpace(val)
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(max(secs, 0)) * time.Second
	}
	if at, err := http.ParseTime(val); err == nil {
		return max(time.Until(at), 0)
	}
	return 0
}

// LinearDelay returns attempt * base, the backoff used for poll retries.
func LinearDelay(base time.Duration, attempt int) time.Duration {
	return time.Duration(max(attempt, 1)) * base
}

// SleepContext sleeps for d but returns early with ctx's error.
func SleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
