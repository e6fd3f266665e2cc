package httputil

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// scripted answers the nth request with statuses[n], repeating the last one.
func scripted(t *testing.T, statuses ...int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(hits.Add(1)) - 1
		code := statuses[min(n, len(statuses)-1)]
		w.WriteHeader(code)
		io.WriteString(w, http.StatusText(code))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func get(url string) func() (*http.Request, error) {
	return func() (*http.Request, error) { return http.NewRequest(http.MethodGet, url, nil) }
}

func quick(attempts int) RetryConfig {
	return RetryConfig{MaxAttempts: attempts, BaseDelay: 5 * time.Millisecond, MaxDelay: 20 * time.Millisecond}
}

func TestDoRetryPolicy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		statuses []int
		attempts int
		wantHits int32
		wantCode int
		wantErr  string
	}{
		{"recovers after 503s", []int{503, 503, 200}, 4, 3, 200, ""},
		{"retries 429", []int{429, 204}, 2, 2, 204, ""},
		{"404 returned without retry", []int{404}, 4, 1, 404, ""},
		{"400 returned without retry", []int{400}, 4, 1, 400, ""},
		{"gives up on persistent 502", []int{502}, 3, 3, 0, "giving up after 3 attempts: HTTP 502"},
		{"single attempt reports raw error", []int{500}, 1, 1, 0, "HTTP 500"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv, hits := scripted(t, tc.statuses...)

			resp, err := Do(context.Background(), get(srv.URL), quick(tc.attempts))
			if tc.wantErr != "" {
				if err == nil || err.Error() != tc.wantErr {
					t.Fatalf("expected error %q, got %v", tc.wantErr, err)
				}
			} else {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				defer resp.Body.Close()
				if resp.StatusCode != tc.wantCode {
					t.Fatalf("expected status %d, got %d", tc.wantCode, resp.StatusCode)
				}
			}
			if got := hits.Load(); got != tc.wantHits {
				t.Fatalf("expected %d requests, got %d", tc.wantHits, got)
			}
		})
	}
}

func TestDoLeavesClientErrorBodyReadable(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"job not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	resp, err := Do(context.Background(), get(srv.URL), quick(3))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "job not found") {
		t.Fatalf("expected body intact, got %q", body)
	}
}

func TestDoRebuildsRequestEachAttempt(t *testing.T) {
	t.Parallel()
	srv, _ := scripted(t, 503, 200)

	builds := 0
	_, err := Do(context.Background(), func() (*http.Request, error) {
		builds++
		return http.NewRequest(http.MethodPost, srv.URL, strings.NewReader(`{"a":1}`))
	}, quick(2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if builds != 2 {
		t.Fatalf("expected 2 builds, got %d", builds)
	}

	_, err = Do(context.Background(), func() (*http.Request, error) {
		return nil, errors.New("no body")
	}, quick(2))
	if err == nil || !strings.Contains(err.Error(), "build request: no body") {
		t.Fatalf("expected build error, got %v", err)
	}
}

type markTransport struct{ used atomic.Bool }

func (m *markTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	m.used.Store(true)
	return http.DefaultTransport.RoundTrip(req)
}

func TestNoRetryUsesInjectedClient(t *testing.T) {
	t.Parallel()
	srv, hits := scripted(t, 503)

	tr := &markTransport{}
	if _, err := Do(context.Background(), get(srv.URL), NoRetry(&http.Client{Transport: tr})); err == nil {
		t.Fatal("expected error from the single failed attempt")
	}
	if hits.Load() != 1 || !tr.used.Load() {
		t.Fatalf("expected exactly one request through the injected transport, got %d", hits.Load())
	}
}

func TestDoHonorsRetryAfter(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	start := time.Now()
	resp, err := Do(context.Background(), get(srv.URL), quick(2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()
	if waited := time.Since(start); waited < time.Second {
		t.Fatalf("expected Retry-After of 1s to be honored, waited %v", waited)
	}
}

func TestDoStopsSleepingOnCancel(t *testing.T) {
	t.Parallel()
	srv, _ := scripted(t, 503)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := Do(ctx, get(srv.URL), RetryConfig{MaxAttempts: 10, BaseDelay: 5 * time.Second})
		done <- err
	}()
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Do kept sleeping after cancel")
	}
}

func TestBackoff(t *testing.T) {
	t.Parallel()

	linear := RetryConfig{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, Linear: true}
	doubling := RetryConfig{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}

	tests := []struct {
		cfg     RetryConfig
		attempt int
		want    time.Duration
	}{
		{linear, 0, 100 * time.Millisecond},
		{linear, 2, 300 * time.Millisecond},
		{linear, 20, time.Second},
		{doubling, 0, 100 * time.Millisecond},
		{doubling, 2, 400 * time.Millisecond},
		{doubling, 10, time.Second},
	}
	for _, tc := range tests {
		if got := backoff(tc.cfg, tc.attempt); got != tc.want {
			t.Fatalf("backoff(linear=%v, attempt=%d) = %v, want %v", tc.cfg.Linear, tc.attempt, got, tc.want)
		}
	}

	unbounded := RetryConfig{BaseDelay: time.Second}
	for _, attempt := range []int{40, 64, 1000} {
		if got := backoff(unbounded, attempt); got != defaultMaxDelay {
			t.Fatalf("backoff(attempt=%d) without MaxDelay = %v, want %v", attempt, got, defaultMaxDelay)
		}
	}
	if got := backoff(RetryConfig{BaseDelay: time.Second, Linear: true}, 1<<62); got != defaultMaxDelay {
		t.Fatalf("expected overflowing linear delay capped, got %v", got)
	}

	jittered := RetryConfig{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, JitterFactor: 0.5}
	for range 50 {
		if got := backoff(jittered, 1); got < 100*time.Millisecond || got > 300*time.Millisecond {
			t.Fatalf("jittered delay %v outside [100ms, 300ms]", got)
		}
	}
}

func TestLinearDelay(t *testing.T) {
	t.Parallel()
	if got := LinearDelay(time.Second, 3); got != 3*time.Second {
		t.Fatalf("expected 3s, got %v", got)
	}
	if got := LinearDelay(time.Second, 0); got != time.Second {
		t.Fatalf("expected attempt below 1 to clamp to base, got %v", got)
	}
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()

	future := time.Now().Add(time.Hour).UTC().Format(http.TimeFormat)
	tests := map[string]time.Duration{
		"120":                           120 * time.Second,
		"":                              0,
		"abc":                           0,
		"-5":                            0,
		"Thu, 01 Dec 1994 16:00:00 GMT": 0,
	}
	for val, want := range tests {
		if got := parseRetryAfter(val); got != want {
			t.Fatalf("parseRetryAfter(%q) = %v, want %v", val, got, want)
		}
	}
	if got := parseRetryAfter(future); got < 59*time.Minute {
		t.Fatalf("expected about an hour for a future date, got %v", got)
	}
}
