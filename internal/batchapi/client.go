package batchapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"batchqa/internal/httputil"

	"golang.org/x/time/rate"
)

const maxErrorBodyBytes = 1024

// ErrMissingUser is returned when a call is made without a user id.
var ErrMissingUser = errors.New("user id is required")

// HTTPError is returned for non-2xx responses that were not retried away.
type HTTPError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	msg := e.Body
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.StatusCode, msg)
}

// Client talks to the batch-jobs HTTP API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	retry   httputil.RetryConfig
	limiter *rate.Limiter
}

type Option func(*Client)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithToken sends Authorization: Bearer <token> on every call.
func WithToken(token string) Option {
	return func(c *Client) { c.token = strings.TrimSpace(token) }
}

// WithRetry sets the retry policy for delete calls. Create is not idempotent
// and status retries belong to the tracker's poller, so both make one attempt.
func WithRetry(cfg httputil.RetryConfig) Option {
	return func(c *Client) { c.retry = cfg }
}

// WithRateLimit caps outgoing attempts across every caller sharing this
// client. rps <= 0 disables the limit.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func New(baseURL string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{Timeout: timeout},
		retry:   httputil.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateJob submits a batch job. The returned JobID may be empty. It makes
// exactly one attempt: a job the server accepted before failing the response
// would otherwise be created twice.
func (c *Client) CreateJob(ctx context.Context, userID string, fileIDs, prompts []string) (CreateResponse, error) {
	if userID == "" {
		return CreateResponse{}, ErrMissingUser
	}
	body, err := json.Marshal(createRequest{UserID: userID, FileIDs: fileIDs, Prompts: prompts})
	if err != nil {
		return CreateResponse{}, fmt.Errorf("marshal create request: %w", err)
	}

	var out CreateResponse
	if err := c.do(ctx, "create batch job", http.MethodPost, "/batch-jobs", body, userID, httputil.NoRetry(nil), &out); err != nil {
		return CreateResponse{}, err
	}
	slog.Debug("batchapi: job created", "server_job", out.JobID, "files", len(fileIDs), "prompts", len(prompts))
	return out, nil
}

// QueueStatus fetches the whole queue for a user in a single call. It makes
// exactly one attempt.
func (c *Client) QueueStatus(ctx context.Context, userID string) (StatusResponse, error) {
	if userID == "" {
		return StatusResponse{}, ErrMissingUser
	}
	body, err := json.Marshal(statusRequest{UserID: userID})
	if err != nil {
		return StatusResponse{}, fmt.Errorf("marshal status request: %w", err)
	}

	var out StatusResponse
	if err := c.do(ctx, "fetch queue status", http.MethodPost, "/batch-jobs/status", body, userID, httputil.NoRetry(nil), &out); err != nil {
		return StatusResponse{}, err
	}
	return out, nil
}

// DeleteJob removes a job (normally a history entry) on the server.
func (c *Client) DeleteJob(ctx context.Context, userID, jobID string) (DeleteResponse, error) {
	if userID == "" {
		return DeleteResponse{}, ErrMissingUser
	}
	if strings.TrimSpace(jobID) == "" {
		return DeleteResponse{}, errors.New("job id is required")
	}

	var out DeleteResponse
	path := "/batch-jobs/" + url.PathEscape(jobID)
	if err := c.do(ctx, "delete batch job", http.MethodDelete, path, nil, userID, c.retry, &out); err != nil {
		return DeleteResponse{}, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body []byte, userID string, retry httputil.RetryConfig, out any) error {
	endpoint := c.baseURL + path
	retry.Client = c.http

	resp, err := httputil.Do(ctx, func() (*http.Request, error) {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		var rdr io.Reader
		if body != nil {
			rdr = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, rdr)
		if err != nil {
			return nil, err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("userId", userID)
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		return req, nil
	}, retry)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return &HTTPError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}
