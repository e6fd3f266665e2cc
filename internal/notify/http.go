package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"batchqa/internal/httputil"
)

const maxErrorBodyBytes = 1024

// postSender POSTs a JSON document built from the payload. Webhook and Slack
// differ only in the document they send.
type postSender struct {
	name   string
	url    string
	client *http.Client
	encode func(Payload) any
}

// NewWebhookSender posts the payload itself.
func NewWebhookSender(webhookURL string, client *http.Client) Sender {
	return newPostSender("webhook", webhookURL, client, func(p Payload) any { return p })
}

// NewSlackSender posts an incoming-webhook message rendered by SlackText.
func NewSlackSender(webhookURL string, client *http.Client) Sender {
	return newPostSender("slack", webhookURL, client, func(p Payload) any {
		return map[string]string{"text": SlackText(p)}
	})
}

func newPostSender(name, url string, client *http.Client, encode func(Payload) any) *postSender {
	return &postSender{name: name, url: strings.TrimSpace(url), client: client, encode: encode}
}

func (s *postSender) Name() string { return s.name }

// Send makes a single attempt; the outbox owns retries.
func (s *postSender) Send(ctx context.Context, payload Payload) error {
	if s.url == "" {
		return fmt.Errorf("%s: no url configured", s.name)
	}
	body, err := json.Marshal(s.encode(payload))
	if err != nil {
		return fmt.Errorf("%s: encode: %w", s.name, err)
	}

	resp, err := httputil.Do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}, httputil.NoRetry(s.client))
	if err != nil {
		return fmt.Errorf("%s: post: %w", s.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 == 2 {
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	msg := strings.TrimSpace(string(snippet))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return fmt.Errorf("%s: status %d: %s", s.name, resp.StatusCode, msg)
}
