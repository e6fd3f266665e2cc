package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"batchqa/internal/config"
)

const maxChannelError = 512

var secretURL = regexp.MustCompile(`https?://[^\s"'` + "`" + `]+`)

// BuildSenders returns one sender per configured channel, in a fixed order:
// webhook, slack, desktop.
func BuildSenders(cfg config.NotificationsConfig, client *http.Client) []Sender {
	var out []Sender
	if hook := strings.TrimSpace(cfg.WebhookURL); hook != "" {
		out = append(out, NewWebhookSender(hook, client))
	}
	if hook := strings.TrimSpace(cfg.SlackWebhook); hook != "" {
		out = append(out, NewSlackSender(hook, client))
	}
	if !cfg.Desktop {
		return out
	}
	if desktop := NewDesktopSender(); desktop != nil {
		out = append(out, desktop)
	}
	return out
}

// Deliveries holds one result per sender, in sender order.
type Deliveries []ChannelResult

// SendAll delivers payload on every channel concurrently. Each channel gets its
// own timeout so one slow webhook cannot starve the others.
func SendAll(ctx context.Context, senders []Sender, payload Payload, timeout time.Duration) Deliveries {
	active := senders[:0:0]
	for _, s := range senders {
		if s != nil {
			active = append(active, s)
		}
	}

	out := make(Deliveries, len(active))
	var wg sync.WaitGroup
	for i, s := range active {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out[i] = deliver(ctx, s, payload, timeout)
		}()
	}
	wg.Wait()
	return out
}

func deliver(ctx context.Context, s Sender, payload Payload, timeout time.Duration) ChannelResult {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	res := ChannelResult{Channel: s.Name(), Success: true}
	if err := s.Send(ctx, payload); err != nil {
		res.Success = false
		res.Error = scrubError(err)
	}
	return res
}

// Delivered counts channels that accepted the payload.
func (d Deliveries) Delivered() int {
	n := 0
	for _, r := range d {
		if r.Success {
			n++
		}
	}
	return n
}

// Failures joins the failed channels as "channel: error" with sep.
func (d Deliveries) Failures(sep string) string {
	var parts []string
	for _, r := range d {
		switch {
		case r.Success:
		case r.Error == "":
			parts = append(parts, r.Channel+" failed")
		default:
			parts = append(parts, fmt.Sprintf("%s: %s", r.Channel, r.Error))
		}
	}
	return strings.Join(parts, sep)
}

// scrubError keeps channel errors safe to persist: webhook URLs carry their
// secret in the path, so only scheme and host survive.
func scrubError(err error) string {
	msg := secretURL.ReplaceAllStringFunc(strings.TrimSpace(err.Error()), func(raw string) string {
		u, perr := url.Parse(raw)
		if perr != nil || u.Host == "" {
			return "<url>"
		}
		return u.Scheme + "://" + u.Host + "/<redacted>"
	})
	if len(msg) > maxChannelError {
		msg = msg[:maxChannelError]
	}
	return msg
}
