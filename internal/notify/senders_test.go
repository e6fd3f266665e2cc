package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"batchqa/internal/config"
)

func TestScrubErrorHidesWebhookPath(t *testing.T) {
	t.Parallel()
	err := errors.New(`Post "https://hooks.slack.com/services/T000/B000/SECRET": context deadline exceeded`)
	msg := scrubError(err)
	if strings.Contains(msg, "SECRET") {
		t.Fatalf("expected webhook URL secret to be redacted, got %q", msg)
	}
	if !strings.Contains(msg, "https://hooks.slack.com/<redacted>") {
		t.Fatalf("expected redacted host marker, got %q", msg)
	}
}

func TestBuildSendersFromConfig(t *testing.T) {
	t.Parallel()
	senders := BuildSenders(config.NotificationsConfig{
		WebhookURL:   "https://example.com/hook",
		SlackWebhook: "https://hooks.slack.com/services/T/B/X",
	}, nil)
	if len(senders) != 2 {
		t.Fatalf("expected 2 senders, got %d", len(senders))
	}
	if senders[0].Name() != "webhook" || senders[1].Name() != "slack" {
		t.Fatalf("unexpected sender order: %s, %s", senders[0].Name(), senders[1].Name())
	}
	if got := BuildSenders(config.NotificationsConfig{}, nil); len(got) != 0 {
		t.Fatalf("expected no senders for empty config, got %d", len(got))
	}
}

type fakeSender struct {
	name string
	err  error
}

func (f fakeSender) Name() string                              { return f.name }
func (f fakeSender) Send(ctx context.Context, _ Payload) error { return f.err }

func TestSendAllKeepsSenderOrder(t *testing.T) {
	t.Parallel()
	got := SendAll(context.Background(), []Sender{
		fakeSender{name: "webhook", err: errors.New("boom")},
		nil,
		fakeSender{name: "slack"},
	}, TestPayload(), time.Second)

	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got))
	}
	if got[0].Channel != "webhook" || got[1].Channel != "slack" {
		t.Fatalf("unexpected order: %+v", got)
	}
	if got.Delivered() != 1 {
		t.Fatalf("expected 1 delivered, got %d", got.Delivered())
	}
	if f := got.Failures("; "); f != "webhook: boom" {
		t.Fatalf("expected webhook failure summary, got %q", f)
	}
}

func TestTriggerSetDropsUnknown(t *testing.T) {
	t.Parallel()
	set := TriggerSet([]string{" Completed ", "started"})
	if _, ok := set[TriggerCompleted]; !ok || len(set) != 1 {
		t.Fatalf("expected only completed, got %v", set)
	}
	if len(TriggerSet(nil)) != 2 {
		t.Fatal("expected nil triggers to mean all")
	}
}
