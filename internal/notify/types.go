package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"batchqa/internal/db"
)

const (
	TriggerCompleted = db.KindCompleted
	TriggerFailed    = db.KindFailed
)

// Payload describes a request that reached a terminal status. It is stored
// in the outbox as JSON and sent as-is to webhooks.
type Payload struct {
	Event     string `json:"event"`
	RequestID string `json:"request_id"`
	ServerJob string `json:"server_job,omitempty"`
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	Files     int    `json:"files"`
	Prompts   int    `json:"prompts"`
	Timestamp string `json:"timestamp"`
}

// Sender delivers a payload to one channel.
type Sender interface {
	Name() string
	Send(ctx context.Context, payload Payload) error
}

// ChannelResult is the outcome of one Sender for one payload.
type ChannelResult struct {
	Channel string `json:"channel"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// labels maps each trigger to its human title. It doubles as the set of
// known triggers.
var labels = map[string]string{
	TriggerCompleted: "Batch Completed",
	TriggerFailed:    "Batch Failed",
}

// TriggerSet normalizes triggers and drops unknown names. nil means every
// trigger; an empty slice disables them all.
func TriggerSet(triggers []string) map[string]struct{} {
	set := make(map[string]struct{}, len(labels))
	if triggers == nil {
		for name := range labels {
			set[name] = struct{}{}
		}
		return set
	}
	for _, t := range triggers {
		t = strings.ToLower(strings.TrimSpace(t))
		if _, known := labels[t]; known {
			set[t] = struct{}{}
		}
	}
	return set
}

func EventLabel(event string) string {
	if label, ok := labels[event]; ok {
		return label
	}
	return labels[TriggerFailed]
}

// Encode returns the JSON stored in the outbox payload column.
func (p Payload) Encode() (string, error) {
	if p.Timestamp == "" {
		p.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode notification payload: %w", err)
	}
	return string(b), nil
}

func TestPayload() Payload {
	return Payload{
		Event:     TriggerCompleted,
		RequestID: "00000000-test-0000-0000-000000000000",
		ServerJob: "job-test",
		Status:    "completed",
		Message:   "Test notification from batchqa",
		Files:     2,
		Prompts:   1,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// SlackText is the plain message body posted to Slack.
func SlackText(p Payload) string {
	var b strings.Builder
	fmt.Fprintf(&b, "batchqa: %s\nRequest: %s\nFiles: %d  Prompts: %d", EventLabel(p.Event), p.RequestID, p.Files, p.Prompts)
	if p.ServerJob != "" {
		b.WriteString("\nJob: " + p.ServerJob)
	}
	if p.Message != "" {
		b.WriteString("\n" + p.Message)
	}
	return b.String()
}
