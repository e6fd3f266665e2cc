package batchapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ItemStatus is the server-side state of a queued batch job.
type ItemStatus string

const (
	StatusPending    ItemStatus = "pending"
	StatusProcessing ItemStatus = "processing"
	StatusSuccess    ItemStatus = "success"
	StatusError      ItemStatus = "error"
)

// Terminal reports whether the server will not change this item again.
func (s ItemStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusError
}

// QueueItem is one entry of the status snapshot. The server never echoes the
// client's request id, so matching relies on FileIDs, PromptList and JobID.
type QueueItem struct {
	JobID          string                     `json:"jobId,omitempty"`
	Status         ItemStatus                 `json:"status"`
	FileIDs        []string                   `json:"fileIds"`
	PromptList     []string                   `json:"promptList"`
	Timestamp      Timestamp                  `json:"timestamp,omitempty"`
	Sequence       int64                      `json:"sequence,omitempty"`
	ResultsByFile  map[string]json.RawMessage `json:"resultsByFile,omitempty"`
	CompletedFiles *int                       `json:"completedFiles,omitempty"`
	TotalFiles     *int                       `json:"totalFiles,omitempty"`
	Error          string                     `json:"error,omitempty"`
}

// Completed returns the server-reported number of finished files, falling
// back to the number of per-file results when no explicit count was sent.
func (q QueueItem) Completed() int {
	if q.CompletedFiles != nil {
		return *q.CompletedFiles
	}
	return len(q.ResultsByFile)
}

// Total returns the server-reported file count, or len(FileIDs).
func (q QueueItem) Total() int {
	if q.TotalFiles != nil && *q.TotalFiles > 0 {
		return *q.TotalFiles
	}
	return len(q.FileIDs)
}

// StatusResponse is the body of POST /batch-jobs/status.
type StatusResponse struct {
	CurrentQueue []QueueItem `json:"currentQueue"`
	History      []QueueItem `json:"history"`
}

// Items returns the current queue followed by history.
func (r StatusResponse) Items() []QueueItem {
	out := make([]QueueItem, 0, len(r.CurrentQueue)+len(r.History))
	out = append(out, r.CurrentQueue...)
	out = append(out, r.History...)
	return out
}

type createRequest struct {
	UserID  string   `json:"userId"`
	FileIDs []string `json:"fileIds"`
	Prompts []string `json:"prompts"`
}

// CreateResponse is the body of POST /batch-jobs. JobID is best-effort.
type CreateResponse struct {
	JobID string `json:"jobId,omitempty"`
}

type statusRequest struct {
	UserID string `json:"userId"`
}

// DeleteResponse is the body of DELETE /batch-jobs/{jobId}.
type DeleteResponse struct {
	Message string `json:"message"`
}

// Answer is one prompt/answer pair inside a per-file result. Results are
// opaque to the tracker; Answers only exists for display.
type Answer struct {
	Prompt string `json:"prompt"`
	Answer string `json:"answer"`
}

// DecodeAnswers interprets a per-file result as a list of answers. It accepts
// either a bare array or an object with an "answers" field.
func DecodeAnswers(raw json.RawMessage) ([]Answer, bool) {
	var list []Answer
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
		return list, true
	}
	var wrapped struct {
		Answers []Answer `json:"answers"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && len(wrapped.Answers) > 0 {
		return wrapped.Answers, true
	}
	return nil, false
}

// Timestamp accepts RFC3339 strings, numeric strings and bare numbers
// (unix milliseconds) since backends disagree on the encoding.
type Timestamp struct {
	time.Time
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		t.Time = time.Time{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		return t.parse(strings.TrimSpace(s))
	}
	return t.parse(string(data))
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte(`""`), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

func (t *Timestamp) parse(s string) error {
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		t.Time = time.UnixMilli(ms).UTC()
		return nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		t.Time = time.UnixMilli(int64(f)).UTC()
		return nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	t.Time = parsed
	return nil
}
