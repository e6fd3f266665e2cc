package tracker

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Request is one user submission tracked until it reaches a terminal status.
type Request struct {
	ID             string                     `json:"id"`
	UserID         string                     `json:"userId"`
	Prompts        []string                   `json:"prompts"`
	FileIDs        []string                   `json:"fileIds"`
	Status         Status                     `json:"status"`
	Progress       float64                    `json:"progress"`
	CompletedFiles *int                       `json:"completedFiles,omitempty"`
	TotalFiles     *int                       `json:"totalFiles,omitempty"`
	ServerJobID    string                     `json:"serverJobId,omitempty"`
	Result         map[string]json.RawMessage `json:"result,omitempty"`
	Error          string                     `json:"error,omitempty"`
	CreatedAt      time.Time                  `json:"createdAt"`
	UpdatedAt      time.Time                  `json:"updatedAt"`
}

func newRequest(userID string, prompts, fileIDs []string, now time.Time) Request {
	return Request{
		ID:        uuid.NewString(),
		UserID:    userID,
		Prompts:   slices.Clone(prompts),
		FileIDs:   slices.Clone(fileIDs),
		Status:    StatusProcessing,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Total returns the number of files this request covers. The last
// server-reported count wins over len(FileIDs).
func (r Request) Total() int {
	if r.TotalFiles != nil && *r.TotalFiles > 0 {
		return *r.TotalFiles
	}
	return len(r.FileIDs)
}

func (r Request) Completed() int {
	if r.CompletedFiles == nil {
		return 0
	}
	return *r.CompletedFiles
}

// Clone returns a deep copy so callers cannot mutate the controller's state.
func (r Request) Clone() Request {
	out := r
	out.Prompts = slices.Clone(r.Prompts)
	out.FileIDs = slices.Clone(r.FileIDs)
	if r.CompletedFiles != nil {
		n := *r.CompletedFiles
		out.CompletedFiles = &n
	}
	if r.TotalFiles != nil {
		n := *r.TotalFiles
		out.TotalFiles = &n
	}
	if r.Result != nil {
		out.Result = make(map[string]json.RawMessage, len(r.Result))
		for k, v := range r.Result {
			out.Result[k] = slices.Clone(v)
		}
	}
	return out
}

// ShortID returns the first 8 characters of a request id for display.
func ShortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

var (
	ErrMissingUser = errors.New("user identity is required")
	ErrNoFiles     = errors.New("at least one file id is required")
	ErrNotFound    = errors.New("request not found")
)

// SubmissionError is returned synchronously by Submit when a precondition
// fails. It is never retried.
type SubmissionError struct {
	Err error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submit batch job: %v", e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

func cloneAll(reqs []Request) []Request {
	out := make([]Request, len(reqs))
	for i, r := range reqs {
		out[i] = r.Clone()
	}
	return out
}

func intPtr(n int) *int { return &n }
