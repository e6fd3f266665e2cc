package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"batchqa/internal/db"
)

// StateKey is the local_state key holding in-flight requests.
const StateKey = "batchqa.requests"

// StateStore is the key/value slice of *db.Store the request store needs.
type StateStore interface {
	GetState(ctx context.Context, key string) ([]byte, error)
	PutState(ctx context.Context, key string, value []byte) error
	DeleteState(ctx context.Context, key string) error
}

// RequestStore persists the processing subset of requests as one JSON array.
// An absent key means nothing to resume; an empty array is never written.
type RequestStore struct {
	state StateStore
	key   string
}

func NewRequestStore(state StateStore) *RequestStore {
	return &RequestStore{state: state, key: StateKey}
}

// Save replaces the stored snapshot with the processing requests in reqs,
// or deletes the key when there are none.
func (s *RequestStore) Save(ctx context.Context, reqs []Request) error {
	inflight := processingOnly(reqs)
	if len(inflight) == 0 {
		if err := s.state.DeleteState(ctx, s.key); err != nil {
			return fmt.Errorf("clear persisted requests: %w", err)
		}
		return nil
	}
	payload, err := json.Marshal(inflight)
	if err != nil {
		return fmt.Errorf("marshal persisted requests: %w", err)
	}
	if err := s.state.PutState(ctx, s.key, payload); err != nil {
		return fmt.Errorf("save persisted requests: %w", err)
	}
	return nil
}

// Load returns the saved processing requests. It never fails: a missing key
// yields nil and an unreadable payload is logged, discarded and yields nil.
func (s *RequestStore) Load(ctx context.Context) []Request {
	raw, err := s.state.GetState(ctx, s.key)
	if err != nil {
		if !errors.Is(err, db.ErrStateNotFound) {
			slog.Warn("tracker: read persisted requests", "err", err)
		}
		return nil
	}

	var reqs []Request
	if err := json.Unmarshal(raw, &reqs); err != nil {
		slog.Warn("tracker: discarding corrupt persisted requests", "err", err, "bytes", len(raw))
		if delErr := s.state.DeleteState(ctx, s.key); delErr != nil {
			slog.Warn("tracker: clear corrupt persisted requests", "err", delErr)
		}
		return nil
	}

	out := make([]Request, 0, len(reqs))
	for _, r := range reqs {
		if r.ID == "" || r.Status != StatusProcessing {
			continue
		}
		out = append(out, r)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func processingOnly(reqs []Request) []Request {
	out := make([]Request, 0, len(reqs))
	for _, r := range reqs {
		if r.Status == StatusProcessing {
			out = append(out, r)
		}
	}
	return out
}

// persistKey summarizes the fields of the processing subset whose change
// warrants a write. Estimator ticks alone do not.
func persistKey(reqs []Request) string {
	var b strings.Builder
	for _, r := range reqs {
		if r.Status != StatusProcessing {
			continue
		}
		b.WriteString(r.ID)
		b.WriteByte('|')
		b.WriteString(r.ServerJobID)
		b.WriteByte('|')
		b.WriteString(strconv.Itoa(r.Completed()))
		b.WriteByte('/')
		b.WriteString(strconv.Itoa(r.Total()))
		b.WriteByte(';')
	}
	return b.String()
}
