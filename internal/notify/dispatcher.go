package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"batchqa/internal/db"
	"batchqa/internal/tracker"
)

const (
	sendTimeout     = 4 * time.Second
	pollInterval    = 2 * time.Second
	housekeepEvery  = 6 * time.Hour
	outboxRetention = 7 * 24 * time.Hour
	maxSendAttempts = 5
)

// Dispatcher drains the outbox onto the configured channels. Events for
// disabled triggers, or with no channel at all, are settled as skipped so the
// outbox never grows without bound.
type Dispatcher struct {
	store       *db.Store
	senders     []Sender
	triggers    map[string]struct{}
	timeout     time.Duration
	poll        time.Duration
	retention   time.Duration
	maxAttempts int
}

func NewDispatcher(store *db.Store, senders []Sender, triggers []string) *Dispatcher {
	return &Dispatcher{
		store:       store,
		senders:     senders,
		triggers:    TriggerSet(triggers),
		timeout:     sendTimeout,
		poll:        pollInterval,
		retention:   outboxRetention,
		maxAttempts: maxSendAttempts,
	}
}

// Enqueue writes a terminal event to the outbox for the dispatcher to send.
func Enqueue(ctx context.Context, store *db.Store, payload Payload) (int64, error) {
	encoded, err := payload.Encode()
	if err != nil {
		return 0, err
	}
	return store.EnqueueEvent(ctx, payload.RequestID, payload.Event, encoded)
}

// Run blocks until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) {
	if d.store == nil {
		return
	}
	if n, err := d.store.RequeueInterrupted(ctx); err != nil {
		slog.Warn("notify: requeue interrupted events", "err", err)
	} else if n > 0 {
		slog.Info("notify: requeued interrupted events", "count", n)
	}
	d.housekeep(ctx)

	poll := time.NewTicker(d.poll)
	defer poll.Stop()
	housekeeping := time.NewTicker(housekeepEvery)
	defer housekeeping.Stop()

	for {
		d.drain(ctx, "dispatch")
		select {
		case <-ctx.Done():
			return
		case <-poll.C:
		case <-housekeeping.C:
			d.housekeep(ctx)
		}
	}
}

// Flush delivers whatever is due right now. Used on shutdown once Run has
// returned, with a ctx bounding how long it may take.
func (d *Dispatcher) Flush(ctx context.Context) {
	if d.store != nil {
		d.drain(ctx, "flush")
	}
}

func (d *Dispatcher) drain(ctx context.Context, phase string) {
	for ctx.Err() == nil {
		handled, err := d.deliverNext(ctx)
		if err != nil {
			slog.Warn("notify: "+phase+" failed", "err", err)
		}
		if !handled {
			return
		}
	}
}

// deliverNext claims one due event and settles it. handled is false when the
// outbox had nothing due.
func (d *Dispatcher) deliverNext(ctx context.Context) (handled bool, err error) {
	ev, ok, err := d.store.ClaimEvent(ctx, d.maxAttempts)
	if err != nil || !ok {
		return false, err
	}
	return true, d.deliver(ctx, ev)
}

func (d *Dispatcher) deliver(ctx context.Context, ev db.OutboxEvent) error {
	if reason := d.skipReason(ev); reason != "" {
		return d.store.MarkEventSkipped(ctx, ev.ID, reason)
	}

	payload, err := decodePayload(ev)
	if err != nil {
		return errors.Join(err, d.store.MarkEventFailed(ctx, ev, err.Error()))
	}

	results := SendAll(ctx, d.senders, payload, d.timeout)
	if results.Delivered() == 0 {
		summary := results.Failures("; ")
		if err := d.store.MarkEventFailed(ctx, ev, summary); err != nil {
			return err
		}
		return fmt.Errorf("event %d for %s: %s", ev.ID, tracker.ShortID(ev.RequestID), summary)
	}

	for _, r := range results {
		if !r.Success {
			slog.Warn("notify: channel send failed",
				"channel", r.Channel, "request", tracker.ShortID(ev.RequestID), "event", ev.Kind, "err", r.Error)
		}
	}
	return d.store.MarkEventSent(ctx, ev.ID)
}

func (d *Dispatcher) skipReason(ev db.OutboxEvent) string {
	if len(d.senders) == 0 {
		return "no notification channels configured"
	}
	if _, ok := d.triggers[ev.Kind]; !ok {
		return "trigger disabled"
	}
	return ""
}

// decodePayload rebuilds the stored payload, filling fields that older rows
// may lack from the outbox row itself.
func decodePayload(ev db.OutboxEvent) (Payload, error) {
	var p Payload
	if err := json.Unmarshal([]byte(ev.Payload), &p); err != nil {
		return Payload{}, fmt.Errorf("decode payload of event %d: %w", ev.ID, err)
	}
	p.Event = ev.Kind
	if p.RequestID == "" {
		p.RequestID = ev.RequestID
	}
	if p.Status == "" {
		p.Status = ev.Kind
	}
	if p.Timestamp == "" {
		p.Timestamp = ev.CreatedAt
	}
	return p, nil
}

func (d *Dispatcher) housekeep(ctx context.Context) {
	if n, err := d.store.ExpireEvents(ctx, d.maxAttempts); err != nil {
		slog.Warn("notify: expire events", "err", err)
	} else if n > 0 {
		slog.Info("notify: gave up on events", "count", n)
	}
	if n, err := d.store.PruneEvents(ctx, d.retention); err != nil {
		slog.Warn("notify: prune outbox", "err", err)
	} else if n > 0 {
		slog.Debug("notify: pruned outbox", "count", n)
	}
}
