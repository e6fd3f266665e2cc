package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"batchqa/internal/batchapi"
	"batchqa/internal/httputil"
)

const unmatchedWarnAfter = 30

// track runs the create call (for new submissions), then the poll loop and
// estimator ticks for one request until it is terminal or ctx is done.
func (c *Controller) track(ctx context.Context, id string, create bool) {
	firstPoll := time.Duration(0)
	if create {
		if !c.createRemote(ctx, id) {
			return
		}
		firstPoll = c.opts.PollInterval
	}

	ticker := time.NewTicker(c.opts.TickInterval)
	defer ticker.Stop()
	timer := time.NewTimer(firstPoll)
	defer timer.Stop()

	p := poller{c: c, id: id}
	for {
		select {
		case <-ctx.Done():
			slog.Debug("tracker: tracking stopped", "request", ShortID(id))
			return
		case <-ticker.C:
			c.tick(id)
		case <-timer.C:
			delay, done := p.poll(ctx)
			if done {
				return
			}
			timer.Reset(delay)
		}
	}
}

func (c *Controller) createRemote(ctx context.Context, id string) bool {
	req, ok := c.Get(id)
	if !ok {
		c.markSubmitted(id, ErrNotFound)
		return false
	}

	resp, err := c.api.CreateJob(ctx, req.UserID, req.FileIDs, req.Prompts)
	if err != nil {
		c.markSubmitted(id, err)
		if ctx.Err() != nil {
			// Teardown: stays processing and persisted for the next resume.
			return false
		}
		c.finish(id, StatusFailed, nil, fmt.Sprintf("submission failed: %v", err))
		return false
	}

	if resp.JobID != "" {
		c.update(func(reqs []Request) []Request {
			if i := indexOf(reqs, id); i >= 0 && reqs[i].ServerJobID == "" {
				reqs[i].ServerJobID = resp.JobID
				reqs[i].UpdatedAt = c.now()
			}
			return reqs
		})
	}
	slog.Debug("tracker: create call returned", "request", ShortID(id), "server_job", resp.JobID)
	c.markSubmitted(id, nil)
	return true
}

func (c *Controller) tick(id string) {
	c.update(func(reqs []Request) []Request {
		if i := indexOf(reqs, id); i >= 0 {
			reqs[i].Progress = c.est.Tick(reqs[i])
		}
		return reqs
	})
}

// poller holds the per-request retry and no-match counters.
type poller struct {
	c         *Controller
	id        string
	failures  int
	unmatched int
}

// poll runs one status cycle and returns the delay before the next one.
func (p *poller) poll(ctx context.Context) (time.Duration, bool) {
	c := p.c
	req, ok := c.Get(p.id)
	if !ok || req.Status.Terminal() {
		return 0, true
	}

	snap, err := c.api.QueueStatus(ctx, req.UserID)
	if err != nil {
		if ctx.Err() != nil {
			return 0, true
		}
		p.failures++
		if p.failures > c.opts.MaxRetries {
			c.finish(p.id, StatusFailed, nil, fmt.Sprintf("status polling failed after %d attempts: %v", p.failures, err))
			return 0, true
		}
		delay := httputil.LinearDelay(c.opts.RetryBaseDelay, p.failures)
		slog.Warn("tracker: status poll failed, retrying",
			"request", ShortID(p.id), "attempt", p.failures, "retry_in", delay, "err", err)
		return delay, false
	}
	p.failures = 0
	c.setSnapshot(snap)

	switch c.reconcile(p.id, snap.Items()) {
	case outcomeTerminal:
		return 0, true
	case outcomeNoMatch:
		p.unmatched++
		if p.unmatched == unmatchedWarnAfter {
			slog.Warn("tracker: request not yet visible in server queue", "request", ShortID(p.id), "polls", p.unmatched)
		}
		if c.opts.MaxUnmatchedPolls > 0 && p.unmatched > c.opts.MaxUnmatchedPolls {
			c.finish(p.id, StatusFailed, nil,
				fmt.Sprintf("no matching job in server queue after %d polls", p.unmatched))
			return 0, true
		}
	default:
		p.unmatched = 0
	}
	return c.opts.PollInterval, false
}

type outcome int

const (
	outcomePending outcome = iota
	outcomeNoMatch
	outcomeTerminal
)

// reconcile matches the request against items and applies what it finds.
// Matching and claiming an item happen under one lock so two requests cannot
// adopt the same item, whether or not it carries a job id.
func (c *Controller) reconcile(id string, items []batchapi.QueueItem) outcome {
	c.mu.Lock()
	i := indexOf(c.requests, id)
	if i < 0 || c.requests[i].Status.Terminal() {
		c.mu.Unlock()
		return outcomeTerminal
	}
	req := c.requests[i]

	claimed := make(map[string]bool, len(c.claims)+len(c.requests))
	for key, owner := range c.claims {
		if owner != id {
			claimed[key] = true
		}
	}
	for _, r := range c.requests {
		if r.ID != id && r.ServerJobID != "" {
			claimed[r.ServerJobID] = true
		}
	}

	item, ok := Match(req, items, claimed)
	if !ok {
		c.mu.Unlock()
		return outcomeNoMatch
	}
	// A request holds one claim; moving to a newer candidate frees the old one.
	for key, owner := range c.claims {
		if owner == id {
			delete(c.claims, key)
		}
	}
	c.claims[ClaimKey(item)] = id

	switch item.Status {
	case batchapi.StatusSuccess:
		final, done := c.finishLocked(id, StatusCompleted, &item, "")
		c.mu.Unlock()
		if done {
			c.afterTerminal(final)
		}
		return outcomeTerminal
	case batchapi.StatusError:
		msg := item.Error
		if msg == "" {
			msg = "batch job failed on server"
		}
		final, done := c.finishLocked(id, StatusFailed, &item, msg)
		c.mu.Unlock()
		if done {
			c.afterTerminal(final)
		}
		return outcomeTerminal
	}

	c.updateLocked(func(reqs []Request) []Request {
		r := &reqs[i]
		if r.ServerJobID == "" && item.JobID != "" {
			r.ServerJobID = item.JobID
		}
		total := item.Total()
		if total > 0 {
			r.TotalFiles = intPtr(total)
		}
		completed := item.Completed()
		if completed > r.Completed() {
			r.CompletedFiles = intPtr(completed)
		} else if r.CompletedFiles == nil {
			r.CompletedFiles = intPtr(completed)
		}
		r.Progress = Confirm(r.Progress, r.Completed(), r.Total())
		r.UpdatedAt = c.now()
		return reqs
	})
	c.mu.Unlock()
	return outcomePending
}
