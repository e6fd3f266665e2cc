package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"batchqa/internal/batchapi"
	"batchqa/internal/config"
	"batchqa/internal/worker"
)

// ErrClosed is returned once Shutdown has been called.
var ErrClosed = errors.New("tracker is shut down")

// API is the remote batch-jobs contract. *batchapi.Client implements it.
type API interface {
	CreateJob(ctx context.Context, userID string, fileIDs, prompts []string) (batchapi.CreateResponse, error)
	QueueStatus(ctx context.Context, userID string) (batchapi.StatusResponse, error)
	DeleteJob(ctx context.Context, userID, jobID string) (batchapi.DeleteResponse, error)
}

type Options struct {
	PollInterval      time.Duration
	RetryBaseDelay    time.Duration
	MaxRetries        int
	MaxUnmatchedPolls int // 0 disables the bound
	TickInterval      time.Duration
	Step              float64
	GracePeriod       time.Duration
}

func DefaultOptions() Options {
	return Options{
		PollInterval:      2 * time.Second,
		RetryBaseDelay:    2 * time.Second,
		MaxRetries:        3,
		MaxUnmatchedPolls: 900,
		TickInterval:      500 * time.Millisecond,
		Step:              1,
		GracePeriod:       5 * time.Second,
	}
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		PollInterval:      cfg.PollInterval(),
		RetryBaseDelay:    cfg.RetryBaseDelay(),
		MaxRetries:        cfg.Polling.MaxRetries,
		MaxUnmatchedPolls: cfg.Polling.MaxUnmatchedPolls,
		TickInterval:      cfg.TickInterval(),
		Step:              cfg.Progress.Step,
		GracePeriod:       cfg.GracePeriod(),
	}
}

// TerminalFunc observes a request reaching completed or failed.
type TerminalFunc func(Request)

// Controller owns the in-memory request collection and one tracking task per
// in-flight request. It is safe for concurrent use.
type Controller struct {
	api   API
	store *RequestStore
	opts  Options
	est   Estimator
	pool  *worker.Pool
	now   func() time.Time

	mu         sync.Mutex
	requests   []Request
	persisted  string
	claims     map[string]string // ClaimKey -> owning request id
	snapshot   batchapi.StatusResponse
	onTerminal TerminalFunc
	waiters    map[string]*waiter
	graces     map[string]*time.Timer
	closed     bool
	closedCh   chan struct{}
	shutdown   sync.Once
}

type waiter struct {
	submitted chan struct{}
	submitErr error
	done      chan struct{}
	final     Request
}

func newWaiter(submitted bool) *waiter {
	w := &waiter{submitted: make(chan struct{}), done: make(chan struct{})}
	if submitted {
		close(w.submitted)
	}
	return w
}

func New(api API, store *RequestStore, opts Options) *Controller {
	def := DefaultOptions()
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = def.RetryBaseDelay
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = def.TickInterval
	}
	if opts.GracePeriod < 0 {
		opts.GracePeriod = 0
	}
	return &Controller{
		api:      api,
		store:    store,
		opts:     opts,
		est:      Estimator{Step: opts.Step},
		pool:     worker.NewPool(context.Background()),
		now:      time.Now,
		claims:   make(map[string]string),
		waiters:  make(map[string]*waiter),
		graces:   make(map[string]*time.Timer),
		closedCh: make(chan struct{}),
	}
}

// OnTerminal sets the single terminal observer. A later call replaces the
// earlier one; passing nil clears it. The callback runs on the request's
// tracking goroutine and must not block for long.
func (c *Controller) OnTerminal(fn TerminalFunc) {
	c.mu.Lock()
	c.onTerminal = fn
	c.mu.Unlock()
}

// Submit records a new request and starts tracking it in the background.
// The create call happens asynchronously; use AwaitSubmitted to observe it.
func (c *Controller) Submit(ctx context.Context, userID string, prompts, fileIDs []string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		slog.Warn("tracker: submit rejected", "err", ErrMissingUser)
		return "", &SubmissionError{Err: ErrMissingUser}
	}
	if len(fileIDs) == 0 {
		slog.Warn("tracker: submit rejected", "err", ErrNoFiles)
		return "", &SubmissionError{Err: ErrNoFiles}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	req := newRequest(userID, prompts, fileIDs, c.now())

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", ErrClosed
	}
	c.waiters[req.ID] = newWaiter(false)
	c.updateLocked(func(reqs []Request) []Request {
		return append(reqs, req)
	})
	c.mu.Unlock()

	slog.Info("tracker: request submitted", "request", ShortID(req.ID), "files", len(fileIDs), "prompts", len(prompts))
	c.start(req.ID, true)
	return req.ID, nil
}

// Restore loads persisted in-flight requests into memory without tracking
// them. It returns the number of requests added.
func (c *Controller) Restore(ctx context.Context) (int, error) {
	ids, err := c.adoptPersisted(ctx, "")
	return len(ids), err
}

// ResumeAll loads persisted in-flight requests and starts a tracking task
// for every processing request that does not already have one. userID is
// used for requests saved without an owner. It returns the number of tasks
// started.
func (c *Controller) ResumeAll(ctx context.Context, userID string) (int, error) {
	if _, err := c.adoptPersisted(ctx, userID); err != nil {
		return 0, err
	}

	c.mu.Lock()
	ids := make([]string, 0, len(c.requests))
	for _, r := range c.requests {
		if r.Status == StatusProcessing {
			ids = append(ids, r.ID)
		}
	}
	c.mu.Unlock()

	started := 0
	for _, id := range ids {
		if c.start(id, false) {
			started++
		}
	}
	if started > 0 {
		slog.Info("tracker: resumed requests", "count", started)
	}
	return started, nil
}

func (c *Controller) adoptPersisted(ctx context.Context, userID string) ([]string, error) {
	loaded := c.store.Load(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}

	known := make(map[string]bool, len(c.requests))
	for _, r := range c.requests {
		known[r.ID] = true
	}
	added := make([]Request, 0, len(loaded))
	for _, r := range loaded {
		if known[r.ID] {
			continue
		}
		if r.UserID == "" {
			r.UserID = userID
		}
		known[r.ID] = true
		added = append(added, r)
	}
	if len(added) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(added))
	for _, r := range added {
		c.waiters[r.ID] = newWaiter(true)
		ids = append(ids, r.ID)
	}
	c.updateLocked(func(reqs []Request) []Request {
		return append(reqs, added...)
	})
	return ids, nil
}

// Requests returns a copy of the current collection, including terminal
// requests still inside their grace period.
func (c *Controller) Requests() []Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneAll(c.requests)
}

// Get returns a copy of one request.
func (c *Controller) Get(id string) (Request, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := indexOf(c.requests, id); i >= 0 {
		return c.requests[i].Clone(), true
	}
	return Request{}, false
}

// Active counts requests that are still processing.
func (c *Controller) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, r := range c.requests {
		if r.Status == StatusProcessing {
			n++
		}
	}
	return n
}

// History returns the successful items of the most recent queue snapshot,
// newest first.
func (c *Controller) History() []batchapi.QueueItem {
	c.mu.Lock()
	items := c.snapshot.Items()
	c.mu.Unlock()

	out := make([]batchapi.QueueItem, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		if item.Status != batchapi.StatusSuccess {
			continue
		}
		if item.JobID != "" {
			if seen[item.JobID] {
				continue
			}
			seen[item.JobID] = true
		}
		out = append(out, item)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp.Time)
	})
	return out
}

// RefreshHistory fetches a fresh queue snapshot.
func (c *Controller) RefreshHistory(ctx context.Context, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return ErrMissingUser
	}
	snap, err := c.api.QueueStatus(ctx, userID)
	if err != nil {
		return fmt.Errorf("refresh history: %w", err)
	}
	c.setSnapshot(snap)
	return nil
}

// DeleteJob deletes a server-side job. On success the item is dropped from
// the cached snapshot and the snapshot is refetched. On failure nothing
// local changes.
func (c *Controller) DeleteJob(ctx context.Context, userID, jobID string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", ErrMissingUser
	}
	resp, err := c.api.DeleteJob(ctx, userID, jobID)
	if err != nil {
		return "", fmt.Errorf("delete job %s: %w", jobID, err)
	}

	c.mu.Lock()
	c.snapshot.CurrentQueue = dropJob(c.snapshot.CurrentQueue, jobID)
	c.snapshot.History = dropJob(c.snapshot.History, jobID)
	c.mu.Unlock()
	slog.Info("tracker: job deleted", "server_job", jobID)

	if err := c.RefreshHistory(ctx, userID); err != nil {
		slog.Warn("tracker: resync after delete failed", "server_job", jobID, "err", err)
	}
	return resp.Message, nil
}

// Wait blocks until the request reaches a terminal status and returns its
// final state.
func (c *Controller) Wait(ctx context.Context, id string) (Request, error) {
	c.mu.Lock()
	w, ok := c.waiters[id]
	c.mu.Unlock()
	if !ok {
		return Request{}, ErrNotFound
	}
	select {
	case <-w.done:
		return w.final.Clone(), nil
	case <-c.closedCh:
		return Request{}, ErrClosed
	case <-ctx.Done():
		return Request{}, ctx.Err()
	}
}

// AwaitSubmitted blocks until the create call for id has returned. It
// returns the create error, if any.
func (c *Controller) AwaitSubmitted(ctx context.Context, id string) error {
	c.mu.Lock()
	w, ok := c.waiters[id]
	c.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	select {
	case <-w.submitted:
		return w.submitErr
	case <-c.closedCh:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitIdle blocks until every tracking task has returned.
func (c *Controller) WaitIdle(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.pool.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops every tracking task and pending grace timer. Requests still
// processing stay persisted for the next ResumeAll.
func (c *Controller) Shutdown() {
	c.shutdown.Do(func() {
		c.mu.Lock()
		c.closed = true
		for id, t := range c.graces {
			t.Stop()
			delete(c.graces, id)
		}
		close(c.closedCh)
		c.mu.Unlock()

		c.pool.Stop()
	})
}

func (c *Controller) start(id string, create bool) bool {
	return c.pool.Go(id, func(ctx context.Context) {
		c.track(ctx, id, create)
	}, func(r any) {
		c.markSubmitted(id, fmt.Errorf("tracking panic: %v", r))
		c.finish(id, StatusFailed, nil, fmt.Sprintf("internal error: %v", r))
	})
}

// update applies fn to a copy of the collection and installs the result.
func (c *Controller) update(fn func([]Request) []Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updateLocked(fn)
}

// updateLocked persists the processing subset when it changed. Save errors
// are logged; the in-memory state stays authoritative.
func (c *Controller) updateLocked(fn func([]Request) []Request) {
	next := fn(cloneAll(c.requests))
	c.requests = next

	key := persistKey(next)
	if key == c.persisted {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.store.Save(ctx, next); err != nil {
		slog.Error("tracker: persist requests", "err", err)
		return
	}
	c.persisted = key
}

func (c *Controller) markSubmitted(id string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.waiters[id]
	if !ok {
		return
	}
	select {
	case <-w.submitted:
	default:
		w.submitErr = err
		close(w.submitted)
	}
}

// finish moves a processing request to a terminal status exactly once.
func (c *Controller) finish(id string, status Status, item *batchapi.QueueItem, msg string) {
	c.mu.Lock()
	final, ok := c.finishLocked(id, status, item, msg)
	c.mu.Unlock()
	if ok {
		c.afterTerminal(final)
	}
}

func (c *Controller) finishLocked(id string, status Status, item *batchapi.QueueItem, msg string) (Request, bool) {
	i := indexOf(c.requests, id)
	if i < 0 || c.requests[i].Status.Terminal() {
		return Request{}, false
	}

	var final Request
	c.updateLocked(func(reqs []Request) []Request {
		r := &reqs[i]
		r.Status = status
		r.UpdatedAt = c.now()
		r.Error = msg
		if item != nil {
			if r.ServerJobID == "" {
				r.ServerJobID = item.JobID
			}
			r.TotalFiles = intPtr(item.Total())
			r.CompletedFiles = intPtr(item.Completed())
		}
		if status == StatusCompleted {
			r.Progress = 100
			r.CompletedFiles = intPtr(r.Total())
			if item != nil {
				r.Result = item.ResultsByFile
			}
		}
		final = r.Clone()
		return reqs
	})
	if final.ServerJobID != "" {
		c.claims[final.ServerJobID] = final.ID
	}
	return final, true
}

func (c *Controller) afterTerminal(final Request) {
	if final.Status == StatusCompleted {
		slog.Info("tracker: request completed", "request", ShortID(final.ID), "server_job", final.ServerJobID, "files", len(final.Result))
	} else {
		slog.Warn("tracker: request failed", "request", ShortID(final.ID), "server_job", final.ServerJobID, "err", final.Error)
	}

	c.mu.Lock()
	cb := c.onTerminal
	c.mu.Unlock()
	if cb != nil {
		cb(final.Clone())
	}

	// Waiters are released after the observer so Wait implies notified.
	c.mu.Lock()
	if w, ok := c.waiters[final.ID]; ok {
		w.final = final
		close(w.done)
	}
	if !c.closed {
		id := final.ID
		c.graces[id] = time.AfterFunc(c.opts.GracePeriod, func() { c.remove(id) })
	}
	c.mu.Unlock()
}

// remove drops a terminal request from memory after its grace period.
func (c *Controller) remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.graces, id)
	if c.closed {
		return
	}
	delete(c.waiters, id)
	c.updateLocked(func(reqs []Request) []Request {
		out := reqs[:0]
		for _, r := range reqs {
			if r.ID != id {
				out = append(out, r)
			}
		}
		return out
	})
}

func (c *Controller) setSnapshot(snap batchapi.StatusResponse) {
	c.mu.Lock()
	c.snapshot = snap
	c.mu.Unlock()
}

func indexOf(reqs []Request, id string) int {
	for i, r := range reqs {
		if r.ID == id {
			return i
		}
	}
	return -1
}

func dropJob(items []batchapi.QueueItem, jobID string) []batchapi.QueueItem {
	out := make([]batchapi.QueueItem, 0, len(items))
	for _, item := range items {
		if item.JobID != jobID {
			out = append(out, item)
		}
	}
	return out
}
