package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"batchqa/internal/batchapi"
	"batchqa/internal/config"
	"batchqa/internal/db"
	"batchqa/internal/httputil"
	"batchqa/internal/notify"
	"batchqa/internal/tracker"
)

const (
	shutdownTimeout = 10 * time.Second
	flushTimeout    = 15 * time.Second
)

// Runtime is the composition root shared by every command that tracks
// requests. It owns the PID file while open.
type Runtime struct {
	Config     *config.Config
	Store      *db.Store
	Client     *batchapi.Client
	Controller *tracker.Controller
	Dispatcher *notify.Dispatcher

	closeOnce sync.Once
}

// Open claims the PID file, opens the database and wires the controller so
// that terminal requests land in the notification outbox.
func Open(cfg *config.Config) (*Runtime, error) {
	if err := Acquire(cfg.PIDFile); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		RemovePID(cfg.PIDFile)
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	store, err := db.Open(cfg.DBPath)
	if err != nil {
		RemovePID(cfg.PIDFile)
		return nil, fmt.Errorf("open db: %w", err)
	}

	client := NewClient(cfg)
	ctrl := tracker.New(client, tracker.NewRequestStore(store), tracker.OptionsFromConfig(cfg))
	rt := &Runtime{
		Config:     cfg,
		Store:      store,
		Client:     client,
		Controller: ctrl,
		Dispatcher: notify.NewDispatcher(store, notify.BuildSenders(cfg.Notifications, nil), cfg.Notifications.Triggers),
	}
	ctrl.OnTerminal(rt.enqueueTerminal)
	return rt, nil
}

// NewClient builds the batch API client from config.
func NewClient(cfg *config.Config) *batchapi.Client {
	retry := httputil.DefaultRetryConfig()
	retry.MaxAttempts = cfg.Polling.MaxRetries + 1
	return batchapi.New(cfg.API.BaseURL, cfg.APITimeout(),
		batchapi.WithToken(cfg.API.Token),
		batchapi.WithRetry(retry),
		batchapi.WithRateLimit(cfg.Polling.MaxRequestsPerSecond),
	)
}

// Close stops tracking, closes the store and releases the PID file. Requests
// still processing stay persisted.
func (rt *Runtime) Close() {
	rt.closeOnce.Do(func() {
		rt.Controller.Shutdown()
		if err := rt.Store.Close(); err != nil {
			slog.Warn("close db", "err", err)
		}
		RemovePID(rt.Config.PIDFile)
	})
}

func (rt *Runtime) enqueueTerminal(r tracker.Request) {
	event := notify.TriggerCompleted
	if r.Status == tracker.StatusFailed {
		event = notify.TriggerFailed
	}
	msg := r.Error
	if r.Status == tracker.StatusCompleted {
		msg = fmt.Sprintf("%d of %d files answered", len(r.Result), r.Total())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := notify.Enqueue(ctx, rt.Store, notify.Payload{
		Event:     event,
		RequestID: r.ID,
		ServerJob: r.ServerJobID,
		Status:    string(r.Status),
		Message:   msg,
		Files:     len(r.FileIDs),
		Prompts:   len(r.Prompts),
		Timestamp: r.UpdatedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		slog.Error("enqueue terminal notification", "request", tracker.ShortID(r.ID), "err", err)
	}
}

// Run resumes every persisted request in the foreground and blocks until all
// of them are terminal or SIGINT/SIGTERM is received.
func Run(cfg *config.Config) error {
	rt, err := Open(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	started, err := rt.Controller.ResumeAll(ctx, cfg.API.UserID)
	if err != nil {
		return fmt.Errorf("resume requests: %w", err)
	}

	dispatchCtx, stopDispatch := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		rt.Dispatcher.Run(dispatchCtx)
	}()

	slog.Info("tracker started", "resumed", started)

	idleErr := rt.Controller.WaitIdle(ctx)
	if idleErr != nil {
		slog.Info("shutdown signal received, stopping...")
		go func() {
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh
			slog.Error("second signal received, forcing exit")
			os.Exit(1)
		}()
	} else {
		slog.Info("all requests reached a terminal state")
	}

	done := make(chan struct{})
	go func() {
		rt.Controller.Shutdown()
		stopDispatch()
		wg.Wait()
		flushCtx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()
		rt.Dispatcher.Flush(flushCtx)
		close(done)
	}()

	select {
	case <-done:
		slog.Info("tracker stopped")
	case <-time.After(shutdownTimeout + flushTimeout):
		slog.Error("shutdown timed out, forcing exit")
		os.Exit(1)
	}
	return nil
}
