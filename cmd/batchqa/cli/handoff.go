package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"batchqa/internal/config"
	"batchqa/internal/daemon"
)

// Only one process tracks requests at a time. Interactive commands take the
// requests over from the background tracker and hand them back on exit.

const (
	handoffTimeout = 15 * time.Second
	startupGrace   = 500 * time.Millisecond
)

// takeOver stops a background tracker, if any, and opens the runtime here.
func takeOver(cfg *config.Config) (*daemon.Runtime, error) {
	if daemon.IsRunning(cfg.PIDFile) {
		slog.Debug("stopping background tracker", "pid_file", cfg.PIDFile)
		if err := daemon.Stop(cfg.PIDFile, handoffTimeout); err != nil {
			return nil, err
		}
	}
	return daemon.Open(cfg)
}

// handBack closes the runtime and starts a background tracker for whatever
// is still in flight.
func handBack(rt *daemon.Runtime, out io.Writer) error {
	pending := rt.Controller.Active()
	rt.Close()
	if pending == 0 {
		return nil
	}
	fmt.Fprintf(out, "%d request(s) still processing.\n", pending)
	return runBackground(rt.Config)
}

// runDispatcher delivers notifications until the returned func is called.
// Stopping flushes what is left; call it before handBack closes the store.
func runDispatcher(rt *daemon.Runtime) (stop func()) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		rt.Dispatcher.Run(ctx)
	}()
	return func() {
		cancel()
		<-done
		flushCtx, cancelFlush := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelFlush()
		rt.Dispatcher.Flush(flushCtx)
	}
}

func appendLog(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

// logToFile sends slog output to the log file as JSON, keeping the terminal
// for command output.
func logToFile(cfg *config.Config) (closeLog func(), err error) {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.LogFile == "" {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, opts)))
		return func() {}, nil
	}
	f, err := appendLog(cfg.LogFile)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(f, opts)))
	return func() { f.Close() }, nil
}

// runBackground starts `resume --foreground` as a detached child and watches
// it for startupGrace to catch immediate failures.
func runBackground(cfg *config.Config) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}
	args := []string{"resume", "--foreground"}
	if cfgPath != "" {
		args = append(args, "--config", cfgPath)
	}

	logFile, err := appendLog(cfg.LogFile)
	if err != nil {
		return err
	}
	defer logFile.Close()

	child := exec.Command(exe, args...)
	child.Stdout, child.Stderr = logFile, logFile
	child.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := child.Start(); err != nil {
		return fmt.Errorf("start tracker: %w", err)
	}

	// Wait reaps the child; a zombie would still look alive to IsRunning.
	exited := make(chan error, 1)
	go func() { exited <- child.Wait() }()

	select {
	case err := <-exited:
		if err != nil {
			return fmt.Errorf("tracker exited immediately (%v); check logs at %s", err, cfg.LogFile)
		}
		fmt.Printf("Tracker finished all pending requests. Log: %s\n", cfg.LogFile)
	case <-time.After(startupGrace):
		fmt.Printf("Tracker running in background. Log: %s\n", cfg.LogFile)
	}
	return nil
}
