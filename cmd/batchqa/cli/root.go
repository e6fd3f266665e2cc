package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"batchqa/internal/config"
	"batchqa/internal/db"

	"github.com/spf13/cobra"
)

var (
	cfgPath string
	verbose bool
	jsonOut bool
	version = config.Version
	commit  = "unknown"
)

// localConfigName is picked up from the working directory before the global
// config.
const localConfigName = "batchqa.toml"

var errNoConfig = errors.New("no config file found. Run 'batchqa init' to set up batchqa")

var rootCmd = &cobra.Command{
	Use:               "batchqa",
	Short:             "batchqa: submit and track batch question-answering jobs",
	Long:              "batchqa submits prompts over uploaded files to a batch QA backend, tracks each job until it finishes, and keeps tracking across restarts.",
	Version:           fmt.Sprintf("%s (%s)", version, commit),
	PersistentPreRun:  func(*cobra.Command, []string) { setupLogging() },
	SilenceUsage:      true,
	SilenceErrors:     true,
	CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&cfgPath, "config", "c", "", "config file path")
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	flags.BoolVar(&jsonOut, "json", false, "output JSON")
}

// setupLogging installs the terminal logger. Commands that run the tracker
// replace it with logToFile.
func setupLogging() {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if verbose {
		opts.Level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, opts)))
}

func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	return err
}

// resolveConfigPath returns the first of: the --config flag, ./batchqa.toml,
// the global config.
func resolveConfigPath() (string, error) {
	if cfgPath != "" {
		return cfgPath, nil
	}
	candidates := []string{localConfigName}
	if global, err := config.GlobalConfigPath(); err == nil {
		candidates = append(candidates, global)
	}
	for _, p := range candidates {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, nil
		}
	}
	return "", errNoConfig
}

func loadConfig() (*config.Config, error) {
	path, err := resolveConfigPath()
	if err != nil {
		return nil, err
	}
	return config.Load(path)
}

func openStore(cfg *config.Config) (*db.Store, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	// Stale -wal/-shm files next to a missing database would be replayed
	// into the new one.
	if _, err := os.Stat(cfg.DBPath); errors.Is(err, os.ErrNotExist) {
		for _, suffix := range []string{"-wal", "-shm"} {
			_ = os.Remove(cfg.DBPath + suffix)
		}
	}
	return db.Open(cfg.DBPath)
}

func requireUser(cfg *config.Config) (string, error) {
	if cfg.API.UserID == "" {
		return "", fmt.Errorf("no user id configured; set api.user_id or BATCHQA_USER_ID")
	}
	return cfg.API.UserID, nil
}

// printJSON writes v to stdout as indented JSON for --json output.
func printJSON(v any) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		slog.Error("encode json output", "err", err)
		return
	}
	fmt.Println(string(out))
}

// truncate shortens s to n runes, marking the cut with "...".
func truncate(s string, n int) string {
	r := []rune(s)
	switch {
	case len(r) <= n:
		return s
	case n <= 3:
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
