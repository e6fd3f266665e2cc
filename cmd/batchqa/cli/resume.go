package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"batchqa/internal/config"
	"batchqa/internal/daemon"
	"batchqa/internal/tracker"

	"github.com/spf13/cobra"
)

var foreground bool

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume tracking of persisted in-flight requests",
	Long:  "Starts a tracker for every request still processing from a previous run. Runs in the background unless --foreground is set.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return defaultResume.run(cfg, foreground, os.Stdout)
	},
}

func init() {
	resumeCmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "run in the foreground instead of detaching")
	rootCmd.AddCommand(resumeCmd)
}

// resumePlan decides how a resume runs. Fields are swapped out in tests.
type resumePlan struct {
	running    func(pidFile string) bool
	pending    func(*config.Config) (int, error)
	foreground func(*config.Config) error
	background func(*config.Config) error
}

var defaultResume = resumePlan{
	running:    daemon.IsRunning,
	pending:    pendingRequests,
	foreground: runForeground,
	background: runBackground,
}

func (p resumePlan) run(cfg *config.Config, inForeground bool, out io.Writer) error {
	if p.running(cfg.PIDFile) {
		return fmt.Errorf("tracker is already running (see %s)", cfg.PIDFile)
	}
	if inForeground {
		return p.foreground(cfg)
	}

	n, err := p.pending(cfg)
	switch {
	case err != nil:
		return err
	case n == 0:
		fmt.Fprintln(out, "Nothing to resume.")
		return nil
	}
	return p.background(cfg)
}

// pendingRequests counts persisted requests that are still processing.
func pendingRequests(cfg *config.Config) (int, error) {
	store, err := openStore(cfg)
	if err != nil {
		return 0, err
	}
	defer store.Close()
	return len(tracker.NewRequestStore(store).Load(context.Background())), nil
}

// runForeground runs the tracker in this process with logs going to the
// log file.
func runForeground(cfg *config.Config) error {
	closeLog, err := logToFile(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	fmt.Println("Resuming batchqa tracker in foreground...")
	return daemon.Run(cfg)
}
