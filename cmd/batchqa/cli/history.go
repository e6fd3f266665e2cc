package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"batchqa/internal/batchapi"
	"batchqa/internal/config"
	"batchqa/internal/daemon"
	"batchqa/internal/tracker"

	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List finished jobs reported by the server",
	RunE:  runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
}

// openRemote builds a controller for server-side reads and deletes. It does
// not claim the PID file and never tracks requests.
func openRemote(cfg *config.Config) (*tracker.Controller, func(), error) {
	store, err := openStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	ctrl := tracker.New(daemon.NewClient(cfg), tracker.NewRequestStore(store), tracker.OptionsFromConfig(cfg))
	return ctrl, func() {
		ctrl.Shutdown()
		store.Close()
	}, nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	userID, err := requireUser(cfg)
	if err != nil {
		return err
	}
	ctrl, closeFn, err := openRemote(cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := ctrl.RefreshHistory(cmd.Context(), userID); err != nil {
		return err
	}
	items := ctrl.History()
	if jsonOut {
		printJSON(items)
		return nil
	}
	writeHistoryTable(os.Stdout, items)
	return nil
}

func writeHistoryTable(w io.Writer, items []batchapi.QueueItem) {
	if len(items) == 0 {
		fmt.Fprintln(w, "No finished jobs.")
		return
	}
	fmt.Fprintf(w, "%-24s %-6s %-8s %-20s %s\n", "JOB", "FILES", "PROMPTS", "FINISHED", "FIRST PROMPT")
	fmt.Fprintln(w, strings.Repeat("-", 100))
	for _, item := range items {
		when := "-"
		if !item.Timestamp.IsZero() {
			when = item.Timestamp.Local().Format("2006-01-02 15:04:05")
		}
		first := ""
		if len(item.PromptList) > 0 {
			first = item.PromptList[0]
		}
		fmt.Fprintf(w, "%-24s %-6d %-8d %-20s %s\n",
			truncate(item.JobID, 24), item.Total(), len(item.PromptList), when, truncate(first, 40))
	}
	fmt.Fprintf(w, "Total: %d jobs\n", len(items))
}
