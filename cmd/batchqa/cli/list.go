package cli

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"batchqa/internal/daemon"
	"batchqa/internal/tracker"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List requests still being tracked",
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	reqs := tracker.NewRequestStore(store).Load(cmd.Context())
	sort.SliceStable(reqs, func(i, j int) bool {
		return reqs[i].CreatedAt.After(reqs[j].CreatedAt)
	})
	running := daemon.IsRunning(cfg.PIDFile)

	if jsonOut {
		printJSON(struct {
			TrackerRunning bool              `json:"tracker_running"`
			Requests       []tracker.Request `json:"requests"`
		}{running, reqs})
		return nil
	}
	writeRequestTable(os.Stdout, reqs, running)
	return nil
}

func writeRequestTable(w io.Writer, reqs []tracker.Request, running bool) {
	state := "stopped"
	if running {
		state = "running"
	}
	fmt.Fprintf(w, "Tracker: %s\n", state)
	if len(reqs) == 0 {
		fmt.Fprintln(w, "No requests in flight.")
		return
	}
	fmt.Fprintf(w, "%-10s %-11s %-6s %-8s %-24s %s\n", "REQUEST", "STATUS", "DONE", "FILES", "JOB", "CREATED")
	fmt.Fprintln(w, strings.Repeat("-", 90))
	for _, r := range reqs {
		job := r.ServerJobID
		if job == "" {
			job = "-"
		}
		fmt.Fprintf(w, "%-10s %-11s %5.0f%% %-8s %-24s %s\n",
			tracker.ShortID(r.ID), r.Status, r.Progress,
			fmt.Sprintf("%d/%d", r.Completed(), r.Total()),
			truncate(job, 24), r.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	}
	fmt.Fprintf(w, "Total: %d requests\n", len(reqs))
	if !running {
		fmt.Fprintln(w, "Run 'batchqa resume' to continue tracking.")
	}
}
