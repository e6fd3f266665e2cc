package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"batchqa/internal/tracker"

	"github.com/spf13/cobra"
)

var (
	submitFiles   []string
	submitPrompts []string
	submitWait    bool
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit prompts over uploaded files as a batch job",
	Long: "Creates a batch job for the given file ids and prompts. Without --wait the command returns once the job is accepted " +
		"and a background tracker follows it to completion.",
	RunE: runSubmit,
}

func init() {
	submitCmd.Flags().StringSliceVarP(&submitFiles, "file", "f", nil, "uploaded file id (repeatable)")
	submitCmd.Flags().StringArrayVarP(&submitPrompts, "prompt", "p", nil, "prompt to ask about every file (repeatable)")
	submitCmd.Flags().BoolVarP(&submitWait, "wait", "w", false, "stay attached and show progress until the job finishes")
	rootCmd.AddCommand(submitCmd)
}

type submitOutput struct {
	RequestID string           `json:"request_id"`
	Status    string           `json:"status"`
	Request   *tracker.Request `json:"request,omitempty"`
	Error     string           `json:"error,omitempty"`
}

func runSubmit(cmd *cobra.Command, args []string) error {
	files, prompts, err := normalizeSubmitInput(submitFiles, submitPrompts)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	userID, err := requireUser(cfg)
	if err != nil {
		return err
	}

	rt, err := takeOver(cfg)
	if err != nil {
		return err
	}
	stopDispatch := runDispatcher(rt)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if submitWait {
		_, err = rt.Controller.ResumeAll(ctx, userID)
	} else {
		_, err = rt.Controller.Restore(ctx)
	}
	if err != nil {
		stopDispatch()
		rt.Close()
		return err
	}

	id, err := rt.Controller.Submit(ctx, userID, prompts, files)
	if err != nil {
		stopDispatch()
		rt.Close()
		return err
	}

	var runErr error
	if submitWait {
		runErr = waitWithProgress(ctx, rt.Controller, id)
	} else {
		runErr = rt.Controller.AwaitSubmitted(ctx, id)
		if runErr == nil {
			r, _ := rt.Controller.Get(id)
			if jsonOut {
				printJSON(submitOutput{RequestID: id, Status: string(r.Status)})
			} else {
				fmt.Printf("Submitted request %s (%d files, %d prompts)\n", tracker.ShortID(id), len(files), len(prompts))
				if r.ServerJobID != "" {
					fmt.Printf("Server job: %s\n", r.ServerJobID)
				}
			}
		}
	}

	stopDispatch()
	if err := handBack(rt, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
	return runErr
}

// normalizeSubmitInput trims inputs and drops empties. Files are required;
// prompts must be non-empty after trimming.
func normalizeSubmitInput(files, prompts []string) ([]string, []string, error) {
	outFiles := make([]string, 0, len(files))
	for _, f := range files {
		if f = strings.TrimSpace(f); f != "" {
			outFiles = append(outFiles, f)
		}
	}
	outPrompts := make([]string, 0, len(prompts))
	for _, p := range prompts {
		if p = strings.TrimSpace(p); p != "" {
			outPrompts = append(outPrompts, p)
		}
	}
	if len(outFiles) == 0 {
		return nil, nil, fmt.Errorf("at least one --file is required")
	}
	if len(outPrompts) == 0 {
		return nil, nil, fmt.Errorf("at least one --prompt is required")
	}
	return outFiles, outPrompts, nil
}

func waitWithProgress(ctx context.Context, ctrl *tracker.Controller, id string) error {
	done := make(chan struct{})
	var final tracker.Request
	var waitErr error
	go func() {
		defer close(done)
		final, waitErr = ctrl.Wait(ctx, id)
	}()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	last := ""
	for {
		select {
		case <-done:
			if !jsonOut && last != "" {
				fmt.Println()
			}
			return reportFinal(id, final, waitErr)
		case <-ticker.C:
			if jsonOut {
				continue
			}
			r, ok := ctrl.Get(id)
			if !ok {
				continue
			}
			if line := progressLine(r); line != last {
				fmt.Printf("\r%s", line)
				last = line
			}
		}
	}
}

func reportFinal(id string, final tracker.Request, err error) error {
	if err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "Interrupted; the request stays queued for the background tracker.")
			return nil
		}
		return err
	}
	if jsonOut {
		out := submitOutput{RequestID: id, Status: string(final.Status), Request: &final}
		if final.Status == tracker.StatusFailed {
			out.Error = final.Error
		}
		printJSON(out)
	} else {
		fmt.Println(progressLine(final))
		if final.Status == tracker.StatusCompleted {
			fmt.Printf("Results for %d file(s). Run 'batchqa show %s' to read them.\n", len(final.Result), final.ServerJobID)
		}
	}
	if final.Status == tracker.StatusFailed {
		return fmt.Errorf("request %s failed: %s", tracker.ShortID(id), final.Error)
	}
	return nil
}

// progressLine renders one request as a single status line.
func progressLine(r tracker.Request) string {
	const width = 20
	filled := int(r.Progress / 100 * width)
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	bar := strings.Repeat("#", filled) + strings.Repeat(".", width-filled)
	return fmt.Sprintf("%s [%s] %3.0f%% %d/%d files  %s",
		tracker.ShortID(r.ID), bar, r.Progress, r.Completed(), r.Total(), r.Status)
}
