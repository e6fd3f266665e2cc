package cli

import (
	"fmt"

	"batchqa/internal/tui"

	"github.com/spf13/cobra"
)

var showWidth int

var showCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show the answers of a finished job",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

func init() {
	showCmd.Flags().IntVar(&showWidth, "width", 100, "word wrap width")
	rootCmd.AddCommand(showCmd)
}

func runShow(cmd *cobra.Command, args []string) error {
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
	for _, item := range ctrl.History() {
		if item.JobID != args[0] {
			continue
		}
		if jsonOut {
			printJSON(item)
			return nil
		}
		fmt.Println(tui.RenderAnswers(item, showWidth))
		return nil
	}
	return fmt.Errorf("job %s not found in history", args[0])
}
