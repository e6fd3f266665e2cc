package cli

import (
	"context"
	"fmt"
	"os"

	"batchqa/internal/tui"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Open the live dashboard",
	Long:  "Takes over tracking from the background tracker, shows live progress and history, and hands tracking back on exit.",
	RunE:  runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	userID, err := requireUser(cfg)
	if err != nil {
		return err
	}

	closeLog, err := logToFile(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	rt, err := takeOver(cfg)
	if err != nil {
		return err
	}
	stopDispatch := runDispatcher(rt)

	if _, err := rt.Controller.ResumeAll(context.Background(), userID); err != nil {
		stopDispatch()
		rt.Close()
		return err
	}

	p := tea.NewProgram(tui.NewModel(rt.Controller, userID), tea.WithAltScreen())
	_, runErr := p.Run()

	stopDispatch()
	if err := handBack(rt, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
	if runErr != nil {
		return fmt.Errorf("tui: %w", runErr)
	}
	return nil
}
