package cli

import (
	"fmt"

	"batchqa/internal/daemon"

	"github.com/spf13/cobra"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the background tracker",
	Long:  "Stops the background tracker. In-flight requests stay persisted and continue on the next 'batchqa resume'.",
	RunE:  runStop,
}

func init() {
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	pid, err := daemon.ReadPID(cfg.PIDFile)
	if err != nil || !daemon.IsRunning(cfg.PIDFile) {
		return fmt.Errorf("tracker not running")
	}

	fmt.Printf("Stopping tracker (pid %d)...\n", pid)
	return daemon.Stop(cfg.PIDFile, handoffTimeout)
}
