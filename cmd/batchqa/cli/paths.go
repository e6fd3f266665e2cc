package cli

import (
	"fmt"

	"batchqa/internal/config"

	"github.com/spf13/cobra"
)

var pathsCmd = &cobra.Command{
	Use:   "paths",
	Short: "Show where batchqa stores its files",
	RunE:  runPaths,
}

func init() {
	rootCmd.AddCommand(pathsCmd)
}

func runPaths(cmd *cobra.Command, args []string) error {
	configDir, _ := config.ConfigDir()
	dataDir, _ := config.DataDir()
	stateDir, _ := config.StateDir()

	fmt.Printf("Config:  %s\n", configDir)
	fmt.Printf("Data:    %s\n", dataDir)
	fmt.Printf("State:   %s\n", stateDir)
	fmt.Println()

	cfg, err := loadConfig()
	if err != nil {
		return nil // base dirs are still useful
	}

	fmt.Printf("DB:      %s\n", cfg.DBPath)
	fmt.Printf("Log:     %s\n", cfg.LogFile)
	fmt.Printf("PID:     %s\n", cfg.PIDFile)
	return nil
}
