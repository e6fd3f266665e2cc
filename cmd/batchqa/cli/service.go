package cli

import (
	"fmt"
	"io"
	"os"
	"runtime"

	"batchqa/internal/config"
	"batchqa/internal/service"

	"github.com/spf13/cobra"
)

var (
	servicePlatform  = runtime.GOOS
	serviceInstall   = service.Install
	serviceUninstall = service.Uninstall
	serviceStatus    = service.Status
)

var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Resume tracking automatically at login (macOS launchd)",
}

func init() {
	serviceCmd.AddCommand(&cobra.Command{
		Use:   "install",
		Short: "Install the login agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServiceInstall(os.Stdout)
		},
	})
	serviceCmd.AddCommand(&cobra.Command{
		Use:   "uninstall",
		Short: "Remove the login agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireLaunchd(); err != nil {
				return err
			}
			if err := serviceUninstall(); err != nil {
				return err
			}
			fmt.Println("Login agent removed.")
			return nil
		},
	})
	serviceCmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show login agent status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServiceStatus(os.Stdout)
		},
	})
	rootCmd.AddCommand(serviceCmd)
}

func requireLaunchd() error {
	if servicePlatform != "darwin" {
		return fmt.Errorf("service management is only supported on macOS (launchd); current platform is %s", servicePlatform)
	}
	return nil
}

func runServiceInstall(out io.Writer) error {
	if err := requireLaunchd(); err != nil {
		return err
	}
	path, err := resolveConfigPath()
	if err != nil {
		return err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := serviceInstall(cfg, path); err != nil {
		return err
	}
	fmt.Fprintf(out, "Login agent installed (%s). Log: %s\n", service.LaunchdLabel, cfg.LogFile)
	return nil
}

func runServiceStatus(out io.Writer) error {
	if err := requireLaunchd(); err != nil {
		return err
	}
	cfg, _ := loadConfig()
	status, err := serviceStatus(cfg)
	if err != nil {
		return err
	}
	if jsonOut {
		printJSON(status)
		return nil
	}
	fmt.Fprintf(out, "Label:     %s\n", status.Label)
	fmt.Fprintf(out, "Plist:     %s\n", status.PlistPath)
	fmt.Fprintf(out, "Installed: %t\n", status.Installed)
	fmt.Fprintf(out, "Loaded:    %t\n", status.Loaded)
	if status.Running {
		fmt.Fprintf(out, "Tracker:   running (pid %d)\n", status.PID)
	} else {
		fmt.Fprintln(out, "Tracker:   idle")
	}
	return nil
}
