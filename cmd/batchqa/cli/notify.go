package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"batchqa/internal/config"
	"batchqa/internal/notify"

	"github.com/spf13/cobra"
)

var sendTestNotification bool

var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Check notification channels",
	Long:  "With --test, sends a sample completion event to every configured channel and reports which ones accepted it.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !sendTestNotification {
			return errors.New("notify currently supports only --test")
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		results, err := liveProbe.run(cmd.Context(), cfg)
		return reportProbe(os.Stdout, results, err)
	},
}

func init() {
	notifyCmd.Flags().BoolVar(&sendTestNotification, "test", false, "send a test notification to all configured channels")
	rootCmd.AddCommand(notifyCmd)
}

// probe sends one test payload to the configured channels.
type probe struct {
	build   func(config.NotificationsConfig, *http.Client) []notify.Sender
	send    func(context.Context, []notify.Sender, notify.Payload, time.Duration) notify.Deliveries
	timeout time.Duration
}

var liveProbe = probe{build: notify.BuildSenders, send: notify.SendAll, timeout: 4 * time.Second}

func (p probe) run(ctx context.Context, cfg *config.Config) (notify.Deliveries, error) {
	senders := p.build(cfg.Notifications, nil)
	if len(senders) == 0 {
		return nil, errors.New("no notification channels configured")
	}

	payload := notify.TestPayload()
	if user := cfg.API.UserID; user != "" {
		payload.Message = "Test notification from batchqa for " + user
	}
	results := p.send(ctx, senders, payload, p.timeout)
	if results.Delivered() == 0 {
		return results, errors.New("all notification channels failed: " + results.Failures(", "))
	}
	return results, nil
}

func reportProbe(out io.Writer, results notify.Deliveries, err error) error {
	if jsonOut {
		report := struct {
			Test    bool              `json:"test"`
			Success bool              `json:"success"`
			Results notify.Deliveries `json:"results"`
			Error   string            `json:"error,omitempty"`
		}{Test: true, Success: err == nil, Results: results}
		if err != nil {
			report.Error = err.Error()
		}
		printJSON(report)
		return err
	}

	for _, r := range results {
		status := "ok"
		if !r.Success {
			status = "failed"
			if r.Error != "" {
				status += " (" + r.Error + ")"
			}
		}
		fmt.Fprintf(out, "%s: %s\n", r.Channel, status)
	}
	if err == nil {
		fmt.Fprintln(out, "notification test succeeded")
	}
	return err
}
