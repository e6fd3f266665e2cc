package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"batchqa/internal/config"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Set up batchqa config and credentials",
	Long:  "Interactive wizard that creates ~/.config/batchqa/ with config.toml and credentials.toml.",
	RunE:  runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

// wizard collects setup answers. readSecret is swapped in tests since
// term.ReadPassword needs a real terminal.
type wizard struct {
	in         *bufio.Reader
	out        io.Writer
	readSecret func() ([]byte, error)
}

func newWizard() *wizard {
	return &wizard{
		in:         bufio.NewReader(os.Stdin),
		out:        os.Stdout,
		readSecret: func() ([]byte, error) { return term.ReadPassword(int(os.Stdin.Fd())) },
	}
}

func (w *wizard) line(label, def string) string {
	prompt := label + ": "
	if def != "" {
		prompt = fmt.Sprintf("%s [%s]: ", label, def)
	}
	fmt.Fprint(w.out, prompt)
	answer, _ := w.in.ReadString('\n')
	if answer = strings.TrimSpace(answer); answer != "" {
		return answer
	}
	return def
}

func (w *wizard) secret(label string) (string, error) {
	fmt.Fprintf(w.out, "%s (input is hidden, empty to skip): ", label)
	raw, err := w.readSecret()
	fmt.Fprintln(w.out)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", strings.ToLower(label), err)
	}
	return strings.TrimSpace(string(raw)), nil
}

// ask fills creds from the user's answers and returns the API base URL.
func (w *wizard) ask(creds *config.Credentials) (baseURL string, err error) {
	baseURL = w.line("API base URL", "http://localhost:8000")
	creds.UserID = w.line("User id", creds.UserID)
	token, err := w.secret("API token")
	if err != nil {
		return "", err
	}
	if token != "" {
		creds.APIToken = token
	}
	return baseURL, nil
}

func runInit(cmd *cobra.Command, args []string) error {
	target, err := initTarget()
	if err != nil {
		return err
	}
	credsFile, err := config.CredentialsPath()
	if err != nil {
		return err
	}
	creds, err := config.LoadCredentials()
	if err != nil {
		slog.Debug("starting from empty credentials", "err", err)
		creds = &config.Credentials{}
	}

	w := newWizard()
	baseURL, err := w.ask(creds)
	if err != nil {
		return err
	}
	if err := config.SaveCredentials(creds); err != nil {
		return err
	}
	fmt.Fprintf(w.out, "Credentials saved: %s\n", credsFile)

	switch _, statErr := os.Stat(target); {
	case errors.Is(statErr, os.ErrNotExist):
		if err := writeConfigTemplate(target, baseURL); err != nil {
			return err
		}
		fmt.Fprintf(w.out, "Config created: %s\n", target)
	default:
		fmt.Fprintf(w.out, "Config already exists: %s\n", target)
	}

	cfg, err := config.LoadMinimal(target)
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	store.Close()

	fmt.Fprintf(w.out, "Database initialized: %s\n\n", cfg.DBPath)
	fmt.Fprint(w.out, nextSteps)
	return nil
}

// initTarget is the config file init writes: the --config path when given,
// otherwise the global one.
func initTarget() (string, error) {
	if cfgPath != "" {
		return cfgPath, nil
	}
	return config.GlobalConfigPath()
}

const nextSteps = `Next steps:
  1. Submit a job:     batchqa submit --file <id> --prompt "..."
  2. Watch progress:   batchqa watch
`

func writeConfigTemplate(path, baseURL string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(renderConfigTemplate(baseURL)), 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func renderConfigTemplate(baseURL string) string {
	return fmt.Sprintf(configTemplate, baseURL)
}

const configTemplate = `# batchqa configuration
#
# Secrets: store in ~/.config/batchqa/credentials.toml or set env vars
# (BATCHQA_USER_ID, BATCHQA_API_TOKEN, BATCHQA_API_URL)
#
# The DB defaults to ~/.local/share/batchqa/
# Logs and the PID file default to ~/.local/state/batchqa/

log_level = "info"              # debug|info|warn|error

[api]
base_url = %q
timeout = "30s"

[polling]
interval = "2s"                 # status poll cadence
max_retries = 3                 # consecutive failed polls before a request fails
retry_base_delay = "2s"         # delay grows linearly with each failure
max_unmatched_polls = 900       # give up when the server never lists the job
max_requests_per_second = 5     # shared API rate limit; 0 uses the default

[progress]
tick_interval = "500ms"
step = 1                        # percentage points per tick

[tracker]
grace_period = "5s"             # how long finished requests stay visible

[notifications]
# webhook_url = "https://example.com/hook"                     # generic JSON webhook
# slack_webhook = "https://hooks.slack.com/services/..."       # Slack incoming webhook
# desktop = true                                                # macOS desktop notifications
# triggers = ["completed", "failed"]
# Set triggers = [] to disable all notifications.
`
