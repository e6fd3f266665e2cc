package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmp := t.TempDir()
	// Keep the developer's real credentials.toml out of the test.
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmp, "xdg"))
	cfgPath := filepath.Join(tmp, "batchqa.toml")
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return cfgPath
}

func TestLoadParsesAPIAndDefaults(t *testing.T) {
	cfgPath := writeConfig(t, `
db_path = "batchqa.db"

[api]
base_url = "https://qa.example.com"
user_id = "u-123"
`)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.API.UserID != "u-123" {
		t.Fatalf("expected user id u-123, got %q", cfg.API.UserID)
	}
	if cfg.Polling.MaxRetries != 3 {
		t.Fatalf("expected default max retries 3, got %d", cfg.Polling.MaxRetries)
	}
	if cfg.Polling.MaxUnmatchedPolls != 900 {
		t.Fatalf("expected default max unmatched polls 900, got %d", cfg.Polling.MaxUnmatchedPolls)
	}
	if cfg.Polling.MaxRequestsPerSecond != 5 {
		t.Fatalf("expected default rate limit 5, got %v", cfg.Polling.MaxRequestsPerSecond)
	}
	if cfg.PollInterval() != 2*time.Second {
		t.Fatalf("expected default poll interval 2s, got %s", cfg.PollInterval())
	}
	if cfg.TickInterval() != 500*time.Millisecond {
		t.Fatalf("expected default tick interval 500ms, got %s", cfg.TickInterval())
	}
	if cfg.GracePeriod() != 5*time.Second {
		t.Fatalf("expected default grace period 5s, got %s", cfg.GracePeriod())
	}
	if !filepath.IsAbs(cfg.DBPath) {
		t.Fatalf("expected db path resolved to absolute, got %q", cfg.DBPath)
	}
	if len(cfg.Notifications.Triggers) != 2 {
		t.Fatalf("expected default triggers, got %v", cfg.Notifications.Triggers)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	cfgPath := writeConfig(t, `
[api]
base_url = "https://qa.example.com"
user_id = "from-file"
`)

	t.Setenv("BATCHQA_USER_ID", "from-env")
	t.Setenv("BATCHQA_API_TOKEN", "secret")

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.API.UserID != "from-env" {
		t.Fatalf("expected user id from env, got %q", cfg.API.UserID)
	}
	if cfg.API.Token != "secret" {
		t.Fatalf("expected token from env, got %q", cfg.API.Token)
	}
}

func TestLoadCredentialsFileOverridesConfig(t *testing.T) {
	cfgPath := writeConfig(t, `
[api]
base_url = "https://qa.example.com"
user_id = "from-file"
`)
	if err := SaveCredentials(&Credentials{UserID: "from-creds"}); err != nil {
		t.Fatalf("save credentials: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.API.UserID != "from-creds" {
		t.Fatalf("expected user id from credentials, got %q", cfg.API.UserID)
	}
}

func TestLoadFailsWithoutBaseURL(t *testing.T) {
	cfgPath := writeConfig(t, `log_level = "info"`)

	_, err := Load(cfgPath)
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "api.base_url is required") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadFailsForInvalidPollInterval(t *testing.T) {
	cfgPath := writeConfig(t, `
[api]
base_url = "https://qa.example.com"

[polling]
interval = "soon"
`)

	_, err := Load(cfgPath)
	if err == nil {
		t.Fatalf("expected error for invalid interval")
	}
	if !strings.Contains(err.Error(), "polling.interval") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadFailsForUnknownTrigger(t *testing.T) {
	cfgPath := writeConfig(t, `
[api]
base_url = "https://qa.example.com"

[notifications]
triggers = ["completed", "started"]
`)

	_, err := Load(cfgPath)
	if err == nil {
		t.Fatalf("expected error for unknown trigger")
	}
	if !strings.Contains(err.Error(), `unsupported trigger "started"`) {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNormalizeTriggersDeduplicates(t *testing.T) {
	t.Parallel()
	got, err := normalizeTriggers([]string{" Completed", "completed", "FAILED"})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if len(got) != 2 || got[0] != "completed" || got[1] != "failed" {
		t.Fatalf("expected [completed failed], got %v", got)
	}
}

func TestLoadFailsForBadWebhookURL(t *testing.T) {
	cfgPath := writeConfig(t, `
[api]
base_url = "https://qa.example.com"

[notifications]
webhook_url = "ftp://hooks.example.com/x"
`)

	_, err := Load(cfgPath)
	if err == nil || !strings.Contains(err.Error(), "invalid notifications.webhook_url: must use http or https") {
		t.Fatalf("expected webhook url error, got %v", err)
	}
}

func TestLoadMinimalSkipsValidation(t *testing.T) {
	cfgPath := writeConfig(t, `pid_file = "run/batchqa.pid"`)

	cfg, err := LoadMinimal(cfgPath)
	if err != nil {
		t.Fatalf("load minimal: %v", err)
	}
	if want := filepath.Join(filepath.Dir(cfgPath), "run", "batchqa.pid"); cfg.PIDFile != want {
		t.Fatalf("expected pid file %q, got %q", want, cfg.PIDFile)
	}
	if cfg.SlogLevel().String() != "INFO" {
		t.Fatalf("expected default info level, got %s", cfg.SlogLevel())
	}
}
