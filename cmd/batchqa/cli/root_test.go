package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"batchqa/internal/config"
)

func TestRootCmdVersionIncludesCommit(t *testing.T) {
	want := fmt.Sprintf("%s (%s)", version, commit)
	if got := rootCmd.Version; got != want {
		t.Fatalf("rootCmd.Version = %q, want %q", got, want)
	}
}

func TestResolveConfigPathPrefersFlag(t *testing.T) {
	orig := cfgPath
	t.Cleanup(func() { cfgPath = orig })

	cfgPath = "/tmp/explicit.toml"
	got, err := resolveConfigPath()
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != "/tmp/explicit.toml" {
		t.Fatalf("expected flag path, got %q", got)
	}
}

func TestConfigTemplateLoads(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	t.Setenv("XDG_STATE_HOME", filepath.Join(dir, "state"))
	t.Setenv("BATCHQA_API_URL", "")
	t.Setenv("BATCHQA_USER_ID", "")
	t.Setenv("BATCHQA_API_TOKEN", "")

	path := filepath.Join(dir, "batchqa.toml")
	if err := writeConfigTemplate(path, "https://qa.example.com"); err != nil {
		t.Fatalf("write template: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected template file: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load template: %v", err)
	}
	if cfg.API.BaseURL != "https://qa.example.com" {
		t.Fatalf("expected base url from template, got %q", cfg.API.BaseURL)
	}
	if cfg.Polling.MaxUnmatchedPolls != 900 || cfg.Polling.MaxRetries != 3 {
		t.Fatalf("unexpected polling config: %+v", cfg.Polling)
	}
	if len(cfg.Notifications.Triggers) != 2 {
		t.Fatalf("expected default triggers, got %v", cfg.Notifications.Triggers)
	}
}

func TestResolveConfigPathWithoutAnyConfig(t *testing.T) {
	orig := cfgPath
	t.Cleanup(func() { cfgPath = orig })
	cfgPath = ""
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { os.Chdir(wd) })
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if _, err := resolveConfigPath(); err != errNoConfig {
		t.Fatalf("expected errNoConfig, got %v", err)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"job-1234567890", 8, "job-1..."},
		{"abcdef", 2, "ab"},
		{"héllo wörld", 6, "hél..."},
	}
	for _, tc := range tests {
		if got := truncate(tc.in, tc.n); got != tc.want {
			t.Fatalf("truncate(%q, %d) = %q, want %q", tc.in, tc.n, got, tc.want)
		}
	}
}
