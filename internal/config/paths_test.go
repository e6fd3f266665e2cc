package config

import (
	"path/filepath"
	"testing"
)

func TestStateDirUsesXDGStateHome(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("XDG_STATE_HOME", tmp)

	got, err := StateDir()
	if err != nil {
		t.Fatalf("state dir: %v", err)
	}
	want := filepath.Join(tmp, "batchqa")
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestCredentialsPathUsesXDGConfigHome(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmp)

	got, err := CredentialsPath()
	if err != nil {
		t.Fatalf("credentials path: %v", err)
	}
	want := filepath.Join(tmp, "batchqa", "credentials.toml")
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}
