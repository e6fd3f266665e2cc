package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Credentials holds secrets kept out of batchqa.toml.
type Credentials struct {
	UserID   string `toml:"user_id"`
	APIToken string `toml:"api_token"`
}

// LoadCredentials reads credentials.toml. A missing file yields empty
// credentials. Group or world access to the file is logged.
func LoadCredentials() (*Credentials, error) {
	path, err := CredentialsPath()
	if err != nil {
		return &Credentials{}, nil
	}
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return &Credentials{}, nil
	case err != nil:
		return nil, fmt.Errorf("stat credentials: %w", err)
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		slog.Warn("credentials file has insecure permissions", "path", path, "mode", fmt.Sprintf("%04o", perm))
	}

	var creds Credentials
	if _, err := toml.DecodeFile(path, &creds); err != nil {
		return nil, fmt.Errorf("decode credentials %s: %w", path, err)
	}
	return &creds, nil
}

// SaveCredentials writes credentials.toml readable by the owner only.
func SaveCredentials(creds *Credentials) error {
	path, err := CredentialsPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(creds); err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	return nil
}

// envOverrides are applied last and win over both files.
var envOverrides = []struct {
	name  string
	field func(*Config) *string
}{
	{"BATCHQA_USER_ID", func(c *Config) *string { return &c.API.UserID }},
	{"BATCHQA_API_TOKEN", func(c *Config) *string { return &c.API.Token }},
	{"BATCHQA_API_URL", func(c *Config) *string { return &c.API.BaseURL }},
}

// layerSecrets applies credentials.toml, then the environment, over the file.
func layerSecrets(cfg *Config) {
	creds, err := LoadCredentials()
	if err != nil {
		slog.Warn("failed to load credentials", "error", err)
	}
	if creds != nil {
		overlay(&cfg.API.UserID, creds.UserID)
		overlay(&cfg.API.Token, creds.APIToken)
	}
	for _, o := range envOverrides {
		overlay(o.field(cfg), os.Getenv(o.name))
	}
}

func overlay(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
