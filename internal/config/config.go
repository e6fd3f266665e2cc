package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

const Version = "0.1.0"

// Config is batchqa.toml after defaults, credentials and environment have
// been layered on top.
type Config struct {
	DBPath   string `toml:"db_path"`
	LogLevel string `toml:"log_level"`
	LogFile  string `toml:"log_file"`
	PIDFile  string `toml:"pid_file"`

	API           APIConfig           `toml:"api"`
	Polling       PollingConfig       `toml:"polling"`
	Progress      ProgressConfig      `toml:"progress"`
	Tracker       TrackerConfig       `toml:"tracker"`
	Notifications NotificationsConfig `toml:"notifications"`

	// Directory of the loaded file; relative paths resolve against it.
	BaseDir string `toml:"-"`
}

type APIConfig struct {
	BaseURL string `toml:"base_url"`
	UserID  string `toml:"user_id"`
	Token   string `toml:"token"`
	Timeout string `toml:"timeout"`
}

type PollingConfig struct {
	Interval             string  `toml:"interval"`
	MaxRetries           int     `toml:"max_retries"`
	RetryBaseDelay       string  `toml:"retry_base_delay"`
	MaxUnmatchedPolls    int     `toml:"max_unmatched_polls"`
	MaxRequestsPerSecond float64 `toml:"max_requests_per_second"`
}

// ProgressConfig drives the simulated progress ramp of a processing request.
type ProgressConfig struct {
	TickInterval string  `toml:"tick_interval"`
	Step         float64 `toml:"step"`
}

type TrackerConfig struct {
	GracePeriod string `toml:"grace_period"`
}

type NotificationsConfig struct {
	WebhookURL   string   `toml:"webhook_url"`
	SlackWebhook string   `toml:"slack_webhook"`
	Desktop      bool     `toml:"desktop"`
	Triggers     []string `toml:"triggers"`
}

// Load reads and validates the config at path.
func Load(path string) (*Config, error) {
	return load(path, true)
}

// LoadMinimal skips validation. Commands that only need paths use it, such as
// `batchqa list` and `batchqa config`, so they work before api.base_url is set.
func LoadMinimal(path string) (*Config, error) {
	return load(path, false)
}

func load(path string, strict bool) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	cfg.BaseDir = filepath.Dir(path)

	if cfg.API.Token != "" && strict {
		slog.Warn("api token found in config file; prefer credentials.toml or BATCHQA_API_TOKEN env var")
	}
	applyDefaults(&cfg)
	layerSecrets(&cfg)
	if strict {
		if err := validate(&cfg); err != nil {
			return nil, err
		}
	}

	cfg.DBPath = resolve(cfg.BaseDir, cfg.DBPath)
	cfg.LogFile = resolve(cfg.BaseDir, cfg.LogFile)
	cfg.PIDFile = resolve(cfg.BaseDir, cfg.PIDFile)
	return &cfg, nil
}

func resolve(base, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

func (cfg *Config) SlogLevel() slog.Level {
	return logLevels[cfg.LogLevel] // zero value is info
}

// Duration getters. validate has rejected unparseable values, so a zero
// result only happens on configs loaded with LoadMinimal.
func (cfg *Config) APITimeout() time.Duration     { return duration(cfg.API.Timeout) }
func (cfg *Config) PollInterval() time.Duration   { return duration(cfg.Polling.Interval) }
func (cfg *Config) RetryBaseDelay() time.Duration { return duration(cfg.Polling.RetryBaseDelay) }
func (cfg *Config) TickInterval() time.Duration   { return duration(cfg.Progress.TickInterval) }
func (cfg *Config) GracePeriod() time.Duration    { return duration(cfg.Tracker.GracePeriod) }

func duration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}
