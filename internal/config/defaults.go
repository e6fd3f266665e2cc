package config

import (
	"path/filepath"
	"slices"
)

const (
	TriggerCompleted = "completed"
	TriggerFailed    = "failed"
)

var allTriggers = []string{TriggerCompleted, TriggerFailed}

func applyDefaults(cfg *Config) {
	orDefault(&cfg.DBPath, inDir(DataDir, "batchqa.db"))
	orDefault(&cfg.LogFile, inDir(StateDir, "batchqa.log"))
	orDefault(&cfg.PIDFile, inDir(StateDir, "batchqa.pid"))
	orDefault(&cfg.LogLevel, "info")

	orDefault(&cfg.API.Timeout, "30s")

	orDefault(&cfg.Polling.Interval, "2s")
	orDefault(&cfg.Polling.MaxRetries, 3)
	orDefault(&cfg.Polling.RetryBaseDelay, "2s")
	orDefault(&cfg.Polling.MaxUnmatchedPolls, 900)
	orDefault(&cfg.Polling.MaxRequestsPerSecond, 5)

	orDefault(&cfg.Progress.TickInterval, "500ms")
	orDefault(&cfg.Progress.Step, 1)

	orDefault(&cfg.Tracker.GracePeriod, "5s")

	if cfg.Notifications.Triggers == nil {
		cfg.Notifications.Triggers = slices.Clone(allTriggers)
	}
}

func orDefault[T comparable](field *T, def T) {
	var zero T
	if *field == zero {
		*field = def
	}
}

// inDir places name under an XDG dir, falling back to the working directory
// when the home directory is unknown.
func inDir(dir func() (string, error), name string) string {
	d, err := dir()
	if err != nil {
		return name
	}
	return filepath.Join(d, name)
}
