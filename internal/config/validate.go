package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"
)

// validate reports the first problem found, naming the offending key. It
// also normalizes notifications.triggers in place.
func validate(cfg *Config) error {
	if _, ok := logLevels[cfg.LogLevel]; !ok {
		return fmt.Errorf("unsupported log_level: %q", cfg.LogLevel)
	}
	if strings.TrimSpace(cfg.API.BaseURL) == "" {
		return errors.New("api.base_url is required")
	}

	urls := [][2]string{
		{"api.base_url", cfg.API.BaseURL},
		{"notifications.webhook_url", cfg.Notifications.WebhookURL},
		{"notifications.slack_webhook", cfg.Notifications.SlackWebhook},
	}
	for _, u := range urls {
		if u[1] == "" {
			continue
		}
		if err := checkHTTPURL(u[1]); err != nil {
			return fmt.Errorf("invalid %s: %w", u[0], err)
		}
	}

	durations := [][2]string{
		{"api.timeout", cfg.API.Timeout},
		{"polling.interval", cfg.Polling.Interval},
		{"polling.retry_base_delay", cfg.Polling.RetryBaseDelay},
		{"progress.tick_interval", cfg.Progress.TickInterval},
		{"tracker.grace_period", cfg.Tracker.GracePeriod},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(d[1])
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", d[0], d[1], err)
		}
		if v <= 0 {
			return fmt.Errorf("invalid %s %q: must be positive", d[0], d[1])
		}
	}

	switch p := cfg.Polling; {
	case p.MaxRetries < 0:
		return fmt.Errorf("invalid polling.max_retries %d: must be >= 0", p.MaxRetries)
	case p.MaxUnmatchedPolls < 0:
		return fmt.Errorf("invalid polling.max_unmatched_polls %d: must be >= 0", p.MaxUnmatchedPolls)
	case p.MaxRequestsPerSecond < 0:
		return fmt.Errorf("invalid polling.max_requests_per_second %v: must be >= 0", p.MaxRequestsPerSecond)
	}
	if s := cfg.Progress.Step; s < 0 || s > 100 {
		return fmt.Errorf("invalid progress.step %v: must be within [0,100]", s)
	}

	triggers, err := normalizeTriggers(cfg.Notifications.Triggers)
	if err != nil {
		return fmt.Errorf("invalid notifications.triggers: %w", err)
	}
	cfg.Notifications.Triggers = triggers
	return nil
}

func checkHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	switch {
	case err != nil:
		return err
	case u.Scheme != "http" && u.Scheme != "https":
		return errors.New("must use http or https")
	case u.Host == "":
		return errors.New("host is required")
	}
	return nil
}

// normalizeTriggers lowercases, trims and dedupes, keeping first-seen order.
func normalizeTriggers(triggers []string) ([]string, error) {
	out := make([]string, 0, len(triggers))
	for i, raw := range triggers {
		t := strings.ToLower(strings.TrimSpace(raw))
		switch {
		case t == "":
			return nil, fmt.Errorf("trigger at index %d is empty", i)
		case !slices.Contains(allTriggers, t):
			return nil, fmt.Errorf("unsupported trigger %q", t)
		case !slices.Contains(out, t):
			out = append(out, t)
		}
	}
	return out, nil
}
