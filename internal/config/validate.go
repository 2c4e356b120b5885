package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validate rejects configs that would fail at runtime. Used on Load and as the
// Watch validator.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "none", "memory":
	case "file", "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			errs = append(errs, fmt.Errorf("storage.path is required for driver %q", cfg.Storage.Driver))
		}
	case "redis":
		if strings.TrimSpace(cfg.Storage.Addr) == "" {
			errs = append(errs, errors.New("storage.addr is required for driver \"redis\""))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}

	durations := []struct{ path, raw string }{
		{"storage.busy_timeout", cfg.Storage.BusyTimeout},
		{"scheduler.scan_interval", cfg.Scheduler.ScanInterval},
		{"alerts.retry_base", cfg.Alerts.RetryBase},
		{"alerts.retry_max_delay", cfg.Alerts.RetryMaxDelay},
		{"alerts.dedup_window", cfg.Alerts.DedupWindow},
		{"alerts.breaker_cooldown", cfg.Alerts.BreakerCooldown},
	}
	if cfg.Telegram != nil {
		durations = append(durations, struct{ path, raw string }{"telegram.poll_timeout", cfg.Telegram.PollTimeout})
	}
	for _, d := range durations {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			errs = append(errs, err)
		}
	}
	if iv := cfg.Scheduler.Interval(); iv < time.Second {
		errs = append(errs, fmt.Errorf("scheduler.scan_interval must be >= 1s (got %s)", iv))
	}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
		}
	}

	if cfg.Alerts.Workers < 0 || cfg.Alerts.QueueSize < 0 || cfg.Alerts.RatePerSec < 0 ||
		cfg.Alerts.RetryMax < 0 || cfg.Alerts.OutboxSize < 0 || cfg.Alerts.BreakerFailures < 0 {
		errs = append(errs, errors.New("alerts: numeric fields must be >= 0"))
	}

	errs = append(errs, validatePush(cfg)...)
	return errors.Join(errs...)
}

func validatePush(cfg *Config) []error {
	var errs []error
	p := cfg.Push
	for _, f := range []struct{ path, v string }{
		{"push.permission", p.Permission},
		{"push.prompt_response", p.PromptResponse},
	} {
		switch strings.ToLower(strings.TrimSpace(f.v)) {
		case "", "default", "granted", "denied":
		default:
			errs = append(errs, fmt.Errorf("%s: want default|granted|denied, got %q", f.path, f.v))
		}
	}

	switch strings.ToLower(strings.TrimSpace(p.Driver)) {
	case "", "console":
	case "telegram":
		if cfg.Telegram == nil || strings.TrimSpace(cfg.Telegram.Token) == "" {
			errs = append(errs, errors.New("push.driver \"telegram\" requires telegram.token"))
		}
	case "webpush":
		if strings.TrimSpace(p.VAPIDPublicKey) == "" || strings.TrimSpace(p.VAPIDPrivateKey) == "" {
			errs = append(errs, errors.New("push.driver \"webpush\" requires vapid_public_key and vapid_private_key"))
		}
		if strings.TrimSpace(p.SubscriptionFile) == "" {
			errs = append(errs, errors.New("push.driver \"webpush\" requires subscription_file"))
		}
	case "fcm":
		if strings.TrimSpace(p.FCMCredentialsFile) == "" {
			errs = append(errs, errors.New("push.driver \"fcm\" requires fcm_credentials_file"))
		}
	default:
		errs = append(errs, fmt.Errorf("push.driver: unknown driver %q", p.Driver))
	}
	return errs
}
