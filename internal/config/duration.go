package config

import (
	"fmt"
	"strings"
	"time"
)

const DefaultScanInterval = 30 * time.Second

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// durationOr is for already-validated configs: bad or empty input yields def.
func durationOr(raw string, def time.Duration) time.Duration {
	d, err := ParseDurationOrDefault("", raw, def)
	if err != nil {
		return def
	}
	return d
}

// Interval returns the scan period (default 30s).
func (s SchedulerConfig) Interval() time.Duration {
	return durationOr(s.ScanInterval, DefaultScanInterval)
}

// Location resolves Timezone; empty or unknown falls back to time.Local.
func (s SchedulerConfig) Location() *time.Location {
	tz := strings.TrimSpace(s.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Local
	}
	return loc
}

func (a AlertsConfig) RetryBaseDuration() time.Duration {
	return durationOr(a.RetryBase, 500*time.Millisecond)
}

func (a AlertsConfig) RetryMaxDelayDuration() time.Duration {
	return durationOr(a.RetryMaxDelay, 10*time.Second)
}

func (a AlertsConfig) BreakerCooldownDuration() time.Duration {
	return durationOr(a.BreakerCooldown, 30*time.Second)
}

func (a AlertsConfig) DedupWindowDuration() time.Duration {
	return durationOr(a.DedupWindow, 0)
}

func (t TelegramConfig) PollTimeoutDuration() time.Duration {
	return durationOr(t.PollTimeout, 10*time.Second)
}

func (s StorageConfig) BusyTimeoutDuration() time.Duration {
	return durationOr(s.BusyTimeout, 0)
}
