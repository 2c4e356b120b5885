package config

import (
	"reflect"
	"sort"
	"strings"

	logx "winkdrops/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections and safe
// structured attrs for logging (never includes tokens, passwords or keys).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 24)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Storage changes need a restart; still surface them.
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
			logx.Bool("storage.addr_set", strings.TrimSpace(newCfg.Storage.Addr) != ""),
		)
	}

	if oldCfg.Scheduler.IsEnabled() != newCfg.Scheduler.IsEnabled() ||
		oldCfg.Scheduler.Interval() != newCfg.Scheduler.Interval() ||
		strings.TrimSpace(oldCfg.Scheduler.Timezone) != strings.TrimSpace(newCfg.Scheduler.Timezone) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.IsEnabled()),
			logx.Duration("scheduler.scan_interval", newCfg.Scheduler.Interval()),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Alerts, newCfg.Alerts) {
		changed = append(changed, "alerts")
		attrs = append(attrs,
			logx.Int("alerts.workers", newCfg.Alerts.Workers),
			logx.Int("alerts.queue_size", newCfg.Alerts.QueueSize),
			logx.Int("alerts.rate_per_sec", newCfg.Alerts.RatePerSec),
			logx.Int("alerts.retry_max", newCfg.Alerts.RetryMax),
			logx.Duration("alerts.dedup_window", newCfg.Alerts.DedupWindowDuration()),
			logx.Int("alerts.breaker_failures", newCfg.Alerts.BreakerFailures),
		)
	}

	if !reflect.DeepEqual(oldCfg.Push, newCfg.Push) {
		changed = append(changed, "push")
		attrs = append(attrs,
			logx.String("push.driver", strings.TrimSpace(newCfg.Push.Driver)),
			logx.String("push.permission", strings.TrimSpace(newCfg.Push.Permission)),
			logx.Bool("push.vapid_set", strings.TrimSpace(newCfg.Push.VAPIDPrivateKey) != ""),
			logx.Bool("push.fcm_set", strings.TrimSpace(newCfg.Push.FCMCredentialsFile) != ""),
		)
	}

	oT, nT := derefTelegram(oldCfg.Telegram), derefTelegram(newCfg.Telegram)
	if (oldCfg.Telegram == nil) != (newCfg.Telegram == nil) || !reflect.DeepEqual(oT, nT) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.present", newCfg.Telegram != nil),
			logx.Int("telegram.owner_count", len(nT.OwnerUserIDs)),
			logx.Bool("telegram.alert_chat_set", nT.AlertChatID != 0),
			logx.String("telegram.poll_timeout", strings.TrimSpace(nT.PollTimeout)),
		)
	}

	if strings.TrimSpace(oldCfg.Metrics.Addr) != strings.TrimSpace(newCfg.Metrics.Addr) {
		changed = append(changed, "metrics")
		attrs = append(attrs, logx.String("metrics.addr", strings.TrimSpace(newCfg.Metrics.Addr)))
	}

	sort.Strings(changed)
	return changed, attrs
}

func derefTelegram(t *TelegramConfig) TelegramConfig {
	if t == nil {
		return TelegramConfig{}
	}
	return *t
}
