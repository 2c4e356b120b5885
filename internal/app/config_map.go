package app

import (
	"strings"

	"winkdrops/internal/alerts"
	"winkdrops/internal/config"
	"winkdrops/internal/platform"
	"winkdrops/internal/scanner"
	"winkdrops/internal/storage"
	logx "winkdrops/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) storage.Config {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "sqlite3" {
		driver = "sqlite"
	}
	return storage.Config{
		Driver:      driver,
		Path:        strings.TrimSpace(sc.Path),
		BusyTimeout: sc.BusyTimeoutDuration(),
		Addr:        strings.TrimSpace(sc.Addr),
		Password:    sc.Password,
		DB:          sc.DB,
		Prefix:      sc.Prefix,
	}
}

func mapScannerConfig(cfg *config.Config) scanner.Config {
	return scanner.Config{
		Enabled:  cfg.Scheduler.IsEnabled(),
		Interval: cfg.Scheduler.Interval(),
		Location: cfg.Scheduler.Location(),
	}
}

func mapAlertsConfig(cfg *config.Config) alerts.Config {
	a := cfg.Alerts
	retryMax := a.RetryMax
	if retryMax == 0 {
		retryMax = 2
	}
	return alerts.Config{
		Workers:       a.Workers,
		QueueSize:     a.QueueSize,
		RatePerSec:    a.RatePerSec,
		RetryMax:      retryMax,
		RetryBase:     a.RetryBaseDuration(),
		RetryMaxDelay: a.RetryMaxDelayDuration(),
		DedupWindow:   a.DedupWindowDuration(),
		Icon:          a.Icon,
		Badge:         a.Badge,

		BreakerFailures: a.BreakerFailures,
		BreakerCooldown: a.BreakerCooldownDuration(),
	}
}

func mapPlatformConfig(cfg *config.Config, sender platform.TextSender) platform.Config {
	p := cfg.Push
	pc := platform.Config{
		Driver:         p.Driver,
		Permission:     platform.ParsePermission(p.Permission),
		PromptResponse: platform.ParsePermission(p.PromptResponse),
		WebPush: platform.WebPushConfig{
			PublicKey:        p.VAPIDPublicKey,
			PrivateKey:       p.VAPIDPrivateKey,
			Subscriber:       p.Subscriber,
			SubscriptionFile: p.SubscriptionFile,
			TTL:              p.TTL,
		},
		FCM: platform.FCMConfig{
			CredentialsFile: p.FCMCredentialsFile,
			ProjectID:       p.FCMProjectID,
			Token:           p.FCMToken,
		},
	}
	if strings.TrimSpace(p.PromptResponse) == "" {
		pc.PromptResponse = platform.PermissionGranted
	}
	pc.Sender = sender
	if cfg.Telegram != nil {
		pc.AlertChatID = cfg.Telegram.AlertChatID
	}
	return pc
}
