package config

// Config is the whole daemon configuration (JSON, or YAML coerced to JSON).
//
// All durations are Go duration strings (e.g. "500ms", "30s", "1m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Alerts    AlertsConfig    `json:"alerts"`
	Push      PushConfig      `json:"push"`
	Telegram  *TelegramConfig `json:"telegram,omitempty"`
	Metrics   MetricsConfig   `json:"metrics"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the key-value backend.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./data/winkdrops.json" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite

	Addr     string `json:"addr,omitempty"`     // redis
	Password string `json:"password,omitempty"` // redis (do not log)
	DB       int    `json:"db,omitempty"`       // redis
	Prefix   string `json:"prefix,omitempty"`   // redis
}

// SchedulerConfig controls the due-item scanner.
//
// Enabled is a pointer so an omitted section still runs the scanner.
type SchedulerConfig struct {
	Enabled      *bool  `json:"enabled,omitempty"`
	ScanInterval string `json:"scan_interval,omitempty"` // default "30s"
	Timezone     string `json:"timezone,omitempty"`
}

func (s SchedulerConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// AlertsConfig controls the local alert pipeline.
//
// Defaults (when fields are omitted/zero):
//   - workers: 2
//   - queue_size: 256
//   - rate_per_sec: 3
//   - retry_max: 2
//   - retry_base: "500ms"
//   - retry_max_delay: "10s"
//   - dedup_window: "0s" (disabled)
//   - icon: "/icons/icon-192x192.png"
//   - breaker_failures: 5
//   - breaker_cooldown: "30s"
//   - outbox_size: 200
type AlertsConfig struct {
	Workers       int    `json:"workers,omitempty"`
	QueueSize     int    `json:"queue_size,omitempty"`
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
	DedupWindow   string `json:"dedup_window,omitempty"`
	Icon          string `json:"icon,omitempty"`
	Badge         string `json:"badge,omitempty"`
	OutboxSize    int    `json:"outbox_size,omitempty"`

	BreakerFailures int    `json:"breaker_failures,omitempty"`
	BreakerCooldown string `json:"breaker_cooldown,omitempty"`
}

// PushConfig selects the platform notification driver and its permission policy.
//
// Driver values: "console" (default), "telegram", "webpush", "fcm".
//
// Permission is the platform permission at startup ("default", "granted",
// "denied"). PromptResponse is what the platform answers when prompted
// ("granted", "denied", "default" for a dismissed prompt).
type PushConfig struct {
	Driver         string `json:"driver"`
	Permission     string `json:"permission,omitempty"`
	PromptResponse string `json:"prompt_response,omitempty"`

	VAPIDPublicKey   string `json:"vapid_public_key,omitempty"`
	VAPIDPrivateKey  string `json:"vapid_private_key,omitempty"` // do not log
	Subscriber       string `json:"subscriber,omitempty"`
	SubscriptionFile string `json:"subscription_file,omitempty"`
	TTL              int    `json:"ttl,omitempty"`

	FCMCredentialsFile string `json:"fcm_credentials_file,omitempty"`
	FCMProjectID       string `json:"fcm_project_id,omitempty"`
	FCMToken           string `json:"fcm_token,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// AlertChatID receives alerts when push.driver is "telegram".
	AlertChatID int64 `json:"alert_chat_id,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

// MetricsConfig controls the HTTP listener serving /metrics, /healthz and /v1/push.
// An empty Addr disables it.
type MetricsConfig struct {
	Addr string `json:"addr,omitempty"`
}
