package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrClosed     = errors.New("storage closed")
	ErrUnknownKey = errors.New("storage key required")
)

// Config configures storage.
//
// Driver values:
//   - "memory": process-local map (default when empty or "none")
//   - "file": JSON journal + periodic snapshot next to Path
//   - "sqlite": SQLite database file at Path
//   - "redis": Redis at Addr, keys prefixed with Prefix
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default

	Addr     string // redis only
	Password string // redis only
	DB       int    // redis only
	Prefix   string // redis only
}

// KV is the key-value capability. Values are opaque bytes (JSON in practice).
type KV interface {
	// Get returns ok=false (and no error) when key is absent.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Put(ctx context.Context, key string, value []byte) error
	// Delete is a no-op when key is absent.
	Delete(ctx context.Context, key string) error
	Close() error
}

// Fixed keys used by winkdrops components.
const (
	KeyScheduledSends       = "winkdrops_scheduled_nudges"
	KeyNotificationSettings = "winkdrops_notification_settings"
	KeyOutbox               = "winkdrops_outbox"
)
