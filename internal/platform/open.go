package platform

import (
	"context"
	"fmt"
	"strings"

	logx "winkdrops/pkg/logx"
)

// Config selects and configures a driver.
//
// Driver values: "console" (default), "telegram", "webpush", "fcm".
type Config struct {
	Driver         string
	Permission     Permission
	PromptResponse Permission

	WebPush WebPushConfig
	FCM     FCMConfig

	// telegram
	Sender      TextSender
	AlertChatID int64
}

// Open builds the configured driver with a fresh permission Grant.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Platform, *Grant, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	prompt := cfg.PromptResponse
	if prompt == "" {
		prompt = PermissionGranted
	}
	g := NewGrant(cfg.Permission, prompt)

	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "console":
		return NewConsole(g, log), g, nil
	case "telegram":
		if cfg.Sender == nil {
			return nil, nil, fmt.Errorf("telegram platform: %w", ErrNotConfigured)
		}
		return NewTelegram(g, cfg.Sender, cfg.AlertChatID), g, nil
	case "webpush":
		return NewWebPush(g, cfg.WebPush, log), g, nil
	case "fcm":
		p, err := NewFCM(ctx, g, cfg.FCM, log)
		if err != nil {
			return nil, nil, err
		}
		return p, g, nil
	default:
		return nil, nil, fmt.Errorf("unknown push driver: %s", cfg.Driver)
	}
}
