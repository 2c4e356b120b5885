// Package platform is the device notification boundary: permission query and
// request, push token retrieval and "show notification". Drivers map those
// primitives onto a concrete delivery channel.
package platform

import (
	"context"
	"errors"
	"strings"
)

type Permission string

const (
	PermissionDefault Permission = "default"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// ParsePermission maps config strings; empty and unknown values are default.
func ParsePermission(s string) Permission {
	switch Permission(strings.ToLower(strings.TrimSpace(s))) {
	case PermissionGranted:
		return PermissionGranted
	case PermissionDenied:
		return PermissionDenied
	default:
		return PermissionDefault
	}
}

var (
	ErrKeyMismatch    = errors.New("public key does not match configured key")
	ErrNoSubscription = errors.New("no push subscription")
	ErrNotConfigured  = errors.New("platform not configured")
)

// Notification is what a driver renders.
type Notification struct {
	Category string
	Title    string
	Body     string
	Icon     string
	Badge    string
}

type Platform interface {
	Name() string
	// Supported reports whether the channel can show notifications at all.
	Supported() bool
	Permission(ctx context.Context) (Permission, error)
	// RequestPermission prompts. Once denied, no prompt happens and denied is returned.
	RequestPermission(ctx context.Context) (Permission, error)
	// Token returns the push token for publicKey; "" means none could be obtained.
	Token(ctx context.Context, publicKey string) (string, error)
	Show(ctx context.Context, n Notification) error
}
