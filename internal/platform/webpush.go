package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"

	webpush "github.com/SherClockHolmes/webpush-go"

	logx "winkdrops/pkg/logx"
)

type WebPushConfig struct {
	PublicKey        string
	PrivateKey       string
	Subscriber       string
	SubscriptionFile string
	TTL              int
}

// WebPush delivers VAPID-signed Web Push messages to one browser subscription
// stored as JSON ({"endpoint":..., "keys":{"p256dh":..., "auth":...}}).
type WebPush struct {
	*Grant
	cfg  WebPushConfig
	log  logx.Logger
	http webpush.HTTPClient

	mu  sync.Mutex
	sub *webpush.Subscription
}

func NewWebPush(g *Grant, cfg WebPushConfig, log logx.Logger) *WebPush {
	if g == nil {
		g = NewGrant(PermissionDefault, PermissionGranted)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 60 * 60 * 24
	}
	return &WebPush{Grant: g, cfg: cfg, log: log, http: http.DefaultClient}
}

func (w *WebPush) Name() string { return "webpush" }

func (w *WebPush) Supported() bool {
	return w.cfg.PublicKey != "" && w.cfg.PrivateKey != ""
}

// Token returns the subscription endpoint. The subscription file is re-read
// so a browser re-subscribing is picked up on the next refresh.
func (w *WebPush) Token(ctx context.Context, publicKey string) (string, error) {
	if publicKey != "" && publicKey != w.cfg.PublicKey {
		return "", ErrKeyMismatch
	}
	sub, err := w.loadSubscription()
	if err != nil {
		if errors.Is(err, ErrNoSubscription) {
			return "", nil
		}
		return "", err
	}
	return sub.Endpoint, nil
}

func (w *WebPush) loadSubscription() (*webpush.Subscription, error) {
	path := strings.TrimSpace(w.cfg.SubscriptionFile)
	if path == "" {
		return nil, ErrNoSubscription
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoSubscription
	}
	if err != nil {
		return nil, err
	}
	var sub webpush.Subscription
	if err := json.Unmarshal(b, &sub); err != nil {
		return nil, fmt.Errorf("subscription file: %w", err)
	}
	if sub.Endpoint == "" || sub.Keys.P256dh == "" || sub.Keys.Auth == "" {
		return nil, ErrNoSubscription
	}
	w.mu.Lock()
	w.sub = &sub
	w.mu.Unlock()
	return &sub, nil
}

type webPushPayload struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Icon  string            `json:"icon,omitempty"`
	Badge string            `json:"badge,omitempty"`
	Data  map[string]string `json:"data,omitempty"`
}

func (w *WebPush) Show(ctx context.Context, n Notification) error {
	w.mu.Lock()
	sub := w.sub
	w.mu.Unlock()
	if sub == nil {
		var err error
		if sub, err = w.loadSubscription(); err != nil {
			return err
		}
	}

	payload, err := json.Marshal(webPushPayload{
		Title: n.Title,
		Body:  n.Body,
		Icon:  n.Icon,
		Badge: n.Badge,
		Data:  map[string]string{"type": n.Category},
	})
	if err != nil {
		return err
	}

	resp, err := webpush.SendNotificationWithContext(ctx, payload, sub, &webpush.Options{
		HTTPClient:      w.http,
		Subscriber:      w.cfg.Subscriber,
		VAPIDPublicKey:  w.cfg.PublicKey,
		VAPIDPrivateKey: w.cfg.PrivateKey,
		TTL:             w.cfg.TTL,
		Urgency:         webpush.UrgencyNormal,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound:
		// Subscription expired; forget it until the file changes.
		w.mu.Lock()
		w.sub = nil
		w.mu.Unlock()
		return fmt.Errorf("%w: endpoint returned %d", ErrNoSubscription, resp.StatusCode)
	case resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webpush: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	w.log.Debug("webpush delivered", logx.Int("status", resp.StatusCode))
	return nil
}
