package platform

import (
	"context"
	"fmt"
	"strings"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	logx "winkdrops/pkg/logx"
)

type FCMConfig struct {
	CredentialsFile string
	ProjectID       string
	Token           string
}

// fcmSender is the part of *messaging.Client the driver uses.
type fcmSender interface {
	Send(ctx context.Context, m *messaging.Message) (string, error)
	SendDryRun(ctx context.Context, m *messaging.Message) (string, error)
}

// FCM delivers through Firebase Cloud Messaging to one registration token.
type FCM struct {
	*Grant
	client fcmSender
	token  string
	log    logx.Logger
}

func NewFCM(ctx context.Context, g *Grant, cfg FCMConfig, log logx.Logger) (*FCM, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	var fbCfg *firebase.Config
	if cfg.ProjectID != "" {
		fbCfg = &firebase.Config{ProjectID: cfg.ProjectID}
	}
	app, err := firebase.NewApp(ctx, fbCfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase messaging: %w", err)
	}
	return newFCM(g, client, cfg.Token, log), nil
}

func newFCM(g *Grant, client fcmSender, token string, log logx.Logger) *FCM {
	if g == nil {
		g = NewGrant(PermissionDefault, PermissionGranted)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &FCM{Grant: g, client: client, token: strings.TrimSpace(token), log: log}
}

func (f *FCM) Name() string    { return "fcm" }
func (f *FCM) Supported() bool { return f.client != nil }

// Token validates the configured registration token with a dry-run send.
// An unregistered token yields "" (unsubscribed), not an error.
func (f *FCM) Token(ctx context.Context, publicKey string) (string, error) {
	if f.token == "" {
		return "", nil
	}
	_, err := f.client.SendDryRun(ctx, &messaging.Message{Token: f.token, Data: map[string]string{"probe": "1"}})
	if err != nil {
		if messaging.IsUnregistered(err) {
			return "", nil
		}
		return "", err
	}
	return f.token, nil
}

func (f *FCM) Show(ctx context.Context, n Notification) error {
	if f.token == "" {
		return ErrNoSubscription
	}
	id, err := f.client.Send(ctx, &messaging.Message{
		Token: f.token,
		Notification: &messaging.Notification{
			Title: n.Title,
			Body:  n.Body,
		},
		Data: map[string]string{"type": n.Category},
		Webpush: &messaging.WebpushConfig{
			Notification: &messaging.WebpushNotification{
				Title: n.Title,
				Body:  n.Body,
				Icon:  n.Icon,
				Badge: n.Badge,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("fcm send: %w", err)
	}
	f.log.Debug("fcm delivered", logx.String("message_id", id))
	return nil
}
