package platform

import (
	"context"
	"html"
	"strconv"
	"strings"
)

// TextSender delivers HTML text to a chat. The telegram transport implements it.
type TextSender interface {
	SendText(ctx context.Context, chatID int64, htmlText string) error
}

// Telegram shows notifications as chat messages in one alert chat.
type Telegram struct {
	*Grant
	sender TextSender
	chatID int64
}

func NewTelegram(g *Grant, sender TextSender, chatID int64) *Telegram {
	if g == nil {
		g = NewGrant(PermissionDefault, PermissionGranted)
	}
	return &Telegram{Grant: g, sender: sender, chatID: chatID}
}

func (t *Telegram) Name() string    { return "telegram" }
func (t *Telegram) Supported() bool { return t.sender != nil }

// Token is the alert chat id; no chat means no subscription.
func (t *Telegram) Token(ctx context.Context, publicKey string) (string, error) {
	if t.chatID == 0 {
		return "", nil
	}
	return strconv.FormatInt(t.chatID, 10), nil
}

func (t *Telegram) Show(ctx context.Context, n Notification) error {
	if t.sender == nil || t.chatID == 0 {
		return ErrNotConfigured
	}
	return t.sender.SendText(ctx, t.chatID, formatHTML(n))
}

func formatHTML(n Notification) string {
	var b strings.Builder
	b.WriteString("🔔 <b>")
	b.WriteString(html.EscapeString(n.Title))
	b.WriteString("</b>")
	if body := strings.TrimSpace(n.Body); body != "" {
		b.WriteString("\n")
		b.WriteString(html.EscapeString(body))
	}
	return b.String()
}
