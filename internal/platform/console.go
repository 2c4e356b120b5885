package platform

import (
	"context"
	"fmt"
	"hash/fnv"

	logx "winkdrops/pkg/logx"
)

// Console shows notifications as log lines.
type Console struct {
	*Grant
	log logx.Logger
}

func NewConsole(g *Grant, log logx.Logger) *Console {
	if log.IsZero() {
		log = logx.Nop()
	}
	if g == nil {
		g = NewGrant(PermissionGranted, PermissionGranted)
	}
	return &Console{Grant: g, log: log}
}

func (c *Console) Name() string    { return "console" }
func (c *Console) Supported() bool { return true }

func (c *Console) Token(ctx context.Context, publicKey string) (string, error) {
	if publicKey == "" {
		return "", nil
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(publicKey))
	return fmt.Sprintf("console-%016x", h.Sum64()), nil
}

func (c *Console) Show(ctx context.Context, n Notification) error {
	c.log.Info("notification",
		logx.String("category", n.Category),
		logx.String("title", n.Title),
		logx.String("body", n.Body),
		logx.String("icon", n.Icon),
	)
	return nil
}
