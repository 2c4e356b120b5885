package alerts

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"winkdrops/internal/eventbus"
)

const (
	DefaultPushTitle = "New WinkDrop"
	DefaultPushBody  = "You've received a new update."
	maxPushBody      = 64 << 10
)

// PushMessage is a push delivered while the app is in the foreground.
type PushMessage struct {
	Notification struct {
		Title string `json:"title,omitempty"`
		Body  string `json:"body,omitempty"`
	} `json:"notification"`
	Data map[string]string `json:"data,omitempty"`
}

// HandlePush turns a foreground push into a local alert. data.type selects the
// category (newWink when absent); unknown categories are suppressed.
func (s *Presenter) HandlePush(ctx context.Context, m PushMessage) (Category, error) {
	raw := strings.TrimSpace(m.Data["type"])
	if raw == "" {
		raw = string(NewWink)
	}
	c, err := ParseCategory(raw)
	if err != nil {
		s.record("unknown", m.Notification.Title, "suppressed_setting", eventbus.AlertSuppressed, "unknown category "+raw)
		return "", err
	}
	title := strings.TrimSpace(m.Notification.Title)
	if title == "" {
		title = DefaultPushTitle
	}
	body := strings.TrimSpace(m.Notification.Body)
	if body == "" {
		body = DefaultPushBody
	}
	s.Present(ctx, c, title, body)
	return c, nil
}

// PushHandler serves POST /v1/push. The response is 202 once the message is
// accepted, whether or not an alert ends up shown.
func (s *Presenter) PushHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxPushBody)
		var m PushMessage
		if err := c.ShouldBindJSON(&m); err != nil {
			var tooBig *http.MaxBytesError
			if errors.As(err, &tooBig) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "push message too large"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid push message"})
			return
		}
		cat, err := s.HandlePush(c.Request.Context(), m)
		if errors.Is(err, ErrUnknownCategory) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"category": cat})
	}
}
