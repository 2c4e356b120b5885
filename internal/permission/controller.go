package permission

import (
	"context"
	"errors"
	"fmt"

	"winkdrops/internal/eventbus"
	"winkdrops/internal/metrics"
	"winkdrops/internal/platform"
	logx "winkdrops/pkg/logx"
)

func New(p platform.Platform, publicKey string, log logx.Logger, bus eventbus.Bus) *Controller {
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Controller{p: p, publicKey: publicKey, log: log, bus: bus, state: Unrequested, perm: platform.PermissionDefault}
	metrics.SetPermissionState(string(Unrequested), stateLabels())
	return c
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Token is the push token from the last successful retrieval ("" if none).
func (c *Controller) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *Controller) Supported() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.p != nil && !c.unsupported
}

// CanPresent reports whether local alerts may be shown: the platform is
// supported and its permission is granted. Subscription is not required.
func (c *Controller) CanPresent() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.p != nil && !c.unsupported && c.perm == platform.PermissionGranted
}

// Refresh re-reads platform permission and, when granted, retrieves the token
// silently. It never prompts and never fails; errors degrade to unsubscribed.
func (c *Controller) Refresh(ctx context.Context) State {
	if c.p == nil || !c.p.Supported() {
		c.mu.Lock()
		c.unsupported = true
		c.mu.Unlock()
		c.log.Info("push notifications unsupported; local alerts disabled")
		return c.set(Unrequested, platform.PermissionDefault, "")
	}

	perm, err := c.p.Permission(ctx)
	if err != nil {
		c.log.Warn("permission query failed", logx.Err(err))
		return c.State()
	}
	switch perm {
	case platform.PermissionGranted:
		token := c.fetchToken(ctx)
		if token != "" {
			return c.set(GrantedSubscribed, perm, token)
		}
		return c.set(GrantedUnsubscribed, perm, "")
	case platform.PermissionDenied:
		return c.set(Denied, perm, "")
	default:
		return c.set(Unrequested, perm, "")
	}
}

// Subscribe is the user-initiated subscribe action. On error the returned
// state is still current; UserMessage(err) gives the text to show.
func (c *Controller) Subscribe(ctx context.Context) (State, error) {
	st, err := c.subscribe(ctx)
	outcome := string(st)
	if err != nil {
		outcome = outcomeOf(err)
		if msg := UserMessage(err); msg != "" {
			eventbus.Publish(c.bus, eventbus.PermissionNotice, msg)
		}
	}
	metrics.SubscribeAttempts.WithLabelValues(outcome).Inc()
	return st, err
}

func (c *Controller) subscribe(ctx context.Context) (State, error) {
	if c.p == nil || !c.p.Supported() {
		c.mu.Lock()
		c.unsupported = true
		st := c.state
		c.mu.Unlock()
		return st, ErrUnsupported
	}

	// Claim the request in the same critical section as the check so only
	// one caller can prompt.
	c.mu.Lock()
	if c.state == Requesting {
		c.mu.Unlock()
		return Requesting, ErrInProgress
	}
	prev := c.state
	c.state = Requesting
	c.mu.Unlock()

	// Denied is checked against the platform, not the cached state, and never prompts.
	if perm, err := c.p.Permission(ctx); err == nil && perm == platform.PermissionDenied {
		c.mu.Lock()
		c.state = prev
		c.mu.Unlock()
		return c.set(Denied, perm, ""), ErrBlocked
	}

	c.notify(prev, Requesting)
	perm, err := c.p.RequestPermission(ctx)
	if err != nil {
		c.log.Warn("permission request failed", logx.Err(err))
		c.set(prev, c.currentPerm(), c.Token())
		return c.Refresh(ctx), fmt.Errorf("request permission: %w", err)
	}

	switch perm {
	case platform.PermissionGranted:
		token := c.fetchToken(ctx)
		if token == "" {
			c.log.Info("permission granted but no push token; local alerts only")
			return c.set(GrantedUnsubscribed, perm, ""), nil
		}
		c.log.Info("push subscription active")
		return c.set(GrantedSubscribed, perm, token), nil
	case platform.PermissionDenied:
		return c.set(Denied, perm, ""), ErrNotGranted
	default:
		// Prompt dismissed.
		return c.set(Unrequested, perm, ""), ErrNotGranted
	}
}

// fetchToken swallows errors: a failed retrieval means unsubscribed.
func (c *Controller) fetchToken(ctx context.Context) string {
	token, err := c.p.Token(ctx, c.publicKey)
	if err != nil {
		c.log.Warn("push token retrieval failed", logx.Err(err))
		return ""
	}
	return token
}

func (c *Controller) currentPerm() platform.Permission {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.perm
}

func (c *Controller) set(st State, perm platform.Permission, token string) State {
	c.mu.Lock()
	from := c.state
	c.state = st
	c.perm = perm
	c.token = token
	c.mu.Unlock()

	c.notify(from, st)
	return st
}

func (c *Controller) notify(from, to State) {
	if from == to {
		return
	}
	metrics.SetPermissionState(string(to), stateLabels())
	c.log.Debug("permission state changed", logx.String("from", string(from)), logx.String("to", string(to)))
	eventbus.Publish(c.bus, eventbus.PermissionChanged, Change{From: from, To: to})
}

// UserMessage maps a Subscribe error to the informational text shown to the user.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnsupported):
		return "Push notifications are not supported on this browser or push delivery is not configured."
	case errors.Is(err, ErrBlocked):
		return "Notification permission has been blocked in your browser settings. Please enable it to receive notifications."
	case errors.Is(err, ErrNotGranted):
		return "Notification permission was not granted."
	case errors.Is(err, ErrInProgress):
		return "A notification permission request is already in progress."
	default:
		return "Could not enable notifications. Please try again later."
	}
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, ErrUnsupported):
		return "unsupported"
	case errors.Is(err, ErrBlocked):
		return "blocked"
	case errors.Is(err, ErrNotGranted):
		return "not_granted"
	case errors.Is(err, ErrInProgress):
		return "in_progress"
	default:
		return "error"
	}
}

func stateLabels() []string {
	out := make([]string, 0, len(States))
	for _, s := range States {
		out = append(out, string(s))
	}
	return out
}
