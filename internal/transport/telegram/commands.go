package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"sort"
	"strings"
	"time"

	"winkdrops/internal/alerts"
	"winkdrops/internal/permission"
	"winkdrops/internal/recurrence"
	"winkdrops/internal/schedule"
)

type Scheduler interface {
	Schedule(ctx context.Context, recipient, message string, at time.Time, rule recurrence.Rule) (schedule.ScheduledSend, error)
	Cancel(ctx context.Context, id string) bool
	CancelAll(ctx context.Context) int
	Pending() []schedule.ScheduledSend
}

type Subscriber interface {
	Subscribe(ctx context.Context) (permission.State, error)
	State() permission.State
}

type SettingsEditor interface {
	Get() alerts.Settings
	Update(ctx context.Context, patch map[alerts.Category]bool) (alerts.Settings, error)
}

type SentLister interface {
	List() []schedule.Nudge
	MarkRead(ctx context.Context, id string) bool
}

// Command is one chat command. Run receives the tokenized arguments and
// returns the HTML reply.
type Command struct {
	Name        string
	Usage       string
	Description string
	Run         func(ctx context.Context, args []string) (string, error)
}

var errUsage = errors.New("usage")

// Commands builds the command set over the scheduling services.
type Commands struct {
	Scheduler  Scheduler
	Subscriber Subscriber
	Settings   SettingsEditor
	Sent       SentLister
	Location   *time.Location
	Now        func() time.Time

	cmds []Command
}

func (c *Commands) List() []Command {
	if c.cmds != nil {
		return c.cmds
	}
	c.cmds = []Command{
		{Name: "schedule", Usage: "/schedule <recipient> <when> [none|daily|weekly|monthly] [message]", Description: "schedule a nudge", Run: c.schedule},
		{Name: "scheduled", Usage: "/scheduled", Description: "list pending nudges", Run: c.scheduled},
		{Name: "cancel", Usage: "/cancel <id>", Description: "cancel a scheduled nudge", Run: c.cancel},
		{Name: "clear", Usage: "/clear yes", Description: "cancel every scheduled nudge", Run: c.clear},
		{Name: "outbox", Usage: "/outbox", Description: "recently sent nudges", Run: c.outbox},
		{Name: "read", Usage: "/read <id>", Description: "mark a sent nudge as read", Run: c.read},
		{Name: "subscribe", Usage: "/subscribe", Description: "enable push notifications", Run: c.subscribe},
		{Name: "alerts", Usage: "/alerts [category on|off]...", Description: "show or change alert settings", Run: c.alerts},
		{Name: "help", Usage: "/help", Description: "this help", Run: c.help},
	}
	return c.cmds
}

// Run dispatches by name. Unknown names fall back to help.
func (c *Commands) Run(ctx context.Context, name string, args []string) (string, error) {
	for _, cmd := range c.List() {
		if cmd.Name == name {
			out, err := cmd.Run(ctx, args)
			if errors.Is(err, errUsage) {
				return "", fmt.Errorf("usage: %s", cmd.Usage)
			}
			return out, err
		}
	}
	return c.help(ctx, nil)
}

func (c *Commands) loc() *time.Location {
	if c.Location != nil {
		return c.Location
	}
	return time.Local
}

func (c *Commands) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *Commands) schedule(ctx context.Context, args []string) (string, error) {
	if len(args) < 2 {
		return "", errUsage
	}
	at, err := parseWhen(args[1], c.now(), c.loc())
	if err != nil {
		return "", err
	}
	rest := args[2:]
	rule := recurrence.None
	if len(rest) > 0 {
		if r, perr := recurrence.Parse(strings.ToLower(rest[0])); perr == nil {
			rule, rest = r, rest[1:]
		}
	}
	it, err := c.Scheduler.Schedule(ctx, args[0], strings.Join(rest, " "), at, rule)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("✅ Scheduled <code>%s</code> for <b>%s</b> at %s (%s)",
		it.ID, escape(it.Payload.Recipient), it.TargetTime.Format("2006-01-02 15:04 MST"), it.Rule), nil
}

func (c *Commands) scheduled(context.Context, []string) (string, error) {
	items := c.Scheduler.Pending()
	if len(items) == 0 {
		return "No scheduled nudges.", nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "<b>Scheduled (%d)</b>\n", len(items))
	for _, it := range items {
		fmt.Fprintf(&b, "• <code>%s</code> %s → %s", it.ID, it.TargetTime.In(c.loc()).Format("2006-01-02 15:04"), escape(it.Payload.Recipient))
		if it.Rule.Recurring() {
			fmt.Fprintf(&b, " (%s)", it.Rule)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (c *Commands) cancel(ctx context.Context, args []string) (string, error) {
	if len(args) != 1 {
		return "", errUsage
	}
	if !c.Scheduler.Cancel(ctx, args[0]) {
		return "Nothing to cancel for <code>" + escape(args[0]) + "</code>.", nil
	}
	return "🗑 Cancelled <code>" + escape(args[0]) + "</code>.", nil
}

func (c *Commands) clear(ctx context.Context, args []string) (string, error) {
	if len(args) != 1 || !strings.EqualFold(args[0], "yes") {
		return "", errUsage
	}
	return fmt.Sprintf("🗑 Cancelled %d scheduled nudge(s).", c.Scheduler.CancelAll(ctx)), nil
}

func (c *Commands) outbox(context.Context, []string) (string, error) {
	if c.Sent == nil {
		return "Outbox unavailable.", nil
	}
	items := c.Sent.List()
	if len(items) == 0 {
		return "Outbox is empty.", nil
	}
	if len(items) > 10 {
		items = items[:10]
	}
	var b strings.Builder
	b.WriteString("<b>Recently sent</b>\n")
	for _, n := range items {
		mark := "•"
		if !n.IsRead {
			mark = "🆕"
		}
		fmt.Fprintf(&b, "%s <code>%s</code> %s → %s\n", mark, n.ID, n.Timestamp.In(c.loc()).Format("2006-01-02 15:04"), escape(n.Recipient))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (c *Commands) read(ctx context.Context, args []string) (string, error) {
	if len(args) != 1 {
		return "", errUsage
	}
	if c.Sent == nil || !c.Sent.MarkRead(ctx, args[0]) {
		return "No sent nudge <code>" + escape(args[0]) + "</code>.", nil
	}
	return "Marked <code>" + escape(args[0]) + "</code> as read.", nil
}

func (c *Commands) subscribe(ctx context.Context, _ []string) (string, error) {
	if c.Subscriber == nil {
		return permission.UserMessage(permission.ErrUnsupported), nil
	}
	st, err := c.Subscriber.Subscribe(ctx)
	if err != nil {
		// Informational, not a command failure.
		return "ℹ️ " + escape(permission.UserMessage(err)), nil
	}
	return "🔔 Notifications: <b>" + string(st) + "</b>", nil
}

func (c *Commands) alerts(ctx context.Context, args []string) (string, error) {
	if c.Settings == nil {
		return "Alert settings unavailable.", nil
	}
	cur := c.Settings.Get()
	if len(args) > 0 {
		if len(args)%2 != 0 {
			return "", errUsage
		}
		patch := make(map[alerts.Category]bool, len(args)/2)
		for i := 0; i < len(args); i += 2 {
			cat, err := alerts.ParseCategory(args[i])
			if err != nil {
				return "", err
			}
			on, err := parseOnOff(args[i+1])
			if err != nil {
				return "", err
			}
			patch[cat] = on
		}
		next, err := c.Settings.Update(ctx, patch)
		if err != nil && next == nil {
			return "", err
		}
		cur = next
	}
	var b strings.Builder
	b.WriteString("<b>Alerts</b>\n")
	cats := append([]alerts.Category(nil), alerts.Categories...)
	sort.Slice(cats, func(i, j int) bool { return cats[i] < cats[j] })
	for _, cat := range cats {
		mark := "off"
		if cur[cat] {
			mark = "on"
		}
		fmt.Fprintf(&b, "• %s: %s\n", cat, mark)
	}
	if c.Subscriber != nil {
		fmt.Fprintf(&b, "permission: %s", c.Subscriber.State())
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (c *Commands) help(context.Context, []string) (string, error) {
	var b strings.Builder
	b.WriteString("<b>Commands</b>\n")
	for _, cmd := range c.List() {
		fmt.Fprintf(&b, "<code>%s</code> %s\n", escape(cmd.Usage), cmd.Description)
	}
	b.WriteString("\n<i>when</i>: 2006-01-02T15:04, RFC3339, or +duration (e.g. +90m)")
	return b.String(), nil
}

func parseOnOff(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "true", "1", "yes":
		return true, nil
	case "off", "false", "0", "no":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", s)
}

func escape(s string) string { return html.EscapeString(s) }
