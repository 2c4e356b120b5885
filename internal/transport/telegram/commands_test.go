package telegram

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"winkdrops/internal/alerts"
	"winkdrops/internal/nudge"
	"winkdrops/internal/outbox"
	"winkdrops/internal/permission"
	"winkdrops/internal/schedule"
	"winkdrops/internal/storage"
	logx "winkdrops/pkg/logx"
)

type fakeSubscriber struct {
	st  permission.State
	err error
}

func (f *fakeSubscriber) Subscribe(context.Context) (permission.State, error) { return f.st, f.err }
func (f *fakeSubscriber) State() permission.State                           { return f.st }

var testNow = time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)

func newCommands(t *testing.T) (*Commands, *schedule.Store) {
	t.Helper()
	store := schedule.New(storage.NewMemory(), logx.Nop(), nil, schedule.WithLocation(time.UTC))
	return &Commands{
		Scheduler:  nudge.New(store, nil, logx.Nop()),
		Subscriber: &fakeSubscriber{st: permission.GrantedSubscribed},
		Settings:   alerts.NewSettingsStore(storage.NewMemory(), logx.Nop()),
		Location:   time.UTC,
		Now:        func() time.Time { return testNow },
	}, store
}

func TestScheduleCommand(t *testing.T) {
	t.Parallel()
	c, store := newCommands(t)
	out, err := c.Run(context.Background(), "schedule", tokenize(`Alex +90m weekly "miss you"`))
	if err != nil {
		t.Fatalf("schedule error: %v", err)
	}
	items := store.List()
	if len(items) != 1 {
		t.Fatalf("store size = %d, want 1", len(items))
	}
	it := items[0]
	if it.Payload.Recipient != "Alex" || it.Payload.Message != "miss you" || it.Rule != "weekly" || !it.TargetTime.Equal(testNow.Add(90*time.Minute)) {
		t.Fatalf("item = %+v", it)
	}
	if !strings.Contains(out, it.ID) {
		t.Fatalf("reply %q does not mention id %s", out, it.ID)
	}

	if _, err := c.Run(context.Background(), "schedule", []string{"Sam", "2025-07-01T08:00", "just", "text"}); err != nil {
		t.Fatalf("schedule without rule error: %v", err)
	}
	for _, it := range store.List() {
		if it.Payload.Recipient == "Sam" && (it.Rule != "none" || it.Payload.Message != "just text") {
			t.Fatalf("Sam item = %+v, want rule none and full message", it)
		}
	}
}

func TestScheduleCommandErrors(t *testing.T) {
	t.Parallel()
	c, _ := newCommands(t)
	cases := map[string][]string{
		"usage":     {"Alex"},
		"bad time":  {"Alex", "tomorrow"},
		"recipient": {"", "+1h"},
	}
	for name, args := range cases {
		if _, err := c.Run(context.Background(), "schedule", args); err == nil {
			t.Fatalf("%s: schedule error = nil", name)
		}
	}
	_, err := c.Run(context.Background(), "schedule", []string{"A"})
	if err == nil || !strings.HasPrefix(err.Error(), "usage: /schedule") {
		t.Fatalf("usage error = %v", err)
	}
}

func TestScheduledAndCancel(t *testing.T) {
	t.Parallel()
	c, store := newCommands(t)
	ctx := context.Background()
	if out, _ := c.Run(ctx, "scheduled", nil); out != "No scheduled nudges." {
		t.Fatalf("empty list = %q", out)
	}
	_, _ = c.Run(ctx, "schedule", []string{"Alex", "+1h", "daily"})
	id := store.List()[0].ID

	out, _ := c.Run(ctx, "scheduled", nil)
	if !strings.Contains(out, id) || !strings.Contains(out, "(daily)") {
		t.Fatalf("list = %q", out)
	}
	if out, _ := c.Run(ctx, "cancel", []string{id}); !strings.Contains(out, "Cancelled") {
		t.Fatalf("cancel = %q", out)
	}
	if out, _ := c.Run(ctx, "cancel", []string{id}); !strings.Contains(out, "Nothing to cancel") {
		t.Fatalf("second cancel = %q", out)
	}
}

func TestClearAndReadCommands(t *testing.T) {
	t.Parallel()
	c, store := newCommands(t)
	ctx := context.Background()
	_, _ = c.Run(ctx, "schedule", []string{"Alex", "+1h"})
	_, _ = c.Run(ctx, "schedule", []string{"Sam", "+2h", "daily"})

	if _, err := c.Run(ctx, "clear", nil); err == nil {
		t.Fatal("clear without confirmation accepted")
	}
	out, err := c.Run(ctx, "clear", []string{"yes"})
	if err != nil || !strings.Contains(out, "Cancelled 2") || store.Len() != 0 {
		t.Fatalf("clear = %q, %v; store len %d", out, err, store.Len())
	}

	ob := outbox.New(storage.NewMemory(), 5, nil, logx.Nop(), nil)
	c.Sent = ob
	_ = ob.Dispatch(ctx, schedule.Nudge{Recipient: "Alex", Message: "hi"})
	id := ob.List()[0].ID
	if out, _ := c.Run(ctx, "outbox", nil); !strings.Contains(out, "🆕") || !strings.Contains(out, id) {
		t.Fatalf("outbox = %q", out)
	}
	if out, _ := c.Run(ctx, "read", []string{id}); !strings.Contains(out, "Marked") {
		t.Fatalf("read = %q", out)
	}
	if !ob.List()[0].IsRead {
		t.Fatal("nudge not marked read")
	}
	if out, _ := c.Run(ctx, "read", []string{"nope"}); !strings.Contains(out, "No sent nudge") {
		t.Fatalf("read unknown = %q", out)
	}
}

func TestSubscribeCommand(t *testing.T) {
	t.Parallel()
	c, _ := newCommands(t)
	out, err := c.Run(context.Background(), "subscribe", nil)
	if err != nil || !strings.Contains(out, string(permission.GrantedSubscribed)) {
		t.Fatalf("subscribe = %q, %v", out, err)
	}
	c.Subscriber = &fakeSubscriber{st: permission.Denied, err: permission.ErrBlocked}
	out, err = c.Run(context.Background(), "subscribe", nil)
	if err != nil || !strings.Contains(out, "blocked") {
		t.Fatalf("blocked subscribe = %q, %v; want informational reply", out, err)
	}
}

func TestAlertsCommand(t *testing.T) {
	t.Parallel()
	c, _ := newCommands(t)
	ctx := context.Background()
	out, err := c.Run(ctx, "alerts", []string{"newNudge", "off", "winkUpdate", "on"})
	if err != nil {
		t.Fatalf("alerts error: %v", err)
	}
	if !strings.Contains(out, "newNudge: off") || !strings.Contains(out, "winkUpdate: on") {
		t.Fatalf("alerts reply = %q", out)
	}
	if c.Settings.Get()[alerts.NewNudge] {
		t.Fatal("newNudge still enabled")
	}
	if _, err := c.Run(ctx, "alerts", []string{"bogus", "on"}); !errors.Is(err, alerts.ErrUnknownCategory) {
		t.Fatalf("alerts bogus = %v", err)
	}
	if _, err := c.Run(ctx, "alerts", []string{"newWink"}); err == nil {
		t.Fatal("odd argument count accepted")
	}
}

func TestUnknownCommandShowsHelp(t *testing.T) {
	t.Parallel()
	c, _ := newCommands(t)
	out, err := c.Run(context.Background(), "nope", nil)
	if err != nil || !strings.Contains(out, "/schedule") {
		t.Fatalf("help = %q, %v", out, err)
	}
}

func TestTokenize(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"  a  b ", []string{"a", "b"}},
		{`Alex "2025-06-01 09:00" daily`, []string{"Alex", "2025-06-01 09:00", "daily"}},
		{`say 'it\'s' ""`, []string{"say", "it's", ""}},
	}
	for _, tc := range cases {
		if got := tokenize(tc.in); !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("tokenize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestParseWhen(t *testing.T) {
	t.Parallel()
	loc := time.FixedZone("X", 2*3600)
	cases := []struct {
		in   string
		want time.Time
	}{
		{"+30m", testNow.Add(30 * time.Minute)},
		{"2025-06-11T08:00", time.Date(2025, 6, 11, 8, 0, 0, 0, loc)},
		{"2025-06-11 08:00", time.Date(2025, 6, 11, 8, 0, 0, 0, loc)},
		{"2025-06-11", time.Date(2025, 6, 11, 0, 0, 0, 0, loc)},
		{"2025-06-11T08:00:00Z", time.Date(2025, 6, 11, 8, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		got, err := parseWhen(tc.in, testNow, loc)
		if err != nil || !got.Equal(tc.want) {
			t.Fatalf("parseWhen(%q) = %v, %v; want %v", tc.in, got, err, tc.want)
		}
	}
	for _, bad := range []string{"", "soon", "+-5m", "+x"} {
		if _, err := parseWhen(bad, testNow, loc); err == nil {
			t.Fatalf("parseWhen(%q) accepted", bad)
		}
	}
}

func TestSplitText(t *testing.T) {
	t.Parallel()
	if got := splitText("short", 10); len(got) != 1 || got[0] != "short" {
		t.Fatalf("splitText(short) = %q", got)
	}
	s := strings.Repeat("line of text\n", 20) + "<b>bold tail</b>"
	chunks := splitText(s, 50)
	if strings.Join(chunks, "\n") != strings.TrimRight(s, "\n") {
		t.Fatal("chunks do not reassemble")
	}
	for _, c := range chunks {
		if len([]rune(c)) > 50 {
			t.Fatalf("chunk longer than limit: %q", c)
		}
		if strings.Count(c, "<") != strings.Count(c, ">") {
			t.Fatalf("chunk splits a tag: %q", c)
		}
	}
}

func TestIsOwner(t *testing.T) {
	t.Parallel()
	owners := []int64{1, 42}
	if !isOwner(owners, 42) || isOwner(owners, 7) || isOwner(nil, 1) {
		t.Fatal("isOwner mismatch")
	}
}
