package schedule

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"winkdrops/internal/eventbus"
	"winkdrops/internal/recurrence"
	"winkdrops/internal/storage"
	logx "winkdrops/pkg/logx"
)

type failingKV struct{ storage.KV }

func (failingKV) Put(context.Context, string, []byte) error { return errors.New("disk full") }

// flakyKV fails reads while down is set.
type flakyKV struct {
	storage.KV
	down atomic.Bool
}

func (f *flakyKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if f.down.Load() {
		return nil, false, errors.New("connection refused")
	}
	return f.KV.Get(ctx, key)
}

func newStore(t *testing.T, kv storage.KV) *Store {
	t.Helper()
	return New(kv, logx.Nop(), nil, WithLocation(time.UTC))
}

func TestAddAssignsIDsAndPersists(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	kv := storage.NewMemory()
	s := newStore(t, kv)
	at := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)

	a, err := s.Add(ctx, Nudge{Recipient: "Alex", Message: "hi"}, at, recurrence.Daily)
	if err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	b, _ := s.Add(ctx, Nudge{Recipient: "Sam"}, at, recurrence.None)
	if a.ID == "" || a.ID == b.ID {
		t.Fatalf("ids = %q, %q, want distinct non-empty", a.ID, b.ID)
	}
	if a.Payload.Type != NudgeType || !a.Payload.Timestamp.Equal(at) || a.Payload.ID == "" {
		t.Fatalf("payload = %+v, want type Nudge, timestamp = target, id set", a.Payload)
	}
	if _, ok, _ := kv.Get(ctx, storage.KeyScheduledSends); !ok {
		t.Fatal("Add did not persist")
	}
	if s.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", s.Len())
	}
}

func TestAddRejectsBadInput(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t, nil)
	now := time.Now()
	cases := []struct {
		name    string
		payload Nudge
		at      time.Time
		rule    recurrence.Rule
		want    error
	}{
		{"rule", Nudge{Recipient: "A"}, now, recurrence.Rule("hourly"), ErrInvalidRule},
		{"time", Nudge{Recipient: "A"}, time.Time{}, recurrence.None, ErrZeroTime},
		{"recipient", Nudge{Recipient: " "}, now, recurrence.None, ErrEmptyRecipient},
	}
	for _, tc := range cases {
		if _, err := s.Add(ctx, tc.payload, tc.at, tc.rule); !errors.Is(err, tc.want) {
			t.Fatalf("%s: Add() = %v, want %v", tc.name, err, tc.want)
		}
	}
	if s.Len() != 0 {
		t.Fatalf("Len() = %d after rejected adds, want 0", s.Len())
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	bus := eventbus.New()
	events, unsub := bus.Subscribe("schedule.removed", 4)
	defer unsub()

	s := New(storage.NewMemory(), logx.Nop(), bus)
	it, _ := s.Add(ctx, Nudge{Recipient: "Alex"}, time.Now(), recurrence.None)
	if !s.Remove(ctx, it.ID) {
		t.Fatal("Remove(existing) = false")
	}
	if s.Remove(ctx, it.ID) {
		t.Fatal("Remove(absent) = true, want no-op")
	}
	if s.Remove(ctx, "nope") {
		t.Fatal("Remove(unknown) = true")
	}
	select {
	case ev := <-events:
		if got := ev.Data.(ScheduledSend).ID; got != it.ID {
			t.Fatalf("removed event id = %q, want %q", got, it.ID)
		}
	default:
		t.Fatal("no schedule.removed event")
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	kv := storage.NewMemory()
	s := newStore(t, kv)
	base := time.Date(2025, 1, 31, 7, 45, 12, 123456789, time.UTC)
	for i, r := range recurrence.Rules {
		_, err := s.Add(ctx, Nudge{Recipient: "R", Message: string(r)}, base.Add(time.Duration(i)*time.Hour), r)
		if err != nil {
			t.Fatalf("Add(%s) error: %v", r, err)
		}
	}
	want := s.List()

	restored := newStore(t, kv)
	if err := restored.Load(ctx); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	got := restored.List()
	if len(got) != len(want) {
		t.Fatalf("restored %d items, want %d", len(got), len(want))
	}
	for i := range want {
		w, g := want[i], got[i]
		if g.ID != w.ID || g.Rule != w.Rule || !g.TargetTime.Equal(w.TargetTime) ||
			g.Payload.ID != w.Payload.ID || g.Payload.Recipient != w.Payload.Recipient ||
			g.Payload.Message != w.Payload.Message || !g.Payload.Timestamp.Equal(w.Payload.Timestamp) {
			t.Fatalf("item %d = %+v, want %+v", i, g, w)
		}
	}
}

func TestLoadMalformedIsEmpty(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cases := map[string]string{
		"not json":     `{{{`,
		"bad time":     `[{"id":"a","nudge":{},"sendAt":"yesterday","recurrence":"none"}]`,
		"bad rule":     `[{"id":"a","nudge":{},"sendAt":"2025-01-01T00:00:00Z","recurrence":"hourly"}]`,
		"missing id":   `[{"nudge":{},"sendAt":"2025-01-01T00:00:00Z","recurrence":"none"}]`,
		"duplicate id": `[{"id":"a","nudge":{},"sendAt":"2025-01-01T00:00:00Z"},{"id":"a","nudge":{},"sendAt":"2025-01-01T00:00:00Z"}]`,
	}
	for name, raw := range cases {
		kv := storage.NewMemory()
		_ = kv.Put(ctx, storage.KeyScheduledSends, []byte(raw))
		s := newStore(t, kv)
		if err := s.Load(ctx); err != nil {
			t.Fatalf("%s: Load() error = %v, want nil", name, err)
		}
		if s.Len() != 0 {
			t.Fatalf("%s: Len() = %d, want 0", name, s.Len())
		}
	}

	s := newStore(t, storage.NewMemory())
	if err := s.Load(ctx); err != nil || s.Len() != 0 {
		t.Fatalf("absent state: err=%v len=%d, want nil/0", err, s.Len())
	}
}

func TestPersistFailureKeepsMemoryState(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	bus := eventbus.New()
	events, unsub := bus.Subscribe("schedule.persist_failed", 4)
	defer unsub()

	s := New(failingKV{storage.NewMemory()}, logx.Nop(), bus)
	if _, err := s.Add(ctx, Nudge{Recipient: "Alex"}, time.Now(), recurrence.None); err != nil {
		t.Fatalf("Add() error = %v, want nil despite persist failure", err)
	}
	if s.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", s.Len())
	}
	select {
	case <-events:
	default:
		t.Fatal("no persist_failed event")
	}
}

func TestMutateWithoutChangeSkipsWrite(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	kv := storage.NewMemory()
	s := newStore(t, kv)
	s.Mutate(ctx, func(items []ScheduledSend) ([]ScheduledSend, bool) { return items, false })
	if _, ok, _ := kv.Get(ctx, storage.KeyScheduledSends); ok {
		t.Fatal("unchanged Mutate wrote to storage")
	}
	s.ReplaceAll(ctx, nil)
	if v, ok, _ := kv.Get(ctx, storage.KeyScheduledSends); !ok || string(v) != "[]" {
		t.Fatalf("ReplaceAll(nil) persisted %q ok:%v, want []", v, ok)
	}
}

func TestAdvanceRefreshesTimestamp(t *testing.T) {
	t.Parallel()
	at := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	it := ScheduledSend{ID: "x", Payload: Nudge{ID: "p", Timestamp: at}, TargetTime: at, Rule: recurrence.Weekly}
	next, ok := it.Advance()
	want := at.AddDate(0, 0, 7)
	if !ok || !next.TargetTime.Equal(want) || !next.Payload.Timestamp.Equal(want) || next.ID != "x" || next.Payload.ID != "p" {
		t.Fatalf("Advance() = %+v ok:%v, want target/timestamp %v with same ids", next, ok, want)
	}
	it.Rule = recurrence.None
	if _, ok := it.Advance(); ok {
		t.Fatal("Advance(none) ok = true")
	}
}

func TestLoadReadFailureNeverOverwritesStoredSet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	kv := &flakyKV{KV: storage.NewMemory()}
	at := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)

	first := newStore(t, kv)
	for _, who := range []string{"a", "b", "c"} {
		if _, err := first.Add(ctx, Nudge{Recipient: who}, at, recurrence.Daily); err != nil {
			t.Fatalf("Add(%s) error: %v", who, err)
		}
	}

	kv.down.Store(true)
	s := newStore(t, kv)
	if err := s.Load(ctx); err == nil {
		t.Fatal("Load() error = nil, want read failure")
	}
	if _, err := s.Add(ctx, Nudge{Recipient: "d"}, at, recurrence.None); err != nil {
		t.Fatalf("Add(d) error: %v", err)
	}
	s.Mutate(ctx, func(items []ScheduledSend) ([]ScheduledSend, bool) { return items[:0], true })
	s.ReplaceAll(ctx, nil)

	raw, ok, err := kv.KV.Get(ctx, storage.KeyScheduledSends)
	if err != nil || !ok {
		t.Fatalf("stored set missing: ok=%v err=%v", ok, err)
	}
	stored, err := decode(raw, time.UTC)
	if err != nil || len(stored) != 3 {
		t.Fatalf("stored items = %d (err %v), want 3 while reads fail", len(stored), err)
	}

	kv.down.Store(false)
	if _, err := s.Add(ctx, Nudge{Recipient: "e"}, at, recurrence.None); err != nil {
		t.Fatalf("Add(e) error: %v", err)
	}
	if s.Len() != 4 {
		t.Fatalf("Len() after recovery = %d, want 4 (a, b, c restored plus e)", s.Len())
	}

	restored := newStore(t, kv)
	if err := restored.Load(ctx); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	got := map[string]bool{}
	for _, it := range restored.List() {
		got[it.Payload.Recipient] = true
	}
	for _, who := range []string{"a", "b", "c", "e"} {
		if !got[who] {
			t.Fatalf("persisted recipients = %v, missing %s", got, who)
		}
	}
}
