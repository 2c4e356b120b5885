package nudge

import (
	"context"
	"errors"
	"testing"
	"time"

	"winkdrops/internal/alerts"
	"winkdrops/internal/recurrence"
	"winkdrops/internal/schedule"
	"winkdrops/internal/storage"
	logx "winkdrops/pkg/logx"
)

type alertRec struct {
	cat         alerts.Category
	title, body string
	n           int
}

func (a *alertRec) Present(_ context.Context, c alerts.Category, title, body string) {
	a.cat, a.title, a.body = c, title, body
	a.n++
}

func newService(t *testing.T) (*Service, *schedule.Store, *alertRec) {
	t.Helper()
	store := schedule.New(storage.NewMemory(), logx.Nop(), nil, schedule.WithLocation(time.UTC))
	rec := &alertRec{}
	return New(store, rec, logx.Nop()), store, rec
}

func TestScheduleConfirms(t *testing.T) {
	t.Parallel()
	svc, store, rec := newService(t)
	at := time.Date(2025, 12, 24, 18, 30, 0, 0, time.UTC)

	it, err := svc.Schedule(context.Background(), "Alex", "Merry!", at, recurrence.Monthly)
	if err != nil {
		t.Fatalf("Schedule() error: %v", err)
	}
	if _, ok := store.Get(it.ID); !ok {
		t.Fatal("scheduled send not in store")
	}
	if rec.cat != alerts.NewNudge || rec.title != "Nudge Scheduled!" || rec.body != "Your nudge for Alex will be sent on 12/24/2025." {
		t.Fatalf("alert = %s %q %q", rec.cat, rec.title, rec.body)
	}
}

func TestScheduleInvalidNoAlert(t *testing.T) {
	t.Parallel()
	svc, _, rec := newService(t)
	_, err := svc.Schedule(context.Background(), "", "x", time.Now(), recurrence.None)
	if !errors.Is(err, schedule.ErrEmptyRecipient) {
		t.Fatalf("Schedule() = %v, want ErrEmptyRecipient", err)
	}
	if rec.n != 0 {
		t.Fatal("alert presented for rejected schedule")
	}
}

func TestPendingOrderAndCancel(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _, _ := newService(t)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	late, _ := svc.Schedule(ctx, "late", "", base.Add(48*time.Hour), recurrence.None)
	early, _ := svc.Schedule(ctx, "early", "", base, recurrence.Daily)

	p := svc.Pending()
	if len(p) != 2 || p[0].ID != early.ID || p[1].ID != late.ID {
		t.Fatalf("Pending() = %+v, want early then late", p)
	}
	if !svc.Cancel(ctx, late.ID) || svc.Cancel(ctx, late.ID) {
		t.Fatal("Cancel should succeed once then be a no-op")
	}
	if len(svc.Pending()) != 1 {
		t.Fatalf("Pending() len = %d after cancel, want 1", len(svc.Pending()))
	}
}

func TestCancelAllPersistsEmptySet(t *testing.T) {
	t.Parallel()
	kv := storage.NewMemory()
	store := schedule.New(kv, logx.Nop(), nil, schedule.WithLocation(time.UTC))
	svc := New(store, nil, logx.Nop())
	ctx := context.Background()
	at := time.Now().Add(time.Hour)
	for _, who := range []string{"Alex", "Sam", "Kai"} {
		if _, err := svc.Schedule(ctx, who, "", at, recurrence.Weekly); err != nil {
			t.Fatalf("Schedule(%s) error: %v", who, err)
		}
	}
	if n := svc.CancelAll(ctx); n != 3 {
		t.Fatalf("CancelAll() = %d, want 3", n)
	}
	if v, ok, _ := kv.Get(ctx, storage.KeyScheduledSends); !ok || string(v) != "[]" {
		t.Fatalf("persisted = %q ok:%v, want []", v, ok)
	}
	if svc.CancelAll(ctx) != 0 {
		t.Fatal("second CancelAll() should report 0")
	}
}
