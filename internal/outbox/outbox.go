// Package outbox records sent nudges. It is the dispatcher the scanner hands
// due payloads to.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"winkdrops/internal/alerts"
	"winkdrops/internal/eventbus"
	"winkdrops/internal/metrics"
	"winkdrops/internal/schedule"
	"winkdrops/internal/storage"
	logx "winkdrops/pkg/logx"
)

const DefaultSize = 200

// Presenter is the local alert sink.
type Presenter interface {
	Present(ctx context.Context, c alerts.Category, title, body string)
}

// Outbox keeps the most recent sent nudges, newest first.
type Outbox struct {
	kv    storage.KV
	log   logx.Logger
	bus   eventbus.Bus
	alert Presenter
	size  int
	now   func() time.Time

	mu    sync.Mutex
	items []schedule.Nudge
}

func New(kv storage.KV, size int, alert Presenter, log logx.Logger, bus eventbus.Bus) *Outbox {
	if log.IsZero() {
		log = logx.Nop()
	}
	if kv == nil {
		kv = storage.NewMemory()
	}
	if size <= 0 {
		size = DefaultSize
	}
	return &Outbox{kv: kv, log: log, bus: bus, alert: alert, size: size, now: time.Now}
}

// Load restores the outbox. Malformed state is discarded.
func (o *Outbox) Load(ctx context.Context) error {
	b, ok, err := o.kv.Get(ctx, storage.KeyOutbox)
	o.mu.Lock()
	defer o.mu.Unlock()
	o.items = nil
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	var items []schedule.Nudge
	if jerr := json.Unmarshal(b, &items); jerr != nil {
		o.log.Warn("outbox malformed; starting empty", logx.Err(jerr))
		return nil
	}
	if len(items) > o.size {
		items = items[:o.size]
	}
	o.items = items
	return nil
}

// Dispatch records payload as sent now under a fresh id and presents a local
// alert. The returned error reports only a failed write; the nudge stays in
// memory either way.
func (o *Outbox) Dispatch(ctx context.Context, payload schedule.Nudge) error {
	sent := payload
	sent.ID = "nudge-" + uuid.NewString()
	sent.Type = schedule.NudgeType
	sent.Timestamp = o.now()
	sent.IsRead = false

	o.mu.Lock()
	next := make([]schedule.Nudge, 0, min(len(o.items)+1, o.size))
	next = append(next, sent)
	for _, it := range o.items {
		if len(next) == o.size {
			break
		}
		next = append(next, it)
	}
	o.items = next
	b, err := json.Marshal(next)
	if err == nil {
		err = o.kv.Put(ctx, storage.KeyOutbox, b)
	}
	o.mu.Unlock()

	if err != nil {
		metrics.PersistFailures.WithLabelValues(storage.KeyOutbox).Inc()
		o.log.Warn("persist outbox failed", logx.Err(err))
		err = fmt.Errorf("outbox: %w", err)
	}
	eventbus.Publish(o.bus, eventbus.OutboxSent, sent)
	o.log.Info("nudge sent", logx.String("id", sent.ID), logx.String("recipient", sent.Recipient))

	if o.alert != nil {
		o.alert.Present(ctx, alerts.NewNudge,
			fmt.Sprintf("A new Nudge for %s has been sent.", sent.Recipient),
			"Click to view.")
	}
	return err
}

// List returns the outbox newest first.
func (o *Outbox) List() []schedule.Nudge {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]schedule.Nudge(nil), o.items...)
}

// MarkRead flags the nudge with id as read. Unknown ids return false.
func (o *Outbox) MarkRead(ctx context.Context, id string) bool {
	o.mu.Lock()
	idx := -1
	for i, it := range o.items {
		if it.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 || o.items[idx].IsRead {
		o.mu.Unlock()
		return idx >= 0
	}
	next := append([]schedule.Nudge(nil), o.items...)
	next[idx].IsRead = true
	o.items = next
	b, err := json.Marshal(next)
	if err == nil {
		err = o.kv.Put(ctx, storage.KeyOutbox, b)
	}
	o.mu.Unlock()
	if err != nil {
		metrics.PersistFailures.WithLabelValues(storage.KeyOutbox).Inc()
		o.log.Warn("persist outbox failed", logx.Err(err))
	}
	return true
}
