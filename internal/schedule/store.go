package schedule

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"winkdrops/internal/eventbus"
	"winkdrops/internal/metrics"
	"winkdrops/internal/recurrence"
	"winkdrops/internal/storage"
	logx "winkdrops/pkg/logx"
)

// Store owns the set of pending scheduled sends and persists it to the
// key-value store on every mutation.
//
// Every mutation (including Mutate's callback) runs under one lock, so a scan
// commit and a user cancellation never interleave.
type Store struct {
	kv  storage.KV
	log logx.Logger
	bus eventbus.Bus
	loc *time.Location

	mu    sync.Mutex
	items []ScheduledSend
	// loaded is false until a read of the persisted set succeeds. Until then
	// nothing is written, so an unreadable backend is never overwritten.
	loaded bool
}

type Option func(*Store)

// WithLocation sets the wall-clock zone restored target times are converted to.
func WithLocation(loc *time.Location) Option {
	return func(s *Store) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func New(kv storage.KV, log logx.Logger, bus eventbus.Bus, opts ...Option) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	if kv == nil {
		kv = storage.NewMemory()
	}
	s := &Store{kv: kv, log: log, bus: bus, loc: time.Local}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Load restores the set from the key-value store. Absent or malformed state
// yields an empty set. A backend read failure is returned and leaves the store
// unloaded: mutations stay in memory and the read is retried before each
// write until it succeeds.
func (s *Store) Load(ctx context.Context) error {
	b, ok, err := s.kv.Get(ctx, storage.KeyScheduledSends)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.loaded = false
		s.log.Warn("scheduled sends unreadable; not persisting until a read succeeds", logx.Err(err))
		metrics.ScheduledSends.Set(float64(len(s.items)))
		return err
	}
	s.items = s.decodeLocked(b, ok)
	s.loaded = true
	metrics.ScheduledSends.Set(float64(len(s.items)))
	s.log.Info("scheduled sends restored", logx.Int("count", len(s.items)))
	return nil
}

func (s *Store) decodeLocked(b []byte, ok bool) []ScheduledSend {
	if !ok || len(b) == 0 {
		return nil
	}
	items, err := decode(b, s.loc)
	if err != nil {
		s.log.Warn("scheduled sends malformed; starting empty", logx.Err(err))
		return nil
	}
	return items
}

// ensureLoadedLocked retries a failed Load. On success the persisted set is
// merged under the in-memory one: items created while unloaded are kept and
// restored items are added back. While the read keeps failing nothing changes.
func (s *Store) ensureLoadedLocked(ctx context.Context) {
	if s.loaded {
		return
	}
	b, ok, err := s.kv.Get(ctx, storage.KeyScheduledSends)
	if err != nil {
		return
	}
	restored := s.decodeLocked(b, ok)
	have := make(map[string]struct{}, len(s.items))
	for _, it := range s.items {
		have[it.ID] = struct{}{}
	}
	for _, it := range restored {
		if _, dup := have[it.ID]; !dup {
			s.items = append(s.items, it)
		}
	}
	s.loaded = true
	metrics.ScheduledSends.Set(float64(len(s.items)))
	s.log.Info("scheduled sends restored",
		logx.Int("restored", len(restored)),
		logx.Int("count", len(s.items)),
	)
}

// Add schedules payload at the given time. The payload gets the standard
// nudge type, a fresh id when it has none, and at as its timestamp.
func (s *Store) Add(ctx context.Context, payload Nudge, at time.Time, rule recurrence.Rule) (ScheduledSend, error) {
	if !rule.Valid() {
		return ScheduledSend{}, fmt.Errorf("%w: %q", ErrInvalidRule, rule)
	}
	if at.IsZero() {
		return ScheduledSend{}, ErrZeroTime
	}
	payload.Recipient = strings.TrimSpace(payload.Recipient)
	if payload.Recipient == "" {
		return ScheduledSend{}, ErrEmptyRecipient
	}
	if payload.ID == "" {
		payload.ID = "nudge-sched-" + uuid.NewString()
	}
	payload.Type = NudgeType
	payload.Timestamp = at

	item := ScheduledSend{
		ID:         "sched-" + uuid.NewString(),
		Payload:    payload,
		TargetTime: at,
		Rule:       rule,
	}

	s.mu.Lock()
	s.ensureLoadedLocked(ctx)
	next := append(s.snapshotLocked(), item)
	s.commitLocked(ctx, next)
	s.mu.Unlock()

	eventbus.Publish(s.bus, eventbus.ScheduleAdded, item)
	s.log.Debug("scheduled send added",
		logx.String("id", item.ID),
		logx.String("recipient", item.Payload.Recipient),
		logx.Time("at", at),
		logx.String("rule", rule.String()),
	)
	return item, nil
}

// Remove deletes the item with id. Absent ids are a no-op (returns false).
func (s *Store) Remove(ctx context.Context, id string) bool {
	id = strings.TrimSpace(id)
	s.mu.Lock()
	s.ensureLoadedLocked(ctx)
	idx := -1
	for i, it := range s.items {
		if it.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	next := s.snapshotLocked()
	removed := next[idx]
	next = append(next[:idx], next[idx+1:]...)
	s.commitLocked(ctx, next)
	s.mu.Unlock()

	eventbus.Publish(s.bus, eventbus.ScheduleRemoved, removed)
	return true
}

// ReplaceAll swaps the whole working set in one step.
func (s *Store) ReplaceAll(ctx context.Context, items []ScheduledSend) {
	cp := append([]ScheduledSend(nil), items...)
	s.mu.Lock()
	if !s.loaded {
		if _, _, err := s.kv.Get(ctx, storage.KeyScheduledSends); err == nil {
			s.loaded = true
		}
	}
	s.commitLocked(ctx, cp)
	s.mu.Unlock()
}

// Mutate runs fn on a copy of the working set and, if fn reports a change,
// commits its result exactly like ReplaceAll. fn runs under the store lock and
// must not call back into the store.
func (s *Store) Mutate(ctx context.Context, fn func(items []ScheduledSend) ([]ScheduledSend, bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoadedLocked(ctx)
	next, changed := fn(s.snapshotLocked())
	if !changed {
		return
	}
	s.commitLocked(ctx, append([]ScheduledSend(nil), next...))
}

// List returns a read-only snapshot.
func (s *Store) List() []ScheduledSend {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) Get(id string) (ScheduledSend, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range s.items {
		if it.ID == id {
			return it, true
		}
	}
	return ScheduledSend{}, false
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *Store) snapshotLocked() []ScheduledSend {
	return append([]ScheduledSend(nil), s.items...)
}

// commitLocked installs next and writes it through. A failed write keeps the
// in-memory set; the next mutation retries with the full set.
func (s *Store) commitLocked(ctx context.Context, next []ScheduledSend) {
	s.items = next
	metrics.ScheduledSends.Set(float64(len(next)))
	if !s.loaded {
		metrics.PersistFailures.WithLabelValues(storage.KeyScheduledSends).Inc()
		s.log.Warn("scheduled sends not persisted; stored set still unreadable", logx.Int("count", len(next)))
		eventbus.Publish(s.bus, eventbus.SchedulePersistFail, "stored set unreadable")
		return
	}

	b, err := encode(next)
	if err == nil {
		err = s.kv.Put(ctx, storage.KeyScheduledSends, b)
	}
	if err != nil {
		metrics.PersistFailures.WithLabelValues(storage.KeyScheduledSends).Inc()
		s.log.Warn("persist scheduled sends failed", logx.Int("count", len(next)), logx.Err(err))
		eventbus.Publish(s.bus, eventbus.SchedulePersistFail, err.Error())
	}
}
