// Package eventbus is the in-process fanout winkdrops components use to
// announce state changes. Publishing never blocks.
package eventbus

import (
	"strings"
	"sync"
	"time"

	"winkdrops/internal/metrics"
)

const (
	ScheduleAdded       = "schedule.added"
	ScheduleRemoved     = "schedule.removed"
	SchedulePersistFail = "schedule.persist_failed"
	ScanTicked          = "scan.ticked"
	OutboxSent          = "outbox.sent"
	AlertShown          = "alert.shown"
	AlertSuppressed     = "alert.suppressed"
	AlertFailed         = "alert.failed"
	PermissionChanged   = "permission.changed"
	PermissionNotice    = "permission.notice"
)

type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	// Subscribe delivers events whose Type starts with prefix ("" matches
	// all) into a buffered channel. A full channel drops the event.
	Subscribe(prefix string, buffer int) (ch <-chan Event, unsubscribe func())
}

func New() Bus {
	return &memBus{}
}

type subscriber struct {
	prefix string
	ch     chan Event
}

type memBus struct {
	// Sends happen under RLock and close under Lock, so a closed channel is
	// never written.
	mu   sync.RWMutex
	subs []*subscriber
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if !strings.HasPrefix(e.Type, s.prefix) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			metrics.BusDropped.WithLabelValues(e.Type).Inc()
		}
	}
}

func (b *memBus) Subscribe(prefix string, buffer int) (<-chan Event, func()) {
	s := &subscriber{prefix: prefix, ch: make(chan Event, max(buffer, 1))}
	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, x := range b.subs {
				if x == s {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					break
				}
			}
			close(s.ch)
		})
	}
}

// Publish is the nil-safe form used by components with an optional bus.
func Publish(b Bus, typ string, data any) {
	if b != nil {
		b.Publish(Event{Type: typ, Time: time.Now(), Data: data})
	}
}
