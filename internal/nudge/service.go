// Package nudge is the user-facing scheduling surface: it adds and cancels
// scheduled sends and confirms them with a local alert.
package nudge

import (
	"context"
	"fmt"
	"sort"
	"time"

	"winkdrops/internal/alerts"
	"winkdrops/internal/recurrence"
	"winkdrops/internal/schedule"
	logx "winkdrops/pkg/logx"
)

// DateLayout renders the send date in confirmations.
const DateLayout = "1/2/2006"

type Presenter interface {
	Present(ctx context.Context, c alerts.Category, title, body string)
}

type Service struct {
	store *schedule.Store
	alert Presenter
	log   logx.Logger
}

func New(store *schedule.Store, alert Presenter, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{store: store, alert: alert, log: log}
}

// Schedule adds a nudge for recipient at the given time and presents a
// confirmation. Validation errors come from the store.
func (s *Service) Schedule(ctx context.Context, recipient, message string, at time.Time, rule recurrence.Rule) (schedule.ScheduledSend, error) {
	it, err := s.store.Add(ctx, schedule.Nudge{Recipient: recipient, Message: message}, at, rule)
	if err != nil {
		return schedule.ScheduledSend{}, err
	}
	if s.alert != nil {
		s.alert.Present(ctx, alerts.NewNudge, "Nudge Scheduled!",
			fmt.Sprintf("Your nudge for %s will be sent on %s.", it.Payload.Recipient, at.Format(DateLayout)))
	}
	if s.log.Enabled(logx.LevelDebug) && rule.Recurring() {
		next := recurrence.Preview(at, rule, 3)
		fs := make([]string, 0, len(next))
		for _, t := range next {
			fs = append(fs, t.Format(time.RFC3339))
		}
		s.log.Debug("upcoming occurrences", logx.String("id", it.ID), logx.Strings("next", fs))
	}
	return it, nil
}

// Cancel removes a scheduled send. Unknown ids return false.
func (s *Service) Cancel(ctx context.Context, id string) bool {
	ok := s.store.Remove(ctx, id)
	if ok {
		s.log.Info("scheduled send cancelled", logx.String("id", id))
	}
	return ok
}

// CancelAll drops every scheduled send and reports how many there were.
func (s *Service) CancelAll(ctx context.Context) int {
	n := s.store.Len()
	s.store.ReplaceAll(ctx, nil)
	s.log.Info("all scheduled sends cancelled", logx.Int("count", n))
	return n
}

// Pending returns the scheduled sends ordered by target time.
func (s *Service) Pending() []schedule.ScheduledSend {
	items := s.store.List()
	sort.SliceStable(items, func(i, j int) bool { return items[i].TargetTime.Before(items[j].TargetTime) })
	return items
}
