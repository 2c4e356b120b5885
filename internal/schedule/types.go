package schedule

import (
	"errors"
	"time"

	"winkdrops/internal/recurrence"
)

var (
	ErrInvalidRule    = errors.New("invalid recurrence rule")
	ErrZeroTime       = errors.New("target time required")
	ErrEmptyRecipient = errors.New("recipient required")
)

// Nudge is the payload delivered when a scheduled send fires.
type Nudge struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Recipient string    `json:"recipient"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	IsRead    bool      `json:"isRead"`
}

const NudgeType = "Nudge"

// ScheduledSend is one pending occurrence. Items are values; the store never
// hands out pointers into its working set.
type ScheduledSend struct {
	ID         string
	Payload    Nudge
	TargetTime time.Time
	Rule       recurrence.Rule
}

// Due reports whether the item fires at now.
func (s ScheduledSend) Due(now time.Time) bool {
	return !s.TargetTime.After(now)
}

// Advance returns the replacement for a fired recurring item: same id and
// payload, next target time, payload timestamp refreshed. ok is false when the
// rule does not recur.
func (s ScheduledSend) Advance() (ScheduledSend, bool) {
	next, ok := recurrence.Next(s.TargetTime, s.Rule)
	if !ok {
		return ScheduledSend{}, false
	}
	out := s
	out.TargetTime = next
	out.Payload.Timestamp = next
	return out, true
}
