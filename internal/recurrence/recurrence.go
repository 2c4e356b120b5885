// Package recurrence computes the next occurrence of a scheduled send.
//
// All arithmetic is calendar arithmetic in the time's own location, so the
// wall-clock time of day is preserved across DST changes.
package recurrence

import (
	"fmt"
	"strings"
	"time"
)

type Rule string

const (
	None    Rule = "none"
	Daily   Rule = "daily"
	Weekly  Rule = "weekly"
	Monthly Rule = "monthly"
)

// Rules lists every accepted rule.
var Rules = []Rule{None, Daily, Weekly, Monthly}

// Parse accepts a rule name case-insensitively. Empty means None.
func Parse(s string) (Rule, error) {
	r := Rule(strings.ToLower(strings.TrimSpace(s)))
	if r == "" {
		return None, nil
	}
	if !r.Valid() {
		return "", fmt.Errorf("unknown recurrence rule %q", s)
	}
	return r, nil
}

func (r Rule) Valid() bool {
	switch r {
	case None, Daily, Weekly, Monthly:
		return true
	}
	return false
}

// Recurring reports whether a fired item with this rule is rescheduled.
func (r Rule) Recurring() bool {
	switch r {
	case Daily, Weekly, Monthly:
		return true
	}
	return false
}

func (r Rule) String() string { return string(r) }

// Next returns the occurrence after t. ok is false for None and unknown rules;
// the caller drops such items instead of rescheduling them.
//
// Monthly advances the month by one and clamps the day to the last day of the
// target month (Jan 31 -> Feb 28/29). The clamped day carries forward.
func Next(t time.Time, r Rule) (time.Time, bool) {
	switch r {
	case Daily:
		return t.AddDate(0, 0, 1), true
	case Weekly:
		return t.AddDate(0, 0, 7), true
	case Monthly:
		return addMonthClamped(t), true
	default:
		return time.Time{}, false
	}
}

func addMonthClamped(t time.Time) time.Time {
	y, m, d := t.Date()
	hh, mm, ss := t.Clock()
	// Day 0 of the month after the target is the target's last day.
	last := time.Date(y, m+2, 0, 0, 0, 0, 0, t.Location()).Day()
	if d > last {
		d = last
	}
	return time.Date(y, m+1, d, hh, mm, ss, t.Nanosecond(), t.Location())
}

// Preview returns the next n occurrences after t (empty for non-recurring rules).
func Preview(t time.Time, r Rule, n int) []time.Time {
	if n <= 0 || !r.Recurring() {
		return nil
	}
	out := make([]time.Time, 0, n)
	cur := t
	for i := 0; i < n; i++ {
		next, ok := Next(cur, r)
		if !ok {
			break
		}
		out = append(out, next)
		cur = next
	}
	return out
}
