package schedule

import (
	"encoding/json"
	"fmt"
	"time"

	"winkdrops/internal/recurrence"
)

// record is the persisted form of a ScheduledSend.
type record struct {
	ID         string `json:"id"`
	Nudge      Nudge  `json:"nudge"`
	SendAt     string `json:"sendAt"`
	Recurrence string `json:"recurrence"`
}

func encode(items []ScheduledSend) ([]byte, error) {
	recs := make([]record, 0, len(items))
	for _, it := range items {
		recs = append(recs, record{
			ID:         it.ID,
			Nudge:      it.Payload,
			SendAt:     it.TargetTime.Format(time.RFC3339Nano),
			Recurrence: string(it.Rule),
		})
	}
	return json.Marshal(recs)
}

// decode is all-or-nothing: any malformed record rejects the whole set.
func decode(b []byte, loc *time.Location) ([]ScheduledSend, error) {
	var recs []record
	if err := json.Unmarshal(b, &recs); err != nil {
		return nil, err
	}
	out := make([]ScheduledSend, 0, len(recs))
	seen := make(map[string]struct{}, len(recs))
	for i, r := range recs {
		if r.ID == "" {
			return nil, fmt.Errorf("record %d: missing id", i)
		}
		if _, dup := seen[r.ID]; dup {
			return nil, fmt.Errorf("record %d: duplicate id %q", i, r.ID)
		}
		seen[r.ID] = struct{}{}
		at, err := time.Parse(time.RFC3339Nano, r.SendAt)
		if err != nil {
			return nil, fmt.Errorf("record %d: sendAt: %w", i, err)
		}
		rule, err := recurrence.Parse(r.Recurrence)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		if loc != nil {
			// Back to wall-clock zone so calendar steps follow DST.
			at = at.In(loc)
		}
		out = append(out, ScheduledSend{ID: r.ID, Payload: r.Nudge, TargetTime: at, Rule: rule})
	}
	return out, nil
}
