package scanner

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	logx "winkdrops/pkg/logx"
)

var errPanic = errors.New("dispatcher panicked")

// catchUpSchedule fires once at first, then follows base.
type catchUpSchedule struct {
	base  cron.Schedule
	first time.Time
}

func withCatchUp(base cron.Schedule, first time.Time) cron.Schedule {
	return &catchUpSchedule{base: base, first: first}
}

func (s *catchUpSchedule) Next(t time.Time) time.Time {
	if !s.first.IsZero() && t.Before(s.first) {
		return s.first
	}
	return s.base.Next(t)
}

// cronLogger routes robfig/cron's logr-style logging into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	if !l.log.Enabled(logx.LevelTrace) {
		return
	}
	l.log.Trace("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
