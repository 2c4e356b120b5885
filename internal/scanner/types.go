package scanner

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"winkdrops/internal/eventbus"
	"winkdrops/internal/schedule"
	logx "winkdrops/pkg/logx"
)

// Dispatcher delivers one fired payload. It runs while the schedule store is
// locked and must not call back into it.
type Dispatcher interface {
	Dispatch(ctx context.Context, payload schedule.Nudge) error
}

type DispatchFunc func(ctx context.Context, payload schedule.Nudge) error

func (f DispatchFunc) Dispatch(ctx context.Context, payload schedule.Nudge) error {
	return f(ctx, payload)
}

type Config struct {
	Enabled  bool
	Interval time.Duration // default 30s; cron rounds to whole seconds
	Location *time.Location
}

// Report summarizes one tick.
type Report struct {
	At          time.Time
	Due         int
	Failed      int
	Rescheduled int
	Dropped     int
	Remaining   int
}

type Service struct {
	store *schedule.Store
	disp  Dispatcher
	log   logx.Logger
	bus   eventbus.Bus
	now   func() time.Time

	mu      sync.Mutex
	cfg     Config
	c       *cron.Cron
	runCtx  context.Context
	lastRun Report
}
