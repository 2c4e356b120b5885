package scanner

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"winkdrops/internal/eventbus"
	"winkdrops/internal/metrics"
	"winkdrops/internal/schedule"
	logx "winkdrops/pkg/logx"
)

const DefaultInterval = 30 * time.Second

func New(cfg Config, store *schedule.Store, disp Dispatcher, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:   normalize(cfg),
		store: store,
		disp:  disp,
		log:   log,
		bus:   bus,
		now:   time.Now,
	}
}

func normalize(cfg Config) Config {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Interval < time.Second {
		cfg.Interval = time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return cfg
}

// Tick fires every item due at now exactly once, reschedules recurring ones a
// single step forward and drops the rest. Nothing is written when no item is due.
func (s *Service) Tick(ctx context.Context, now time.Time) Report {
	start := time.Now()
	rep := Report{At: now}

	s.store.Mutate(ctx, func(items []schedule.ScheduledSend) ([]schedule.ScheduledSend, bool) {
		keep := make([]schedule.ScheduledSend, 0, len(items))
		var due []schedule.ScheduledSend
		for _, it := range items {
			if it.Due(now) {
				due = append(due, it)
				continue
			}
			keep = append(keep, it)
		}
		rep.Due = len(due)
		if len(due) == 0 {
			rep.Remaining = len(keep)
			return items, false
		}

		for _, it := range due {
			result := "ok"
			if err := s.dispatch(ctx, it.Payload); err != nil {
				// The occurrence is consumed either way.
				rep.Failed++
				result = "error"
				s.log.Warn("dispatch failed",
					logx.String("id", it.ID),
					logx.String("recipient", it.Payload.Recipient),
					logx.Err(err),
				)
			}
			metrics.Dispatches.WithLabelValues(it.Rule.String(), result).Inc()

			next, ok := it.Advance()
			if !ok {
				rep.Dropped++
				continue
			}
			rep.Rescheduled++
			keep = append(keep, next)
			s.log.Debug("scheduled send advanced",
				logx.String("id", it.ID),
				logx.Time("from", it.TargetTime),
				logx.Time("to", next.TargetTime),
			)
		}
		rep.Remaining = len(keep)
		return keep, true
	})

	metrics.TickDuration.Observe(time.Since(start).Seconds())
	s.mu.Lock()
	s.lastRun = rep
	s.mu.Unlock()

	if rep.Due > 0 {
		s.log.Info("scan fired due sends",
			logx.Int("due", rep.Due),
			logx.Int("failed", rep.Failed),
			logx.Int("rescheduled", rep.Rescheduled),
			logx.Int("dropped", rep.Dropped),
			logx.Int("remaining", rep.Remaining),
		)
		eventbus.Publish(s.bus, eventbus.ScanTicked, rep)
	}
	return rep
}

func (s *Service) dispatch(ctx context.Context, p schedule.Nudge) (err error) {
	if s.disp == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("dispatcher panicked", logx.Any("panic", r))
			err = errPanic
		}
	}()
	return s.disp.Dispatch(ctx, p)
}

// LastRun returns the report of the most recent tick.
func (s *Service) LastRun() Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}

func (s *Service) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Interval
}

// Start begins periodic ticks on a cron trigger. The first tick runs one
// second after start so items that came due while stopped fire promptly.
// Disabled configs start nothing.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.runCtx = ctx
	if !s.cfg.Enabled {
		s.log.Info("scanner disabled")
		return
	}
	s.startLocked()
}

func (s *Service) startLocked() {
	cl := cronLogger{log: s.log}
	s.c = cron.New(
		cron.WithLocation(s.cfg.Location),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	ctx := s.runCtx
	job := cron.FuncJob(func() {
		if ctx.Err() != nil {
			return
		}
		s.Tick(ctx, s.now())
	})
	s.c.Schedule(withCatchUp(cron.Every(s.cfg.Interval), s.now().Add(time.Second)), job)
	s.c.Start()
	s.log.Info("scanner started", logx.Duration("interval", s.cfg.Interval), logx.String("tz", s.cfg.Location.String()))
}

// Stop halts the trigger and waits for an in-flight tick (bounded by ctx).
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("scanner stopped")
}

// Apply swaps the config; a running trigger restarts when the interval,
// location or enabled flag changed.
func (s *Service) Apply(cfg Config) {
	cfg = normalize(cfg)
	s.mu.Lock()
	old := s.cfg
	s.cfg = cfg
	running := s.c != nil
	started := s.runCtx != nil
	changed := old.Interval != cfg.Interval || old.Location.String() != cfg.Location.String() || old.Enabled != cfg.Enabled
	if !started || !changed {
		s.mu.Unlock()
		return
	}
	c := s.c
	s.c = nil
	s.mu.Unlock()

	if running {
		<-c.Stop().Done()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil && s.cfg.Enabled && s.runCtx.Err() == nil {
		s.startLocked()
	} else if !s.cfg.Enabled {
		s.log.Info("scanner disabled by config")
	}
}
