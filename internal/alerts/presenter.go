package alerts

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"winkdrops/internal/eventbus"
	"winkdrops/internal/metrics"
	"winkdrops/internal/platform"
	rtsup "winkdrops/internal/runtime/supervisor"
	logx "winkdrops/pkg/logx"
)

var (
	ErrQueueFull = errors.New("alert queue full")
	ErrStopped   = errors.New("alert presenter stopped")
)

// DefaultIcon is the icon resource attached to every alert.
const DefaultIcon = "/icons/icon-192x192.png"

// Gate reports whether the platform may show alerts right now.
type Gate interface {
	CanPresent() bool
}

type Config struct {
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
	Icon            string
	Badge           string

	// BreakerFailures consecutive platform failures open the breaker for
	// BreakerCooldown; alerts fail fast while it is open.
	BreakerFailures int
	BreakerCooldown time.Duration
}

// Event is the payload of alert.* bus events.
type Event struct {
	Category Category  `json:"category"`
	Title    string    `json:"title"`
	Reason   string    `json:"reason,omitempty"`
	At       time.Time `json:"at"`
}

type job struct {
	n   platform.Notification
	key string
}

// Presenter shows local alerts: settings and permission gate, then an async
// queue with a worker pool, rate limit, retry and optional dedup. Present
// never blocks and never returns platform errors.
type Presenter struct {
	mu sync.Mutex

	log      logx.Logger
	bus      eventbus.Bus
	p        platform.Platform
	gate     Gate
	settings *SettingsStore

	cfg     Config
	limiter *rate.Limiter
	cb      *gobreaker.CircuitBreaker

	accepting bool
	sendWG    sync.WaitGroup
	queue     chan job
	sup       *rtsup.Supervisor
	stopDone  chan struct{}

	dmu   sync.Mutex
	dedup map[string]time.Time
}

func NewPresenter(cfg Config, p platform.Platform, gate Gate, settings *SettingsStore, log logx.Logger, bus eventbus.Bus) *Presenter {
	if log.IsZero() {
		log = logx.Nop()
	}
	if settings == nil {
		settings = NewSettingsStore(nil, log)
	}
	s := &Presenter{p: p, gate: gate, settings: settings, log: log, bus: bus, dedup: map[string]time.Time{}}
	s.applyLocked(cfg)
	s.cb = s.newBreaker()
	return s
}

func (s *Presenter) newBreaker() *gobreaker.CircuitBreaker {
	failures, cooldown := uint32(s.cfg.BreakerFailures), s.cfg.BreakerCooldown
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "alerts.platform",
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= failures
		},
		// A missing subscription says nothing about platform health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, platform.ErrNoSubscription) || errors.Is(err, platform.ErrNotConfigured)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.log.Warn("alert breaker state changed", logx.String("name", name), logx.String("from", from.String()), logx.String("to", to.String()))
		},
	})
}

func (s *Presenter) Settings() *SettingsStore { return s.settings }

func (s *Presenter) Apply(cfg Config) {
	s.mu.Lock()
	prev := s.cfg
	s.applyLocked(cfg)
	if prev.BreakerFailures != s.cfg.BreakerFailures || prev.BreakerCooldown != s.cfg.BreakerCooldown {
		s.cb = s.newBreaker()
	}
	s.mu.Unlock()
}

func (s *Presenter) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	if cfg.DedupMaxEntries <= 0 {
		cfg.DedupMaxEntries = 1000
	}
	if cfg.Icon == "" {
		cfg.Icon = DefaultIcon
	}
	if cfg.BreakerFailures <= 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 30 * time.Second
	}
	s.cfg = cfg
	// Burst = rate so short spikes pass without waiting.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Start launches the worker pool. Queue size and worker count changes via
// Apply take effect on the next Start.
func (s *Presenter) Start(ctx context.Context) {
	s.mu.Lock()
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.queue != nil {
		s.mu.Unlock()
		return
	}
	s.queue = make(chan job, s.cfg.QueueSize)
	s.accepting = true
	workers := s.cfg.Workers
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log.Named("alerts.workers")),
		rtsup.WithCancelOnError(false),
	)
	sup, q := s.sup, s.queue
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		sup.GoRestart(fmt.Sprintf("alerts.worker.%d", i), func(c context.Context) error {
			s.workerLoop(c, q)
			if c.Err() != nil || s.stopping() {
				return nil
			}
			return errors.New("alert worker exited unexpectedly")
		}, 250*time.Millisecond, 5*time.Second)
	}
	s.log.Info("alert presenter started", logx.Int("workers", workers), logx.String("platform", s.platformName()))
}

func (s *Presenter) stopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopDone != nil
}

// Stop stops intake and drains the queue until ctx is done.
func (s *Presenter) Stop(ctx context.Context) {
	s.mu.Lock()
	q, sup := s.queue, s.sup
	if q == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	s.accepting = false
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.sendWG.Wait()
		close(q)
		_ = sup.Wait(context.Background())
		s.mu.Lock()
		s.queue, s.sup, s.stopDone = nil, nil, nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		sup.Cancel()
	}
}

// Present requests a local alert. It is a no-op when the category is
// disabled, when the platform may not show alerts, or when the pipeline is
// full or stopped.
func (s *Presenter) Present(ctx context.Context, c Category, title, body string) {
	if !s.settings.Enabled(c) {
		s.record(c, title, "suppressed_setting", eventbus.AlertSuppressed, "setting disabled")
		return
	}
	if s.gate == nil || !s.gate.CanPresent() || s.p == nil {
		s.record(c, title, "suppressed_permission", eventbus.AlertSuppressed, "permission not granted")
		return
	}
	if err := s.enqueue(ctx, c, title, body); err != nil {
		s.log.Debug("alert dropped", logx.String("category", string(c)), logx.Err(err))
		s.record(c, title, "dropped", eventbus.AlertFailed, err.Error())
	}
}

func (s *Presenter) enqueue(ctx context.Context, c Category, title, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	cfg := s.cfg
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	n := platform.Notification{Category: string(c), Title: title, Body: body, Icon: cfg.Icon, Badge: cfg.Badge}
	key := dedupKey(n)
	if cfg.DedupWindow > 0 && !s.dedupAllow(key, cfg.DedupWindow, cfg.DedupMaxEntries) {
		s.record(c, title, "deduped", eventbus.AlertSuppressed, "duplicate")
		return nil
	}

	select {
	case q <- job{n: n, key: key}:
		metrics.AlertQueueDepth.Set(float64(len(q)))
		return nil
	default:
		return ErrQueueFull
	}
}

func (s *Presenter) workerLoop(ctx context.Context, q <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			metrics.AlertQueueDepth.Set(float64(len(q)))
			s.showWithRetry(ctx, j)
		}
	}
}

func (s *Presenter) showWithRetry(ctx context.Context, j job) {
	s.mu.Lock()
	cfg, lim, p, cb := s.cfg, s.limiter, s.p, s.cb
	s.mu.Unlock()

	c := Category(j.n.Category)
	attempts := 1 + cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return
		}
		callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		_, err := cb.Execute(func() (interface{}, error) {
			return nil, p.Show(callCtx, j.n)
		})
		cancel()
		if err == nil {
			s.record(c, j.n.Title, "shown", eventbus.AlertShown, "")
			return
		}
		lastErr = err
		s.log.Debug("alert show failed", logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", attempts))
		if attempt == attempts || errors.Is(err, platform.ErrNoSubscription) || errors.Is(err, platform.ErrNotConfigured) ||
			errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			break
		}

		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}
	// Swallowed: presentation is best-effort.
	s.log.Warn("alert not shown", logx.String("category", string(c)), logx.Err(lastErr))
	s.record(c, j.n.Title, "failed", eventbus.AlertFailed, lastErr.Error())
}

func (s *Presenter) record(c Category, title, result, evType, reason string) {
	metrics.Alerts.WithLabelValues(string(c), result).Inc()
	eventbus.Publish(s.bus, evType, Event{Category: c, Title: title, Reason: reason, At: time.Now()})
}

func (s *Presenter) platformName() string {
	if s.p == nil {
		return ""
	}
	return s.p.Name()
}

func dedupKey(n platform.Notification) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(n.Category + "|" + n.Title + "|" + n.Body))
	return fmt.Sprintf("%x", h.Sum64())
}

func (s *Presenter) dedupAllow(key string, window time.Duration, max int) bool {
	now := time.Now()
	s.dmu.Lock()
	defer s.dmu.Unlock()
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		return false
	}
	s.dedup[key] = now.Add(window)
	for k, until := range s.dedup {
		if !now.Before(until) {
			delete(s.dedup, k)
		}
	}
	for len(s.dedup) > max {
		var (
			oldest string
			minT   time.Time
		)
		for k, t := range s.dedup {
			if oldest == "" || t.Before(minT) {
				oldest, minT = k, t
			}
		}
		delete(s.dedup, oldest)
	}
	return true
}

// retryDelay is exponential from RetryBase, capped, with 0.7..1.3 jitter.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt && d < cfg.RetryMaxDelay; i++ {
		d *= 2
	}
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	return d
}
