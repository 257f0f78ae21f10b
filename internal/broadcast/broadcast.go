package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"toonbot/internal/bot"
	"toonbot/internal/storage"
	"toonbot/pkg/logx"
)

// Config controls the broadcast sweep.
type Config struct {
	Enabled    bool
	Interval   time.Duration
	Workers    int
	RatePerSec int
	Timezone   string // IANA TZ, e.g. "Asia/Jakarta"; empty means local
}

// UpdateSender is the slice of the engine the broadcaster needs.
type UpdateSender interface {
	SendUpdate(ctx context.Context, userID string, mode bot.Mode) error
}

// ClockStore is the slice of the store the broadcaster needs.
type ClockStore interface {
	Users(ctx context.Context) ([]storage.User, error)
	BroadcastClock(ctx context.Context) (time.Time, bool, error)
	SetBroadcastClock(ctx context.Context, t time.Time) error
}

// Service owns the broadcast schedule. Start registers a cron trigger and
// fires one sweep eagerly; Stop cancels the trigger and waits for an
// in-flight sweep to finish.
type Service struct {
	cfg    Config
	store  ClockStore
	engine UpdateSender
	log    logx.Logger

	limiter *rate.Limiter

	mu      sync.Mutex
	c       *cron.Cron
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool // a sweep is in flight
}

func New(cfg Config, store ClockStore, engine UpdateSender, log logx.Logger) *Service {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 5
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:     cfg,
		store:   store,
		engine:  engine,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	if !s.cfg.Enabled {
		s.log.Info("broadcast disabled")
		return nil
	}

	loc := time.Local
	if s.cfg.Timezone != "" {
		l, err := time.LoadLocation(s.cfg.Timezone)
		if err != nil {
			return err
		}
		loc = l
	}

	rctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.c = cron.New(cron.WithLocation(loc))
	_, err := s.c.AddFunc("@every "+s.cfg.Interval.String(), func() {
		s.Sweep(rctx)
	})
	if err != nil {
		cancel()
		s.c = nil
		return err
	}
	s.c.Start()

	// First tick fires eagerly: it seeds the clock on a fresh install and
	// the clock check keeps a quick restart from replaying a broadcast.
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Sweep(rctx)
	}()

	s.log.Info("broadcaster started",
		logx.Duration("interval", s.cfg.Interval),
		logx.Int("workers", s.cfg.Workers))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	cancel := s.cancel
	s.c = nil
	s.cancel = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	stopped := c.Stop()
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		<-stopped.Done()
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
	case <-done:
	}
	s.log.Info("broadcaster stopped")
}

// Sweep runs one broadcast cycle: skip when the persisted clock is still
// fresh, otherwise send at most one update to every opted-in user and
// stamp the clock. Per-user failures are logged and skipped.
func (s *Service) Sweep(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		// A previous cycle overran the interval; don't overlap it.
		s.mu.Unlock()
		s.log.Warn("sweep still running, skipping tick")
		return
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	now := time.Now()
	clock, ok, err := s.store.BroadcastClock(ctx)
	if err != nil {
		s.log.Error("broadcast clock read failed", logx.Err(err))
		return
	}
	if ok && now.Sub(clock) < s.cfg.Interval {
		s.log.Debug("broadcast not due",
			logx.Time("last_run", clock),
			logx.Duration("interval", s.cfg.Interval))
		return
	}

	users, err := s.store.Users(ctx)
	if err != nil {
		s.log.Error("listing users failed", logx.Err(err))
		return
	}

	var targets []string
	for _, u := range users {
		if u.Notify {
			targets = append(targets, u.ID)
		}
	}
	s.log.Info("broadcast sweep starting", logx.Int("users", len(targets)))

	jobs := make(chan string)
	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for userID := range jobs {
				if err := s.limiter.Wait(ctx); err != nil {
					return
				}
				if err := s.engine.SendUpdate(ctx, userID, bot.ModeScheduled); err != nil {
					s.log.Warn("user sweep failed",
						logx.String("user", userID), logx.Err(err))
				}
			}
		}()
	}

loop:
	for _, userID := range targets {
		select {
		case <-ctx.Done():
			break loop
		case jobs <- userID:
		}
	}
	close(jobs)
	wg.Wait()

	// The clock is stamped after the sweep regardless of per-user failures;
	// a failed user waits for the next interval like everyone else.
	if err := s.store.SetBroadcastClock(ctx, now); err != nil {
		s.log.Error("broadcast clock write failed", logx.Err(err))
		return
	}
	s.log.Info("broadcast sweep finished", logx.Duration("took", time.Since(now)))
}
