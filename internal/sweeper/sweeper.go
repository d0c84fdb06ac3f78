// Package sweeper periodically evicts expired links in the background.
package sweeper

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"k8s.io/utils/clock"

	"github.com/sundayezeilo/urlshortener/internal/errx"
	"github.com/sundayezeilo/urlshortener/internal/shortener"
)

const (
	DefaultInterval = 30 * time.Second
	// MinInterval is the finest period the scheduler supports.
	MinInterval = time.Second
)

// Store is the part of shortener.Repository a sweep needs.
type Store interface {
	FindAll(ctx context.Context) ([]shortener.Link, error)
	DeleteByCode(ctx context.Context, code string) error
}

// Config holds configuration for the sweeper.
type Config struct {
	// Interval between passes. Values below MinInterval are raised to it;
	// sub-second remainders are dropped.
	Interval time.Duration
	// OnEvict is called once per evicted link. Optional.
	OnEvict func(shortener.Link)
	Clock   clock.PassiveClock
	Logger  zerolog.Logger
}

// Sweeper runs an eviction pass on a fixed period. It implements cron.Job.
type Sweeper struct {
	store    Store
	clock    clock.PassiveClock
	interval time.Duration
	onEvict  func(shortener.Link)
	logger   zerolog.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// New creates a stopped sweeper.
func New(store Store, config *Config) *Sweeper {
	if config == nil {
		config = &Config{Logger: zerolog.Nop()}
	}

	s := &Sweeper{
		store:    store,
		clock:    config.Clock,
		interval: config.Interval,
		onEvict:  config.OnEvict,
		logger:   config.Logger.With().Str("component", "sweeper").Logger(),
	}
	if s.clock == nil {
		s.clock = clock.RealClock{}
	}
	if s.interval < MinInterval {
		s.logger.Warn().Dur("requested", config.Interval).Dur("interval", MinInterval).Msg("sweep interval too small, clamping")
		s.interval = MinInterval
	}
	s.interval = s.interval.Truncate(time.Second)
	return s
}

// Interval returns the effective period between passes.
func (s *Sweeper) Interval() time.Duration {
	return s.interval
}

// Start schedules the periodic sweep. The first pass happens one interval
// after Start. Starting a running sweeper is an error.
func (s *Sweeper) Start() error {
	const op = "sweeper.Start"

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return errx.E(op, errx.Invalid, errors.New("sweeper already started"))
	}

	logger := cronLogger{logger: s.logger}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	c.Schedule(cron.Every(s.interval), s)
	c.Start()
	s.cron = c

	s.logger.Info().Dur("interval", s.interval).Msg("sweeper started")
	return nil
}

// Stop cancels future passes. The returned context is done once a pass that
// is already running has finished. Stopping a stopped sweeper is a no-op.
func (s *Sweeper) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}

	ctx := s.cron.Stop()
	s.cron = nil
	s.logger.Info().Msg("sweeper stopped")
	return ctx
}

// Run performs one scheduled pass.
func (s *Sweeper) Run() {
	if _, err := s.SweepNow(context.Background()); err != nil {
		s.logger.Error().Err(err).Msg("sweep failed")
	}
}

// SweepNow runs a single eviction pass immediately: every link whose
// expiration instant is strictly before now is deleted. It returns the number
// of links removed, including those removed before a failure.
func (s *Sweeper) SweepNow(ctx context.Context) (int, error) {
	const op = "sweeper.SweepNow"

	all, err := s.store.FindAll(ctx)
	if err != nil {
		return 0, errx.E(op, errx.KindOf(err), err)
	}

	now := s.clock.Now()
	expired := lo.Filter(all, func(l shortener.Link, _ int) bool { return l.ExpiredAt(now) })

	evicted := 0
	for _, link := range expired {
		if err := s.store.DeleteByCode(ctx, link.Code); err != nil {
			return evicted, errx.E(op, errx.KindOf(err), err)
		}
		evicted++
		s.logger.Info().Str("code", link.Code).Str("owner_id", link.OwnerID).Time("expired_at", link.ExpiresAt).Msg("expired link evicted")
		if s.onEvict != nil {
			s.onEvict(link)
		}
	}
	return evicted, nil
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
