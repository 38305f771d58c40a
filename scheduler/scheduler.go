// Package scheduler drives the per-channel sync loops. Every registered
// channel gets one cooperative loop that idles while the session gate is
// closed and otherwise alternates push and pull rounds on a jittered
// cadence. A burst runs a full round out of band, at most one per
// channel at a time.
package scheduler

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/svio-coop/go-svio/session"
)

var errStarted = errors.New("scheduler already started")

// Channel is one category of session state reconciled with the store.
// Push publishes local state, Pull fetches and merges remote state.
// Within one round the push always completes before the pull; the
// scheduler guarantees nothing across channels.
type Channel interface {
	Name() string
	Push(ctx context.Context) error
	Pull(ctx context.Context) error
}

type entry struct {
	ch       Channel
	interval time.Duration
	// serializes scheduled rounds with bursts
	mu       sync.Mutex
	bursting atomic.Bool
}

// Scheduler owns the channel loops.
type Scheduler struct {
	logger *zap.Logger
	clock  clockwork.Clock
	cfg    Config
	gate   session.Gate

	eg        errgroup.Group
	cancel    context.CancelFunc
	startOnce sync.Once
	stopOnce  sync.Once

	mu      sync.Mutex
	entries []*entry
	runCtx  context.Context
	started bool
}

// Opt modifies a Scheduler.
type Opt func(*Scheduler)

// WithLogger sets the scheduler logger.
func WithLogger(logger *zap.Logger) Opt {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithConfig sets the scheduler config.
func WithConfig(cfg Config) Opt {
	return func(s *Scheduler) {
		s.cfg = cfg
	}
}

func withClock(clock clockwork.Clock) Opt {
	return func(s *Scheduler) {
		s.clock = clock
	}
}

// New creates a scheduler gated by the given session gate.
func New(gate session.Gate, opts ...Opt) *Scheduler {
	s := &Scheduler{
		logger: zap.NewNop(),
		clock:  clockwork.NewRealClock(),
		cfg:    DefaultConfig(),
		gate:   gate,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds a channel with its round interval. All channels must be
// registered before Start.
func (s *Scheduler) Register(ch Channel, every time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errStarted
	}
	s.entries = append(s.entries, &entry{ch: ch, interval: every})
	return nil
}

// Start launches one loop per registered channel.
func (s *Scheduler) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		s.mu.Lock()
		s.started = true
		s.runCtx = ctx
		s.cancel = cancel
		entries := s.entries
		s.mu.Unlock()
		for _, e := range entries {
			s.eg.Go(func() error {
				s.run(ctx, e)
				return nil
			})
		}
	})
}

// Close stops all loops and waits for them to exit. In-flight rounds are
// abandoned at their next blocking point.
func (s *Scheduler) Close() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		cancel := s.cancel
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		s.eg.Wait()
	})
}

// Burst runs a push+pull round for the named channel right away, outside
// its cadence. At most one burst per channel is in flight; a second
// request while one runs is a no-op. Reports whether the burst was
// accepted.
func (s *Scheduler) Burst(name string) bool {
	s.mu.Lock()
	var target *entry
	for _, e := range s.entries {
		if e.ch.Name() == name {
			target = e
			break
		}
	}
	ctx := s.runCtx
	s.mu.Unlock()
	if target == nil || ctx == nil || ctx.Err() != nil {
		s.logger.Debug("burst ignored", zap.String("channel", name))
		return false
	}
	if !target.bursting.CompareAndSwap(false, true) {
		return false
	}
	s.eg.Go(func() error {
		defer target.bursting.Store(false)
		if !s.gate.Ready() {
			return nil
		}
		logger := s.logger.With(zap.String("channel", name), zap.Bool("burst", true))
		s.step(ctx, target, logger, opPush, target.ch.Push)
		s.step(ctx, target, logger, opPull, target.ch.Pull)
		return nil
	})
	return true
}

// BurstAll bursts every registered channel, typically right after the
// session gate opens, to catch up without waiting out the cadences.
func (s *Scheduler) BurstAll() {
	s.mu.Lock()
	names := make([]string, 0, len(s.entries))
	for _, e := range s.entries {
		names = append(names, e.ch.Name())
	}
	s.mu.Unlock()
	for _, name := range names {
		s.Burst(name)
	}
}

func (s *Scheduler) run(ctx context.Context, e *entry) {
	logger := s.logger.With(zap.String("channel", e.ch.Name()))
	logger.Debug("channel loop started", zap.Duration("interval", e.interval))
	defer logger.Debug("channel loop stopped")
	for {
		if !s.gate.Ready() {
			if !s.sleep(ctx, s.cfg.ReadyPoll) {
				return
			}
			continue
		}
		s.step(ctx, e, logger, opPush, e.ch.Push)
		if !s.sleep(ctx, s.jittered(e.interval)) {
			return
		}
		s.step(ctx, e, logger, opPull, e.ch.Pull)
		if !s.sleep(ctx, s.jittered(e.interval)) {
			return
		}
	}
}

func (s *Scheduler) step(
	ctx context.Context,
	e *entry,
	logger *zap.Logger,
	op string,
	fn func(context.Context) error,
) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ctx.Err() != nil {
		return
	}
	if err := fn(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		steps.WithLabelValues(e.ch.Name(), op, outcomeFail).Inc()
		logger.Warn("sync step failed", zap.String("op", op), zap.Error(err))
		return
	}
	steps.WithLabelValues(e.ch.Name(), op, outcomeOK).Inc()
}

func (s *Scheduler) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-s.clock.After(d):
		return true
	}
}

func (s *Scheduler) jittered(d time.Duration) time.Duration {
	f := 1 + (rand.Float64()*2-1)*s.cfg.Jitter
	j := time.Duration(float64(d) * f)
	if j < s.cfg.MinSleep {
		j = s.cfg.MinSleep
	}
	return j
}
