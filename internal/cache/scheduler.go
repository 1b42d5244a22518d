package cache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultHiddenMultiplier stretches poll intervals while nobody is looking
const DefaultHiddenMultiplier = 4

// IntervalPolicy computes the effective poll interval for a base interval
type IntervalPolicy func(base time.Duration, visible bool) time.Duration

// HiddenBackoff returns a policy that keeps the base interval while visible
// and multiplies it while hidden. Multipliers below 1 are treated as 1.
func HiddenBackoff(multiplier int) IntervalPolicy {
	if multiplier < 1 {
		multiplier = 1
	}
	return func(base time.Duration, visible bool) time.Duration {
		if visible {
			return base
		}
		return base * time.Duration(multiplier)
	}
}

// TickFunc runs one polling round. It must return once ctx is cancelled.
type TickFunc func(ctx context.Context)

// Scheduler owns one polling loop per consumer
type Scheduler struct {
	visibility Visibility
	policy     IntervalPolicy
	logger     *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	loops  map[string]*pollLoop
	wg     sync.WaitGroup
}

type pollLoop struct {
	id       string
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
	wake     chan struct{}
}

// NewScheduler creates a scheduler. A nil visibility is always visible and a
// nil policy uses HiddenBackoff(DefaultHiddenMultiplier).
func NewScheduler(visibility Visibility, policy IntervalPolicy, logger *zap.Logger) *Scheduler {
	if visibility == nil {
		visibility = NewStaticVisibility(true)
	}
	if policy == nil {
		policy = HiddenBackoff(DefaultHiddenMultiplier)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		visibility: visibility,
		policy:     policy,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		loops:      make(map[string]*pollLoop),
	}

	s.wg.Add(1)
	go s.watchVisibility(visibility.Changes())

	return s
}

// EffectiveInterval applies the scheduler's policy to base using the current visibility
func (s *Scheduler) EffectiveInterval(base time.Duration) time.Duration {
	return s.policy(base, s.visibility.Visible())
}

// Start runs tick immediately and then repeatedly for consumerID. A loop
// already registered under the same id is stopped first.
func (s *Scheduler) Start(consumerID string, interval time.Duration, tick TickFunc) {
	if interval <= 0 {
		interval = time.Second
	}

	ctx, cancel := context.WithCancel(s.ctx)
	l := &pollLoop{
		id:       consumerID,
		interval: interval,
		cancel:   cancel,
		done:     make(chan struct{}),
		wake:     make(chan struct{}, 1),
	}

	// Swap under one lock so concurrent starts for an id leave exactly one loop
	s.mu.Lock()
	old, replaced := s.loops[consumerID]
	s.loops[consumerID] = l
	s.mu.Unlock()

	if replaced {
		old.cancel()
		<-old.done
		s.logger.Debug("Replaced poll loop", zap.String("consumer", consumerID))
	}

	s.logger.Debug("Starting poll loop",
		zap.String("consumer", consumerID),
		zap.Duration("interval", interval),
	)

	go s.run(ctx, l, tick)
}

// Stop cancels the loop for consumerID and waits for an in-flight tick to
// return. It is a no-op for unknown ids and safe to call repeatedly.
func (s *Scheduler) Stop(consumerID string) {
	s.mu.Lock()
	l, ok := s.loops[consumerID]
	if ok {
		delete(s.loops, consumerID)
	}
	s.mu.Unlock()

	if !ok {
		return
	}

	l.cancel()
	<-l.done

	s.logger.Debug("Poll loop stopped", zap.String("consumer", consumerID))
}

// StopAll stops every loop and the visibility watcher
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.loops))
	for id := range s.loops {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.Stop(id)
	}

	s.cancel()
	s.wg.Wait()
}

// Running reports whether a loop is registered for consumerID
func (s *Scheduler) Running(consumerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.loops[consumerID]
	return ok
}

// run is the per-consumer loop. The next wait is armed only after tick
// returns, so rounds for one consumer never overlap.
func (s *Scheduler) run(ctx context.Context, l *pollLoop, tick TickFunc) {
	defer close(l.done)

	for {
		if ctx.Err() != nil {
			return
		}
		tick(ctx)
		finished := time.Now()

		if !s.wait(ctx, l, finished) {
			return
		}
	}
}

// wait blocks until the next tick is due. A visibility change re-arms the
// timer against the new effective interval. Returns false when cancelled.
func (s *Scheduler) wait(ctx context.Context, l *pollLoop, since time.Time) bool {
	for {
		due := since.Add(s.EffectiveInterval(l.interval))
		remaining := time.Until(due)
		if remaining <= 0 {
			return ctx.Err() == nil
		}

		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
			return ctx.Err() == nil
		case <-l.wake:
			timer.Stop()
		}
	}
}

// watchVisibility nudges every waiting loop when visibility flips
func (s *Scheduler) watchVisibility(changes <-chan bool) {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case visible := <-changes:
			s.logger.Debug("Visibility changed", zap.Bool("visible", visible))

			s.mu.Lock()
			for _, l := range s.loops {
				select {
				case l.wake <- struct{}{}:
				default:
				}
			}
			s.mu.Unlock()
		}
	}
}
