package datasource

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/yourusername/fleetwatch/internal/cache"
	"github.com/yourusername/fleetwatch/internal/model"
	"github.com/yourusername/fleetwatch/internal/observability"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultPollInterval is the base interval between rounds for a feed
const DefaultPollInterval = 30 * time.Second

// Source is the configuration of one data source. Concrete sources are
// values of this type, not separate implementations.
type Source[T any] struct {
	Name      string
	Path      string
	Namespace string
	Cluster   string
	Params    url.Values
	Decode    Decoder[T]
	Fallback  func(source string) []model.Item[T]
	Interval  time.Duration
}

// Runner is the type-erased view of a Feed used by the server and the watch view
type Runner interface {
	Name() string
	Start()
	Stop()
	Refetch(ctx context.Context) error
	State() model.SourceState
	Subscribe() (<-chan struct{}, func())
}

// FeedDeps are the shared collaborators of every feed
type FeedDeps struct {
	Aggregator        *Aggregator
	Tracker           *FailureTracker
	Scheduler         *cache.Scheduler
	FallbackThreshold int
	Interval          time.Duration
	Logger            *zap.Logger
}

// Feed polls one data source and keeps the consumer-facing snapshot.
// State moves LIVE -> DEGRADED when fallback is advised and back to LIVE on
// the next successful round.
type Feed[T any] struct {
	source    Source[T]
	id        string
	deps      FeedDeps
	threshold int
	interval  time.Duration
	logger    *zap.Logger
	rounds    singleflight.Group

	mu      sync.Mutex
	snap    model.Snapshot[T]
	started bool
	gen     uint64
	ctx     context.Context
	cancel  context.CancelFunc
	subs    map[int]chan struct{}
	nextSub int
}

// NewFeed creates a feed for source. Nothing runs until Start.
func NewFeed[T any](source Source[T], deps FeedDeps) *Feed[T] {
	interval := source.Interval
	if interval <= 0 {
		interval = deps.Interval
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	threshold := deps.FallbackThreshold
	if threshold <= 0 {
		threshold = DefaultFallbackThreshold
	}
	if source.Decode == nil {
		source.Decode = ItemsKey[T](source.Name)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	return &Feed[T]{
		source:    source,
		id:        source.Name + "/" + uuid.NewString(),
		deps:      deps,
		threshold: threshold,
		interval:  interval,
		logger:    deps.Logger.With(zap.String("source", source.Name)),
		ctx:       ctx,
		cancel:    cancel,
		subs:      make(map[int]chan struct{}),
		snap: model.Snapshot[T]{
			Source:    source.Name,
			Data:      []model.Item[T]{},
			IsLoading: true,
			Mode:      model.ModeLive,
		},
	}
}

// Name returns the source name
func (f *Feed[T]) Name() string {
	return f.source.Name
}

// ID returns the scheduler consumer id of this feed
func (f *Feed[T]) ID() string {
	return f.id
}

// Start begins polling. Calling Start on a running feed does nothing.
func (f *Feed[T]) Start() {
	f.mu.Lock()
	if f.started {
		f.mu.Unlock()
		return
	}
	f.started = true
	f.gen++
	f.ctx, f.cancel = context.WithCancel(context.Background())
	f.mu.Unlock()

	f.logger.Info("Starting feed",
		zap.String("path", f.source.Path),
		zap.Duration("interval", f.interval),
		zap.Int("fallback_threshold", f.threshold),
	)

	f.deps.Scheduler.Start(f.id, f.interval, f.round)
}

// Stop ends polling. Results of a round still in flight are discarded.
// It is safe to call more than once.
func (f *Feed[T]) Stop() {
	f.mu.Lock()
	if !f.started {
		f.mu.Unlock()
		return
	}
	f.started = false
	f.gen++
	f.cancel()
	f.mu.Unlock()

	f.deps.Scheduler.Stop(f.id)
	f.logger.Info("Feed stopped")
}

// Refetch runs a round now, or joins the round already in flight
func (f *Feed[T]) Refetch(ctx context.Context) error {
	f.mu.Lock()
	if !f.started {
		f.mu.Unlock()
		return fmt.Errorf("feed %s is not running", f.source.Name)
	}
	feedCtx := f.ctx
	f.mu.Unlock()

	ch := f.rounds.DoChan("round", func() (any, error) {
		f.runRound(feedCtx)
		return nil, nil
	})
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns the current consumer-facing state
func (f *Feed[T]) Snapshot() model.Snapshot[T] {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

// State returns the type-erased snapshot
func (f *Feed[T]) State() model.SourceState {
	return f.Snapshot().Erase()
}

// Subscribe returns a channel signalled after every snapshot change and a
// function that cancels the subscription
func (f *Feed[T]) Subscribe() (<-chan struct{}, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.nextSub
	f.nextSub++
	ch := make(chan struct{}, 1)
	f.subs[id] = ch

	return ch, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs, id)
	}
}

// round is the scheduler tick; it shares a round with a concurrent Refetch
func (f *Feed[T]) round(ctx context.Context) {
	_, _, _ = f.rounds.Do("round", func() (any, error) {
		f.runRound(ctx)
		return nil, nil
	})
}

func (f *Feed[T]) runRound(ctx context.Context) {
	f.mu.Lock()
	if !f.started {
		f.mu.Unlock()
		return
	}
	gen := f.gen
	if !f.snap.IsLoading {
		f.snap.IsRefreshing = true
		f.notifyLocked()
	}
	f.mu.Unlock()

	result := Aggregate(ctx, f.deps.Aggregator, Query{
		Source:    f.source.Name,
		Path:      f.source.Path,
		Namespace: f.source.Namespace,
		Cluster:   f.source.Cluster,
		Params:    f.source.Params,
	}, f.source.Decode)

	f.mu.Lock()
	defer f.mu.Unlock()

	// the feed was stopped (and maybe restarted) while the round was in flight
	if !f.started || f.gen != gen || ctx.Err() != nil {
		return
	}

	state := f.deps.Tracker.Record(f.source.Name, result)
	fallback := f.deps.Tracker.ShouldFallback(f.source.Name, f.threshold)

	snap := f.snap
	snap.IsLoading = false
	snap.IsRefreshing = false
	snap.ConsecutiveFailures = state.ConsecutiveFailures
	snap.LastSuccessAt = state.LastSuccessAt
	snap.UpdatedAt = time.Now()
	snap.Attempted, snap.Succeeded = 0, 0
	if result != nil {
		snap.Attempted, snap.Succeeded = result.Attempted, result.Succeeded
	}

	switch {
	case result != nil && result.Succeeded > 0:
		if snap.Mode == model.ModeDegraded {
			f.logger.Info("Source recovered, showing live data",
				zap.Int("succeeded", result.Succeeded),
				zap.Int("attempted", result.Attempted),
			)
		}
		snap.Data = result.Items
		snap.IsDemo = false
		snap.Mode = model.ModeLive
		snap.Error = ""

	case result == nil || fallback:
		if snap.Mode == model.ModeLive {
			f.logger.Warn("Source degraded, showing fallback data",
				zap.Int("consecutive_failures", state.ConsecutiveFailures),
				zap.Bool("no_result", result == nil),
			)
		}
		snap.Data = f.fallbackData()
		snap.IsDemo = true
		snap.Mode = model.ModeDegraded
		snap.Error = f.degradedReason(result, state.ConsecutiveFailures)

	default:
		// failing but under the threshold: keep the last data, flag it stale
		snap.Error = fmt.Sprintf("refresh failed on all %d clusters; showing last known data", result.Attempted)
	}

	observability.SourceDegraded.WithLabelValues(f.source.Name).Set(observability.BoolGauge(snap.Mode == model.ModeDegraded))

	f.snap = snap
	f.notifyLocked()
}

func (f *Feed[T]) fallbackData() []model.Item[T] {
	if f.source.Fallback == nil {
		return []model.Item[T]{}
	}
	data := f.source.Fallback(f.source.Name)
	if data == nil {
		data = []model.Item[T]{}
	}
	return data
}

func (f *Feed[T]) degradedReason(result *model.Result[T], failures int) string {
	if result != nil {
		return fmt.Sprintf("live data unavailable after %d attempts; showing demo data", failures)
	}
	if gate := f.deps.Aggregator.Gate(); gate != nil && !gate.Status().Available {
		return "agent unavailable; showing demo data"
	}
	return "no reachable clusters; showing demo data"
}

func (f *Feed[T]) notifyLocked() {
	for _, ch := range f.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
