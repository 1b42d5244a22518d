package datasource

import (
	"sync"
	"time"

	"github.com/yourusername/fleetwatch/internal/model"
	"github.com/yourusername/fleetwatch/internal/observability"
)

// DefaultFallbackThreshold is how many consecutive failed rounds switch a
// source to fallback data
const DefaultFallbackThreshold = 3

// RoundResult is the part of an aggregation result the tracker needs.
// *model.Result satisfies it and reports a nil pointer as failed.
type RoundResult interface {
	Failed() bool
}

// FailureTracker counts consecutive failed rounds per data source. It only
// advises: rounds keep running so recovery is seen on the next success.
type FailureTracker struct {
	mu     sync.Mutex
	states map[string]*model.FailureState
	now    func() time.Time
}

// NewFailureTracker creates an empty tracker
func NewFailureTracker() *FailureTracker {
	return &FailureTracker{
		states: make(map[string]*model.FailureState),
		now:    time.Now,
	}
}

// Record updates source with one round. A nil result or a round with no
// successful cluster counts as a failure; anything else resets the count.
func (t *FailureTracker) Record(source string, result RoundResult) model.FailureState {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.stateLocked(source)
	if result == nil || result.Failed() {
		st.ConsecutiveFailures++
	} else {
		st.ConsecutiveFailures = 0
		now := t.now()
		st.LastSuccessAt = &now
	}
	observability.ConsecutiveFailures.WithLabelValues(source).Set(float64(st.ConsecutiveFailures))

	return copyState(st)
}

// ShouldFallback reports whether source has failed at least threshold times in a row
func (t *FailureTracker) ShouldFallback(source string, threshold int) bool {
	if threshold <= 0 {
		threshold = DefaultFallbackThreshold
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.states[source]
	return ok && st.ConsecutiveFailures >= threshold
}

// State returns a copy of the bookkeeping for source
func (t *FailureTracker) State(source string) model.FailureState {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.states[source]
	if !ok {
		return model.FailureState{}
	}
	return copyState(st)
}

// Reset forgets everything recorded for source
func (t *FailureTracker) Reset(source string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.states, source)
	observability.ConsecutiveFailures.WithLabelValues(source).Set(0)
}

func (t *FailureTracker) stateLocked(source string) *model.FailureState {
	st, ok := t.states[source]
	if !ok {
		st = &model.FailureState{}
		t.states[source] = st
	}
	return st
}

func copyState(st *model.FailureState) model.FailureState {
	out := model.FailureState{ConsecutiveFailures: st.ConsecutiveFailures}
	if st.LastSuccessAt != nil {
		ts := *st.LastSuccessAt
		out.LastSuccessAt = &ts
	}
	return out
}
