package cache

import (
	"sync"
	"time"
)

// Visibility reports whether anyone is currently looking at the data
type Visibility interface {
	// Visible reports the current state
	Visible() bool

	// Changes delivers the new state whenever it flips
	Changes() <-chan bool
}

// StaticVisibility is a Visibility that changes only when told to
type StaticVisibility struct {
	mu      sync.Mutex
	visible bool
	subs    []chan bool
}

// NewStaticVisibility creates a visibility source with the given initial state
func NewStaticVisibility(visible bool) *StaticVisibility {
	return &StaticVisibility{visible: visible}
}

// Visible reports the current state
func (v *StaticVisibility) Visible() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.visible
}

// Changes returns a channel that receives the state after each flip
func (v *StaticVisibility) Changes() <-chan bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	ch := make(chan bool, 1)
	v.subs = append(v.subs, ch)
	return ch
}

// Set updates the state and notifies subscribers when it changes
func (v *StaticVisibility) Set(visible bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.visible == visible {
		return
	}
	v.visible = visible
	for _, ch := range v.subs {
		// keep only the latest state in the buffer
		select {
		case <-ch:
		default:
		}
		ch <- visible
	}
}

// IdleVisibility is visible while activity has been seen within the idle window
type IdleVisibility struct {
	*StaticVisibility
	idle  time.Duration
	mu    sync.Mutex
	timer *time.Timer
	gen   uint64
}

// NewIdleVisibility creates a visibility source that starts hidden and becomes
// visible on Touch, dropping back to hidden after idle without activity.
func NewIdleVisibility(idle time.Duration) *IdleVisibility {
	return &IdleVisibility{
		StaticVisibility: NewStaticVisibility(false),
		idle:             idle,
	}
}

// Touch records activity
func (v *IdleVisibility) Touch() {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.StaticVisibility.Set(true)
	if v.timer != nil {
		v.timer.Stop()
	}
	v.gen++
	gen := v.gen
	v.timer = time.AfterFunc(v.idle, func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		// a later Touch owns the state now
		if v.gen != gen {
			return
		}
		v.StaticVisibility.Set(false)
	})
}

// Close stops the idle timer
func (v *IdleVisibility) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.timer != nil {
		v.timer.Stop()
	}
}
