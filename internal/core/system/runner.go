package system

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Runner executes systems in phase order each tick. Tick is called from the
// host thread only; Register and Unregister may be called from anywhere and
// take effect on the next tick.
type Runner struct {
	mu      sync.Mutex
	systems []System
	sorted  bool

	ticking atomic.Bool
	frame   atomic.Uint64
}

func NewRunner() *Runner {
	return &Runner{
		systems: make([]System, 0, 16),
	}
}

func (r *Runner) Register(s System) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.systems = append(r.systems, s)
	r.sorted = false
}

// Unregister removes s. Unknown systems are ignored.
func (r *Runner) Unregister(s System) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, sys := range r.systems {
		if sys == s {
			r.systems = slices.Delete(slices.Clone(r.systems), i, i+1)
			return
		}
	}
}

func (r *Runner) Tick(dt time.Duration) {
	r.mu.Lock()
	r.ensureSorted()
	systems := r.systems
	r.mu.Unlock()

	r.ticking.Store(true)
	defer func() {
		r.ticking.Store(false)
		r.frame.Add(1)
	}()
	for _, s := range systems {
		s.Update(dt)
	}
}

// InTick reports whether a tick is executing right now.
func (r *Runner) InTick() bool {
	return r.ticking.Load()
}

// Frame returns the number of completed ticks.
func (r *Runner) Frame() uint64 {
	return r.frame.Load()
}

func (r *Runner) ensureSorted() {
	if !r.sorted {
		sorted := slices.Clone(r.systems)
		slices.SortStableFunc(sorted, func(a, b System) int {
			return int(a.Phase()) - int(b.Phase())
		})
		r.systems = sorted
		r.sorted = true
	}
}
