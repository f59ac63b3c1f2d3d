package system

import "time"

// Phase defines execution ordering within a single host tick.
type Phase int

const (
	PhaseInput      Phase = iota // 0: run work marshaled onto the host thread
	PhasePreUpdate               // 1: host-side request processing
	PhaseUpdate                  // 2: host object management
	PhasePostUpdate              // 3: pending-completion bookkeeping
	PhaseCleanup                 // 4: prune stale mirrors
)

// System is the interface every per-tick system implements.
type System interface {
	Phase() Phase
	Update(dt time.Duration)
}
