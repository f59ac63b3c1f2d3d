package spawner

import (
	"context"
	"sync"

	"github.com/posekit/overlay/internal/native"
)

// Future is a pending actor creation. It resolves when the host announces
// the actor in the requested slot, or fails on timeout or disposal.
type Future struct {
	index    uint16
	deadline uint64 // frame; zero until the request reached the host
	issued   bool

	// abandoned is set when the caller stopped waiting after the host
	// accepted the request.
	abandoned bool

	once sync.Once
	done chan struct{}
	addr native.Address
	err  error
}

func newFuture(index uint16) *Future {
	return &Future{index: index, done: make(chan struct{})}
}

// Index returns the object table slot the actor was requested in.
func (f *Future) Index() uint16 { return f.index }

// Done is closed once the future resolves.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the future resolves or ctx ends.
func (f *Future) Wait(ctx context.Context) (native.Address, error) {
	select {
	case <-f.done:
		return f.addr, f.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (f *Future) resolve(addr native.Address, err error) bool {
	resolved := false
	f.once.Do(func() {
		f.addr, f.err = addr, err
		close(f.done)
		resolved = true
	})
	return resolved
}
