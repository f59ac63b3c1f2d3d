// Package host is an in-process stand-in for the game the overlay attaches
// to. It owns a heap, an object table, an editing-session container, a code
// image carrying the routine signatures and a dispatch table the routines
// are called through. One goroutine drives Tick; everything the host does to
// its own object table happens there.
package host

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/posekit/overlay/internal/core/system"
	"github.com/posekit/overlay/internal/data"
	"github.com/posekit/overlay/internal/memory"
	"github.com/posekit/overlay/internal/native"
	"go.uber.org/zap"
)

const (
	firstObjectID = 0x1000_0000
	noIndex       = 0xFFFF
	objMgrSize    = 0x10
)

// Process is the simulated host. It implements native.Process.
type Process struct {
	mu      sync.RWMutex
	heap    *arena
	layout  *memory.Layout
	version string
	log     *zap.Logger

	statics  map[string]native.Address
	code     []byte
	routines map[string]native.Address

	dispatchMu sync.RWMutex
	dispatch   map[native.Address]native.Func

	runner *system.Runner
	sched  *system.Scheduler

	qmu     sync.Mutex
	creates []createRequest
	work    []func()
	stall   bool

	nextObjectID atomic.Uint32
	rec          recorder
}

var _ native.Process = (*Process)(nil)

// New creates a host with an empty object table and no editing session.
func New(layout *memory.Layout, sigs *data.SignatureTable, log *zap.Logger) (*Process, error) {
	p := &Process{
		heap:     newArena(),
		layout:   layout,
		version:  layout.Version,
		log:      log.Named("host"),
		statics:  make(map[string]native.Address),
		routines: make(map[string]native.Address),
		dispatch: make(map[native.Address]native.Func),
		runner:   system.NewRunner(),
		sched:    system.NewScheduler(),
	}
	p.nextObjectID.Store(firstObjectID)
	p.rec.calls = make(map[string]int)

	p.statics[native.StaticObjectTable] = p.heap.alloc(8 * layout.Table.Capacity)
	p.statics[native.StaticSession] = p.heap.alloc(8)
	p.statics[native.StaticLocalPlayer] = p.heap.alloc(8)
	p.statics[native.StaticObjectMgr] = p.heap.alloc(objMgrSize)

	impls := map[string]native.Func{
		data.RoutineAddCharacter:        p.addCharacter,
		data.RoutineRemoveCharacter:     p.removeCharacter,
		data.RoutineGetIndexByObject:    p.getIndexByObject,
		data.RoutineDeleteObjectByIndex: p.deleteObjectByIndex,
		data.RoutineCreateGPoseActor:    p.createGPoseActor,
	}
	names := make([]string, 0, len(impls))
	for name := range impls {
		names = append(names, name)
	}
	code, entries, err := buildImage(sigs, names)
	if err != nil {
		return nil, fmt.Errorf("build code image: %w", err)
	}
	p.code = code
	for name, off := range entries {
		addr := codeBase + native.Address(off)
		p.routines[name] = addr
		p.dispatch[addr] = impls[name]
	}

	p.runner.Register(p.sched)
	p.runner.Register(objectManager{p})
	return p, nil
}

// Memory

func (p *Process) ReadAt(b []byte, addr native.Address) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.heap.read(b, addr)
}

func (p *Process) WriteAt(b []byte, addr native.Address) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.heap.write(b, addr)
}

func (p *Process) CodeImage() (native.Address, []byte) { return codeBase, p.code }

func (p *Process) Static(name string) (native.Address, bool) {
	addr, ok := p.statics[name]
	return addr, ok
}

func (p *Process) Version() string { return p.version }

// Layout returns the record layout the host lays its objects out with.
func (p *Process) Layout() *memory.Layout { return p.layout }

// Dispatch table

func (p *Process) Dispatch(addr native.Address) (native.Func, bool) {
	p.dispatchMu.RLock()
	defer p.dispatchMu.RUnlock()
	fn, ok := p.dispatch[addr]
	return fn, ok
}

func (p *Process) SwapDispatch(addr native.Address, fn native.Func) (native.Func, error) {
	p.dispatchMu.Lock()
	defer p.dispatchMu.Unlock()
	prev, ok := p.dispatch[addr]
	if !ok {
		return nil, fmt.Errorf("%s: %w", addr, native.ErrNoRoutine)
	}
	p.dispatch[addr] = fn
	return prev, nil
}

func (p *Process) Invoke(addr native.Address, args ...uint64) (uint64, error) {
	fn, ok := p.Dispatch(addr)
	if !ok {
		return 0, fmt.Errorf("%s: %w", addr, native.ErrNoRoutine)
	}
	return fn(args...), nil
}

// Routine returns the entry address of a named routine.
func (p *Process) Routine(name string) (native.Address, bool) {
	addr, ok := p.routines[name]
	return addr, ok
}

func (p *Process) invokeRoutine(name string, args ...uint64) uint64 {
	ret, err := p.Invoke(p.routines[name], args...)
	if err != nil {
		p.log.Error("routine call failed", zap.String("routine", name), zap.Error(err))
	}
	return ret
}

// Framework

// RunOnTick queues fn for the start of the next tick and waits for it.
func (p *Process) RunOnTick(ctx context.Context, fn func() error) error {
	return p.sched.Run(ctx, fn)
}

// Register adds a per-tick system.
func (p *Process) Register(s system.System) { p.runner.Register(s) }

// Unregister removes a per-tick system.
func (p *Process) Unregister(s system.System) { p.runner.Unregister(s) }

// Frame returns the number of completed ticks.
func (p *Process) Frame() uint64 { return p.runner.Frame() }

// InTick reports whether the host thread is inside a tick.
func (p *Process) InTick() bool { return p.runner.InTick() }

// Tick runs one host frame. Only one goroutine may drive ticks.
func (p *Process) Tick(dt time.Duration) { p.runner.Tick(dt) }

// Run drives ticks at rate until ctx is done, then fails queued work.
func (p *Process) Run(ctx context.Context, rate time.Duration) error {
	ticker := time.NewTicker(rate)
	defer ticker.Stop()
	defer p.sched.Close()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			p.log.Info("host loop stopped", zap.Uint64("frames", p.Frame()))
			return nil
		case now := <-ticker.C:
			p.Tick(now.Sub(last))
			last = now
		}
	}
}

// StallCreates makes the host accept creation requests without ever
// completing them.
func (p *Process) StallCreates(v bool) {
	p.qmu.Lock()
	p.stall = v
	p.qmu.Unlock()
}

// recorder tracks native routine calls and which of them mutated host state
// from outside a tick.
type recorder struct {
	mu      sync.Mutex
	calls   map[string]int
	offTick []string
}

func (p *Process) observe(routine string, mutates bool) {
	p.rec.mu.Lock()
	defer p.rec.mu.Unlock()
	p.rec.calls[routine]++
	if mutates && !p.runner.InTick() {
		p.rec.offTick = append(p.rec.offTick, routine)
		p.log.Warn("object table touched off the host thread", zap.String("routine", routine))
	}
}

// Calls returns how often the host body of a routine ran.
func (p *Process) Calls(routine string) int {
	p.rec.mu.Lock()
	defer p.rec.mu.Unlock()
	return p.rec.calls[routine]
}

// OffTickMutations lists routines that touched the object table outside a
// tick, in call order.
func (p *Process) OffTickMutations() []string {
	p.rec.mu.Lock()
	defer p.rec.mu.Unlock()
	return append([]string(nil), p.rec.offTick...)
}
