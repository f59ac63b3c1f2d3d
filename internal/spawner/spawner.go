// Package spawner asks the host to create actors in the editing session and
// correlates each request with the add event that eventually announces it.
package spawner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/posekit/overlay/internal/core/event"
	"github.com/posekit/overlay/internal/core/system"
	"github.com/posekit/overlay/internal/data"
	"github.com/posekit/overlay/internal/game"
	"github.com/posekit/overlay/internal/hook"
	"github.com/posekit/overlay/internal/memory"
	"github.com/posekit/overlay/internal/native"
	"go.uber.org/zap"
)

var (
	ErrUninitialized = errors.New("actor spawner is uninitialized")
	ErrTimeout       = errors.New("actor creation timed out")
	ErrDisposed      = errors.New("actor spawner disposed")
	ErrNoFreeIndex   = errors.New("no free actor index")
	ErrRejected      = errors.New("host rejected actor creation")
)

// DefaultTimeoutFrames is how many host ticks a creation may take.
const DefaultTimeoutFrames = 120

type Options struct {
	TimeoutFrames int
	// Tracked lists object indices the overlay already mirrors. They are
	// never handed out even if the host table looks free.
	Tracked func() []uint16
}

type Spawner struct {
	med    *hook.Mediator
	fw     game.Framework
	svc    *game.Services
	layout *memory.Layout
	log    *zap.Logger
	opts   Options

	mu          sync.Mutex
	create      *hook.Function
	pending     map[uint16]*Future
	adopted     map[native.Address]struct{}
	unsubscribe func()
	sys         system.System
	disposed    bool
}

func New(med *hook.Mediator, fw game.Framework, svc *game.Services, bus *event.Bus, log *zap.Logger, opts Options) *Spawner {
	if opts.TimeoutFrames <= 0 {
		opts.TimeoutFrames = DefaultTimeoutFrames
	}
	s := &Spawner{
		med:     med,
		fw:      fw,
		svc:     svc,
		layout:  svc.Layout,
		log:     log.Named("spawner"),
		opts:    opts,
		pending: make(map[uint16]*Future),
		adopted: make(map[native.Address]struct{}),
	}
	s.unsubscribe = event.Subscribe(bus, s.onActorAdded)
	return s
}

// TryInitialize locates the host's creation routine and starts the timeout
// bookkeeping. Calling it again after success does nothing.
func (s *Spawner) TryInitialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return ErrDisposed
	}
	if s.create != nil {
		return nil
	}
	fn, err := s.med.Resolve(data.RoutineCreateGPoseActor)
	if err != nil {
		s.log.Warn("actor spawning unavailable", zap.Error(err))
		return fmt.Errorf("initialize spawner: %w", err)
	}
	s.create = &fn
	s.sys = timeoutSystem{s}
	s.fw.Register(s.sys)
	s.log.Debug("spawner initialized", zap.Stringer("create", fn.Addr))
	return nil
}

// IsInit reports whether TryInitialize succeeded.
func (s *Spawner) IsInit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.create != nil
}

// CalculateNextIndex returns the lowest session actor slot that is neither
// occupied in the host table, tracked, nor reserved by a pending request.
func (s *Spawner) CalculateNextIndex() (uint16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextIndex()
}

// nextIndex does the work of CalculateNextIndex. Caller holds mu.
func (s *Spawner) nextIndex() (uint16, error) {
	slots, err := s.svc.Table.Slots()
	if err != nil {
		return 0, err
	}
	used := make(map[uint16]bool, len(s.pending))
	for i, addr := range slots {
		if !addr.IsNull() {
			used[uint16(i)] = true
		}
	}
	for idx := range s.pending {
		used[idx] = true
	}
	if s.opts.Tracked != nil {
		for _, idx := range s.opts.Tracked() {
			used[idx] = true
		}
	}
	r := s.layout.Actors
	for idx := r.First; idx < r.Last; idx++ {
		if idx == s.layout.ExcludedIndex || used[idx] {
			continue
		}
		return idx, nil
	}
	return 0, ErrNoFreeIndex
}

// CreateActor asks the host to clone template into the next free slot. The
// request is issued on the host tick; the returned future resolves when the
// host announces the new actor.
func (s *Spawner) CreateActor(ctx context.Context, template memory.Object) (*Future, error) {
	if !template.Valid() {
		return nil, fmt.Errorf("create actor from %s: %w", template.Address(), memory.ErrInvalidHandle)
	}
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil, ErrDisposed
	}
	create := s.create
	if create == nil {
		s.mu.Unlock()
		return nil, ErrUninitialized
	}
	idx, err := s.nextIndex()
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	f := newFuture(idx)
	s.pending[idx] = f
	s.mu.Unlock()

	err = s.fw.RunOnTick(ctx, func() error {
		ok, err := create.Call(uint64(template.Address()), uint64(idx))
		if err != nil {
			return err
		}
		if ok == 0 {
			return ErrRejected
		}
		s.mu.Lock()
		f.issued = true
		f.deadline = s.fw.Frame() + uint64(s.opts.TimeoutFrames)
		s.mu.Unlock()
		return nil
	})
	if err != nil {
		if isCanceled(err) {
			s.abandon(f, err)
		} else {
			s.fail(f, err)
		}
		return nil, fmt.Errorf("create actor in slot %d: %w", idx, err)
	}
	s.log.Debug("actor requested", zap.Uint16("index", idx), zap.Stringer("template", template.Address()))
	return f, nil
}

// Create requests an actor and waits for it.
func (s *Spawner) Create(ctx context.Context, template memory.Object) (native.Address, error) {
	f, err := s.CreateActor(ctx, template)
	if err != nil {
		return 0, err
	}
	addr, err := f.Wait(ctx)
	if err != nil {
		if isCanceled(err) {
			s.abandon(f, err)
		}
		return 0, err
	}
	return addr, nil
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// abandon resolves f for a caller that stopped waiting. A request the host
// already accepted keeps its slot until the actor arrives or the deadline
// passes; the arrival is then handed out through Claim.
func (s *Spawner) abandon(f *Future, err error) {
	s.mu.Lock()
	if s.pending[f.index] == f {
		if f.issued {
			f.abandoned = true
		} else {
			delete(s.pending, f.index)
		}
	}
	s.mu.Unlock()
	f.resolve(0, err)
}

// Claim reports whether addr is an actor this spawner requested for a
// caller that gave up waiting. Each arrival is claimed at most once.
func (s *Spawner) Claim(addr native.Address) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.adopted[addr]; ok {
		delete(s.adopted, addr)
		return true
	}
	return false
}

// fail drops f from the correlation table and resolves it with err.
func (s *Spawner) fail(f *Future, err error) {
	s.mu.Lock()
	if s.pending[f.index] == f {
		delete(s.pending, f.index)
	}
	s.mu.Unlock()
	f.resolve(0, err)
}

// Pending returns the number of unresolved requests.
func (s *Spawner) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// onActorAdded runs on the host thread from the add hook.
func (s *Spawner) onActorAdded(ev event.ActorAdded) {
	if ev.ObjectID == s.layout.SentinelObjectID {
		return
	}
	idx, err := s.svc.Actors.Object(ev.Address).Index()
	if err != nil {
		return
	}
	s.mu.Lock()
	f, ok := s.pending[idx]
	if ok {
		delete(s.pending, idx)
		if f.abandoned {
			s.adopted[ev.Address] = struct{}{}
		}
	}
	s.mu.Unlock()
	if ok && f.abandoned {
		s.log.Info("abandoned actor request arrived", zap.Uint16("index", idx), zap.Stringer("addr", ev.Address))
		return
	}
	if ok && f.resolve(ev.Address, nil) {
		s.log.Debug("actor created", zap.Uint16("index", idx), zap.Stringer("addr", ev.Address))
	}
}

// expire fails requests whose deadline has passed.
func (s *Spawner) expire(frame uint64) {
	var late []*Future
	s.mu.Lock()
	for idx, f := range s.pending {
		if f.issued && frame >= f.deadline {
			delete(s.pending, idx)
			late = append(late, f)
		}
	}
	s.mu.Unlock()
	for _, f := range late {
		s.log.Warn("actor creation timed out", zap.Uint16("index", f.index), zap.Int("frames", s.opts.TimeoutFrames))
		f.resolve(0, fmt.Errorf("slot %d: %w", f.index, ErrTimeout))
	}
}

// Dispose fails every pending request and stops listening for add events.
func (s *Spawner) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	pending := s.pending
	s.pending = make(map[uint16]*Future)
	clear(s.adopted)
	sys := s.sys
	s.mu.Unlock()

	s.unsubscribe()
	if sys != nil {
		s.fw.Unregister(sys)
	}
	for _, f := range pending {
		f.resolve(0, ErrDisposed)
	}
}

type timeoutSystem struct{ s *Spawner }

func (timeoutSystem) Phase() system.Phase { return system.PhasePostUpdate }

func (t timeoutSystem) Update(_ time.Duration) { t.s.expire(t.s.fw.Frame()) }
