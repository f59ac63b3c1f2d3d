package spawner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/posekit/overlay/internal/core/event"
	"github.com/posekit/overlay/internal/data"
	"github.com/posekit/overlay/internal/game"
	"github.com/posekit/overlay/internal/hook"
	"github.com/posekit/overlay/internal/host"
	"github.com/posekit/overlay/internal/native"
	"go.uber.org/zap"
)

type fixture struct {
	host   *host.Process
	svc    *game.Services
	med    *hook.Mediator
	bus    *event.Bus
	player native.Address
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	layouts, err := data.LoadLayoutTable("")
	if err != nil {
		t.Fatal(err)
	}
	sigs, _ := data.LoadSignatureTable("")
	p, err := host.New(layouts.Get("sim-1.0"), sigs, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	player, _ := p.SpawnObject(host.ObjectSpec{Name: "Me", Index: 0, Kind: host.KindPlayer})
	p.SetLocalPlayer(player)
	p.EnterSession(player)

	f := &fixture{
		host:   p,
		svc:    game.NewServices(p, p.Layout()),
		med:    hook.NewMediator(p, sigs, nil, zap.NewNop()),
		bus:    event.NewBus(),
		player: player,
	}
	// Announce adds the way the actor module's hook does.
	var h *hook.Hook
	h, err = f.med.Install(data.RoutineAddCharacter, func(args ...uint64) uint64 {
		ret := h.Original(args...)
		event.Publish(f.bus, event.ActorAdded{
			Session:  native.Address(args[0]),
			Address:  native.Address(args[1]),
			ObjectID: uint32(args[2]),
		})
		return ret
	})
	if err != nil {
		t.Fatal(err)
	}
	f.med.EnableAll()
	t.Cleanup(f.med.Dispose)
	return f
}

// tick drives the host from a background goroutine until the test ends.
func (f *fixture) tick(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ctx.Err() == nil {
			f.host.Tick(time.Millisecond)
			time.Sleep(time.Millisecond)
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func (f *fixture) spawner(opts Options) *Spawner {
	return New(f.med, f.host, f.svc, f.bus, zap.NewNop(), opts)
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestUninitialized(t *testing.T) {
	f := newFixture(t)
	s := f.spawner(Options{})
	_, err := s.CreateActor(testCtx(t), f.svc.Actors.Object(f.player))
	if !errors.Is(err, ErrUninitialized) {
		t.Fatalf("err = %v, want ErrUninitialized", err)
	}
}

func TestTryInitializeIdempotent(t *testing.T) {
	f := newFixture(t)
	s := f.spawner(Options{})
	for i := 0; i < 3; i++ {
		if err := s.TryInitialize(); err != nil {
			t.Fatal(err)
		}
	}
	if !s.IsInit() {
		t.Fatal("not initialized")
	}
}

func TestCalculateNextIndexAvoidsUsedSlots(t *testing.T) {
	f := newFixture(t)
	for _, idx := range []int{201, 202, 204} {
		if _, err := f.host.SpawnObject(host.ObjectSpec{Name: "h", Index: idx}); err != nil {
			t.Fatal(err)
		}
	}
	tracked := []uint16{203}
	s := f.spawner(Options{Tracked: func() []uint16 { return tracked }})

	idx, err := s.CalculateNextIndex()
	if err != nil {
		t.Fatal(err)
	}
	if idx != 205 {
		t.Errorf("next index = %d, want 205", idx)
	}
	// Deterministic for the same state.
	if again, _ := s.CalculateNextIndex(); again != idx {
		t.Errorf("second call = %d, want %d", again, idx)
	}

	s.pending[205] = newFuture(205)
	if idx, _ := s.CalculateNextIndex(); idx != 206 {
		t.Errorf("with 205 pending = %d, want 206", idx)
	}
}

func TestCalculateNextIndexExhausted(t *testing.T) {
	f := newFixture(t)
	r := f.svc.Layout.Actors
	for i := r.First; i < r.Last; i++ {
		if _, err := f.host.SpawnObject(host.ObjectSpec{Name: "h", Index: int(i)}); err != nil {
			t.Fatal(err)
		}
	}
	s := f.spawner(Options{})
	if _, err := s.CalculateNextIndex(); !errors.Is(err, ErrNoFreeIndex) {
		t.Errorf("err = %v, want ErrNoFreeIndex", err)
	}
}

func TestCreateResolvesOnAddEvent(t *testing.T) {
	f := newFixture(t)
	f.tick(t)
	s := f.spawner(Options{})
	if err := s.TryInitialize(); err != nil {
		t.Fatal(err)
	}

	addr, err := s.Create(testCtx(t), f.svc.Actors.Object(f.player))
	if err != nil {
		t.Fatal(err)
	}
	if f.host.ObjectAt(201) != addr {
		t.Errorf("resolved %s, slot 201 holds %s", addr, f.host.ObjectAt(201))
	}
	if s.Pending() != 0 {
		t.Errorf("pending = %d", s.Pending())
	}
}

func TestConcurrentCreatesGetDistinctSlots(t *testing.T) {
	f := newFixture(t)
	f.tick(t)
	s := f.spawner(Options{})
	_ = s.TryInitialize()

	var wg sync.WaitGroup
	addrs := make([]native.Address, 4)
	errs := make([]error, 4)
	for i := range addrs {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			addrs[i], errs[i] = s.Create(testCtx(t), f.svc.Actors.Object(f.player))
		}()
	}
	wg.Wait()

	seen := map[native.Address]bool{}
	for i, a := range addrs {
		if errs[i] != nil {
			t.Fatalf("create %d: %v", i, errs[i])
		}
		if seen[a] {
			t.Fatalf("two creates resolved to %s", a)
		}
		seen[a] = true
	}
}

func TestCreateTimesOut(t *testing.T) {
	f := newFixture(t)
	f.host.StallCreates(true)
	f.tick(t)
	s := f.spawner(Options{TimeoutFrames: 5})
	_ = s.TryInitialize()

	start := f.host.Frame()
	_, err := s.Create(testCtx(t), f.svc.Actors.Object(f.player))
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if n := f.host.Frame() - start; n < 5 {
		t.Errorf("timed out after %d frames, want at least 5", n)
	}
	if s.Pending() != 0 {
		t.Error("timed-out request left in the correlation table")
	}
}

func TestAbandonedCreateKeepsSlotAndIsClaimed(t *testing.T) {
	f := newFixture(t)
	f.host.StallCreates(true)
	f.tick(t)
	s := f.spawner(Options{TimeoutFrames: 10000})
	_ = s.TryInitialize()

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := s.Create(ctx, f.svc.Actors.Object(f.player))
		errc <- err
	}()
	waitFor(t, func() bool { return f.host.Calls(data.RoutineCreateGPoseActor) > 0 })
	settle(t, f)
	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}

	if s.Pending() != 1 {
		t.Errorf("pending = %d, want the accepted request kept", s.Pending())
	}
	if idx, _ := s.CalculateNextIndex(); idx == 201 {
		t.Error("slot of an accepted request handed out again")
	}

	f.host.StallCreates(false)
	waitFor(t, func() bool { return f.host.ObjectAt(201) != 0 && s.Pending() == 0 })
	addr := f.host.ObjectAt(201)
	if !s.Claim(addr) {
		t.Error("late arrival not claimable")
	}
	if s.Claim(addr) {
		t.Error("late arrival claimed twice")
	}
}

func TestCancelBeforeRequestFreesSlot(t *testing.T) {
	f := newFixture(t)
	s := f.spawner(Options{})
	_ = s.TryInitialize()

	// Nothing ticks, so the request never reaches the host.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := s.Create(ctx, f.svc.Actors.Object(f.player)); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
	if s.Pending() != 0 {
		t.Errorf("pending = %d, want 0", s.Pending())
	}
	if f.host.Calls(data.RoutineCreateGPoseActor) != 0 {
		t.Error("create reached the host")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(time.Millisecond)
	}
}

// settle waits for a few complete host ticks.
func settle(t *testing.T, f *fixture) {
	t.Helper()
	start := f.host.Frame()
	waitFor(t, func() bool { return f.host.Frame() >= start+3 })
}

func TestDisposeFailsPending(t *testing.T) {
	f := newFixture(t)
	f.host.StallCreates(true)
	f.tick(t)
	s := f.spawner(Options{TimeoutFrames: 1 << 20})
	_ = s.TryInitialize()

	fut, err := s.CreateActor(testCtx(t), f.svc.Actors.Object(f.player))
	if err != nil {
		t.Fatal(err)
	}
	s.Dispose()
	if _, err := fut.Wait(testCtx(t)); !errors.Is(err, ErrDisposed) {
		t.Fatalf("err = %v, want ErrDisposed", err)
	}
	if _, err := s.CreateActor(testCtx(t), f.svc.Actors.Object(f.player)); !errors.Is(err, ErrDisposed) {
		t.Errorf("create after dispose: %v", err)
	}
	s.Dispose()
}
