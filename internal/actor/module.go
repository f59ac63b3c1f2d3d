// Package actor keeps the scene in step with the actors in the host's
// editing session and is the entry point for spawning and deleting them.
package actor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/posekit/overlay/internal/core/event"
	"github.com/posekit/overlay/internal/data"
	"github.com/posekit/overlay/internal/game"
	"github.com/posekit/overlay/internal/hook"
	"github.com/posekit/overlay/internal/ipc"
	"github.com/posekit/overlay/internal/memory"
	"github.com/posekit/overlay/internal/native"
	"github.com/posekit/overlay/internal/scene"
	"github.com/posekit/overlay/internal/spawner"
	"go.uber.org/zap"
)

var (
	ErrNoLocalPlayer        = errors.New("no local player to spawn from")
	ErrSpawnerUninitialized = fmt.Errorf("actor module: %w", spawner.ErrUninitialized)
	ErrProtectedEntity      = errors.New("the primary actor cannot be deleted")
	ErrExcludedIndex        = errors.New("object index is reserved by the host")
)

type Options struct {
	TimeoutFrames int
	// Overrides is the optional resource-override channel. May be nil.
	Overrides ipc.ResourceOverrides
}

// Module mirrors session actors into the scene. Hook events arrive on the
// host thread; Spawn, AddFromOverworld and Delete may be called from any
// goroutine.
type Module struct {
	svc       *game.Services
	fw        game.Framework
	med       *hook.Mediator
	bus       *event.Bus
	scene     *scene.Scene
	spawner   *spawner.Spawner
	overrides ipc.ResourceOverrides
	log       *zap.Logger

	attached atomic.Bool

	mu     sync.Mutex
	hooks  *CharacterHooks
	unsubs []func()
}

func NewModule(svc *game.Services, fw game.Framework, med *hook.Mediator, bus *event.Bus, sc *scene.Scene, log *zap.Logger, opts Options) *Module {
	m := &Module{
		svc:       svc,
		fw:        fw,
		med:       med,
		bus:       bus,
		scene:     sc,
		overrides: opts.Overrides,
		log:       log.Named("actor"),
	}
	m.spawner = spawner.New(med, fw, svc, bus, log, spawner.Options{
		TimeoutFrames: opts.TimeoutFrames,
		Tracked:       m.trackedIndices,
	})
	return m
}

// Spawner returns the module's spawner.
func (m *Module) Spawner() *spawner.Spawner { return m.spawner }

// Scene returns the scene actors are mirrored into.
func (m *Module) Scene() *scene.Scene { return m.scene }

// Setup installs the character hooks, mirrors every actor already in the
// session and then arms the hooks. Enumeration and arming happen on one
// host tick so no add is missed in between. Missing hooks and an
// uninitializable spawner degrade features but do not fail Setup.
func (m *Module) Setup(ctx context.Context) error {
	hooks, err := InstallCharacterHooks(m.med, m.bus, m.log)
	if err != nil && !errors.Is(err, hook.ErrHookUnavailable) {
		return fmt.Errorf("actor setup: %w", err)
	}
	if err := m.svc.Objects.Bind(m.med, data.RoutineGetIndexByObject, data.RoutineDeleteObjectByIndex, data.RoutineRemoveCharacter); err != nil {
		m.log.Warn("object manager routines unavailable, delete is degraded", zap.Error(err))
	}

	m.mu.Lock()
	m.hooks = hooks
	m.unsubs = append(m.unsubs,
		event.Subscribe(m.bus, m.onActorAdded),
		event.Subscribe(m.bus, m.onActorRemoved),
	)
	m.mu.Unlock()

	err = m.fw.RunOnTick(ctx, func() error {
		n := 0
		for _, obj := range m.svc.Actors.GetGPoseActors() {
			if _, err := m.addActor(obj, false, false); err == nil {
				n++
			}
		}
		m.attached.Store(true)
		hooks.Enable()
		m.log.Info("actor module attached", zap.Int("actors", n))
		return nil
	})
	if err != nil {
		return fmt.Errorf("actor setup: %w", err)
	}

	if err := m.spawner.TryInitialize(); err != nil {
		m.log.Warn("spawning disabled", zap.Error(err))
	}
	return nil
}

// Attached reports whether Setup completed and Dispose has not run.
func (m *Module) Attached() bool { return m.attached.Load() }

// Dispose detaches from the host: hooks are reverted and pending spawns
// fail. Mirrored entities stay in the scene.
func (m *Module) Dispose() {
	m.attached.Store(false)
	m.mu.Lock()
	unsubs := m.unsubs
	m.unsubs = nil
	hooks := m.hooks
	m.hooks = nil
	m.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
	if hooks != nil {
		if err := hooks.Dispose(); err != nil {
			m.log.Warn("character hooks dispose", zap.Error(err))
		}
	}
	m.spawner.Dispose()
}

// Spawn creates an actor named after the slot it will occupy.
func (m *Module) Spawn(ctx context.Context) (*scene.ActorEntity, error) {
	idx, err := m.spawner.CalculateNextIndex()
	if err != nil {
		return nil, fmt.Errorf("spawn: %w", err)
	}
	return m.SpawnNamed(ctx, fmt.Sprintf("Actor #%d", idx))
}

// SpawnNamed clones the local player into a new managed actor called name
// (made unique), placed on the player's world.
func (m *Module) SpawnNamed(ctx context.Context, name string) (*scene.ActorEntity, error) {
	player, ok := m.svc.Client.LocalPlayer()
	if !ok {
		return nil, ErrNoLocalPlayer
	}
	e, err := m.spawnFrom(ctx, player)
	if err != nil {
		return nil, err
	}
	if _, err := m.SetActorName(e, name); err != nil {
		m.log.Warn("naming spawned actor", zap.Stringer("addr", e.Address()), zap.Error(err))
	}
	if world, err := player.WorldID(); err == nil {
		if err := e.Object().SetWorldID(world); err != nil {
			m.log.Warn("placing spawned actor", zap.Stringer("addr", e.Address()), zap.Error(err))
		}
	}
	m.reassignParentIndex(e)
	return e, nil
}

// AddFromOverworld brings a live object from the world into the session as
// a managed, targetable copy.
func (m *Module) AddFromOverworld(ctx context.Context, obj memory.Object) (*scene.ActorEntity, error) {
	if !m.spawner.IsInit() {
		return nil, ErrSpawnerUninitialized
	}
	if !obj.Valid() {
		return nil, fmt.Errorf("add from overworld %s: %w", obj.Address(), memory.ErrInvalidHandle)
	}
	e, err := m.spawnFrom(ctx, obj)
	if err != nil {
		return nil, err
	}
	if err := e.Object().SetTargetable(true); err != nil {
		m.log.Warn("making actor targetable", zap.Stringer("addr", e.Address()), zap.Error(err))
	}
	if name, err := obj.Name(); err == nil && name != "" {
		if _, err := m.SetActorName(e, name); err != nil {
			m.log.Warn("naming actor", zap.Stringer("addr", e.Address()), zap.Error(err))
		}
	}
	m.reassignParentIndex(e)
	return e, nil
}

func (m *Module) spawnFrom(ctx context.Context, template memory.Object) (*scene.ActorEntity, error) {
	addr, err := m.spawner.Create(ctx, template)
	if err != nil {
		if errors.Is(err, spawner.ErrUninitialized) {
			return nil, ErrSpawnerUninitialized
		}
		return nil, fmt.Errorf("spawn from %s: %w", template.Address(), err)
	}
	e, err := m.addActorAt(addr, true, false)
	if err != nil {
		return nil, fmt.Errorf("mirror spawned actor %s: %w", addr, err)
	}
	m.log.Info("actor spawned", zap.Stringer("addr", addr), zap.Stringer("entity", e.ID()))
	return e, nil
}

// Delete removes an actor from the session. The primary actor is refused
// with a warning and a nil error. Outside a session it does nothing. The
// native removal runs on the host tick; the mirror entity is removed
// afterwards whatever the host reported.
func (m *Module) Delete(ctx context.Context, e *scene.ActorEntity) error {
	addr := e.Address()
	if m.svc.GPose.IsPrimaryActor(addr) {
		m.log.Warn("refusing to delete actor", zap.Stringer("addr", addr), zap.Error(ErrProtectedEntity))
		return nil
	}
	state, ok := m.svc.GPose.GetGPoseState()
	if !ok {
		return nil
	}

	err := m.fw.RunOnTick(ctx, func() error {
		index, err := m.svc.Objects.GetIndexByObject(addr)
		if err != nil {
			return err
		}
		if err := m.svc.Objects.RemoveCharacter(state, addr); err != nil {
			return err
		}
		if index != game.NoIndex {
			return m.svc.Objects.DeleteObjectByIndex(index)
		}
		return nil
	})

	e.Remove()
	m.forget(addr)
	if err != nil {
		return fmt.Errorf("delete actor %s: %w", addr, err)
	}
	m.log.Info("actor deleted", zap.Stringer("addr", addr))
	return nil
}

// SetActorName gives e a name no other tracked actor uses and returns it.
func (m *Module) SetActorName(e *scene.ActorEntity, name string) (string, error) {
	var taken []string
	for _, other := range m.scene.Actors() {
		if other == e {
			continue
		}
		if n, err := other.Object().Name(); err == nil {
			taken = append(taken, n)
		}
	}
	obj := e.Object()
	unique := UniqueName(taken, name, obj.NameCapacity())
	if err := obj.SetName(unique); err != nil {
		return "", err
	}
	return unique, nil
}

// reassignParentIndex tells the resource-override channel, when one is
// listening, that the actor's resources live at its own index.
func (m *Module) reassignParentIndex(e *scene.ActorEntity) {
	if m.overrides == nil || !m.overrides.Active() {
		return
	}
	idx, err := e.Object().Index()
	if err != nil {
		return
	}
	if err := m.overrides.SetAssignedParentIndex(e.Address(), idx); err != nil {
		m.log.Warn("parent index reassignment failed", zap.Stringer("addr", e.Address()), zap.Error(err))
	}
}

func (m *Module) forget(addr native.Address) {
	if f, ok := m.overrides.(interface{ Forget(native.Address) }); ok {
		f.Forget(addr)
	}
}

// addActorAt mirrors the object at addr unless it sits in the session slot
// the host reserves for a non-actor.
func (m *Module) addActorAt(addr native.Address, managed, companion bool) (*scene.ActorEntity, error) {
	obj := m.svc.Actors.Object(addr)
	idx, err := obj.Index()
	if err != nil {
		return nil, err
	}
	if idx == m.svc.Layout.ExcludedIndex {
		return nil, fmt.Errorf("actor %s at %d: %w", addr, idx, ErrExcludedIndex)
	}
	return m.addActor(obj, managed, companion)
}

// addActor mirrors obj and, when asked, its companion.
func (m *Module) addActor(obj memory.Object, managed, companion bool) (*scene.ActorEntity, error) {
	e, err := m.scene.Factory.BuildActor(obj).Managed(managed).Add()
	if err != nil {
		return nil, err
	}
	if companion {
		m.addCompanion(obj)
	}
	return e, nil
}

func (m *Module) addCompanion(owner memory.Object) {
	c, ok, err := owner.Companion()
	if err != nil || !ok || !c.Valid() {
		return
	}
	idx, err := c.Index()
	if err != nil || idx == m.svc.Layout.CompanionAbsentIndex {
		return
	}
	if _, err := m.scene.Factory.BuildActor(c).Add(); err != nil {
		m.log.Debug("companion not mirrored", zap.Stringer("addr", c.Address()), zap.Error(err))
	}
}

// trackedIndices lists the slots of mirrored actors for the spawner.
func (m *Module) trackedIndices() []uint16 {
	var out []uint16
	for _, e := range m.scene.Actors() {
		if idx, err := e.Object().Index(); err == nil {
			out = append(out, idx)
		}
	}
	return out
}

// onActorAdded runs on the host thread after the host added an actor.
func (m *Module) onActorAdded(ev event.ActorAdded) {
	if !m.attached.Load() || ev.ObjectID == m.svc.Layout.SentinelObjectID {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("mirroring added actor panicked", zap.Stringer("addr", ev.Address), zap.Any("panic", r))
		}
	}()
	// A spawn whose caller gave up still belongs to the overlay.
	managed := m.spawner.Claim(ev.Address)
	if _, err := m.addActorAt(ev.Address, managed, true); err != nil {
		m.log.Warn("failed to mirror added actor", zap.Stringer("addr", ev.Address), zap.Error(err))
	}
}

// onActorRemoved runs on the host thread after the host dropped an actor
// from the session.
func (m *Module) onActorRemoved(ev event.ActorRemoved) {
	if !m.attached.Load() {
		return
	}
	if m.scene.RemoveAddress(ev.Address) {
		m.log.Debug("actor left the session", zap.Stringer("addr", ev.Address))
	}
	m.forget(ev.Address)
}
