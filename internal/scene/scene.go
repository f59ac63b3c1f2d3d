// Package scene mirrors live host actors as entities. Every mutation of the
// entity collection goes through Scene's lock, whether it comes from a hook
// on the host thread or from an editor call.
package scene

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/posekit/overlay/internal/core/ecs"
	"github.com/posekit/overlay/internal/core/event"
	"github.com/posekit/overlay/internal/core/system"
	"github.com/posekit/overlay/internal/memory"
	"github.com/posekit/overlay/internal/native"
	"go.uber.org/zap"
)

type Scene struct {
	mu     sync.Mutex
	world  *ecs.World
	actors *ecs.Store[*ActorEntity]
	byAddr map[native.Address]*ActorEntity

	bus *event.Bus
	log *zap.Logger

	Factory *Factory
}

func New(bus *event.Bus, log *zap.Logger) *Scene {
	if bus == nil {
		bus = event.NewBus()
	}
	s := &Scene{
		world:  ecs.NewWorld(),
		actors: ecs.NewStore[*ActorEntity](),
		byAddr: make(map[native.Address]*ActorEntity),
		bus:    bus,
		log:    log.Named("scene"),
	}
	s.world.Register(s.actors)
	s.Factory = &Factory{scene: s}
	return s
}

// register adds e unless an entity for the same live object exists, in
// which case that one is returned. An entity left behind by a freed object
// whose address was reused is replaced.
func (s *Scene) register(e *ActorEntity) (*ActorEntity, bool) {
	s.mu.Lock()
	var replaced *ActorEntity
	if cur, ok := s.byAddr[e.addr]; ok {
		if cur.objectID == e.objectID {
			s.mu.Unlock()
			return cur, false
		}
		s.unregister(cur)
		replaced = cur
	}
	e.id = s.world.CreateEntity()
	s.actors.Set(e.id, e)
	s.byAddr[e.addr] = e
	s.mu.Unlock()

	if replaced != nil {
		s.log.Debug("replaced entity for reused address", zap.Stringer("addr", e.addr))
		event.Publish(s.bus, event.EntityRemoved{ID: replaced.id, Address: replaced.addr})
	}
	event.Publish(s.bus, event.EntityAdded{ID: e.id, Address: e.addr})
	return e, true
}

// unregister drops e from every index. Caller holds mu.
func (s *Scene) unregister(e *ActorEntity) bool {
	if !s.world.Alive(e.id) {
		return false
	}
	if s.byAddr[e.addr] == e {
		delete(s.byAddr, e.addr)
	}
	s.world.Destroy(e.id)
	e.removed.Store(true)
	return true
}

// Remove drops e from the scene. It reports false if e was already gone.
func (s *Scene) Remove(e *ActorEntity) bool {
	s.mu.Lock()
	ok := s.unregister(e)
	s.mu.Unlock()
	if ok {
		event.Publish(s.bus, event.EntityRemoved{ID: e.id, Address: e.addr})
	}
	return ok
}

// RemoveAddress drops the entity mirroring addr, if any.
func (s *Scene) RemoveAddress(addr native.Address) bool {
	e, ok := s.ByAddress(addr)
	if !ok {
		return false
	}
	return s.Remove(e)
}

// Get resolves a scene id. Ids of removed entities never resolve.
func (s *Scene) Get(id ecs.EntityID) (*ActorEntity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.world.Alive(id) {
		return nil, false
	}
	return s.actors.Get(id)
}

func (s *Scene) ByAddress(addr native.Address) (*ActorEntity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byAddr[addr]
	return e, ok
}

// Actors returns a snapshot of the actor entities ordered by scene id.
func (s *Scene) Actors() []*ActorEntity {
	s.mu.Lock()
	out := make([]*ActorEntity, 0, s.actors.Len())
	s.actors.Each(func(_ ecs.EntityID, e *ActorEntity) {
		out = append(out, e)
	})
	s.mu.Unlock()
	slices.SortFunc(out, func(a, b *ActorEntity) int {
		return cmp.Compare(a.id.Index(), b.id.Index())
	})
	return out
}

func (s *Scene) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.actors.Len()
}

// Prune removes entities whose objects are no longer live and returns how
// many were removed.
func (s *Scene) Prune() int {
	var stale []*ActorEntity
	for _, e := range s.Actors() {
		if !e.Valid() {
			stale = append(stale, e)
		}
	}
	n := 0
	for _, e := range stale {
		if s.Remove(e) {
			s.log.Debug("pruned stale actor", zap.Stringer("addr", e.addr), zap.Stringer("id", e.id))
			n++
		}
	}
	return n
}

// Clear removes every entity.
func (s *Scene) Clear() {
	for _, e := range s.Actors() {
		s.Remove(e)
	}
}

// PruneSystem returns the per-tick system that prunes stale mirrors.
func (s *Scene) PruneSystem() system.System { return pruneSystem{s} }

type pruneSystem struct{ s *Scene }

func (pruneSystem) Phase() system.Phase { return system.PhaseCleanup }

func (p pruneSystem) Update(_ time.Duration) { p.s.Prune() }

// Factory builds typed entities for validated handles.
type Factory struct {
	scene *Scene
}

// BuildActor starts building an actor entity for obj.
func (f *Factory) BuildActor(obj memory.Object) *ActorBuilder {
	return &ActorBuilder{scene: f.scene, obj: obj}
}

type ActorBuilder struct {
	scene   *Scene
	obj     memory.Object
	managed bool
}

// Managed marks the entity as created by the overlay.
func (b *ActorBuilder) Managed(v bool) *ActorBuilder {
	b.managed = v
	return b
}

// Add validates the handle, builds the entity and registers it. If the
// object is already mirrored the existing entity is returned. An invalid
// handle registers nothing.
func (b *ActorBuilder) Add() (*ActorEntity, error) {
	e, err := newActorEntity(b.scene, b.obj)
	if err != nil {
		return nil, err
	}
	e.managed.Store(b.managed)
	got, added := b.scene.register(e)
	if !added && b.managed {
		got.managed.Store(true)
	}
	return got, nil
}

// ErrNotActor is returned for objects without a readable header.
var ErrNotActor = errors.New("scene: object is not an actor")

func newActorEntity(s *Scene, obj memory.Object) (*ActorEntity, error) {
	if !obj.Valid() {
		return nil, fmt.Errorf("build actor %s: %w", obj.Address(), memory.ErrInvalidHandle)
	}
	h, err := obj.Header()
	if err != nil {
		return nil, fmt.Errorf("build actor %s: %w", obj.Address(), err)
	}
	if !h.Live {
		return nil, fmt.Errorf("build actor %s: %w", obj.Address(), ErrNotActor)
	}
	e := &ActorEntity{
		scene:    s,
		obj:      obj,
		addr:     obj.Address(),
		objectID: h.ObjectID,
	}
	root, err := buildSkeleton(e)
	if err != nil {
		return nil, fmt.Errorf("build actor %s: %w", obj.Address(), err)
	}
	e.skeleton = root
	return e, nil
}
