package scene

import (
	"fmt"
	"sync/atomic"

	"github.com/posekit/overlay/internal/core/ecs"
	"github.com/posekit/overlay/internal/memory"
	"github.com/posekit/overlay/internal/native"
)

// ActorEntity mirrors one live host actor.
type ActorEntity struct {
	scene    *Scene
	id       ecs.EntityID
	obj      memory.Object
	addr     native.Address
	objectID uint32
	skeleton *SkeletonGroup

	managed atomic.Bool
	removed atomic.Bool
}

func (e *ActorEntity) ID() ecs.EntityID { return e.id }

// Address is the cached host address. It stays readable after the object is
// gone; use Valid before trusting it.
func (e *ActorEntity) Address() native.Address { return e.addr }

// Object returns the validated accessor for the host object.
func (e *ActorEntity) Object() memory.Object { return e.obj }

// Managed reports whether the overlay created this actor.
func (e *ActorEntity) Managed() bool { return e.managed.Load() }

func (e *ActorEntity) SetManaged(v bool) { e.managed.Store(v) }

// Removed reports whether the entity left the scene.
func (e *ActorEntity) Removed() bool { return e.removed.Load() }

// Valid reports whether the entity still mirrors the object it was built
// for: the handle is live and the slot was not reused by another object.
func (e *ActorEntity) Valid() bool {
	if e.removed.Load() || !e.obj.Valid() {
		return false
	}
	id, err := e.obj.ObjectID()
	return err == nil && id == e.objectID
}

func (e *ActorEntity) check() error {
	if !e.Valid() {
		return fmt.Errorf("actor %s: %w", e.addr, memory.ErrInvalidHandle)
	}
	return nil
}

// Name reads the actor's display name from the host.
func (e *ActorEntity) Name() string {
	name, err := e.obj.Name()
	if err != nil || name == "" {
		return e.fallbackName()
	}
	return name
}

func (e *ActorEntity) fallbackName() string {
	if idx, err := e.obj.Index(); err == nil {
		return fmt.Sprintf("Actor #%d", idx)
	}
	return "Actor"
}

// Children returns the skeleton root, the only child of an actor.
func (e *ActorEntity) Children() []Entity {
	if e.skeleton == nil {
		return nil
	}
	return []Entity{e.skeleton}
}

// Skeleton returns the root skeleton group.
func (e *ActorEntity) Skeleton() *SkeletonGroup { return e.skeleton }

// Remove takes the entity out of its scene.
func (e *ActorEntity) Remove() bool { return e.scene.Remove(e) }

// Transform reads the actor's world transform.
func (e *ActorEntity) Transform() (memory.Transform, error) {
	if err := e.check(); err != nil {
		return memory.Transform{}, err
	}
	return e.obj.Transform()
}

func (e *ActorEntity) SetTransform(t memory.Transform) error {
	if err := e.check(); err != nil {
		return err
	}
	return e.obj.SetTransform(t)
}

func (e *ActorEntity) Equipment() (memory.Equipment, error) {
	if err := e.check(); err != nil {
		return memory.Equipment{}, err
	}
	return e.obj.Equipment()
}

func (e *ActorEntity) SetEquipment(eq memory.Equipment) error {
	if err := e.check(); err != nil {
		return err
	}
	return e.obj.SetEquipment(eq)
}

// SetEquipSlot changes one equipment slot.
func (e *ActorEntity) SetEquipSlot(slot memory.EquipIndex, item memory.ItemEquip) error {
	if err := e.check(); err != nil {
		return err
	}
	return e.obj.SetEquipSlot(slot, item)
}

func (e *ActorEntity) Customize() ([]byte, error) {
	if err := e.check(); err != nil {
		return nil, err
	}
	return e.obj.Customize()
}

func (e *ActorEntity) SetCustomize(data []byte) error {
	if err := e.check(); err != nil {
		return err
	}
	return e.obj.SetCustomize(data)
}
