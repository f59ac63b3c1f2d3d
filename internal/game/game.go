// Package game exposes the host's own services to the overlay: the object
// table, the local player, the editing-session container and the host
// routines that manage objects.
package game

import (
	"context"

	"github.com/posekit/overlay/internal/core/system"
	"github.com/posekit/overlay/internal/memory"
	"github.com/posekit/overlay/internal/native"
)

// Framework is the host's per-tick scheduler.
type Framework interface {
	// RunOnTick runs fn on the host thread at the start of the next tick
	// and waits for it.
	RunOnTick(ctx context.Context, fn func() error) error
	Register(s system.System)
	Unregister(s system.System)
	Frame() uint64
}

// Services bundles the host views built over one process and layout.
type Services struct {
	Proc    native.Process
	Layout  *memory.Layout
	Table   *ObjectTable
	Actors  *ActorService
	Client  *ClientState
	GPose   *GPose
	Objects *ObjectManager
}

// NewServices builds the host views. Routines for ObjectManager are bound
// later, once the hook mediator has located them.
func NewServices(proc native.Process, layout *memory.Layout) *Services {
	table := NewObjectTable(proc, layout)
	actors := &ActorService{proc: proc, layout: layout, table: table}
	client := &ClientState{proc: proc, actors: actors}
	return &Services{
		Proc:    proc,
		Layout:  layout,
		Table:   table,
		Actors:  actors,
		Client:  client,
		GPose:   &GPose{proc: proc, layout: layout, actors: actors, client: client},
		Objects: &ObjectManager{proc: proc},
	}
}
