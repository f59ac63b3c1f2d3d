package event

import (
	"github.com/posekit/overlay/internal/core/ecs"
	"github.com/posekit/overlay/internal/native"
)

// ActorAdded is published from the host thread after the host's
// add-character routine has run.
type ActorAdded struct {
	Session  native.Address
	Address  native.Address
	ObjectID uint32
}

// ActorRemoved is published from the host thread after the host's
// remove-character routine has run.
type ActorRemoved struct {
	Session native.Address
	Address native.Address
}

// EntityAdded is published by the scene when an entity is registered.
type EntityAdded struct {
	ID      ecs.EntityID
	Address native.Address
}

// EntityRemoved is published by the scene after an entity is unregistered.
type EntityRemoved struct {
	ID      ecs.EntityID
	Address native.Address
}
