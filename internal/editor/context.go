// Package editor holds the per-session editing state: who owns the gizmo,
// what is selected, and the transform edits made through it.
package editor

import (
	"fmt"
	"sync"

	"github.com/posekit/overlay/internal/core/ecs"
	"github.com/posekit/overlay/internal/core/event"
	"github.com/posekit/overlay/internal/scene"
)

// Mode is the gizmo's orientation space.
type Mode int

const (
	ModeLocal Mode = iota
	ModeWorld
)

func ParseMode(s string) (Mode, error) {
	switch s {
	case "local":
		return ModeLocal, nil
	case "world":
		return ModeWorld, nil
	}
	return 0, fmt.Errorf("unknown gizmo mode %q", s)
}

func (m Mode) String() string {
	if m == ModeWorld {
		return "world"
	}
	return "local"
}

// Operation is a set of gizmo handles.
type Operation uint8

const (
	OpTranslate Operation = 1 << iota
	OpRotate
	OpScale

	OpUniversal = OpTranslate | OpRotate | OpScale
)

// Context is the gizmo and selection state of one editing session. It is
// safe for concurrent use.
type Context struct {
	mu       sync.RWMutex
	owner    string
	mode     Mode
	op       Operation
	selected scene.Entity
}

func NewContext(mode Mode) *Context {
	return &Context{mode: mode, op: OpUniversal}
}

// SetGizmoOwner hands the gizmo to id. An empty id hides it. Reports
// whether the gizmo is now visible.
func (c *Context) SetGizmoOwner(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.owner = id
	return id != ""
}

func (c *Context) IsGizmoOwner(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.owner == id
}

// GizmoVisible reports whether some window owns the gizmo.
func (c *Context) GizmoVisible() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.owner != ""
}

func (c *Context) Mode() Mode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mode
}

func (c *Context) SetMode(m Mode) {
	c.mu.Lock()
	c.mode = m
	c.mu.Unlock()
}

// ToggleMode flips between local and world and returns the new mode.
func (c *Context) ToggleMode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode == ModeWorld {
		c.mode = ModeLocal
	} else {
		c.mode = ModeWorld
	}
	return c.mode
}

func (c *Context) Operation() Operation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.op
}

func (c *Context) SetOperation(op Operation) {
	c.mu.Lock()
	c.op = op
	c.mu.Unlock()
}

// Select makes e the edit target. nil clears the selection.
func (c *Context) Select(e scene.Entity) {
	c.mu.Lock()
	c.selected = e
	c.mu.Unlock()
}

func (c *Context) Selected() scene.Entity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.selected
}

// Watch clears the selection when the selected actor, or the actor owning
// a selected bone, leaves the scene. The returned func stops watching.
func (c *Context) Watch(bus *event.Bus) (stop func()) {
	return event.Subscribe(bus, func(ev event.EntityRemoved) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if id, ok := ownerOf(c.selected); ok && id == ev.ID {
			c.selected = nil
		}
	})
}

func ownerOf(e scene.Entity) (ecs.EntityID, bool) {
	switch v := e.(type) {
	case *scene.ActorEntity:
		return v.ID(), true
	case *scene.BoneEntity:
		return v.Owner().ID(), true
	}
	return 0, false
}
