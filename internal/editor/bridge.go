package editor

import (
	"errors"
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/posekit/overlay/internal/memory"
	"github.com/posekit/overlay/internal/scene"
	"go.uber.org/zap"
)

// ErrNoTarget is returned when nothing transformable is selected.
var ErrNoTarget = errors.New("editor: no transform target selected")

// Manipulator draws a gizmo for model and applies the user's drag to it.
// It reports whether model changed.
type Manipulator interface {
	Manipulate(view, proj mgl32.Mat4, op Operation, mode Mode, model *mgl32.Mat4) bool
}

// ManipulatorFunc adapts a function to Manipulator.
type ManipulatorFunc func(view, proj mgl32.Mat4, op Operation, mode Mode, model *mgl32.Mat4) bool

func (f ManipulatorFunc) Manipulate(view, proj mgl32.Mat4, op Operation, mode Mode, model *mgl32.Mat4) bool {
	return f(view, proj, op, mode, model)
}

// Target is the selected entity seen through its transform capabilities.
// Local is set for entities with a parent-relative transform and is what
// the transform table edits; World drives the gizmo.
type Target struct {
	Entity scene.Entity
	Local  scene.TransformLocal
	World  scene.TransformWorld
}

// TargetOf returns e's transform capabilities, or false if it has none.
func TargetOf(e scene.Entity) (Target, bool) {
	if e == nil {
		return Target{}, false
	}
	t := Target{Entity: e}
	t.Local, _ = e.(scene.TransformLocal)
	t.World, _ = e.(scene.TransformWorld)
	return t, t.Local != nil || t.World != nil
}

// IsLocal reports whether edits go to the local transform.
func (t Target) IsLocal() bool { return t.Local != nil }

// Transform reads the local transform when there is one, else the world.
func (t Target) Transform() (memory.Transform, error) {
	if t.Local != nil {
		return t.Local.LocalTransform()
	}
	return t.World.Transform()
}

// SetTransform writes to the same space Transform reads from.
func (t Target) SetTransform(tr memory.Transform) error {
	if t.Local != nil {
		return t.Local.SetLocalTransform(tr)
	}
	return t.World.SetTransform(tr)
}

// Bridge connects the selection in a Context to transform edits.
type Bridge struct {
	ctx     *Context
	history *History
	log     *zap.Logger
}

func NewBridge(ctx *Context, history *History, log *zap.Logger) *Bridge {
	return &Bridge{ctx: ctx, history: history, log: log.Named("editor")}
}

func (b *Bridge) Context() *Context { return b.ctx }
func (b *Bridge) History() *History { return b.history }

// Target resolves the current selection.
func (b *Bridge) Target() (Target, bool) {
	return TargetOf(b.ctx.Selected())
}

// Apply sets the target's transform in the space Target.Transform uses and
// records the edit.
func (b *Bridge) Apply(tr memory.Transform) error {
	t, ok := b.Target()
	if !ok {
		return ErrNoTarget
	}
	before, err := t.Transform()
	if err != nil {
		return fmt.Errorf("apply transform to %s: %w", t.Entity.Name(), err)
	}
	if err := t.SetTransform(tr); err != nil {
		return fmt.Errorf("apply transform to %s: %w", t.Entity.Name(), err)
	}
	b.history.Push(Edit{Target: t, Before: before, After: tr})
	return nil
}

// Manipulate runs the gizmo over the target's world matrix and writes a
// changed result back in world space. Targets without a world transform
// get no gizmo.
func (b *Bridge) Manipulate(m Manipulator, view, proj mgl32.Mat4) (bool, error) {
	t, ok := b.Target()
	if !ok {
		return false, ErrNoTarget
	}
	if t.World == nil {
		return false, nil
	}
	world, err := t.World.Transform()
	if err != nil {
		return false, fmt.Errorf("manipulate %s: %w", t.Entity.Name(), err)
	}
	before, err := t.Transform()
	if err != nil {
		return false, fmt.Errorf("manipulate %s: %w", t.Entity.Name(), err)
	}

	model := world.Matrix()
	if !m.Manipulate(view, proj, b.ctx.Operation(), b.ctx.Mode(), &model) {
		return false, nil
	}
	if err := t.World.SetTransform(memory.TransformFromMatrix(model)); err != nil {
		return false, fmt.Errorf("manipulate %s: %w", t.Entity.Name(), err)
	}
	after, err := t.Transform()
	if err != nil {
		return true, fmt.Errorf("manipulate %s: %w", t.Entity.Name(), err)
	}
	b.history.Push(Edit{Target: t, Before: before, After: after})
	b.log.Debug("gizmo edit", zap.String("target", t.Entity.Name()), zap.Stringer("mode", b.ctx.Mode()))
	return true, nil
}
