package scene

import (
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/posekit/overlay/internal/memory"
)

// Entity is a node in the scene tree.
type Entity interface {
	Name() string
	Children() []Entity
}

// Visibility is implemented by entities whose overlay handles can be shown
// or hidden.
type Visibility interface {
	Visible() bool
	SetVisible(v bool)
}

// TransformWorld is implemented by entities with a world-space transform.
type TransformWorld interface {
	Transform() (memory.Transform, error)
	SetTransform(t memory.Transform) error
}

// TransformLocal is implemented by entities with a parent-relative
// transform.
type TransformLocal interface {
	LocalTransform() (memory.Transform, error)
	SetLocalTransform(t memory.Transform) error
}

// SkeletonGroup is a named, ordered set of child entities. It owns no host
// memory; its visibility is derived from its children on every access.
type SkeletonGroup struct {
	name     string
	children []Entity
}

func NewSkeletonGroup(name string, children ...Entity) *SkeletonGroup {
	return &SkeletonGroup{name: name, children: children}
}

func (g *SkeletonGroup) Name() string { return g.name }

func (g *SkeletonGroup) Children() []Entity { return slices.Clone(g.children) }

// Add appends a child.
func (g *SkeletonGroup) Add(child Entity) { g.children = append(g.children, child) }

func (g *SkeletonGroup) visibleChildren() []Visibility {
	out := make([]Visibility, 0, len(g.children))
	for _, c := range g.children {
		if v, ok := c.(Visibility); ok {
			out = append(out, v)
		}
	}
	return out
}

// Visible is true when every child with a visibility capability is
// visible, and vacuously true when none has one.
func (g *SkeletonGroup) Visible() bool {
	for _, v := range g.visibleChildren() {
		if !v.Visible() {
			return false
		}
	}
	return true
}

// SetVisible applies v to every child with a visibility capability.
// Other children are left alone.
func (g *SkeletonGroup) SetVisible(v bool) {
	for _, c := range g.visibleChildren() {
		c.SetVisible(v)
	}
}

// Find returns the first bone with the given name in the group's subtree.
func (g *SkeletonGroup) Find(name string) (*BoneEntity, bool) {
	for _, c := range g.children {
		switch c := c.(type) {
		case *BoneEntity:
			if c.name == name {
				return c, true
			}
		case *SkeletonGroup:
			if b, ok := c.Find(name); ok {
				return b, true
			}
		}
	}
	return nil, false
}

var groupNames = map[uint8]string{
	0: "Body",
	1: "Hair",
	2: "Face",
	3: "Tail",
	4: "Weapon",
}

func groupName(id uint8) string {
	if n, ok := groupNames[id]; ok {
		return n
	}
	return fmt.Sprintf("Group %d", id)
}

// buildSkeleton groups the actor's bones by bone group, in bone order.
// Actors without a skeleton get an empty root.
func buildSkeleton(owner *ActorEntity) (*SkeletonGroup, error) {
	root := NewSkeletonGroup("Skeleton")
	skel, ok, err := owner.obj.Skeleton()
	if err != nil {
		return nil, err
	}
	if !ok {
		return root, nil
	}
	bones, err := skel.Bones()
	if err != nil {
		return nil, err
	}
	groups := make(map[uint8]*SkeletonGroup)
	var order []uint8
	for _, b := range bones {
		g, ok := groups[b.Group]
		if !ok {
			g = NewSkeletonGroup(groupName(b.Group))
			groups[b.Group] = g
			order = append(order, b.Group)
		}
		bone := &BoneEntity{owner: owner, index: b.Index, name: b.Name, parent: int(b.Parent), group: b.Group}
		bone.visible.Store(true)
		g.Add(bone)
	}
	slices.Sort(order)
	for _, id := range order {
		root.Add(groups[id])
	}
	return root, nil
}

// BoneEntity is one bone of an actor's skeleton.
type BoneEntity struct {
	owner  *ActorEntity
	index  int
	name   string
	parent int
	group  uint8

	visible atomic.Bool
}

func (b *BoneEntity) Name() string       { return b.name }
func (b *BoneEntity) Children() []Entity { return nil }
func (b *BoneEntity) Index() int         { return b.index }
func (b *BoneEntity) Group() uint8       { return b.group }

// Owner returns the actor the bone belongs to.
func (b *BoneEntity) Owner() *ActorEntity { return b.owner }

func (b *BoneEntity) Visible() bool     { return b.visible.Load() }
func (b *BoneEntity) SetVisible(v bool) { b.visible.Store(v) }

func (b *BoneEntity) skeleton() (memory.Skeleton, error) {
	if err := b.owner.check(); err != nil {
		return memory.Skeleton{}, err
	}
	skel, ok, err := b.owner.obj.Skeleton()
	if err != nil {
		return memory.Skeleton{}, err
	}
	if !ok {
		return memory.Skeleton{}, fmt.Errorf("bone %s: skeleton detached: %w", b.name, memory.ErrInvalidHandle)
	}
	return skel, nil
}

// LocalTransform reads the parent-relative transform.
func (b *BoneEntity) LocalTransform() (memory.Transform, error) {
	skel, err := b.skeleton()
	if err != nil {
		return memory.Transform{}, err
	}
	bone, err := skel.Bone(b.index)
	if err != nil {
		return memory.Transform{}, err
	}
	return bone.Local, nil
}

func (b *BoneEntity) SetLocalTransform(t memory.Transform) error {
	skel, err := b.skeleton()
	if err != nil {
		return err
	}
	return skel.SetBoneLocal(b.index, t)
}

// poses returns model matrices for the bone and its parent, composed from
// the actor's world transform down the parent chain.
func (b *BoneEntity) poses() (self, parent mgl32.Mat4, err error) {
	skel, err := b.skeleton()
	if err != nil {
		return self, parent, err
	}
	bones, err := skel.Bones()
	if err != nil {
		return self, parent, err
	}
	if b.index >= len(bones) {
		return self, parent, fmt.Errorf("bone %d out of range", b.index)
	}
	world, err := b.owner.obj.Transform()
	if err != nil {
		return self, parent, err
	}
	root := world.Matrix()
	var pose func(i, depth int) mgl32.Mat4
	pose = func(i, depth int) mgl32.Mat4 {
		if i < 0 || i >= len(bones) || depth > len(bones) {
			return root
		}
		return pose(int(bones[i].Parent), depth+1).Mul4(bones[i].Local.Matrix())
	}
	return pose(b.index, 0), pose(int(bones[b.index].Parent), 0), nil
}

// Transform returns the bone's world transform.
func (b *BoneEntity) Transform() (memory.Transform, error) {
	self, _, err := b.poses()
	if err != nil {
		return memory.Transform{}, err
	}
	return memory.TransformFromMatrix(self), nil
}

// SetTransform moves the bone to a world transform by rewriting its local
// transform against the current parent pose.
func (b *BoneEntity) SetTransform(t memory.Transform) error {
	_, parent, err := b.poses()
	if err != nil {
		return err
	}
	local := parent.Inv().Mul4(t.Matrix())
	return b.SetLocalTransform(memory.TransformFromMatrix(local))
}
