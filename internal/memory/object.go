package memory

import (
	"fmt"

	"github.com/posekit/overlay/internal/native"
)

// Header is a decoded snapshot of an object header.
type Header struct {
	Index      uint16
	Kind       uint8
	Live       bool
	ObjectID   uint32
	Name       string
	WorldID    uint16
	Targetable bool
	Companion  native.Address
	Skeleton   native.Address
}

// Object is the typed accessor for host game objects. It never caches
// fields; each call is one validated read or write.
type Object struct {
	Handle
	layout *Layout
}

func NewObject(h Handle, layout *Layout) Object {
	return Object{Handle: h, layout: layout}
}

// Layout returns the layout the accessor decodes with.
func (o Object) Layout() *Layout { return o.layout }

// Header reads the whole object header in a single read.
func (o Object) Header() (Header, error) {
	l := o.layout.Object
	raw, err := o.Read(0, l.Size)
	if err != nil {
		return Header{}, err
	}
	r := NewReader(raw)
	h := Header{
		Index:      r.Seek(l.Index).U16(),
		Kind:       r.Seek(l.Kind).U8(),
		Live:       r.Seek(l.Live).U8() != 0,
		ObjectID:   r.Seek(l.ObjectID).U32(),
		Name:       r.Seek(l.Name).CString(l.NameSize),
		WorldID:    r.Seek(l.WorldID).U16(),
		Targetable: r.Seek(l.Targetable).U8() != 0,
		Companion:  native.Address(r.Seek(l.Companion).U64()),
		Skeleton:   native.Address(r.Seek(l.Skeleton).U64()),
	}
	return h, nil
}

func (o Object) readU16(off int) (uint16, error) {
	raw, err := o.Read(off, 2)
	if err != nil {
		return 0, err
	}
	return NewReader(raw).U16(), nil
}

// Index returns the object's slot in the host object table.
func (o Object) Index() (uint16, error) {
	return o.readU16(o.layout.Object.Index)
}

// ObjectID returns the host's entity id for the object.
func (o Object) ObjectID() (uint32, error) {
	raw, err := o.Read(o.layout.Object.ObjectID, 4)
	if err != nil {
		return 0, err
	}
	return NewReader(raw).U32(), nil
}

// Name returns the display name.
func (o Object) Name() (string, error) {
	l := o.layout.Object
	raw, err := o.Read(l.Name, l.NameSize)
	if err != nil {
		return "", err
	}
	return NewReader(raw).CString(l.NameSize), nil
}

// SetName writes the display name. Callers truncate to NameCapacity first.
func (o Object) SetName(name string) error {
	l := o.layout.Object
	w := NewWriter(make([]byte, l.NameSize))
	w.CString(name, l.NameSize)
	return o.Write(l.Name, w.Buffer())
}

// NameCapacity is the number of name bytes that fit before the terminator.
func (o Object) NameCapacity() int {
	return o.layout.Object.NameSize - 1
}

// WorldID returns the home world the object is displayed under.
func (o Object) WorldID() (uint16, error) {
	return o.readU16(o.layout.Object.WorldID)
}

func (o Object) SetWorldID(id uint16) error {
	w := NewWriter(make([]byte, 2))
	w.U16(id)
	return o.Write(o.layout.Object.WorldID, w.Buffer())
}

func (o Object) SetTargetable(v bool) error {
	var b byte
	if v {
		b = 1
	}
	return o.Write(o.layout.Object.Targetable, []byte{b})
}

// Companion returns the secondary companion object, if the pointer is set.
func (o Object) Companion() (Object, bool, error) {
	h, err := o.Deref(o.layout.Object.Companion)
	if err != nil {
		return Object{}, false, err
	}
	if h.Address().IsNull() {
		return Object{}, false, nil
	}
	return Object{Handle: h, layout: o.layout}, true, nil
}

// Transform reads the object's world transform.
func (o Object) Transform() (Transform, error) {
	raw, err := o.Read(o.layout.Object.Transform, TransformSize)
	if err != nil {
		return Transform{}, err
	}
	return decodeTransform(NewReader(raw)), nil
}

func (o Object) SetTransform(t Transform) error {
	w := NewWriter(make([]byte, TransformSize))
	PutTransform(w, t)
	return o.Write(o.layout.Object.Transform, w.Buffer())
}

// Equipment reads all equipment slots.
func (o Object) Equipment() (Equipment, error) {
	raw, err := o.Read(o.layout.Object.Equipment, EquipmentSize)
	if err != nil {
		return Equipment{}, err
	}
	return decodeEquipment(NewReader(raw)), nil
}

func (o Object) SetEquipment(e Equipment) error {
	w := NewWriter(make([]byte, EquipmentSize))
	encodeEquipment(w, e)
	return o.Write(o.layout.Object.Equipment, w.Buffer())
}

// SetEquipSlot writes a single slot.
func (o Object) SetEquipSlot(slot EquipIndex, item ItemEquip) error {
	if slot < 0 || slot >= EquipSlotCount {
		return fmt.Errorf("equip slot %d out of range", slot)
	}
	w := NewWriter(make([]byte, 8))
	w.U64(item.Uint64())
	return o.Write(o.layout.Object.Equipment+int(slot)*8, w.Buffer())
}

// Customize returns the raw appearance bytes.
func (o Object) Customize() ([]byte, error) {
	l := o.layout.Object
	return o.Read(l.Customize, l.CustomizeSize)
}

func (o Object) SetCustomize(data []byte) error {
	l := o.layout.Object
	if len(data) != l.CustomizeSize {
		return fmt.Errorf("customize data is %d bytes, want %d", len(data), l.CustomizeSize)
	}
	return o.Write(l.Customize, data)
}

// Skeleton returns the skeleton accessor, or false when no skeleton is
// attached yet.
func (o Object) Skeleton() (Skeleton, bool, error) {
	raw, err := o.Read(o.layout.Object.Skeleton, 8)
	if err != nil {
		return Skeleton{}, false, err
	}
	addr := native.Address(NewReader(raw).U64())
	if addr.IsNull() {
		return Skeleton{}, false, nil
	}
	return Skeleton{owner: o, block: Raw(o.mem, addr)}, true, nil
}

// Skeleton is the accessor for an object's bone block. The block has no
// liveness of its own; every access re-validates the owning object.
type Skeleton struct {
	owner Object
	block Handle
}

func (s Skeleton) layout() SkeletonLayout { return s.owner.layout.Skeleton }

func (s Skeleton) check() error {
	if !s.owner.Valid() {
		return fmt.Errorf("skeleton of %s: %w", s.owner.Address(), ErrInvalidHandle)
	}
	return nil
}

// Bones decodes every bone in the block.
func (s Skeleton) Bones() ([]Bone, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	l := s.layout()
	raw, err := s.block.Read(0, l.Size())
	if err != nil {
		return nil, err
	}
	r := NewReader(raw)
	count := int(r.Seek(l.Count).U16())
	if count > l.MaxBones {
		count = l.MaxBones
	}
	bones := make([]Bone, 0, count)
	for i := 0; i < count; i++ {
		base := l.Bones + i*l.BoneSize
		b := Bone{
			Index:  i,
			Name:   r.Seek(base + l.BoneName()).CString(l.BoneNameSize),
			Parent: r.Seek(base + l.BoneParent).I16(),
			Group:  r.Seek(base + l.BoneGroup).U8(),
		}
		b.Local = decodeTransform(r.Seek(base + l.BoneTransform))
		bones = append(bones, b)
	}
	return bones, nil
}

// Bone decodes a single bone.
func (s Skeleton) Bone(i int) (Bone, error) {
	bones, err := s.Bones()
	if err != nil {
		return Bone{}, err
	}
	if i < 0 || i >= len(bones) {
		return Bone{}, fmt.Errorf("bone %d out of range (%d bones)", i, len(bones))
	}
	return bones[i], nil
}

// SetBoneLocal writes a bone's parent-relative transform.
func (s Skeleton) SetBoneLocal(i int, t Transform) error {
	if err := s.check(); err != nil {
		return err
	}
	l := s.layout()
	if i < 0 || i >= l.MaxBones {
		return fmt.Errorf("bone %d out of range", i)
	}
	w := NewWriter(make([]byte, TransformSize))
	PutTransform(w, t)
	return s.block.Write(l.Bones+i*l.BoneSize+l.BoneTransform, w.Buffer())
}
