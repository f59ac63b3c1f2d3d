package memory

import "github.com/go-gl/mathgl/mgl32"

// TransformSize is the encoded size of a transform record:
// 3 floats position, 4 floats rotation (x, y, z, w), 3 floats scale.
const TransformSize = 40

// Transform is a position, rotation and scale in either local or world space.
type Transform struct {
	Position mgl32.Vec3
	Rotation mgl32.Quat
	Scale    mgl32.Vec3
}

// IdentityTransform returns a transform at the origin with unit scale.
func IdentityTransform() Transform {
	return Transform{
		Rotation: mgl32.QuatIdent(),
		Scale:    mgl32.Vec3{1, 1, 1},
	}
}

// Matrix composes translation * rotation * scale.
func (t Transform) Matrix() mgl32.Mat4 {
	m := mgl32.Translate3D(t.Position[0], t.Position[1], t.Position[2])
	m = m.Mul4(t.Rotation.Normalize().Mat4())
	return m.Mul4(mgl32.Scale3D(t.Scale[0], t.Scale[1], t.Scale[2]))
}

// TransformFromMatrix decomposes an affine TRS matrix without shear.
func TransformFromMatrix(m mgl32.Mat4) Transform {
	pos := m.Col(3).Vec3()
	sx := m.Col(0).Vec3().Len()
	sy := m.Col(1).Vec3().Len()
	sz := m.Col(2).Vec3().Len()
	if m.Det() < 0 {
		sx = -sx
	}
	rot := mgl32.Mat3FromCols(
		m.Col(0).Vec3().Mul(1/nonZero(sx)),
		m.Col(1).Vec3().Mul(1/nonZero(sy)),
		m.Col(2).Vec3().Mul(1/nonZero(sz)),
	)
	return Transform{
		Position: pos,
		Rotation: mgl32.Mat4ToQuat(rot.Mat4()).Normalize(),
		Scale:    mgl32.Vec3{sx, sy, sz},
	}
}

func nonZero(v float32) float32 {
	if v == 0 {
		return 1
	}
	return v
}

func decodeTransform(r *Reader) Transform {
	var t Transform
	t.Position = mgl32.Vec3{r.F32(), r.F32(), r.F32()}
	x, y, z, w := r.F32(), r.F32(), r.F32(), r.F32()
	t.Rotation = mgl32.Quat{W: w, V: mgl32.Vec3{x, y, z}}
	t.Scale = mgl32.Vec3{r.F32(), r.F32(), r.F32()}
	return t
}

// PutTransform encodes t at the writer's position.
func PutTransform(w *Writer, t Transform) {
	for _, v := range t.Position {
		w.F32(v)
	}
	w.F32(t.Rotation.V[0])
	w.F32(t.Rotation.V[1])
	w.F32(t.Rotation.V[2])
	w.F32(t.Rotation.W)
	for _, v := range t.Scale {
		w.F32(v)
	}
}

// EquipIndex identifies an equipment slot.
type EquipIndex int

const (
	EquipHead EquipIndex = iota
	EquipChest
	EquipHands
	EquipLegs
	EquipFeet
	EquipEarring
	EquipNecklace
	EquipBracelet
	EquipRingRight
	EquipRingLeft
	EquipSlotCount
)

// EquipmentSize is the encoded size of the equipment container.
const EquipmentSize = int(EquipSlotCount) * 8

var equipNames = [EquipSlotCount]string{
	"head", "chest", "hands", "legs", "feet",
	"earring", "necklace", "bracelet", "ring_right", "ring_left",
}

func (i EquipIndex) String() string {
	if i < 0 || i >= EquipSlotCount {
		return "unknown"
	}
	return equipNames[i]
}

// ItemEquip is one equipped model: item id, variant and two dye channels.
type ItemEquip struct {
	ID      uint16
	Variant uint8
	Dye     uint8
	Dye2    uint8
}

// ItemEquipFromUint64 unpacks the slot word: Id:16 | Variant:8 | Dye:8 | Dye2:8.
func ItemEquipFromUint64(v uint64) ItemEquip {
	return ItemEquip{
		ID:      uint16(v & 0xFFFF),
		Variant: uint8(v >> 16 & 0xFF),
		Dye:     uint8(v >> 24),
		Dye2:    uint8(v >> 32),
	}
}

// Uint64 packs the item back into its slot word.
func (e ItemEquip) Uint64() uint64 {
	return uint64(uint32(e.ID)|uint32(e.Variant)<<16|uint32(e.Dye)<<24) | uint64(e.Dye2)<<32
}

// SameModel reports whether two items show the same model; dyes are ignored.
func (e ItemEquip) SameModel(o ItemEquip) bool {
	return e.ID == o.ID && e.Variant == o.Variant
}

// Equipment is the full set of equipped models.
type Equipment [EquipSlotCount]ItemEquip

func decodeEquipment(r *Reader) Equipment {
	var e Equipment
	for i := range e {
		e[i] = ItemEquipFromUint64(r.U64())
	}
	return e
}

func encodeEquipment(w *Writer, e Equipment) {
	for _, item := range e {
		w.U64(item.Uint64())
	}
}

// Bone is one decoded skeleton bone.
type Bone struct {
	Index  int
	Name   string
	Parent int16 // -1 for the root
	Group  uint8
	Local  Transform
}
