package memory

import (
	"errors"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/posekit/overlay/internal/native"
)

// flatMemory is one contiguous block mapped at base.
type flatMemory struct {
	base native.Address
	buf  []byte
}

func (m *flatMemory) span(n int, addr native.Address) ([]byte, error) {
	if addr < m.base || int(addr-m.base)+n > len(m.buf) {
		return nil, native.ErrUnmapped
	}
	off := int(addr - m.base)
	return m.buf[off : off+n], nil
}

func (m *flatMemory) ReadAt(p []byte, addr native.Address) error {
	s, err := m.span(len(p), addr)
	if err != nil {
		return err
	}
	copy(p, s)
	return nil
}

func (m *flatMemory) WriteAt(p []byte, addr native.Address) error {
	s, err := m.span(len(p), addr)
	if err != nil {
		return err
	}
	copy(s, p)
	return nil
}

func TestCodecFields(t *testing.T) {
	buf := make([]byte, 32)
	w := NewWriter(buf)
	w.U8(0xAB)
	w.U16(0x1234)
	w.I16(-2)
	w.U32(0xDEADBEEF)
	w.U64(0x0102030405060708)
	w.F32(1.5)
	w.CString("abc", 6)

	r := NewReader(buf)
	if v := r.U8(); v != 0xAB {
		t.Errorf("U8 = 0x%X", v)
	}
	if v := r.U16(); v != 0x1234 {
		t.Errorf("U16 = 0x%X", v)
	}
	if v := r.I16(); v != -2 {
		t.Errorf("I16 = %d", v)
	}
	if v := r.U32(); v != 0xDEADBEEF {
		t.Errorf("U32 = 0x%X", v)
	}
	if v := r.U64(); v != 0x0102030405060708 {
		t.Errorf("U64 = 0x%X", v)
	}
	if v := r.F32(); v != 1.5 {
		t.Errorf("F32 = %v", v)
	}
	if v := r.CString(6); v != "abc" {
		t.Errorf("CString = %q", v)
	}
	if r.Remaining() != 32-27 {
		t.Errorf("remaining = %d", r.Remaining())
	}
}

func TestCodecBounds(t *testing.T) {
	r := NewReader([]byte{1, 2, 3})
	if v := r.U32(); v != 0 {
		t.Errorf("short U32 = %d, want 0", v)
	}
	if v := r.Seek(1).Bytes(8); len(v) != 2 {
		t.Errorf("short Bytes len = %d, want 2", len(v))
	}

	buf := make([]byte, 4)
	w := NewWriter(buf)
	w.Seek(2).U32(math.MaxUint32)
	if buf[2] != 0 || buf[3] != 0 {
		t.Error("overflowing write touched the buffer")
	}
}

func TestCStringKeepsTerminator(t *testing.T) {
	buf := make([]byte, 4)
	NewWriter(buf).CString("overlong", 4)
	if buf[3] != 0 {
		t.Fatal("no terminator")
	}
	if got := NewReader(buf).CString(4); got != "ove" {
		t.Errorf("read back %q, want ove", got)
	}
}

func TestItemEquipPacking(t *testing.T) {
	item := ItemEquip{ID: 0x1234, Variant: 5, Dye: 7, Dye2: 9}
	if got := item.Uint64(); got != 0x09_07_05_1234 {
		t.Errorf("packed = 0x%X", got)
	}
	if back := ItemEquipFromUint64(item.Uint64()); back != item {
		t.Errorf("unpacked %+v, want %+v", back, item)
	}
	redyed := item
	redyed.Dye, redyed.Dye2 = 1, 2
	if !item.SameModel(redyed) {
		t.Error("dyes changed the model")
	}
	other := item
	other.Variant++
	if item.SameModel(other) {
		t.Error("variant ignored by SameModel")
	}
}

func TestTransformMatrixDecompose(t *testing.T) {
	in := Transform{
		Position: mgl32.Vec3{1, -2, 3},
		Rotation: mgl32.QuatRotate(mgl32.DegToRad(40), mgl32.Vec3{0, 1, 0}),
		Scale:    mgl32.Vec3{2, 1, 0.5},
	}
	out := TransformFromMatrix(in.Matrix())
	if !out.Position.ApproxEqualThreshold(in.Position, 1e-4) {
		t.Errorf("position %v, want %v", out.Position, in.Position)
	}
	if !out.Scale.ApproxEqualThreshold(in.Scale, 1e-4) {
		t.Errorf("scale %v, want %v", out.Scale, in.Scale)
	}
	if !out.Rotation.OrientationEqualThreshold(in.Rotation, 1e-4) {
		t.Errorf("rotation %v, want %v", out.Rotation, in.Rotation)
	}
}

func TestPutTransformLayout(t *testing.T) {
	tr := IdentityTransform()
	tr.Position = mgl32.Vec3{4, 5, 6}
	buf := make([]byte, TransformSize)
	PutTransform(NewWriter(buf), tr)

	r := NewReader(buf)
	if x := r.F32(); x != 4 {
		t.Errorf("x = %v", x)
	}
	// Rotation is stored x, y, z, w.
	r.Seek(24)
	if w := r.F32(); w != 1 {
		t.Errorf("w = %v, want 1", w)
	}
	if got := decodeTransform(NewReader(buf)); got != tr {
		t.Errorf("decoded %+v, want %+v", got, tr)
	}
}

func TestHandleInvalidation(t *testing.T) {
	mem := &flatMemory{base: 0x1000, buf: make([]byte, 64)}
	live := true
	h := NewHandle(mem, LivenessFunc(func(native.Address) bool { return live }), 0x1000)

	if err := h.Write(4, []byte{1, 2}); err != nil {
		t.Fatal(err)
	}
	got, err := h.Read(4, 2)
	if err != nil || got[0] != 1 || got[1] != 2 {
		t.Fatalf("read = %v, %v", got, err)
	}

	live = false
	if h.Valid() {
		t.Error("handle valid after object died")
	}
	if _, err := h.Read(4, 2); !errors.Is(err, ErrInvalidHandle) {
		t.Errorf("read on dead handle = %v", err)
	}
	if err := h.Write(4, []byte{9}); !errors.Is(err, ErrInvalidHandle) {
		t.Errorf("write on dead handle = %v", err)
	}
	if mem.buf[4] != 1 {
		t.Error("dead handle wrote to memory")
	}
}

func TestHandleDeref(t *testing.T) {
	mem := &flatMemory{base: 0x1000, buf: make([]byte, 64)}
	NewWriter(mem.buf).Seek(8).U64(0x1020)
	h := Raw(mem, 0x1000)

	target, err := h.Deref(8)
	if err != nil {
		t.Fatal(err)
	}
	if target.Address() != 0x1020 {
		t.Errorf("deref = %s", target.Address())
	}
	null, err := h.Deref(16)
	if err != nil {
		t.Fatal(err)
	}
	if null.Valid() {
		t.Error("null pointer deref is valid")
	}
	if Raw(nil, 0x1000).Valid() {
		t.Error("handle without memory is valid")
	}
}

func TestActorRangeContains(t *testing.T) {
	r := ActorRange{First: 201, Last: 240}
	for idx, want := range map[uint16]bool{200: false, 201: true, 239: true, 240: false} {
		if got := r.Contains(idx); got != want {
			t.Errorf("Contains(%d) = %v", idx, got)
		}
	}
}
