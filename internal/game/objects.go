package game

import (
	"fmt"

	"github.com/posekit/overlay/internal/memory"
	"github.com/posekit/overlay/internal/native"
)

// ObjectTable reads the host's object table. It is the liveness authority
// for object handles: an address is live while a table slot points at it
// and the object's live flag is set.
type ObjectTable struct {
	proc   native.Process
	layout *memory.Layout
}

func NewObjectTable(proc native.Process, layout *memory.Layout) *ObjectTable {
	return &ObjectTable{proc: proc, layout: layout}
}

// Slots reads every table slot in one read.
func (t *ObjectTable) Slots() ([]native.Address, error) {
	base, ok := t.proc.Static(native.StaticObjectTable)
	if !ok {
		return nil, fmt.Errorf("object table: %w", native.ErrUnmapped)
	}
	n := t.layout.Table.Capacity
	raw := make([]byte, 8*n)
	if err := t.proc.ReadAt(raw, base); err != nil {
		return nil, fmt.Errorf("object table: %w", err)
	}
	r := memory.NewReader(raw)
	out := make([]native.Address, n)
	for i := range out {
		out[i] = native.Address(r.U64())
	}
	return out, nil
}

// IndexOf returns the slot holding addr.
func (t *ObjectTable) IndexOf(addr native.Address) (int, bool) {
	if addr.IsNull() {
		return 0, false
	}
	slots, err := t.Slots()
	if err != nil {
		return 0, false
	}
	for i, a := range slots {
		if a == addr {
			return i, true
		}
	}
	return 0, false
}

// IsLive implements memory.Liveness.
func (t *ObjectTable) IsLive(addr native.Address) bool {
	if _, ok := t.IndexOf(addr); !ok {
		return false
	}
	var live [1]byte
	if err := t.proc.ReadAt(live[:], addr+native.Address(t.layout.Object.Live)); err != nil {
		return false
	}
	return live[0] != 0
}

// ActorService hands out validated object accessors.
type ActorService struct {
	proc   native.Process
	layout *memory.Layout
	table  *ObjectTable
}

// GetAddress returns an accessor for addr if it is a live object.
func (s *ActorService) GetAddress(addr native.Address) (memory.Object, bool) {
	obj := s.Object(addr)
	if !obj.Valid() {
		return memory.Object{}, false
	}
	return obj, true
}

// Object wraps addr without checking it. The accessor validates on use.
func (s *ActorService) Object(addr native.Address) memory.Object {
	return memory.NewObject(memory.NewHandle(s.proc, s.table, addr), s.layout)
}

// GetGPoseActors returns the live actors listed in the editing session.
func (s *ActorService) GetGPoseActors() []memory.Object {
	sess, ok := s.session()
	if !ok {
		return nil
	}
	addrs, err := sess.Actors()
	if err != nil {
		return nil
	}
	out := make([]memory.Object, 0, len(addrs))
	for _, a := range addrs {
		if obj, ok := s.GetAddress(a); ok {
			out = append(out, obj)
		}
	}
	return out
}

func (s *ActorService) session() (GPoseState, bool) {
	return readSession(s.proc, s.layout)
}

// ClientState exposes the local player.
type ClientState struct {
	proc   native.Process
	actors *ActorService
}

// LocalPlayer returns the user's own avatar, if one is loaded.
func (c *ClientState) LocalPlayer() (memory.Object, bool) {
	cell, ok := c.proc.Static(native.StaticLocalPlayer)
	if !ok {
		return memory.Object{}, false
	}
	addr, err := readPtr(c.proc, cell)
	if err != nil || addr.IsNull() {
		return memory.Object{}, false
	}
	return c.actors.GetAddress(addr)
}

func readPtr(mem native.Memory, addr native.Address) (native.Address, error) {
	var raw [8]byte
	if err := mem.ReadAt(raw[:], addr); err != nil {
		return 0, err
	}
	return native.Address(memory.NewReader(raw[:]).U64()), nil
}
