package game

import (
	"github.com/posekit/overlay/internal/memory"
	"github.com/posekit/overlay/internal/native"
)

// GPoseState is a weak reference to the host's editing-session container.
// The host owns it and may drop it between ticks.
type GPoseState struct {
	mem    native.Memory
	layout memory.SessionLayout
	addr   native.Address
}

// Address returns the container address.
func (s GPoseState) Address() native.Address { return s.addr }

// Actors lists the object addresses in the container.
func (s GPoseState) Actors() ([]native.Address, error) {
	raw, err := memory.Raw(s.mem, s.addr).Read(0, s.layout.Size())
	if err != nil {
		return nil, err
	}
	r := memory.NewReader(raw)
	count := min(int(r.Seek(s.layout.Count).U16()), s.layout.Capacity)
	out := make([]native.Address, 0, count)
	r.Seek(s.layout.Actors)
	for i := 0; i < count; i++ {
		if a := native.Address(r.U64()); !a.IsNull() {
			out = append(out, a)
		}
	}
	return out, nil
}

func readSession(proc native.Process, layout *memory.Layout) (GPoseState, bool) {
	cell, ok := proc.Static(native.StaticSession)
	if !ok {
		return GPoseState{}, false
	}
	addr, err := readPtr(proc, cell)
	if err != nil || addr.IsNull() {
		return GPoseState{}, false
	}
	st := GPoseState{mem: proc, layout: layout.Session, addr: addr}
	var active [1]byte
	if err := proc.ReadAt(active[:], addr+native.Address(layout.Session.Active)); err != nil || active[0] == 0 {
		return GPoseState{}, false
	}
	return st, true
}

// GPose answers questions about the current editing session.
type GPose struct {
	proc   native.Process
	layout *memory.Layout
	actors *ActorService
	client *ClientState
}

// GetGPoseState returns the session container, or false outside a session.
func (g *GPose) GetGPoseState() (GPoseState, bool) {
	return readSession(g.proc, g.layout)
}

// IsActive reports whether an editing session is running.
func (g *GPose) IsActive() bool {
	_, ok := g.GetGPoseState()
	return ok
}

// IsPrimaryActor reports whether addr is the user's own avatar.
func (g *GPose) IsPrimaryActor(addr native.Address) bool {
	player, ok := g.client.LocalPlayer()
	return ok && player.Address() == addr
}
