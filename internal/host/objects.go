package host

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/posekit/overlay/internal/core/system"
	"github.com/posekit/overlay/internal/data"
	"github.com/posekit/overlay/internal/memory"
	"github.com/posekit/overlay/internal/native"
	"go.uber.org/zap"
)

var (
	ErrTableFull  = errors.New("host: object table full")
	ErrSlotInUse  = errors.New("host: object table slot in use")
	ErrNoSession  = errors.New("host: no editing session")
	ErrNotInTable = errors.New("host: object not in table")
)

// Object kinds the host writes into headers.
const (
	KindPlayer    = 1
	KindCompanion = 2
	KindNpc       = 3
)

// ObjectSpec describes a host-owned object to place in the world.
type ObjectSpec struct {
	Name      string
	Kind      uint8
	Index     int // -1 picks the lowest free slot below the session actor range
	WorldID   uint16
	Transform memory.Transform
	Equipment memory.Equipment
	Customize []byte
	Bones     []memory.Bone // nil uses DefaultBones

	// Companion spawns a live companion object owned by this one.
	Companion bool
	// CompanionAbsent points the companion field at a placeholder whose index
	// reads as the layout's absent index.
	CompanionAbsent bool
}

// DefaultBones is a small two-group skeleton: body and hair.
func DefaultBones() []memory.Bone {
	id := memory.IdentityTransform()
	at := func(x, y, z float32) memory.Transform {
		t := id
		t.Position = mgl32.Vec3{x, y, z}
		return t
	}
	return []memory.Bone{
		{Index: 0, Name: "n_root", Parent: -1, Group: 0, Local: id},
		{Index: 1, Name: "j_kosi", Parent: 0, Group: 0, Local: at(0, 1, 0)},
		{Index: 2, Name: "j_sebo_a", Parent: 1, Group: 0, Local: at(0, 0.2, 0)},
		{Index: 3, Name: "j_kubi", Parent: 2, Group: 0, Local: at(0, 0.4, 0)},
		{Index: 4, Name: "j_kao", Parent: 3, Group: 0, Local: at(0, 0.1, 0)},
		{Index: 5, Name: "j_kami_a", Parent: 4, Group: 1, Local: at(0, 0.15, 0)},
		{Index: 6, Name: "j_kami_b", Parent: 5, Group: 1, Local: at(0, 0.05, -0.05)},
	}
}

func (p *Process) objects() memory.ObjectLayout { return p.layout.Object }

func (p *Process) accessor(addr native.Address) memory.Object {
	return memory.NewObject(memory.Raw(p, addr), p.layout)
}

// tableSlot returns the address stored in a table slot. Caller holds mu.
func (p *Process) tableSlot(index int) native.Address {
	buf := make([]byte, 8)
	_ = p.heap.read(buf, p.statics[native.StaticObjectTable]+native.Address(8*index))
	return native.Address(memory.NewReader(buf).U64())
}

// setTableSlot stores addr in a table slot. Caller holds mu.
func (p *Process) setTableSlot(index int, addr native.Address) {
	w := memory.NewWriter(make([]byte, 8))
	w.U64(uint64(addr))
	_ = p.heap.write(w.Buffer(), p.statics[native.StaticObjectTable]+native.Address(8*index))
}

// indexOf returns the table index holding addr. Caller holds mu.
func (p *Process) indexOf(addr native.Address) (int, bool) {
	for i := 0; i < p.layout.Table.Capacity; i++ {
		if p.tableSlot(i) == addr {
			return i, true
		}
	}
	return 0, false
}

func (p *Process) putField(addr native.Address, off int, v uint64, size int) {
	w := memory.NewWriter(make([]byte, size))
	switch size {
	case 1:
		w.U8(uint8(v))
	case 2:
		w.U16(uint16(v))
	case 4:
		w.U32(uint32(v))
	default:
		w.U64(v)
	}
	_ = p.heap.write(w.Buffer(), addr+native.Address(off))
}

// allocObject allocates a zeroed live object in table slot index. Caller
// holds mu.
func (p *Process) allocObject(index int, kind uint8) native.Address {
	l := p.objects()
	addr := p.heap.alloc(l.Size)
	p.putField(addr, l.Index, uint64(index), 2)
	p.putField(addr, l.Kind, uint64(kind), 1)
	p.putField(addr, l.Live, 1, 1)
	p.putField(addr, l.ObjectID, uint64(p.nextObjectID.Add(1)), 4)
	p.setTableSlot(index, addr)
	return addr
}

// allocSkeleton writes bones into a new skeleton block and links it to
// owner. Caller holds mu.
func (p *Process) allocSkeleton(owner native.Address, bones []memory.Bone) {
	s := p.layout.Skeleton
	block := p.heap.alloc(s.Size())
	n := min(len(bones), s.MaxBones)
	p.putField(block, s.Count, uint64(n), 2)
	buf := make([]byte, s.BoneSize)
	for i := 0; i < n; i++ {
		b := bones[i]
		w := memory.NewWriter(buf)
		clear(buf)
		w.Seek(s.BoneName()).CString(b.Name, s.BoneNameSize)
		w.Seek(s.BoneParent).I16(b.Parent)
		w.Seek(s.BoneGroup).U8(b.Group)
		memory.PutTransform(w.Seek(s.BoneTransform), b.Local)
		_ = p.heap.write(buf, block+native.Address(s.Bones+i*s.BoneSize))
	}
	p.putField(owner, p.objects().Skeleton, uint64(block), 8)
}

func (p *Process) freeSlotBelow(limit int) (int, bool) {
	for i := 0; i < limit; i++ {
		if i == int(p.layout.ExcludedIndex) {
			continue
		}
		if p.tableSlot(i) == 0 {
			return i, true
		}
	}
	return 0, false
}

// SpawnObject places a host-owned object in the world and returns its address.
func (p *Process) SpawnObject(spec ObjectSpec) (native.Address, error) {
	p.mu.Lock()
	index := spec.Index
	if index < 0 {
		var ok bool
		if index, ok = p.freeSlotBelow(int(p.layout.Actors.First)); !ok {
			p.mu.Unlock()
			return 0, ErrTableFull
		}
	} else if index >= p.layout.Table.Capacity {
		p.mu.Unlock()
		return 0, fmt.Errorf("index %d: %w", index, native.ErrOutOfBounds)
	} else if p.tableSlot(index) != 0 {
		p.mu.Unlock()
		return 0, fmt.Errorf("index %d: %w", index, ErrSlotInUse)
	}
	kind := spec.Kind
	if kind == 0 {
		kind = KindNpc
	}
	addr := p.allocObject(index, kind)
	bones := spec.Bones
	if bones == nil {
		bones = DefaultBones()
	}
	p.allocSkeleton(addr, bones)

	var companion native.Address
	if spec.Companion || spec.CompanionAbsent {
		ci, ok := p.freeSlotBelow(int(p.layout.Actors.First))
		if !ok {
			p.mu.Unlock()
			return 0, ErrTableFull
		}
		companion = p.allocObject(ci, KindCompanion)
		if spec.CompanionAbsent {
			p.putField(companion, p.objects().Index, uint64(p.layout.CompanionAbsentIndex), 2)
		}
		p.putField(addr, p.objects().Companion, uint64(companion), 8)
	}
	p.mu.Unlock()

	o := p.accessor(addr)
	t := spec.Transform
	if t == (memory.Transform{}) {
		t = memory.IdentityTransform()
	}
	customize := spec.Customize
	if customize == nil {
		customize = make([]byte, p.objects().CustomizeSize)
	}
	err := errors.Join(
		o.SetName(truncate(spec.Name, o.NameCapacity())),
		o.SetWorldID(spec.WorldID),
		o.SetTransform(t),
		o.SetEquipment(spec.Equipment),
		o.SetCustomize(customize),
	)
	if err == nil && companion != 0 {
		err = p.accessor(companion).SetName(truncate(spec.Name+"'s companion", o.NameCapacity()))
	}
	if err != nil {
		return 0, fmt.Errorf("init object %s: %w", addr, err)
	}
	return addr, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// SetLocalPlayer points the local player slot at addr; zero clears it.
func (p *Process) SetLocalPlayer(addr native.Address) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.putField(p.statics[native.StaticLocalPlayer], 0, uint64(addr), 8)
}

func (p *Process) readPtr(addr native.Address) native.Address {
	buf := make([]byte, 8)
	_ = p.heap.read(buf, addr)
	return native.Address(memory.NewReader(buf).U64())
}

func (p *Process) session() native.Address {
	return p.readPtr(p.statics[native.StaticSession])
}

// EnterSession creates the editing-session container and seeds it with the
// given actors without going through the add routine.
func (p *Process) EnterSession(actors ...native.Address) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sl := p.layout.Session
	sess := p.session()
	if sess == 0 {
		sess = p.heap.alloc(sl.Size())
		p.putField(p.statics[native.StaticSession], 0, uint64(sess), 8)
	}
	p.putField(sess, sl.Active, 1, 1)
	for _, a := range actors {
		p.sessionAppend(sess, a)
	}
}

// LeaveSession drops the editing-session container.
func (p *Process) LeaveSession() {
	p.mu.Lock()
	defer p.mu.Unlock()
	sess := p.session()
	if sess == 0 {
		return
	}
	p.putField(p.statics[native.StaticSession], 0, 0, 8)
	p.heap.release(sess)
}

func (p *Process) sessionList(sess native.Address) []native.Address {
	sl := p.layout.Session
	buf := make([]byte, sl.Size())
	_ = p.heap.read(buf, sess)
	r := memory.NewReader(buf)
	count := min(int(r.Seek(sl.Count).U16()), sl.Capacity)
	out := make([]native.Address, 0, count)
	r.Seek(sl.Actors)
	for i := 0; i < count; i++ {
		out = append(out, native.Address(r.U64()))
	}
	return out
}

func (p *Process) writeSessionList(sess native.Address, list []native.Address) {
	sl := p.layout.Session
	w := memory.NewWriter(make([]byte, 8*sl.Capacity))
	for _, a := range list {
		w.U64(uint64(a))
	}
	_ = p.heap.write(w.Buffer(), sess+native.Address(sl.Actors))
	p.putField(sess, sl.Count, uint64(len(list)), 2)
}

func (p *Process) sessionAppend(sess, obj native.Address) bool {
	list := p.sessionList(sess)
	if len(list) >= p.layout.Session.Capacity || slices.Contains(list, obj) {
		return false
	}
	p.writeSessionList(sess, append(list, obj))
	return true
}

// SessionActors returns the actors listed in the session container.
func (p *Process) SessionActors() []native.Address {
	p.mu.RLock()
	defer p.mu.RUnlock()
	sess := p.session()
	if sess == 0 {
		return nil
	}
	return p.sessionList(sess)
}

// ObjectAt returns the object in a table slot, or zero.
func (p *Process) ObjectAt(index int) native.Address {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if index < 0 || index >= p.layout.Table.Capacity {
		return 0
	}
	return p.tableSlot(index)
}

// QueueSessionAdd makes the host add an existing object to the editing
// session on the next tick, through the add routine.
func (p *Process) QueueSessionAdd(obj native.Address) {
	p.queueWork(func() {
		sess := p.SessionAddress()
		if sess == 0 {
			return
		}
		id, _ := p.accessor(obj).ObjectID()
		p.invokeRoutine(data.RoutineAddCharacter, uint64(sess), uint64(obj), uint64(id))
	})
}

// QueueSentinelAdd makes the host call the add routine with the reserved
// non-actor id on the next tick.
func (p *Process) QueueSentinelAdd(obj native.Address) {
	p.queueWork(func() {
		if sess := p.SessionAddress(); sess != 0 {
			p.invokeRoutine(data.RoutineAddCharacter, uint64(sess), uint64(obj), uint64(p.layout.SentinelObjectID))
		}
	})
}

// QueueDespawn makes the host remove obj from the session and free it on the
// next tick.
func (p *Process) QueueDespawn(obj native.Address) {
	p.queueWork(func() {
		if sess := p.SessionAddress(); sess != 0 {
			p.invokeRoutine(data.RoutineRemoveCharacter, uint64(sess), uint64(obj))
		}
		mgr := p.statics[native.StaticObjectMgr]
		idx := p.invokeRoutine(data.RoutineGetIndexByObject, uint64(mgr), uint64(obj))
		if idx != noIndex {
			p.invokeRoutine(data.RoutineDeleteObjectByIndex, uint64(mgr), idx, 1)
		}
	})
}

// SessionAddress returns the current session container, or zero.
func (p *Process) SessionAddress() native.Address {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.session()
}

func (p *Process) queueWork(fn func()) {
	p.qmu.Lock()
	p.work = append(p.work, fn)
	p.qmu.Unlock()
}

// Native routines. Argument order follows the host calling convention the
// signatures were taken from.

// addCharacter(session, object, objectID)
func (p *Process) addCharacter(args ...uint64) uint64 {
	p.observe(data.RoutineAddCharacter, true)
	if len(args) < 3 || args[0] == 0 || uint32(args[2]) == p.layout.SentinelObjectID {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessionAppend(native.Address(args[0]), native.Address(args[1]))
	return 0
}

// removeCharacter(session, object) returns 1 when the object was listed.
func (p *Process) removeCharacter(args ...uint64) uint64 {
	p.observe(data.RoutineRemoveCharacter, true)
	if len(args) < 2 || args[0] == 0 {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	sess, obj := native.Address(args[0]), native.Address(args[1])
	list := p.sessionList(sess)
	i := slices.Index(list, obj)
	if i < 0 {
		return 0
	}
	p.writeSessionList(sess, slices.Delete(list, i, i+1))
	return 1
}

// getIndexByObject(manager, object) returns the table index or 0xFFFF.
func (p *Process) getIndexByObject(args ...uint64) uint64 {
	p.observe(data.RoutineGetIndexByObject, true)
	if len(args) < 2 {
		return noIndex
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if i, ok := p.indexOf(native.Address(args[1])); ok {
		return uint64(i)
	}
	return noIndex
}

// deleteObjectByIndex(manager, index, flag)
func (p *Process) deleteObjectByIndex(args ...uint64) uint64 {
	p.observe(data.RoutineDeleteObjectByIndex, true)
	if len(args) < 2 || int(args[1]) >= p.layout.Table.Capacity {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	index := int(args[1])
	obj := p.tableSlot(index)
	if obj == 0 {
		return 0
	}
	p.freeObject(index, obj)
	return 1
}

// freeObject clears a table slot and releases the object and its skeleton.
// Caller holds mu.
func (p *Process) freeObject(index int, obj native.Address) {
	l := p.objects()
	skel := p.readPtr(obj + native.Address(l.Skeleton))
	p.setTableSlot(index, 0)
	p.putField(obj, l.Live, 0, 1)
	if skel != 0 {
		p.heap.release(skel)
	}
	p.heap.release(obj)
}

type createRequest struct {
	template native.Address
	index    int
	frame    uint64
}

// createGPoseActor(template, index) queues a clone of template into a
// session actor slot. The clone appears on a later tick and is announced
// through the add routine. Returns 1 when the request was accepted.
func (p *Process) createGPoseActor(args ...uint64) uint64 {
	p.observe(data.RoutineCreateGPoseActor, true)
	if len(args) < 2 || !p.layout.Actors.Contains(uint16(args[1])) {
		return 0
	}
	p.qmu.Lock()
	defer p.qmu.Unlock()
	p.creates = append(p.creates, createRequest{
		template: native.Address(args[0]),
		index:    int(args[1]),
		frame:    p.Frame(),
	})
	return 1
}

// objectManager is the host's own per-tick object processing.
type objectManager struct{ p *Process }

func (objectManager) Phase() system.Phase { return system.PhaseUpdate }

func (m objectManager) Update(_ time.Duration) {
	p := m.p
	p.qmu.Lock()
	work := p.work
	p.work = nil
	var ready []createRequest
	if !p.stall {
		keep := p.creates[:0]
		for _, c := range p.creates {
			if c.frame < p.Frame() {
				ready = append(ready, c)
			} else {
				keep = append(keep, c)
			}
		}
		p.creates = keep
	}
	p.qmu.Unlock()

	for _, fn := range work {
		fn()
	}
	for _, c := range ready {
		p.completeCreate(c)
	}
}

func (p *Process) completeCreate(c createRequest) {
	obj, err := p.cloneInto(c.template, c.index)
	if err != nil {
		p.log.Warn("actor creation dropped", zap.Int("index", c.index), zap.Error(err))
		return
	}
	sess := p.SessionAddress()
	if sess == 0 {
		return
	}
	id, _ := p.accessor(obj).ObjectID()
	p.invokeRoutine(data.RoutineAddCharacter, uint64(sess), uint64(obj), uint64(id))
}

// cloneInto copies template's object record and skeleton into a new object
// at index.
func (p *Process) cloneInto(template native.Address, index int) (native.Address, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	l := p.objects()
	if _, ok := p.indexOf(template); !ok || template == 0 {
		return 0, fmt.Errorf("template %s: %w", template, ErrNotInTable)
	}
	if p.tableSlot(index) != 0 {
		return 0, fmt.Errorf("index %d: %w", index, ErrSlotInUse)
	}
	src := make([]byte, l.Size)
	if err := p.heap.read(src, template); err != nil {
		return 0, err
	}
	srcSkel := native.Address(memory.NewReader(src).Seek(l.Skeleton).U64())

	addr := p.heap.alloc(l.Size)
	_ = p.heap.write(src, addr)
	p.putField(addr, l.Index, uint64(index), 2)
	p.putField(addr, l.Kind, KindPlayer, 1)
	p.putField(addr, l.Live, 1, 1)
	p.putField(addr, l.ObjectID, uint64(p.nextObjectID.Add(1)), 4)
	p.putField(addr, l.Companion, 0, 8)
	p.putField(addr, l.Skeleton, 0, 8)
	if srcSkel != 0 {
		s := p.layout.Skeleton
		raw := make([]byte, s.Size())
		if err := p.heap.read(raw, srcSkel); err == nil {
			skel := p.heap.alloc(s.Size())
			_ = p.heap.write(raw, skel)
			p.putField(addr, l.Skeleton, uint64(skel), 8)
		}
	}
	p.setTableSlot(index, addr)
	return addr, nil
}
