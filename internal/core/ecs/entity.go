package ecs

import "fmt"

// EntityID encodes a 32-bit index in the lower bits and a 32-bit generation
// in the upper bits. The generation increments on destroy so a scene id held
// by the UI after its actor despawned never resolves to the slot's next
// occupant.
type EntityID uint64

func NewEntityID(index uint32, generation uint32) EntityID {
	return EntityID(uint64(generation)<<32 | uint64(index))
}

func (id EntityID) Index() uint32      { return uint32(id) }
func (id EntityID) Generation() uint32 { return uint32(id >> 32) }
func (id EntityID) IsZero() bool       { return id == 0 }

func (id EntityID) String() string {
	return fmt.Sprintf("%d:%d", id.Index(), id.Generation())
}

// EntityPool manages entity allocation with generational indices and a free list.
// Index 0 generation 0 is never handed out so the zero EntityID means "none".
type EntityPool struct {
	generations []uint32
	freeList    []uint32
	nextIndex   uint32
}

func NewEntityPool() *EntityPool {
	return &EntityPool{
		generations: make([]uint32, 1, 64),
		freeList:    make([]uint32, 0, 16),
		nextIndex:   1,
	}
}

func (p *EntityPool) Create() EntityID {
	if len(p.freeList) > 0 {
		idx := p.freeList[len(p.freeList)-1]
		p.freeList = p.freeList[:len(p.freeList)-1]
		return NewEntityID(idx, p.generations[idx])
	}
	idx := p.nextIndex
	p.nextIndex++
	if int(idx) >= len(p.generations) {
		p.generations = append(p.generations, 0)
	}
	return NewEntityID(idx, p.generations[idx])
}

func (p *EntityPool) Alive(id EntityID) bool {
	idx := id.Index()
	if idx == 0 || idx >= p.nextIndex {
		return false
	}
	return p.generations[idx] == id.Generation()
}

func (p *EntityPool) Destroy(id EntityID) {
	if !p.Alive(id) {
		return // already destroyed (stale reference)
	}
	idx := id.Index()
	p.generations[idx]++
	p.freeList = append(p.freeList, idx)
}
