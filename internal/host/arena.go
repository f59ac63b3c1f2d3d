package host

import (
	"fmt"
	"slices"

	"github.com/posekit/overlay/internal/native"
)

const (
	heapBase   native.Address = 0x7FF7_0000_0000
	blockAlign                = 0x10
)

type region struct {
	base native.Address
	data []byte
}

func (r *region) end() native.Address { return r.base + native.Address(len(r.data)) }

// arena is the host heap. Freed blocks stay mapped and are handed out again
// for the next allocation of the same size, so stale addresses can point at
// a different live object. Callers hold Process.mu.
type arena struct {
	regions []*region // sorted by base
	free    map[int][]native.Address
	next    native.Address
}

func newArena() *arena {
	return &arena{free: make(map[int][]native.Address), next: heapBase}
}

func (a *arena) alloc(size int) native.Address {
	if list := a.free[size]; len(list) > 0 {
		addr := list[len(list)-1]
		a.free[size] = list[:len(list)-1]
		r := a.find(addr)
		clear(r.data)
		return addr
	}
	addr := a.next
	a.regions = append(a.regions, &region{base: addr, data: make([]byte, size)})
	step := (size + blockAlign - 1) &^ (blockAlign - 1)
	a.next += native.Address(step + blockAlign) // guard gap
	return addr
}

func (a *arena) release(addr native.Address) {
	r := a.find(addr)
	if r == nil || r.base != addr {
		return
	}
	clear(r.data)
	a.free[len(r.data)] = append(a.free[len(r.data)], addr)
}

func (a *arena) find(addr native.Address) *region {
	i, found := slices.BinarySearchFunc(a.regions, addr, func(r *region, t native.Address) int {
		switch {
		case r.base > t:
			return 1
		case r.end() <= t:
			return -1
		}
		return 0
	})
	if !found {
		return nil
	}
	return a.regions[i]
}

func (a *arena) span(addr native.Address, n int) ([]byte, error) {
	r := a.find(addr)
	if r == nil {
		return nil, fmt.Errorf("%s: %w", addr, native.ErrUnmapped)
	}
	off := int(addr - r.base)
	if off+n > len(r.data) {
		return nil, fmt.Errorf("%s+%d: %w", addr, n, native.ErrOutOfBounds)
	}
	return r.data[off : off+n], nil
}

func (a *arena) read(p []byte, addr native.Address) error {
	src, err := a.span(addr, len(p))
	if err != nil {
		return err
	}
	copy(p, src)
	return nil
}

func (a *arena) write(p []byte, addr native.Address) error {
	dst, err := a.span(addr, len(p))
	if err != nil {
		return err
	}
	copy(dst, p)
	return nil
}
