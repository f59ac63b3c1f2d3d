package memory

import (
	"errors"
	"fmt"

	"github.com/posekit/overlay/internal/native"
)

// ErrInvalidHandle is returned when a handle no longer resolves to a live
// host object. The host may free or reuse an address at any time.
var ErrInvalidHandle = errors.New("memory: invalid handle")

// Liveness decides whether an address currently holds a live host object.
type Liveness interface {
	IsLive(addr native.Address) bool
}

// LivenessFunc adapts a function to Liveness.
type LivenessFunc func(addr native.Address) bool

func (f LivenessFunc) IsLive(addr native.Address) bool { return f(addr) }

// Handle is a validated reference to a host object. Every dereference
// re-checks liveness first; a stale handle fails instead of reading.
type Handle struct {
	mem  native.Memory
	live Liveness
	addr native.Address
}

func NewHandle(mem native.Memory, live Liveness, addr native.Address) Handle {
	return Handle{mem: mem, live: live, addr: addr}
}

// Address returns the raw address. It identifies the handle, it is not a
// promise that the object is still there.
func (h Handle) Address() native.Address { return h.addr }

// Valid reports whether the handle currently resolves to a live object.
func (h Handle) Valid() bool {
	if h.mem == nil || h.addr.IsNull() {
		return false
	}
	return h.live == nil || h.live.IsLive(h.addr)
}

// Read copies n bytes at off from the object after re-checking liveness.
func (h Handle) Read(off, n int) ([]byte, error) {
	if !h.Valid() {
		return nil, fmt.Errorf("read %s+0x%X: %w", h.addr, off, ErrInvalidHandle)
	}
	buf := make([]byte, n)
	if err := h.mem.ReadAt(buf, h.addr+native.Address(off)); err != nil {
		return nil, fmt.Errorf("read %s+0x%X: %w", h.addr, off, err)
	}
	return buf, nil
}

// Write copies p to the object at off after re-checking liveness.
func (h Handle) Write(off int, p []byte) error {
	if !h.Valid() {
		return fmt.Errorf("write %s+0x%X: %w", h.addr, off, ErrInvalidHandle)
	}
	if err := h.mem.WriteAt(p, h.addr+native.Address(off)); err != nil {
		return fmt.Errorf("write %s+0x%X: %w", h.addr, off, err)
	}
	return nil
}

// Deref follows a pointer field at off and returns a handle for the target.
// The target's liveness is checked with the same validator.
func (h Handle) Deref(off int) (Handle, error) {
	raw, err := h.Read(off, 8)
	if err != nil {
		return Handle{}, err
	}
	return Handle{mem: h.mem, live: h.live, addr: native.Address(NewReader(raw).U64())}, nil
}

// Raw returns a handle to a plain memory block that is not an object table
// entry (skeletons, session containers). Only the null check applies.
func Raw(mem native.Memory, addr native.Address) Handle {
	return Handle{mem: mem, addr: addr}
}
