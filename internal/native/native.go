// Package native describes the host process the overlay lives in: its memory,
// its code image and the dispatch table every native routine is called through.
package native

import (
	"errors"
	"fmt"
)

// Address is a process-relative address inside the host.
type Address uint64

func (a Address) String() string { return fmt.Sprintf("0x%X", uint64(a)) }

// IsNull reports whether the address is the null pointer.
func (a Address) IsNull() bool { return a == 0 }

// Func is the calling convention of every host routine: integer register
// arguments in, one integer register out.
type Func func(args ...uint64) uint64

var (
	ErrUnmapped    = errors.New("native: address not mapped")
	ErrNoRoutine   = errors.New("native: no routine at address")
	ErrOutOfBounds = errors.New("native: access out of bounds")
)

// Memory is the foreign-memory read/write primitive.
type Memory interface {
	ReadAt(p []byte, addr Address) error
	WriteAt(p []byte, addr Address) error
}

// Process is everything the overlay consumes from the host.
type Process interface {
	Memory

	// CodeImage returns the executable image used for signature scanning.
	CodeImage() (base Address, code []byte)

	// Static returns the address of a host global (object table, session
	// container, local player slot).
	Static(name string) (Address, bool)

	// Dispatch returns the routine currently installed at a code address.
	Dispatch(addr Address) (Func, bool)

	// SwapDispatch installs fn at addr and returns the previous routine.
	SwapDispatch(addr Address, fn Func) (Func, error)

	// Invoke calls the routine at addr through the dispatch table.
	Invoke(addr Address, args ...uint64) (uint64, error)

	// Version identifies the host build; layouts are keyed by it.
	Version() string
}

// Well-known names passed to Process.Static.
const (
	StaticObjectTable = "object_table"
	StaticSession     = "gpose_state"
	StaticObjectMgr   = "client_object_manager"
	StaticLocalPlayer = "local_player"
)
