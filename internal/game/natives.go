package game

import (
	"errors"
	"fmt"

	"github.com/posekit/overlay/internal/hook"
	"github.com/posekit/overlay/internal/native"
)

// NoIndex is what the index lookup returns for objects outside the table.
const NoIndex = 0xFFFF

// ErrUnbound is returned when a routine was not located.
var ErrUnbound = errors.New("host routine not bound")

// ObjectManager calls the host's object-management routines. Every call
// mutates host state and must run on the host thread.
type ObjectManager struct {
	proc native.Process

	getIndex    *hook.Function
	deleteIndex *hook.Function
	removeChara *hook.Function
}

// Bind resolves the routines through the mediator. A routine that cannot be
// located stays unbound; calls to it fail with ErrUnbound.
func (m *ObjectManager) Bind(med *hook.Mediator, getIndex, deleteByIndex, removeCharacter string) error {
	var errs []error
	bind := func(dst **hook.Function, name string) {
		fn, err := med.Resolve(name)
		if err != nil {
			errs = append(errs, err)
			return
		}
		*dst = &fn
	}
	bind(&m.getIndex, getIndex)
	bind(&m.deleteIndex, deleteByIndex)
	bind(&m.removeChara, removeCharacter)
	return errors.Join(errs...)
}

func (m *ObjectManager) manager() uint64 {
	addr, _ := m.proc.Static(native.StaticObjectMgr)
	return uint64(addr)
}

// GetIndexByObject returns the table index of obj, or NoIndex.
func (m *ObjectManager) GetIndexByObject(obj native.Address) (uint16, error) {
	if m.getIndex == nil {
		return NoIndex, fmt.Errorf("get index by object: %w", ErrUnbound)
	}
	ret, err := m.getIndex.Call(m.manager(), uint64(obj))
	return uint16(ret), err
}

// DeleteObjectByIndex frees the object in a table slot.
func (m *ObjectManager) DeleteObjectByIndex(index uint16) error {
	if m.deleteIndex == nil {
		return fmt.Errorf("delete object by index: %w", ErrUnbound)
	}
	_, err := m.deleteIndex.Call(m.manager(), uint64(index), 1)
	return err
}

// RemoveCharacter takes obj out of the session container.
func (m *ObjectManager) RemoveCharacter(state GPoseState, obj native.Address) error {
	if m.removeChara == nil {
		return fmt.Errorf("remove character: %w", ErrUnbound)
	}
	_, err := m.removeChara.Call(uint64(state.Address()), uint64(obj))
	return err
}
