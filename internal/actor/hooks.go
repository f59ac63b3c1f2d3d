package actor

import (
	"errors"
	"fmt"

	"github.com/posekit/overlay/internal/core/event"
	"github.com/posekit/overlay/internal/data"
	"github.com/posekit/overlay/internal/hook"
	"github.com/posekit/overlay/internal/native"
	"go.uber.org/zap"
)

// CharacterHooks detours the host's session add and remove routines and
// turns each call into a bus event. Either hook may be missing on an
// unknown host build; the other keeps working.
type CharacterHooks struct {
	bus *event.Bus
	log *zap.Logger

	add    *hook.Hook
	remove *hook.Hook
}

// InstallCharacterHooks installs both detours disabled. A missing routine is
// logged and skipped; the returned error reports it for the caller.
func InstallCharacterHooks(med *hook.Mediator, bus *event.Bus, log *zap.Logger) (*CharacterHooks, error) {
	h := &CharacterHooks{bus: bus, log: log}
	var errs []error

	add, err := med.Install(data.RoutineAddCharacter, h.addCharacter)
	if err != nil {
		log.Warn("add-character hook unavailable, new actors will not be mirrored", zap.Error(err))
		errs = append(errs, err)
	}
	h.add = add

	remove, err := med.Install(data.RoutineRemoveCharacter, h.removeCharacter)
	if err != nil {
		log.Warn("remove-character hook unavailable", zap.Error(err))
		errs = append(errs, err)
	}
	h.remove = remove

	return h, errors.Join(errs...)
}

// Enable arms whichever hooks were installed.
func (h *CharacterHooks) Enable() {
	for _, hk := range []*hook.Hook{h.add, h.remove} {
		if hk != nil {
			hk.Enable()
		}
	}
}

// Dispose reverts both detours.
func (h *CharacterHooks) Dispose() error {
	var errs []error
	for _, hk := range []*hook.Hook{h.add, h.remove} {
		if hk != nil {
			errs = append(errs, hk.Dispose())
		}
	}
	return errors.Join(errs...)
}

// addCharacter(session, object, objectID)
func (h *CharacterHooks) addCharacter(args ...uint64) uint64 {
	ret := h.add.Original(args...)
	if len(args) < 3 {
		return ret
	}
	ev := event.ActorAdded{
		Session:  native.Address(args[0]),
		Address:  native.Address(args[1]),
		ObjectID: uint32(args[2]),
	}
	h.guard(ev.Address, func() { event.Publish(h.bus, ev) })
	return ret
}

// removeCharacter(session, object)
func (h *CharacterHooks) removeCharacter(args ...uint64) uint64 {
	ret := h.remove.Original(args...)
	if len(args) < 2 {
		return ret
	}
	ev := event.ActorRemoved{
		Session: native.Address(args[0]),
		Address: native.Address(args[1]),
	}
	h.guard(ev.Address, func() { event.Publish(h.bus, ev) })
	return ret
}

// guard keeps a failing subscriber from unwinding into the host.
func (h *CharacterHooks) guard(addr native.Address, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("character hook failed", zap.Stringer("addr", addr), zap.Error(fmt.Errorf("%v", r)))
		}
	}()
	fn()
}
