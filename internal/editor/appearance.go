package editor

import (
	"errors"
	"fmt"

	"github.com/posekit/overlay/internal/memory"
	"github.com/posekit/overlay/internal/scene"
)

// ApplyMode selects which parts of an appearance are copied.
type ApplyMode uint8

const (
	ApplyBody ApplyMode = 1 << iota
	ApplyFace
	ApplyHair
	ApplyGear
	ApplyAccessories

	ApplyAppearance = ApplyBody | ApplyFace | ApplyHair
	ApplyEquipment  = ApplyGear | ApplyAccessories
	ApplyAll        = ApplyAppearance | ApplyEquipment
)

// Customize byte indices per part.
var (
	bodyBytes = []int{0, 1, 2, 3, 4, 8, 21, 22, 23}
	faceBytes = []int{5, 9, 12, 13, 14, 15, 16, 17, 18, 19, 20, 24, 25}
	hairBytes = []int{6, 7, 10, 11}
)

var (
	gearSlots = []memory.EquipIndex{
		memory.EquipHead, memory.EquipChest, memory.EquipHands, memory.EquipLegs, memory.EquipFeet,
	}
	accessorySlots = []memory.EquipIndex{
		memory.EquipEarring, memory.EquipNecklace, memory.EquipBracelet, memory.EquipRingRight, memory.EquipRingLeft,
	}
)

// Appearance is a snapshot of an actor's look.
type Appearance struct {
	Customize []byte
	Equipment memory.Equipment
}

// Snapshot reads e's current appearance.
func Snapshot(e *scene.ActorEntity) (Appearance, error) {
	c, err := e.Customize()
	if err != nil {
		return Appearance{}, fmt.Errorf("snapshot %s: %w", e.Name(), err)
	}
	eq, err := e.Equipment()
	if err != nil {
		return Appearance{}, fmt.Errorf("snapshot %s: %w", e.Name(), err)
	}
	return Appearance{Customize: c, Equipment: eq}, nil
}

// Apply copies the parts of a selected by mode onto e. Customize bytes
// outside a's data are left alone.
func (a Appearance) Apply(e *scene.ActorEntity, mode ApplyMode) error {
	var errs []error
	if mode&ApplyAppearance != 0 {
		cur, err := e.Customize()
		if err != nil {
			return fmt.Errorf("apply appearance to %s: %w", e.Name(), err)
		}
		for _, part := range []struct {
			mode  ApplyMode
			bytes []int
		}{{ApplyBody, bodyBytes}, {ApplyFace, faceBytes}, {ApplyHair, hairBytes}} {
			if mode&part.mode == 0 {
				continue
			}
			for _, i := range part.bytes {
				if i < len(cur) && i < len(a.Customize) {
					cur[i] = a.Customize[i]
				}
			}
		}
		errs = append(errs, e.SetCustomize(cur))
	}
	if mode&ApplyEquipment != 0 {
		eq, err := e.Equipment()
		if err != nil {
			return fmt.Errorf("apply equipment to %s: %w", e.Name(), err)
		}
		if mode&ApplyGear != 0 {
			for _, s := range gearSlots {
				eq[s] = a.Equipment[s]
			}
		}
		if mode&ApplyAccessories != 0 {
			for _, s := range accessorySlots {
				eq[s] = a.Equipment[s]
			}
		}
		errs = append(errs, e.SetEquipment(eq))
	}
	return errors.Join(errs...)
}
