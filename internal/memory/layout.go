package memory

import "fmt"

// Layout is the single translation boundary between host-version specific
// struct offsets and the typed records in this package. Layouts are loaded
// from the data tables, one per host build.
type Layout struct {
	Version  string         `yaml:"version"`
	Object   ObjectLayout   `yaml:"object"`
	Skeleton SkeletonLayout `yaml:"skeleton"`
	Table    TableLayout    `yaml:"object_table"`
	Session  SessionLayout  `yaml:"session"`
	Actors   ActorRange     `yaml:"actor_range"`

	// ExcludedIndex is the session slot reserved for a non-actor object.
	ExcludedIndex uint16 `yaml:"excluded_index"`
	// SentinelObjectID marks an add event that does not carry an actor.
	SentinelObjectID uint32 `yaml:"sentinel_object_id"`
	// CompanionAbsentIndex is the object index a companion pointer reports
	// when no companion is spawned.
	CompanionAbsentIndex uint16 `yaml:"companion_absent_index"`
}

type ObjectLayout struct {
	Size          int `yaml:"size"`
	Index         int `yaml:"index"`
	Kind          int `yaml:"kind"`
	Live          int `yaml:"live"`
	ObjectID      int `yaml:"object_id"`
	Name          int `yaml:"name"`
	NameSize      int `yaml:"name_size"`
	WorldID       int `yaml:"world_id"`
	Targetable    int `yaml:"targetable"`
	Companion     int `yaml:"companion"`
	Skeleton      int `yaml:"skeleton"`
	Transform     int `yaml:"transform"`
	Equipment     int `yaml:"equipment"`
	Customize     int `yaml:"customize"`
	CustomizeSize int `yaml:"customize_size"`
}

type SkeletonLayout struct {
	Count         int `yaml:"count"`
	Bones         int `yaml:"bones"`
	BoneSize      int `yaml:"bone_size"`
	BoneNameSize  int `yaml:"bone_name_size"`
	BoneParent    int `yaml:"bone_parent"`
	BoneGroup     int `yaml:"bone_group"`
	BoneTransform int `yaml:"bone_transform"`
	MaxBones      int `yaml:"max_bones"`
}

// Size returns the byte size of a skeleton block holding MaxBones bones.
func (l SkeletonLayout) Size() int {
	return l.Bones + l.BoneSize*l.MaxBones
}

type TableLayout struct {
	Capacity int `yaml:"capacity"`
}

type SessionLayout struct {
	Active   int `yaml:"active"`
	Count    int `yaml:"count"`
	Actors   int `yaml:"actors"`
	Capacity int `yaml:"capacity"`
}

// Size returns the byte size of the session container.
func (l SessionLayout) Size() int {
	return l.Actors + 8*l.Capacity
}

// ActorRange is the inclusive-exclusive object index range [First, Last)
// the host reserves for editing-session actors.
type ActorRange struct {
	First uint16 `yaml:"first"`
	Last  uint16 `yaml:"last"`
}

// Contains reports whether idx falls inside the range.
func (r ActorRange) Contains(idx uint16) bool {
	return idx >= r.First && idx < r.Last
}

// Validate checks that every record fits inside its declared size.
func (l *Layout) Validate() error {
	o := l.Object
	if o.Size <= 0 {
		return fmt.Errorf("layout %s: object size must be positive", l.Version)
	}
	fields := map[string]int{
		"index":      o.Index + 2,
		"kind":       o.Kind + 1,
		"live":       o.Live + 1,
		"object_id":  o.ObjectID + 4,
		"name":       o.Name + o.NameSize,
		"world_id":   o.WorldID + 2,
		"targetable": o.Targetable + 1,
		"companion":  o.Companion + 8,
		"skeleton":   o.Skeleton + 8,
		"transform":  o.Transform + TransformSize,
		"equipment":  o.Equipment + EquipmentSize,
		"customize":  o.Customize + o.CustomizeSize,
	}
	for name, end := range fields {
		if end > o.Size {
			return fmt.Errorf("layout %s: object field %s ends at 0x%X past size 0x%X", l.Version, name, end, o.Size)
		}
	}
	s := l.Skeleton
	if s.BoneTransform+TransformSize > s.BoneSize {
		return fmt.Errorf("layout %s: bone transform overflows bone size", l.Version)
	}
	if s.BoneName()+s.BoneNameSize > s.BoneSize {
		return fmt.Errorf("layout %s: bone name overflows bone size", l.Version)
	}
	if l.Table.Capacity <= 0 || l.Session.Capacity <= 0 {
		return fmt.Errorf("layout %s: table and session capacity must be positive", l.Version)
	}
	if l.Actors.First >= l.Actors.Last || int(l.Actors.Last) > l.Table.Capacity {
		return fmt.Errorf("layout %s: actor range [%d, %d) invalid for table of %d",
			l.Version, l.Actors.First, l.Actors.Last, l.Table.Capacity)
	}
	return nil
}

// BoneName is the offset of the bone name inside a bone record. Names lead
// every bone record.
func (l SkeletonLayout) BoneName() int { return 0 }
