package data

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/posekit/overlay/internal/memory"
	"gopkg.in/yaml.v3"
)

//go:embed yaml/*.yaml
var builtin embed.FS

const (
	layoutsFile    = "layouts.yaml"
	signaturesFile = "signatures.yaml"
)

type layoutsFileDoc struct {
	Layouts []memory.Layout `yaml:"layouts"`
}

// LayoutTable holds every known host layout keyed by host version.
type LayoutTable struct {
	layouts map[string]*memory.Layout
}

// Get returns the layout for a host version, or nil if unknown.
func (t *LayoutTable) Get(version string) *memory.Layout {
	return t.layouts[version]
}

// Count returns the number of known layouts.
func (t *LayoutTable) Count() int {
	return len(t.layouts)
}

// Host routines the overlay resolves by signature.
const (
	RoutineAddCharacter        = "add_character"
	RoutineRemoveCharacter     = "remove_character"
	RoutineGetIndexByObject    = "get_index_by_object"
	RoutineDeleteObjectByIndex = "delete_object_by_index"
	RoutineCreateGPoseActor    = "create_gpose_actor"
)

// Signature is a named byte pattern for a host routine.
type Signature struct {
	Name    string `yaml:"name"`
	Pattern string `yaml:"pattern"`
}

type signaturesFileDoc struct {
	Signatures []Signature `yaml:"signatures"`
}

// SignatureTable holds routine signatures by name.
type SignatureTable struct {
	sigs map[string]Signature
}

// Get returns the signature for a routine name.
func (t *SignatureTable) Get(name string) (Signature, bool) {
	s, ok := t.sigs[name]
	return s, ok
}

// Count returns the number of signatures.
func (t *SignatureTable) Count() int {
	return len(t.sigs)
}

// readTable reads name from dir when dir is set and the file exists there,
// else from the embedded defaults.
func readTable(dir, name string) ([]byte, error) {
	if dir != "" {
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err == nil {
			return raw, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}
	return builtin.ReadFile("yaml/" + name)
}

// LoadLayoutTable loads and validates host layouts. dir may be empty.
func LoadLayoutTable(dir string) (*LayoutTable, error) {
	raw, err := readTable(dir, layoutsFile)
	if err != nil {
		return nil, fmt.Errorf("read layouts: %w", err)
	}
	var f layoutsFileDoc
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse layouts: %w", err)
	}
	t := &LayoutTable{layouts: make(map[string]*memory.Layout, len(f.Layouts))}
	for i := range f.Layouts {
		l := &f.Layouts[i]
		if err := l.Validate(); err != nil {
			return nil, err
		}
		t.layouts[l.Version] = l
	}
	return t, nil
}

// LoadSignatureTable loads routine signatures. dir may be empty.
func LoadSignatureTable(dir string) (*SignatureTable, error) {
	raw, err := readTable(dir, signaturesFile)
	if err != nil {
		return nil, fmt.Errorf("read signatures: %w", err)
	}
	var f signaturesFileDoc
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse signatures: %w", err)
	}
	t := &SignatureTable{sigs: make(map[string]Signature, len(f.Signatures))}
	for _, s := range f.Signatures {
		if s.Name == "" || s.Pattern == "" {
			return nil, fmt.Errorf("parse signatures: entry with empty name or pattern")
		}
		t.sigs[s.Name] = s
	}
	return t, nil
}
