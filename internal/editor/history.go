package editor

import (
	"sync"

	"github.com/posekit/overlay/internal/memory"
)

// Edit is one transform change on a target.
type Edit struct {
	Target Target
	Before memory.Transform
	After  memory.Transform
}

// History is a bounded undo/redo stack of transform edits. The oldest edit
// is dropped once depth is reached; depth 0 records nothing.
type History struct {
	mu    sync.Mutex
	depth int
	undo  []Edit
	redo  []Edit
}

func NewHistory(depth int) *History {
	return &History{depth: max(depth, 0)}
}

// Push records e and forgets anything that could be redone.
func (h *History) Push(e Edit) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.redo = h.redo[:0]
	if h.depth == 0 {
		return
	}
	h.undo = append(h.undo, e)
	if over := len(h.undo) - h.depth; over > 0 {
		h.undo = append(h.undo[:0], h.undo[over:]...)
	}
}

// SetDepth changes the bound, trimming the oldest edits if needed.
func (h *History) SetDepth(depth int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.depth = max(depth, 0)
	if over := len(h.undo) - h.depth; over > 0 {
		h.undo = append(h.undo[:0], h.undo[over:]...)
	}
}

// Undo restores the previous transform of the latest edit. It reports
// false when there is nothing to undo. An edit whose target no longer
// exists is dropped and its error returned.
func (h *History) Undo() (bool, error) {
	h.mu.Lock()
	if len(h.undo) == 0 {
		h.mu.Unlock()
		return false, nil
	}
	e := h.undo[len(h.undo)-1]
	h.undo = h.undo[:len(h.undo)-1]
	h.mu.Unlock()

	if err := e.Target.SetTransform(e.Before); err != nil {
		return true, err
	}
	h.mu.Lock()
	h.redo = append(h.redo, e)
	h.mu.Unlock()
	return true, nil
}

// Redo reapplies the latest undone edit.
func (h *History) Redo() (bool, error) {
	h.mu.Lock()
	if len(h.redo) == 0 {
		h.mu.Unlock()
		return false, nil
	}
	e := h.redo[len(h.redo)-1]
	h.redo = h.redo[:len(h.redo)-1]
	h.mu.Unlock()

	if err := e.Target.SetTransform(e.After); err != nil {
		return true, err
	}
	h.mu.Lock()
	h.undo = append(h.undo, e)
	h.mu.Unlock()
	return true, nil
}

// Len returns the number of undoable and redoable edits.
func (h *History) Len() (undo, redo int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.undo), len(h.redo)
}
