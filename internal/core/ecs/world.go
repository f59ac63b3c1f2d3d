package ecs

// World owns the entity pool and every registered store. It is not safe for
// concurrent use; the owner provides the locking boundary.
type World struct {
	pool   *EntityPool
	stores []Removable
}

func NewWorld() *World {
	return &World{
		pool:   NewEntityPool(),
		stores: make([]Removable, 0, 8),
	}
}

// Register adds a store that Destroy clears.
func (w *World) Register(store Removable) {
	w.stores = append(w.stores, store)
}

func (w *World) CreateEntity() EntityID {
	return w.pool.Create()
}

func (w *World) Alive(id EntityID) bool {
	return w.pool.Alive(id)
}

// Destroy clears id from every store and retires it.
func (w *World) Destroy(id EntityID) {
	if !w.pool.Alive(id) {
		return
	}
	for _, s := range w.stores {
		s.Remove(id)
	}
	w.pool.Destroy(id)
}
