package ecs

// Removable is implemented by all component stores so the World can
// bulk-remove an entity's data from every store on destroy.
type Removable interface {
	Remove(id EntityID)
}

// Store is a generic typed map store for per-entity data.
type Store[T any] struct {
	data map[EntityID]T
}

func NewStore[T any]() *Store[T] {
	return &Store[T]{
		data: make(map[EntityID]T, 64),
	}
}

func (s *Store[T]) Set(id EntityID, c T) {
	s.data[id] = c
}

func (s *Store[T]) Get(id EntityID) (T, bool) {
	c, ok := s.data[id]
	return c, ok
}

func (s *Store[T]) Remove(id EntityID) {
	delete(s.data, id)
}

func (s *Store[T]) Has(id EntityID) bool {
	_, ok := s.data[id]
	return ok
}

func (s *Store[T]) Len() int {
	return len(s.data)
}

// Each visits every entry. fn must not mutate the store.
func (s *Store[T]) Each(fn func(EntityID, T)) {
	for id, c := range s.data {
		fn(id, c)
	}
}
