package ecs

import "testing"

func TestPoolNeverHandsOutZero(t *testing.T) {
	p := NewEntityPool()
	id := p.Create()
	if id.IsZero() {
		t.Fatal("first entity must not be the zero id")
	}
	if p.Alive(0) {
		t.Error("zero id must never be alive")
	}
}

func TestDestroyInvalidatesStaleID(t *testing.T) {
	w := NewWorld()
	names := NewStore[string]()
	w.Register(names)

	a := w.CreateEntity()
	names.Set(a, "Actor #201")
	w.Destroy(a)

	if w.Alive(a) {
		t.Error("destroyed id still alive")
	}
	if names.Has(a) {
		t.Error("store entry survived destroy")
	}

	b := w.CreateEntity()
	if b.Index() != a.Index() {
		t.Fatalf("expected slot reuse, got index %d want %d", b.Index(), a.Index())
	}
	if b == a {
		t.Error("reused slot must carry a new generation")
	}
	if w.Alive(a) {
		t.Error("stale id resolves after slot reuse")
	}
}

func TestDestroyTwiceIsNoop(t *testing.T) {
	p := NewEntityPool()
	a := p.Create()
	p.Destroy(a)
	p.Destroy(a)
	b := p.Create()
	c := p.Create()
	if b.Index() == c.Index() {
		t.Error("double destroy pushed the same slot onto the free list twice")
	}
}
