package event

import (
	"errors"
	"testing"
)

func TestPublishDeliversInOrder(t *testing.T) {
	b := NewBus()
	var got []int
	Subscribe(b, func(e ActorAdded) { got = append(got, 1) })
	Subscribe(b, func(e ActorAdded) { got = append(got, 2) })
	Subscribe(b, func(e ActorRemoved) { got = append(got, 3) })

	Publish(b, ActorAdded{Address: 0x10})

	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("got %v, want [1 2]", got)
	}
}

func TestUnsubscribe(t *testing.T) {
	b := NewBus()
	calls := 0
	unsub := Subscribe(b, func(e ActorAdded) { calls++ })
	Publish(b, ActorAdded{})
	unsub()
	Publish(b, ActorAdded{})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if n := Count[ActorAdded](b); n != 0 {
		t.Errorf("Count = %d after unsubscribe", n)
	}
}

func TestPanicIsContained(t *testing.T) {
	b := NewBus()
	var reported error
	b.OnPanic = func(err error) { reported = err }
	second := false
	Subscribe(b, func(e ActorAdded) { panic("boom") })
	Subscribe(b, func(e ActorAdded) { second = true })

	Publish(b, ActorAdded{Address: 0x20})

	if reported == nil {
		t.Fatal("panic was not reported")
	}
	if !second {
		t.Error("handler after the panicking one did not run")
	}
	if errors.Unwrap(reported) != nil {
		t.Errorf("unexpected wrapped error: %v", reported)
	}
}
