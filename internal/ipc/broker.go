// Package ipc is the optional channel to resource-override providers: other
// overlays that swap models or textures per actor and need to know which
// session index an actor's resources are parented to.
package ipc

import (
	"errors"
	"fmt"
	"sync"

	"github.com/posekit/overlay/internal/native"
	"go.uber.org/zap"
)

// ErrInactive is returned when no provider is registered.
var ErrInactive = errors.New("ipc: no resource override provider")

// ResourceOverrides is what the actor module needs from the channel.
// Callers check Active before use.
type ResourceOverrides interface {
	Active() bool
	SetAssignedParentIndex(addr native.Address, index uint16) error
}

// Provider receives parent-index assignments.
type Provider interface {
	Name() string
	AssignParentIndex(addr native.Address, index uint16) error
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc struct {
	ID string
	Fn func(addr native.Address, index uint16) error
}

func (p ProviderFunc) Name() string { return p.ID }

func (p ProviderFunc) AssignParentIndex(addr native.Address, index uint16) error {
	return p.Fn(addr, index)
}

// Broker fans assignments out to every registered provider and remembers
// the last index assigned per actor.
type Broker struct {
	log *zap.Logger

	mu        sync.RWMutex
	providers []*registration
	assigned  map[native.Address]uint16
}

func NewBroker(log *zap.Logger) *Broker {
	return &Broker{
		log:      log.Named("ipc"),
		assigned: make(map[native.Address]uint16),
	}
}

type registration struct{ p Provider }

// Register adds a provider. The returned func removes it again.
func (b *Broker) Register(p Provider) (unregister func()) {
	reg := &registration{p}
	b.mu.Lock()
	b.providers = append(b.providers, reg)
	b.mu.Unlock()
	b.log.Info("resource override provider registered", zap.String("provider", p.Name()))

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			for i, q := range b.providers {
				if q == reg {
					b.providers = append(b.providers[:i], b.providers[i+1:]...)
					break
				}
			}
			b.mu.Unlock()
			b.log.Info("resource override provider unregistered", zap.String("provider", p.Name()))
		})
	}
}

// Active reports whether any provider is listening.
func (b *Broker) Active() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.providers) > 0
}

// SetAssignedParentIndex tells every provider that addr's resources are
// parented at index. The assignment is recorded even if a provider fails.
func (b *Broker) SetAssignedParentIndex(addr native.Address, index uint16) error {
	b.mu.Lock()
	if len(b.providers) == 0 {
		b.mu.Unlock()
		return ErrInactive
	}
	b.assigned[addr] = index
	providers := append([]*registration(nil), b.providers...)
	b.mu.Unlock()

	var errs []error
	for _, reg := range providers {
		if err := reg.p.AssignParentIndex(addr, index); err != nil {
			errs = append(errs, fmt.Errorf("provider %s: %w", reg.p.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Assigned returns the last parent index assigned to addr.
func (b *Broker) Assigned(addr native.Address) (uint16, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	idx, ok := b.assigned[addr]
	return idx, ok
}

// Forget drops the assignment for a removed actor.
func (b *Broker) Forget(addr native.Address) {
	b.mu.Lock()
	delete(b.assigned, addr)
	b.mu.Unlock()
}
