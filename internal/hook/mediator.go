package hook

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/posekit/overlay/internal/data"
	"github.com/posekit/overlay/internal/native"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
)

// ErrHookUnavailable is returned when a routine's signature is not found in
// the host image. Features depending on it are skipped, not fatal.
var ErrHookUnavailable = errors.New("hook unavailable")

// ErrDisposed is returned when installing through a disposed mediator.
var ErrDisposed = errors.New("hook mediator disposed")

// Cache remembers where a signature matched, keyed by code image fingerprint.
type Cache interface {
	Lookup(ctx context.Context, image, name string) (offset int64, ok bool, err error)
	Store(ctx context.Context, image, name string, offset int64) error
}

// Detour replaces a host routine while its hook is enabled.
type Detour func(args ...uint64) uint64

// Mediator finds host routines by signature and installs detours on them.
// Every hook it creates is reverted by Dispose.
type Mediator struct {
	proc  native.Process
	sigs  *data.SignatureTable
	cache Cache
	log   *zap.Logger

	fingerprint string

	mu       sync.Mutex
	located  map[string]native.Address
	chains   map[native.Address][]*Hook
	hooks    []*Hook
	disposed bool
}

// NewMediator creates a mediator. cache may be nil.
func NewMediator(proc native.Process, sigs *data.SignatureTable, cache Cache, log *zap.Logger) *Mediator {
	_, code := proc.CodeImage()
	sum := blake2b.Sum256(code)
	return &Mediator{
		proc:        proc,
		sigs:        sigs,
		cache:       cache,
		log:         log.Named("hook"),
		fingerprint: hex.EncodeToString(sum[:]),
		located:     make(map[string]native.Address),
		chains:      make(map[native.Address][]*Hook),
	}
}

// Fingerprint identifies the host code image.
func (m *Mediator) Fingerprint() string { return m.fingerprint }

// Locate returns the address of a named routine from the signature table.
func (m *Mediator) Locate(name string) (native.Address, error) {
	m.mu.Lock()
	if addr, ok := m.located[name]; ok {
		m.mu.Unlock()
		return addr, nil
	}
	m.mu.Unlock()

	sig, ok := m.sigs.Get(name)
	if !ok {
		return 0, fmt.Errorf("routine %s: no signature: %w", name, ErrHookUnavailable)
	}
	addr, err := m.locate(name, sig.Pattern)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	m.located[name] = addr
	m.mu.Unlock()
	return addr, nil
}

func (m *Mediator) locate(name, pattern string) (native.Address, error) {
	p, err := ParsePattern(pattern)
	if err != nil {
		return 0, fmt.Errorf("routine %s: %w", name, err)
	}
	base, code := m.proc.CodeImage()

	off, found := m.cached(name, p, code)
	if !found {
		start := time.Now()
		off, found = p.Scan(code)
		if !found {
			m.log.Warn("signature not found", zap.String("routine", name), zap.String("pattern", pattern))
			return 0, fmt.Errorf("routine %s: %w", name, ErrHookUnavailable)
		}
		m.log.Debug("signature scanned",
			zap.String("routine", name),
			zap.Int("offset", off),
			zap.Duration("took", time.Since(start)))
		m.remember(name, off)
	}

	target, err := p.Target(code, off)
	if err != nil {
		return 0, fmt.Errorf("routine %s: %w", name, err)
	}
	return base + native.Address(target), nil
}

// cached returns a remembered match offset if it still matches the pattern.
func (m *Mediator) cached(name string, p Pattern, code []byte) (int, bool) {
	if m.cache == nil {
		return 0, false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	off, ok, err := m.cache.Lookup(ctx, m.fingerprint, name)
	if err != nil {
		m.log.Warn("signature cache lookup failed", zap.String("routine", name), zap.Error(err))
		return 0, false
	}
	if !ok {
		return 0, false
	}
	if !p.MatchAt(code, int(off)) {
		m.log.Info("cached signature offset is stale, rescanning", zap.String("routine", name))
		return 0, false
	}
	return int(off), true
}

func (m *Mediator) remember(name string, off int) {
	if m.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.cache.Store(ctx, m.fingerprint, name, int64(off)); err != nil {
		m.log.Warn("signature cache store failed", zap.String("routine", name), zap.Error(err))
	}
}

// Function is a host routine that is called rather than hooked.
type Function struct {
	Name string
	Addr native.Address
	proc native.Process
}

// Call invokes the routine through the host dispatch table, so installed
// detours see the call too.
func (f Function) Call(args ...uint64) (uint64, error) {
	return f.proc.Invoke(f.Addr, args...)
}

// Resolve locates a named routine for calling.
func (m *Mediator) Resolve(name string) (Function, error) {
	addr, err := m.Locate(name)
	if err != nil {
		return Function{}, err
	}
	return Function{Name: name, Addr: addr, proc: m.proc}, nil
}

// Install finds a named routine and installs detour on it. The hook starts
// disabled.
func (m *Mediator) Install(name string, detour Detour) (*Hook, error) {
	addr, err := m.Locate(name)
	if err != nil {
		return nil, err
	}
	return m.install(name, addr, detour)
}

// InstallPattern installs detour on the routine matched by a raw pattern.
func (m *Mediator) InstallPattern(pattern string, detour Detour) (*Hook, error) {
	addr, err := m.locate(pattern, pattern)
	if err != nil {
		return nil, err
	}
	return m.install(pattern, addr, detour)
}

func (m *Mediator) install(name string, addr native.Address, detour Detour) (*Hook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return nil, ErrDisposed
	}

	h := &Hook{name: name, addr: addr, detour: detour, med: m}
	prev, err := m.proc.SwapDispatch(addr, h.trampoline)
	if err != nil {
		return nil, fmt.Errorf("install %s at %s: %w", name, addr, err)
	}
	h.original = prev
	m.chains[addr] = append(m.chains[addr], h)
	m.hooks = append(m.hooks, h)
	m.log.Debug("hook installed", zap.String("routine", name), zap.Stringer("addr", addr))
	return h, nil
}

// EnableAll arms every live hook created by this mediator.
func (m *Mediator) EnableAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range m.hooks {
		if !h.disposed.Load() {
			h.enabled.Store(true)
		}
	}
}

// Dispose reverts every hook, newest first.
func (m *Mediator) Dispose() {
	m.mu.Lock()
	hooks := append([]*Hook(nil), m.hooks...)
	m.disposed = true
	m.mu.Unlock()

	for i := len(hooks) - 1; i >= 0; i-- {
		if err := hooks[i].Dispose(); err != nil {
			m.log.Error("hook dispose failed", zap.String("routine", hooks[i].name), zap.Error(err))
		}
	}
}

// release removes h from its address chain and restores the dispatch entry
// when h is on top. A hook buried under a newer one becomes a pass-through
// so the newer detour keeps working.
func (m *Mediator) release(h *Hook) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	chain := m.chains[h.addr]
	pos := -1
	for i, c := range chain {
		if c == h {
			pos = i
			break
		}
	}
	if pos < 0 {
		return nil
	}
	if pos == len(chain)-1 {
		if _, err := m.proc.SwapDispatch(h.addr, h.original); err != nil {
			return fmt.Errorf("restore %s at %s: %w", h.name, h.addr, err)
		}
	}
	chain = append(chain[:pos:pos], chain[pos+1:]...)
	if len(chain) == 0 {
		delete(m.chains, h.addr)
	} else {
		m.chains[h.addr] = chain
	}
	for i, c := range m.hooks {
		if c == h {
			m.hooks = append(m.hooks[:i:i], m.hooks[i+1:]...)
			break
		}
	}
	return nil
}

// Hook is one installed detour.
type Hook struct {
	name     string
	addr     native.Address
	detour   Detour
	original native.Func
	med      *Mediator

	enabled  atomic.Bool
	disposed atomic.Bool
}

func (h *Hook) trampoline(args ...uint64) uint64 {
	if h.enabled.Load() && !h.disposed.Load() {
		return h.detour(args...)
	}
	return h.original(args...)
}

// Name returns the routine name or pattern the hook was installed by.
func (h *Hook) Name() string { return h.name }

// Address returns the hooked routine's address.
func (h *Hook) Address() native.Address { return h.addr }

// Original calls the routine the detour replaced.
func (h *Hook) Original(args ...uint64) uint64 {
	return h.original(args...)
}

func (h *Hook) Enable()       { h.enabled.Store(!h.disposed.Load()) }
func (h *Hook) Disable()      { h.enabled.Store(false) }
func (h *Hook) Enabled() bool { return h.enabled.Load() }

// Dispose reverts the detour. Safe to call more than once.
func (h *Hook) Dispose() error {
	if h.disposed.Swap(true) {
		return nil
	}
	h.enabled.Store(false)
	return h.med.release(h)
}
