package hook

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/posekit/overlay/internal/data"
	"github.com/posekit/overlay/internal/native"
	"go.uber.org/zap"
)

const codeBase native.Address = 0x1000_0000

// fakeProc is a minimal host: a code image and a dispatch table.
type fakeProc struct {
	mu       sync.Mutex
	code     []byte
	dispatch map[native.Address]native.Func
}

func newFakeProc(code []byte) *fakeProc {
	return &fakeProc{code: code, dispatch: make(map[native.Address]native.Func)}
}

func (p *fakeProc) ReadAt([]byte, native.Address) error  { return native.ErrUnmapped }
func (p *fakeProc) WriteAt([]byte, native.Address) error { return native.ErrUnmapped }
func (p *fakeProc) CodeImage() (native.Address, []byte)   { return codeBase, p.code }
func (p *fakeProc) Static(string) (native.Address, bool)  { return 0, false }
func (p *fakeProc) Version() string                      { return "fake" }

func (p *fakeProc) Dispatch(addr native.Address) (native.Func, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn, ok := p.dispatch[addr]
	return fn, ok
}

func (p *fakeProc) SwapDispatch(addr native.Address, fn native.Func) (native.Func, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	prev, ok := p.dispatch[addr]
	if !ok {
		return nil, native.ErrNoRoutine
	}
	p.dispatch[addr] = fn
	return prev, nil
}

func (p *fakeProc) Invoke(addr native.Address, args ...uint64) (uint64, error) {
	fn, ok := p.Dispatch(addr)
	if !ok {
		return 0, native.ErrNoRoutine
	}
	return fn(args...), nil
}

// image lays out: [0x00] routine body "AA BB CC DD", [0x10] call site to it.
func testImage() []byte {
	code := make([]byte, 0x40)
	copy(code[0x00:], []byte{0xAA, 0xBB, 0xCC, 0xDD, 0x01})
	code[0x10] = 0xE8
	rel := int32(0x00 - (0x10 + 5))
	binary.LittleEndian.PutUint32(code[0x11:], uint32(rel))
	copy(code[0x15:], []byte{0x90, 0x90, 0x7F})
	return code
}

type memCache struct {
	entries map[string]int64
	stores  int
}

func (c *memCache) Lookup(_ context.Context, image, name string) (int64, bool, error) {
	off, ok := c.entries[image+"/"+name]
	return off, ok, nil
}

func (c *memCache) Store(_ context.Context, image, name string, off int64) error {
	c.stores++
	c.entries[image+"/"+name] = off
	return nil
}

func loadSigs(t *testing.T, dir string) *data.SignatureTable {
	t.Helper()
	sigs, err := data.LoadSignatureTable(dir)
	if err != nil {
		t.Fatalf("load signatures: %v", err)
	}
	return sigs
}

func TestParsePattern(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"E8 ?? ?? ?? ?? 80 BE", false},
		{"45 33 D2 ? 4C", false},
		{"", true},
		{"?? E8", true},
		{"ZZ 00", true},
	}
	for _, tt := range tests {
		_, err := ParsePattern(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParsePattern(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
	}
}

func TestScanAndCallSiteTarget(t *testing.T) {
	code := testImage()

	body, _ := ParsePattern("AA BB ?? DD")
	off, ok := body.Scan(code)
	if !ok || off != 0 {
		t.Fatalf("body scan = %d, %v", off, ok)
	}

	site, _ := ParsePattern("E8 ?? ?? ?? ?? 90 90 7F")
	off, ok = site.Scan(code)
	if !ok || off != 0x10 {
		t.Fatalf("call site scan = 0x%X, %v", off, ok)
	}
	target, err := site.Target(code, off)
	if err != nil {
		t.Fatal(err)
	}
	if target != 0 {
		t.Errorf("call site target = 0x%X, want 0", target)
	}
}

func TestInstallDetourAndDispose(t *testing.T) {
	proc := newFakeProc(testImage())
	proc.dispatch[codeBase] = func(args ...uint64) uint64 { return args[0] + 1 }

	m := NewMediator(proc, loadSigs(t, ""), nil, zap.NewNop())
	var h *Hook
	h, err := m.InstallPattern("E8 ?? ?? ?? ?? 90 90 7F", func(args ...uint64) uint64 {
		return h.Original(args...) * 10
	})
	if err != nil {
		t.Fatalf("install: %v", err)
	}
	if h.Address() != codeBase {
		t.Fatalf("hook address = %s, want %s", h.Address(), codeBase)
	}

	if got, _ := proc.Invoke(codeBase, 1); got != 2 {
		t.Errorf("disabled hook changed behavior: got %d", got)
	}
	m.EnableAll()
	if got, _ := proc.Invoke(codeBase, 1); got != 20 {
		t.Errorf("enabled hook: got %d, want 20", got)
	}

	if err := h.Dispose(); err != nil {
		t.Fatal(err)
	}
	if got, _ := proc.Invoke(codeBase, 1); got != 2 {
		t.Errorf("after dispose: got %d, want 2", got)
	}
	if err := h.Dispose(); err != nil {
		t.Errorf("second dispose: %v", err)
	}
}

func TestStackedHooksDisposeInAnyOrder(t *testing.T) {
	proc := newFakeProc(testImage())
	proc.dispatch[codeBase] = func(args ...uint64) uint64 { return 1 }

	m := NewMediator(proc, loadSigs(t, ""), nil, zap.NewNop())
	var a, b *Hook
	a, _ = m.InstallPattern("AA BB CC DD", func(args ...uint64) uint64 { return a.Original(args...) + 10 })
	b, _ = m.InstallPattern("AA BB CC DD", func(args ...uint64) uint64 { return b.Original(args...) + 100 })
	m.EnableAll()

	if got, _ := proc.Invoke(codeBase); got != 111 {
		t.Fatalf("stacked = %d, want 111", got)
	}
	// Disposing the buried hook must not drop the newer detour.
	if err := a.Dispose(); err != nil {
		t.Fatal(err)
	}
	if got, _ := proc.Invoke(codeBase); got != 101 {
		t.Errorf("after buried dispose = %d, want 101", got)
	}
	if err := b.Dispose(); err != nil {
		t.Fatal(err)
	}
	if got, _ := proc.Invoke(codeBase); got != 1 {
		t.Errorf("after full dispose = %d, want 1", got)
	}
}

func TestMissingSignatureIsUnavailable(t *testing.T) {
	proc := newFakeProc(testImage())
	m := NewMediator(proc, loadSigs(t, ""), nil, zap.NewNop())

	_, err := m.Install(data.RoutineRemoveCharacter, func(args ...uint64) uint64 { return 0 })
	if !errors.Is(err, ErrHookUnavailable) {
		t.Fatalf("err = %v, want ErrHookUnavailable", err)
	}
	_, err = m.Resolve("no_such_routine")
	if !errors.Is(err, ErrHookUnavailable) {
		t.Fatalf("err = %v, want ErrHookUnavailable", err)
	}
}

func TestCacheIsUsedAndVerified(t *testing.T) {
	code := testImage()
	proc := newFakeProc(code)
	proc.dispatch[codeBase] = func(args ...uint64) uint64 { return 0 }
	cache := &memCache{entries: map[string]int64{}}

	m := NewMediator(proc, loadSigs(t, ""), cache, zap.NewNop())
	pattern := "AA BB CC DD"
	if _, err := m.InstallPattern(pattern, func(args ...uint64) uint64 { return 0 }); err != nil {
		t.Fatal(err)
	}
	if cache.stores != 1 {
		t.Fatalf("stores = %d, want 1", cache.stores)
	}

	// A stale entry is ignored and overwritten.
	cache.entries[m.Fingerprint()+"/"+pattern] = 0x30
	m2 := NewMediator(proc, loadSigs(t, ""), cache, zap.NewNop())
	addr, err := m2.locate(pattern, pattern)
	if err != nil {
		t.Fatal(err)
	}
	if addr != codeBase {
		t.Errorf("addr = %s, want %s", addr, codeBase)
	}
	if got := cache.entries[m.Fingerprint()+"/"+pattern]; got != 0 {
		t.Errorf("stale cache entry not replaced: %s", fmt.Sprint(got))
	}
}

func TestMediatorDisposeRevertsAll(t *testing.T) {
	proc := newFakeProc(testImage())
	orig := func(args ...uint64) uint64 { return 7 }
	proc.dispatch[codeBase] = orig

	m := NewMediator(proc, loadSigs(t, ""), nil, zap.NewNop())
	for i := 0; i < 3; i++ {
		if _, err := m.InstallPattern("AA BB CC DD", func(args ...uint64) uint64 { return 0 }); err != nil {
			t.Fatal(err)
		}
	}
	m.EnableAll()
	m.Dispose()

	if got, _ := proc.Invoke(codeBase); got != 7 {
		t.Errorf("after mediator dispose = %d, want 7", got)
	}
	if _, err := m.InstallPattern("AA BB CC DD", func(args ...uint64) uint64 { return 0 }); !errors.Is(err, ErrDisposed) {
		t.Errorf("install after dispose: %v", err)
	}
}
