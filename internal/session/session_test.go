package session

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/posekit/overlay/internal/config"
	"github.com/posekit/overlay/internal/data"
	"github.com/posekit/overlay/internal/editor"
	"github.com/posekit/overlay/internal/host"
	"github.com/posekit/overlay/internal/ipc"
	"github.com/posekit/overlay/internal/persist"
	"github.com/posekit/overlay/internal/spawner"
	"go.uber.org/zap"
)

type env struct {
	host  *host.Process
	sigs  *data.SignatureTable
	cfg   *config.Config
	cache *persist.SigCacheRepo
}

func newEnv(t *testing.T) *env {
	t.Helper()
	layouts, err := data.LoadLayoutTable("")
	if err != nil {
		t.Fatal(err)
	}
	sigs, err := data.LoadSignatureTable("")
	if err != nil {
		t.Fatal(err)
	}
	p, err := host.New(layouts.Get("sim-1.0"), sigs, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	db, err := persist.NewDB(ctx, config.CacheConfig{DSN: filepath.Join(t.TempDir(), "cache.db")}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(db.Close)
	if err := persist.RunMigrations(ctx, db); err != nil {
		t.Fatal(err)
	}

	me, err := p.SpawnObject(host.ObjectSpec{Name: "Me", Index: 0, Kind: host.KindPlayer})
	if err != nil {
		t.Fatal(err)
	}
	p.SetLocalPlayer(me)
	p.EnterSession(me)

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Run(runCtx, time.Millisecond)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return &env{host: p, sigs: sigs, cfg: cfg, cache: persist.NewSigCacheRepo(db)}
}

func (e *env) open(t *testing.T) *Session {
	t.Helper()
	s, err := New(Deps{
		Proc:       e.host,
		Framework:  e.host,
		Layout:     e.host.Layout(),
		Signatures: e.sigs,
		Cache:      e.cache,
		Overrides:  ipc.NewBroker(zap.NewNop()),
		Config:     e.cfg,
		Log:        zap.NewNop(),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Close)
	return s
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestStartMirrorsAndSpawns(t *testing.T) {
	e := newEnv(t)
	s := e.open(t)
	if err := s.Start(testCtx(t)); err != nil {
		t.Fatal(err)
	}
	if !s.Actors.Attached() {
		t.Fatal("not attached after start")
	}
	if n := s.Scene.Len(); n != 1 {
		t.Errorf("scene has %d actors, want the local player only", n)
	}

	ent, err := s.Actors.Spawn(testCtx(t))
	if err != nil {
		t.Fatal(err)
	}
	if ent.Name() != "Actor #201" {
		t.Errorf("spawned name = %q", ent.Name())
	}
	if n := s.Scene.Len(); n != 2 {
		t.Errorf("scene has %d actors after spawn, want 2", n)
	}
}

func TestStartPopulatesSignatureCache(t *testing.T) {
	e := newEnv(t)
	s := e.open(t)
	if err := s.Start(testCtx(t)); err != nil {
		t.Fatal(err)
	}
	entries, err := e.cache.Entries(context.Background(), s.Mediator.Fingerprint())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) == 0 {
		t.Error("no signature offsets cached after start")
	}
}

func TestApplyConfig(t *testing.T) {
	e := newEnv(t)
	s := e.open(t)

	cfg := *e.cfg
	cfg.Editor.UndoDepth = 2
	cfg.Editor.GizmoMode = "world"
	s.ApplyConfig(&cfg)

	if got := s.Editor.Context().Mode(); got != editor.ModeWorld {
		t.Errorf("mode = %s, want world", got)
	}
	h := s.Editor.History()
	for i := 0; i < 5; i++ {
		h.Push(editor.Edit{})
	}
	if undo, _ := h.Len(); undo != 2 {
		t.Errorf("history holds %d edits, want 2", undo)
	}
}

func TestNewRejectsBadGizmoMode(t *testing.T) {
	e := newEnv(t)
	cfg := *e.cfg
	cfg.Editor.GizmoMode = "screen"
	_, err := New(Deps{Proc: e.host, Framework: e.host, Layout: e.host.Layout(), Signatures: e.sigs, Config: &cfg, Log: zap.NewNop()})
	if err == nil {
		t.Fatal("New accepted an unknown gizmo mode")
	}
}

func TestCloseDetaches(t *testing.T) {
	e := newEnv(t)
	s := e.open(t)
	if err := s.Start(testCtx(t)); err != nil {
		t.Fatal(err)
	}
	s.Close()
	s.Close()

	if s.Actors.Attached() {
		t.Error("still attached after close")
	}
	obj, err := e.host.SpawnObject(host.ObjectSpec{Name: "Late", Index: -1})
	if err != nil {
		t.Fatal(err)
	}
	e.host.QueueSessionAdd(obj)
	start := e.host.Frame()
	waitFor(t, func() bool { return e.host.Frame() > start+3 })
	if _, ok := s.Scene.ByAddress(obj); ok {
		t.Error("add event mirrored after close")
	}
	if _, err := s.Actors.Spawn(testCtx(t)); !errors.Is(err, spawner.ErrDisposed) {
		t.Errorf("spawn after close = %v, want %v", err, spawner.ErrDisposed)
	}
}
