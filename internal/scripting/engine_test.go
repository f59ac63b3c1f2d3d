package scripting

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/posekit/overlay/internal/core/event"
	"github.com/posekit/overlay/internal/data"
	"github.com/posekit/overlay/internal/game"
	"github.com/posekit/overlay/internal/host"
	"github.com/posekit/overlay/internal/scene"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// fakeActors spawns straight into the host table without going through the
// editing session.
type fakeActors struct {
	host  *host.Process
	svc   *game.Services
	scene *scene.Scene
	fail  error
}

func newFakeActors(t *testing.T) *fakeActors {
	t.Helper()
	layouts, err := data.LoadLayoutTable("")
	if err != nil {
		t.Fatal(err)
	}
	sigs, _ := data.LoadSignatureTable("")
	p, err := host.New(layouts.Get("sim-1.0"), sigs, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return &fakeActors{
		host:  p,
		svc:   game.NewServices(p, p.Layout()),
		scene: scene.New(event.NewBus(), zap.NewNop()),
	}
}

func (f *fakeActors) Scene() *scene.Scene { return f.scene }

func (f *fakeActors) Spawn(ctx context.Context) (*scene.ActorEntity, error) {
	return f.SpawnNamed(ctx, "Actor")
}

func (f *fakeActors) SpawnNamed(_ context.Context, name string) (*scene.ActorEntity, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	addr, err := f.host.SpawnObject(host.ObjectSpec{Name: name, Index: -1})
	if err != nil {
		return nil, err
	}
	return f.scene.Factory.BuildActor(f.svc.Actors.Object(addr)).Managed(true).Add()
}

func (f *fakeActors) Delete(_ context.Context, e *scene.ActorEntity) error {
	e.Remove()
	return nil
}

func newEngine(t *testing.T) (*Engine, *fakeActors) {
	fa := newFakeActors(t)
	e := NewEngine(fa, zap.NewNop())
	t.Cleanup(e.Close)
	return e, fa
}

func TestSceneAPI(t *testing.T) {
	e, fa := newEngine(t)
	err := e.RunString(context.Background(), `
		local name = spawn("Alice")
		assert(name == "Alice", "spawn returned " .. tostring(name))
		assert(set_position("Alice", 1, 2, 3))

		local list = actors()
		assert(#list == 1)
		assert(list[1].name == "Alice")
		assert(list[1].managed == true)
		assert(list[1].x == 1 and list[1].y == 2 and list[1].z == 3)

		local ok, err = set_position("Nobody", 0, 0, 0)
		assert(not ok and err ~= nil)

		assert(delete("Alice"))
		assert(#actors() == 0)
		log("staged")
	`)
	if err != nil {
		t.Fatal(err)
	}
	if fa.scene.Len() != 0 {
		t.Errorf("scene has %d entities", fa.scene.Len())
	}
}

func TestSpawnErrorIsReturnedToLua(t *testing.T) {
	e, fa := newEngine(t)
	fa.fail = errors.New("no local player")
	err := e.RunString(context.Background(), `
		local name, err = spawn()
		assert(name == nil)
		last_error = err
	`)
	if err != nil {
		t.Fatal(err)
	}
	if got := lua.LVAsString(e.vm.GetGlobal("last_error")); got != "no local player" {
		t.Errorf("error seen by script = %q", got)
	}
}

func TestRunDirInNameOrder(t *testing.T) {
	e, _ := newEngine(t)
	dir := t.TempDir()
	files := map[string]string{
		"02_second.lua": `order = order .. "b"`,
		"01_first.lua":  `order = "a"`,
		"notes.txt":     `this is not lua`,
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := e.RunDir(context.Background(), dir); err != nil {
		t.Fatal(err)
	}
	if got := lua.LVAsString(e.vm.GetGlobal("order")); got != "ab" {
		t.Errorf("order = %q, want ab", got)
	}
}

func TestRunDirMissingAndBroken(t *testing.T) {
	e, _ := newEngine(t)
	if err := e.RunDir(context.Background(), filepath.Join(t.TempDir(), "none")); err != nil {
		t.Errorf("missing dir: %v", err)
	}

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "bad.lua"), []byte(`error("boom")`), 0o644); err != nil {
		t.Fatal(err)
	}
	err := e.RunDir(context.Background(), dir)
	if err == nil || !strings.Contains(err.Error(), "bad.lua") {
		t.Errorf("broken script error = %v", err)
	}
}
