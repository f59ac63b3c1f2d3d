package scripting

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/posekit/overlay/internal/scene"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// Actors is the part of the actor module scripts can drive.
type Actors interface {
	Spawn(ctx context.Context) (*scene.ActorEntity, error)
	SpawnNamed(ctx context.Context, name string) (*scene.ActorEntity, error)
	Delete(ctx context.Context, e *scene.ActorEntity) error
	Scene() *scene.Scene
}

// Engine wraps a single gopher-lua VM for staging scenes.
// Single-goroutine access only, and never the host goroutine: spawn and
// delete wait for host ticks.
type Engine struct {
	vm     *lua.LState
	actors Actors
	log    *zap.Logger
}

// NewEngine creates a Lua engine with the scene API installed.
func NewEngine(actors Actors, log *zap.Logger) *Engine {
	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})

	// Set API version global
	vm.SetGlobal("API_VERSION", lua.LNumber(1))

	e := &Engine{vm: vm, actors: actors, log: log.Named("lua")}
	vm.SetGlobal("spawn", vm.NewFunction(e.luaSpawn))
	vm.SetGlobal("delete", vm.NewFunction(e.luaDelete))
	vm.SetGlobal("actors", vm.NewFunction(e.luaActors))
	vm.SetGlobal("set_position", vm.NewFunction(e.luaSetPosition))
	vm.SetGlobal("log", vm.NewFunction(e.luaLog))
	return e
}

// RunDir runs every .lua file in dir in name order. A missing directory is
// not an error.
func (e *Engine) RunDir(ctx context.Context, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // skip missing dirs
		}
		return err
	}
	e.vm.SetContext(ctx)
	defer e.vm.RemoveContext()
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := e.vm.DoFile(path); err != nil {
			return fmt.Errorf("run %s: %w", path, err)
		}
		e.log.Debug("ran lua script", zap.String("file", path))
	}
	return nil
}

// RunString runs a chunk of Lua source.
func (e *Engine) RunString(ctx context.Context, src string) error {
	e.vm.SetContext(ctx)
	defer e.vm.RemoveContext()
	return e.vm.DoString(src)
}

func (e *Engine) ctx(L *lua.LState) context.Context {
	if ctx := L.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// find returns the first live actor named name.
func (e *Engine) find(name string) (*scene.ActorEntity, bool) {
	for _, a := range e.actors.Scene().Actors() {
		if a.Valid() && a.Name() == name {
			return a, true
		}
	}
	return nil, false
}

// spawn([name]) -> name | nil, err
func (e *Engine) luaSpawn(L *lua.LState) int {
	var (
		a   *scene.ActorEntity
		err error
	)
	if name := L.OptString(1, ""); name != "" {
		a, err = e.actors.SpawnNamed(e.ctx(L), name)
	} else {
		a, err = e.actors.Spawn(e.ctx(L))
	}
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LString(a.Name()))
	return 1
}

// delete(name) -> bool, err
func (e *Engine) luaDelete(L *lua.LState) int {
	name := L.CheckString(1)
	a, ok := e.find(name)
	if !ok {
		L.Push(lua.LFalse)
		L.Push(lua.LString("no actor named " + name))
		return 2
	}
	if err := e.actors.Delete(e.ctx(L), a); err != nil {
		L.Push(lua.LFalse)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LBool(a.Removed()))
	return 1
}

// actors() -> { {name=, index=, managed=, x=, y=, z=}, ... }
func (e *Engine) luaActors(L *lua.LState) int {
	out := L.NewTable()
	for _, a := range e.actors.Scene().Actors() {
		if !a.Valid() {
			continue
		}
		t := L.NewTable()
		t.RawSetString("name", lua.LString(a.Name()))
		if idx, err := a.Object().Index(); err == nil {
			t.RawSetString("index", lua.LNumber(idx))
		}
		t.RawSetString("managed", lua.LBool(a.Managed()))
		if tr, err := a.Transform(); err == nil {
			t.RawSetString("x", lua.LNumber(tr.Position.X()))
			t.RawSetString("y", lua.LNumber(tr.Position.Y()))
			t.RawSetString("z", lua.LNumber(tr.Position.Z()))
		}
		out.Append(t)
	}
	L.Push(out)
	return 1
}

// set_position(name, x, y, z) -> bool, err
func (e *Engine) luaSetPosition(L *lua.LState) int {
	name := L.CheckString(1)
	x, y, z := float32(L.CheckNumber(2)), float32(L.CheckNumber(3)), float32(L.CheckNumber(4))
	a, ok := e.find(name)
	if !ok {
		L.Push(lua.LFalse)
		L.Push(lua.LString("no actor named " + name))
		return 2
	}
	tr, err := a.Transform()
	if err == nil {
		tr.Position[0], tr.Position[1], tr.Position[2] = x, y, z
		err = a.SetTransform(tr)
	}
	if err != nil {
		L.Push(lua.LFalse)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LTrue)
	return 1
}

// log(msg)
func (e *Engine) luaLog(L *lua.LState) int {
	e.log.Info(L.CheckString(1))
	return 0
}

// Close shuts down the Lua VM.
func (e *Engine) Close() {
	e.vm.Close()
}
