// Package session assembles one editing session over a host process: the
// hook mediator, the actor module with its spawner, the scene and the
// editor state. Closing the session reverts every hook it installed.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/posekit/overlay/internal/actor"
	"github.com/posekit/overlay/internal/config"
	"github.com/posekit/overlay/internal/core/event"
	"github.com/posekit/overlay/internal/core/system"
	"github.com/posekit/overlay/internal/data"
	"github.com/posekit/overlay/internal/editor"
	"github.com/posekit/overlay/internal/game"
	"github.com/posekit/overlay/internal/hook"
	"github.com/posekit/overlay/internal/ipc"
	"github.com/posekit/overlay/internal/memory"
	"github.com/posekit/overlay/internal/native"
	"github.com/posekit/overlay/internal/scene"
	"go.uber.org/zap"
)

// Deps are the collaborators a session is built from. Cache may be nil.
type Deps struct {
	Proc       native.Process
	Framework  game.Framework
	Layout     *memory.Layout
	Signatures *data.SignatureTable
	Cache      hook.Cache
	Overrides  *ipc.Broker
	Config     *config.Config
	Log        *zap.Logger
}

type Session struct {
	Bus      *event.Bus
	Mediator *hook.Mediator
	Services *game.Services
	Scene    *scene.Scene
	Actors   *actor.Module
	Editor   *editor.Bridge

	fw  game.Framework
	log *zap.Logger

	prune     system.System
	stopWatch func()
	closeOnce sync.Once
}

// New builds a session. Nothing touches the host until Start.
func New(d Deps) (*Session, error) {
	if d.Layout == nil {
		return nil, fmt.Errorf("session: no layout for host %s", d.Proc.Version())
	}
	mode, err := editor.ParseMode(d.Config.Editor.GizmoMode)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	log := d.Log.Named("session")

	bus := event.NewBus()
	bus.OnPanic = func(err error) { log.Error("event handler panic", zap.Error(err)) }

	s := &Session{
		Bus:      bus,
		Mediator: hook.NewMediator(d.Proc, d.Signatures, d.Cache, d.Log),
		Services: game.NewServices(d.Proc, d.Layout),
		Scene:    scene.New(bus, d.Log),
		fw:       d.Framework,
		log:      log,
	}
	var overrides ipc.ResourceOverrides
	if d.Overrides != nil {
		overrides = d.Overrides
	}
	s.Actors = actor.NewModule(s.Services, d.Framework, s.Mediator, bus, s.Scene, d.Log, actor.Options{
		TimeoutFrames: d.Config.Spawner.TimeoutFrames,
		Overrides:     overrides,
	})
	ectx := editor.NewContext(mode)
	s.Editor = editor.NewBridge(ectx, editor.NewHistory(d.Config.Editor.UndoDepth), d.Log)
	return s, nil
}

// Start attaches to the host. The host must be ticking.
func (s *Session) Start(ctx context.Context) error {
	s.prune = s.Scene.PruneSystem()
	s.fw.Register(s.prune)
	s.stopWatch = s.Editor.Context().Watch(s.Bus)
	if err := s.Actors.Setup(ctx); err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	s.log.Info("session started",
		zap.String("image", s.Mediator.Fingerprint()[:16]),
		zap.Int("actors", s.Scene.Len()),
		zap.Bool("spawning", s.Actors.Spawner().IsInit()))
	return nil
}

// ApplyConfig picks up settings that may change while running.
func (s *Session) ApplyConfig(cfg *config.Config) {
	s.Editor.History().SetDepth(cfg.Editor.UndoDepth)
	if mode, err := editor.ParseMode(cfg.Editor.GizmoMode); err == nil {
		s.Editor.Context().SetMode(mode)
	}
}

// Close detaches from the host and reverts every hook.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.Actors.Dispose()
		s.Mediator.Dispose()
		if s.prune != nil {
			s.fw.Unregister(s.prune)
		}
		if s.stopWatch != nil {
			s.stopWatch()
		}
		s.Editor.Context().Select(nil)
		s.log.Info("session closed")
	})
}
