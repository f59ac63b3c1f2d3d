package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/posekit/overlay/internal/config"
	"github.com/posekit/overlay/internal/data"
	"github.com/posekit/overlay/internal/hook"
	"github.com/posekit/overlay/internal/host"
	"github.com/posekit/overlay/internal/ipc"
	"github.com/posekit/overlay/internal/memory"
	"github.com/posekit/overlay/internal/persist"
	"github.com/posekit/overlay/internal/scripting"
	"github.com/posekit/overlay/internal/session"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// ── Startup display helpers ────────────────────────────────────────

func printBanner(name, version string) {
	fmt.Println()
	fmt.Println("\033[36;1m  ┌───────────────────────────────────────────┐\033[0m")
	fmt.Println("\033[36;1m  │\033[0m             posekit overlay               \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  └───────────────────────────────────────────┘\033[0m")
	fmt.Println()
	fmt.Printf("  \033[1mhost:\033[0m %s \033[90m(build %s)\033[0m\n\n", name, version)
}

func printSection(title string) {
	lineLen := 46 - len(title) - 1
	if lineLen < 3 {
		lineLen = 3
	}
	fmt.Printf("  \033[33m── %s %s\033[0m\n", title, strings.Repeat("─", lineLen))
}

func printStat(label string, count int) {
	numStr := fmt.Sprintf("%d", count)
	dotsLen := 42 - len(label) - len(numStr)
	if dotsLen < 3 {
		dotsLen = 3
	}
	fmt.Printf("  %s \033[90m%s\033[0m \033[32m%s\033[0m\n", label, strings.Repeat("·", dotsLen), numStr)
}

func printOK(msg string) {
	fmt.Printf("  \033[32m✓\033[0m %s\n", msg)
}

func printWarn(msg string) {
	fmt.Printf("  \033[33m!\033[0m %s\n", msg)
}

func printReady(msg string) {
	fmt.Printf("  \033[32m▶\033[0m %s\n", msg)
}

func run() error {
	// 1. Load config
	cfgPath := "config/overlay.toml"
	if p := os.Getenv("OVERLAY_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Init logger
	level := zap.NewAtomicLevelAt(parseLevel(cfg.Logging.Level))
	log, err := newLogger(cfg.Logging, level)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	printBanner(cfg.Host.Name, cfg.Host.Version)

	// 3. Host tables
	printSection("host data")

	layouts, err := data.LoadLayoutTable(cfg.Host.DataDir)
	if err != nil {
		return fmt.Errorf("load layouts: %w", err)
	}
	printStat("layouts", layouts.Count())

	sigs, err := data.LoadSignatureTable(cfg.Host.DataDir)
	if err != nil {
		return fmt.Errorf("load signatures: %w", err)
	}
	printStat("signatures", sigs.Count())

	layout := layouts.Get(cfg.Host.Version)
	if layout == nil {
		return fmt.Errorf("no layout for host build %q", cfg.Host.Version)
	}
	fmt.Println()

	// 4. Signature cache
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var cache hook.Cache
	if cfg.Cache.Enabled {
		printSection("signature cache")
		repo, closeCache, err := openCache(ctx, cfg.Cache, log)
		if err != nil {
			// The overlay works without a cache; it just scans every start.
			log.Warn("signature cache unavailable", zap.Error(err))
			printWarn("cache disabled: " + err.Error())
		} else {
			defer closeCache()
			cache = repo
			printOK("cache ready")
		}
		fmt.Println()
	}

	// 5. Host process
	proc, err := host.New(layout, sigs, log)
	if err != nil {
		return fmt.Errorf("host: %w", err)
	}
	if err := populate(proc); err != nil {
		return fmt.Errorf("populate host: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return proc.Run(gctx, cfg.Host.TickRate) })

	// 6. Session
	printSection("session")
	broker := ipc.NewBroker(log)
	sess, err := session.New(session.Deps{
		Proc:       proc,
		Framework:  proc,
		Layout:     layout,
		Signatures: sigs,
		Cache:      cache,
		Overrides:  broker,
		Config:     cfg,
		Log:        log,
	})
	if err != nil {
		cancel()
		_ = g.Wait()
		return err
	}
	defer sess.Close()

	startCtx, startCancel := context.WithTimeout(gctx, 10*time.Second)
	err = sess.Start(startCtx)
	startCancel()
	if err != nil {
		cancel()
		_ = g.Wait()
		return err
	}
	if repo, ok := cache.(*persist.SigCacheRepo); ok {
		if n, err := repo.Purge(gctx, sess.Mediator.Fingerprint()); err != nil {
			log.Warn("purge signature cache", zap.Error(err))
		} else if n > 0 {
			log.Info("purged stale signature offsets", zap.Int64("entries", n))
		}
	}
	printStat("actors", sess.Scene.Len())
	if sess.Actors.Spawner().IsInit() {
		printOK("spawner ready")
	} else {
		printWarn("spawner unavailable")
	}

	g.Go(func() error {
		return config.Watch(gctx, cfgPath, log, func(next *config.Config) {
			level.SetLevel(parseLevel(next.Logging.Level))
			sess.ApplyConfig(next)
		})
	})

	// 7. Startup scripts
	if cfg.Scripting.Dir != "" {
		engine := scripting.NewEngine(sess.Actors, log)
		err := engine.RunDir(gctx, cfg.Scripting.Dir)
		engine.Close()
		if err != nil {
			log.Warn("startup scripts", zap.Error(err))
		} else {
			printOK("scripts run from " + cfg.Scripting.Dir)
		}
	}
	fmt.Println()

	printSection("ready")
	printReady(fmt.Sprintf("host loop running (tick: %s)", cfg.Host.TickRate))
	printReady(fmt.Sprintf("%d actors in scene", sess.Scene.Len()))
	fmt.Println()

	err = g.Wait()
	log.Info("shutting down")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func openCache(ctx context.Context, cfg config.CacheConfig, log *zap.Logger) (*persist.SigCacheRepo, func(), error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	db, err := persist.NewDB(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}
	if err := persist.RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrations: %w", err)
	}
	return persist.NewSigCacheRepo(db), db.Close, nil
}

// populate places a local player and a few overworld characters, then opens
// an editing session holding the player.
func populate(proc *host.Process) error {
	at := func(x, z float32) memory.Transform {
		t := memory.IdentityTransform()
		t.Position = mgl32.Vec3{x, 0, z}
		return t
	}
	me, err := proc.SpawnObject(host.ObjectSpec{
		Name:      "Local Player",
		Kind:      host.KindPlayer,
		Index:     0,
		WorldID:   74,
		Transform: at(0, 0),
		Companion: true,
	})
	if err != nil {
		return err
	}
	proc.SetLocalPlayer(me)
	for i, name := range []string{"Wandering Merchant", "Guard Captain", "Courier"} {
		if _, err := proc.SpawnObject(host.ObjectSpec{
			Name:      name,
			Kind:      host.KindNpc,
			Index:     -1,
			WorldID:   74,
			Transform: at(float32(i+1)*2, 3),
		}); err != nil {
			return err
		}
	}
	proc.EnterSession(me)
	return nil
}

func parseLevel(s string) zapcore.Level {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return zapcore.InfoLevel
	}
	return level
}

func newLogger(cfg config.LoggingConfig, level zap.AtomicLevel) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = level
	return zapCfg.Build()
}
