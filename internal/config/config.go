package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

type Config struct {
	Host      HostConfig      `toml:"host"`
	Spawner   SpawnerConfig   `toml:"spawner"`
	Logging   LoggingConfig   `toml:"logging"`
	Cache     CacheConfig     `toml:"cache"`
	Scripting ScriptingConfig `toml:"scripting"`
	Editor    EditorConfig    `toml:"editor"`
}

type HostConfig struct {
	Name     string        `toml:"name"`
	TickRate time.Duration `toml:"tick_rate" env:"OVERLAY_TICK_RATE"`
	DataDir  string        `toml:"data_dir"` // optional override dir for layouts.yaml / signatures.yaml
	Version  string        `toml:"version"`  // host build the simulated host reports
}

type SpawnerConfig struct {
	TimeoutFrames int `toml:"timeout_frames"` // ticks before a pending spawn fails
}

type LoggingConfig struct {
	Level  string `toml:"level" env:"OVERLAY_LOG_LEVEL"` // debug, info, warn, error
	Format string `toml:"format"`                        // console, json
}

type CacheConfig struct {
	Enabled         bool          `toml:"enabled"`
	DSN             string        `toml:"dsn" env:"OVERLAY_CACHE_DSN"` // file path, file: URI or postgres:// URL
	MaxOpenConns    int           `toml:"max_open_conns"`
	ConnMaxLifetime time.Duration `toml:"conn_max_lifetime"`
}

type ScriptingConfig struct {
	Dir string `toml:"dir"` // *.lua run at startup; empty disables
}

type EditorConfig struct {
	UndoDepth int    `toml:"undo_depth"`
	GizmoMode string `toml:"gizmo_mode"` // local, world
}

// Load reads the config file at path over the defaults, then applies
// environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := defaults()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Host.TickRate <= 0 {
		return fmt.Errorf("host.tick_rate must be positive, got %s", c.Host.TickRate)
	}
	if c.Spawner.TimeoutFrames <= 0 {
		return fmt.Errorf("spawner.timeout_frames must be positive, got %d", c.Spawner.TimeoutFrames)
	}
	switch c.Editor.GizmoMode {
	case "local", "world":
	default:
		return fmt.Errorf("editor.gizmo_mode must be local or world, got %q", c.Editor.GizmoMode)
	}
	if c.Editor.UndoDepth < 0 {
		return fmt.Errorf("editor.undo_depth must not be negative")
	}
	return nil
}

func defaults() *Config {
	return &Config{
		Host: HostConfig{
			Name:     "overlay",
			TickRate: 33 * time.Millisecond,
			Version:  "sim-1.0",
		},
		Spawner: SpawnerConfig{
			TimeoutFrames: 120,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Cache: CacheConfig{
			Enabled:         true,
			DSN:             "overlay-cache.db",
			MaxOpenConns:    4,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Editor: EditorConfig{
			UndoDepth: 50,
			GizmoMode: "local",
		},
	}
}
