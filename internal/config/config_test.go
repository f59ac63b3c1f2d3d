package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "overlay.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Spawner.TimeoutFrames != 120 {
		t.Errorf("timeout frames = %d, want 120", cfg.Spawner.TimeoutFrames)
	}
	if cfg.Editor.UndoDepth != 50 {
		t.Errorf("undo depth = %d, want 50", cfg.Editor.UndoDepth)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
[host]
tick_rate = "50ms"

[spawner]
timeout_frames = 30

[logging]
level = "debug"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Host.TickRate != 50*time.Millisecond {
		t.Errorf("tick rate = %s", cfg.Host.TickRate)
	}
	if cfg.Spawner.TimeoutFrames != 30 {
		t.Errorf("timeout frames = %d", cfg.Spawner.TimeoutFrames)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("level = %q", cfg.Logging.Level)
	}
	// Untouched sections keep their defaults.
	if cfg.Editor.GizmoMode != "local" {
		t.Errorf("gizmo mode = %q", cfg.Editor.GizmoMode)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "[logging]\nlevel = \"debug\"\n")
	t.Setenv("OVERLAY_LOG_LEVEL", "error")
	t.Setenv("OVERLAY_CACHE_DSN", "postgres://u:p@localhost/overlay")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Logging.Level != "error" {
		t.Errorf("level = %q, want error", cfg.Logging.Level)
	}
	if cfg.Cache.DSN != "postgres://u:p@localhost/overlay" {
		t.Errorf("dsn = %q", cfg.Cache.DSN)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []string{
		"[spawner]\ntimeout_frames = 0\n",
		"[editor]\ngizmo_mode = \"screen\"\n",
		"[host]\ntick_rate = \"-1s\"\n",
		"not toml at all = = =",
	}
	for _, body := range tests {
		path := writeConfig(t, t.TempDir(), body)
		if _, err := Load(path); err == nil {
			t.Errorf("Load(%q) succeeded, want error", body)
		}
	}
}

func TestWatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "[logging]\nlevel = \"info\"\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, zap.NewNop(), func(c *Config) { changed <- c })
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	writeConfig(t, dir, "[logging]\nlevel = \"warn\"\n")

	select {
	case cfg := <-changed:
		if cfg.Logging.Level != "warn" {
			t.Errorf("reloaded level = %q, want warn", cfg.Logging.Level)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("watch returned %v", err)
	}
}
