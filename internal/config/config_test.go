package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("PORT", "8080")
	t.Setenv("STEAM_API_KEY", "steam-key")
	t.Setenv("COLLECTOR_API_KEY", "collector-key")
	t.Setenv("COLLECTOR_SUBMIT_URL", "http://collector.local/submit")
	t.Setenv("COLLECTOR_EXISTS_URL", "http://collector.local/exists/")
	t.Setenv("INGRESS_API_KEY", "ingress-key")
}

func Test_Load_Defaults(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("APP_ENV", "dev")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load err: %v", err)
	}
	if !cfg.IsDev() {
		t.Fatalf("expected IsDev true")
	}
	if cfg.IsProd() {
		t.Fatalf("expected IsProd false")
	}
	if cfg.Port != 8080 {
		t.Fatalf("expected port 8080, got %d", cfg.Port)
	}
	if cfg.DataDir != "data" {
		t.Fatalf("expected default data dir, got %q", cfg.DataDir)
	}
	if cfg.PoolDefaultCooldown.String() != "6h5m0s" {
		t.Fatalf("expected 6h5m default cooldown, got %s", cfg.PoolDefaultCooldown)
	}
	if cfg.WorkerItemDelay.String() != "350ms" {
		t.Fatalf("expected 350ms item delay, got %s", cfg.WorkerItemDelay)
	}
	if cfg.WorkerIdleDelay.String() != "5s" {
		t.Fatalf("expected 5s idle delay, got %s", cfg.WorkerIdleDelay)
	}
	if cfg.MinCallInterval.String() != "1s" {
		t.Fatalf("expected 1s min call interval, got %s", cfg.MinCallInterval)
	}
	if cfg.SteamAPIBaseURL != "https://api.steampowered.com" {
		t.Fatalf("unexpected steam base url: %q", cfg.SteamAPIBaseURL)
	}
	if cfg.SimulatedPoolError != "" {
		t.Fatalf("expected simulated pool error off by default")
	}
}

func Test_Load_FilePaths(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DATA_DIR", "/var/lib/vetter")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load err: %v", err)
	}
	if cfg.QueueFilePath() != filepath.Join("/var/lib/vetter", "profiles_queue.json") {
		t.Fatalf("unexpected queue path: %q", cfg.QueueFilePath())
	}
	if cfg.PoolFilePath() != filepath.Join("/var/lib/vetter", "config_proxies.json") {
		t.Fatalf("unexpected pool path: %q", cfg.PoolFilePath())
	}
}

func Test_Load_MissingRequired(t *testing.T) {
	setRequiredEnv(t)
	require.NoError(t, os.Unsetenv("STEAM_API_KEY"))

	_, err := Load()
	if err == nil {
		t.Fatalf("expected error when STEAM_API_KEY is unset")
	}
}
