package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.NATS.StreamName != "QUILL" {
		t.Errorf("default stream name = %q", cfg.NATS.StreamName)
	}
	if cfg.Worker.PoolSize != 4 {
		t.Errorf("default pool size = %d", cfg.Worker.PoolSize)
	}
	if !cfg.Governance.SecretScanEnabled {
		t.Error("secret scan should default to enabled")
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "quill.yaml")
	content := `
database:
  dsn: postgres://test:test@db:5432/quill
plans:
  dir: /etc/quill/plans
  hot_reload: false
worker:
  pool_size: 8
  poll_interval: 250ms
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfigFromFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFromFile failed: %v", err)
	}
	if cfg.Database.DSN != "postgres://test:test@db:5432/quill" {
		t.Errorf("dsn = %q", cfg.Database.DSN)
	}
	if cfg.Plans.Dir != "/etc/quill/plans" {
		t.Errorf("plans dir = %q", cfg.Plans.Dir)
	}
	if cfg.Plans.HotReload {
		t.Error("hot_reload should be false")
	}
	if cfg.Worker.PoolSize != 8 {
		t.Errorf("pool size = %d", cfg.Worker.PoolSize)
	}
	if cfg.Worker.PollInterval != 250*time.Millisecond {
		t.Errorf("poll interval = %v", cfg.Worker.PollInterval)
	}
	// Unset sections keep defaults.
	if cfg.NATS.URL != "nats://localhost:4222" {
		t.Errorf("nats url = %q", cfg.NATS.URL)
	}
}

func TestLoadConfigExpandsEnv(t *testing.T) {
	t.Setenv("QUILL_TEST_KEY", "sk-test-123")

	dir := t.TempDir()
	path := filepath.Join(dir, "quill.yaml")
	content := "provider:\n  api_key: ${QUILL_TEST_KEY}\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfigFromFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFromFile failed: %v", err)
	}
	if cfg.Provider.APIKey != "sk-test-123" {
		t.Errorf("api key = %q", cfg.Provider.APIKey)
	}
}
