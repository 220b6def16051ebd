package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Server.Port != "8080" {
		t.Errorf("expected port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Sync.BatchSize != 500 {
		t.Errorf("expected batch_size 500, got %d", cfg.Sync.BatchSize)
	}
	if cfg.Coordinator.CleanValidations != 3 {
		t.Errorf("expected clean_validations 3, got %d", cfg.Coordinator.CleanValidations)
	}
	if cfg.Coordinator.StabilityWindow != 24*time.Hour {
		t.Errorf("expected stability window 24h, got %v", cfg.Coordinator.StabilityWindow)
	}
	if cfg.Breaker.Timeout != 30*time.Second {
		t.Errorf("expected breaker timeout 30s, got %v", cfg.Breaker.Timeout)
	}
}

func TestLoadYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "test.yaml")

	content := `
server:
  port: "9090"
sync:
  batch_size: 50
coordinator:
  clean_validations: 5
  stability_window: 1h
logging:
  level: "debug"
`
	if err := os.WriteFile(yamlPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, yamlPath); err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Sync.BatchSize != 50 {
		t.Errorf("expected batch_size 50, got %d", cfg.Sync.BatchSize)
	}
	if cfg.Coordinator.CleanValidations != 5 {
		t.Errorf("expected clean_validations 5, got %d", cfg.Coordinator.CleanValidations)
	}
	if cfg.Coordinator.StabilityWindow != time.Hour {
		t.Errorf("expected stability window 1h, got %v", cfg.Coordinator.StabilityWindow)
	}
	// Unchanged fields keep defaults
	if cfg.NATS.URL != "nats://localhost:4222" {
		t.Errorf("expected default NATS URL, got %s", cfg.NATS.URL)
	}
}

func TestLoadYAMLMissingFileIsNotAnError(t *testing.T) {
	cfg := Defaults()
	if err := loadYAML(&cfg, filepath.Join(t.TempDir(), "nope.yaml")); err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("SHOPSHIFT_PORT", "7070")
	t.Setenv("SHOPSHIFT_SYNC_BATCH_SIZE", "25")
	t.Setenv("SHOPSHIFT_STABILITY_WINDOW", "30m")
	t.Setenv("SHOPSHIFT_LEGACY_BOOTSTRAP", "true")

	cfg := Defaults()
	loadEnv(&cfg)

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port 7070, got %s", cfg.Server.Port)
	}
	if cfg.Sync.BatchSize != 25 {
		t.Errorf("expected batch_size 25, got %d", cfg.Sync.BatchSize)
	}
	if cfg.Coordinator.StabilityWindow != 30*time.Minute {
		t.Errorf("expected stability window 30m, got %v", cfg.Coordinator.StabilityWindow)
	}
	if !cfg.Legacy.Bootstrap {
		t.Error("expected legacy bootstrap enabled")
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Sync.BatchSize = 0
	if err := validate(&cfg); err == nil {
		t.Fatal("expected error for zero batch size")
	}

	cfg = Defaults()
	cfg.Coordinator.CleanValidations = 0
	if err := validate(&cfg); err == nil {
		t.Fatal("expected error for zero clean validations")
	}

	cfg = Defaults()
	cfg.ControlDB.DSN = ""
	if err := validate(&cfg); err == nil {
		t.Fatal("expected error for empty control dsn")
	}
}
