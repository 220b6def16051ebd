package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "shopshift.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "SHOPSHIFT_PORT")
	setString(&cfg.Server.CORSOrigin, "SHOPSHIFT_CORS_ORIGIN")

	setString(&cfg.ControlDB.DSN, "SHOPSHIFT_CONTROL_DSN")
	setInt32(&cfg.ControlDB.MaxConns, "SHOPSHIFT_CONTROL_MAX_CONNS")
	setInt32(&cfg.ControlDB.MinConns, "SHOPSHIFT_CONTROL_MIN_CONNS")
	setDuration(&cfg.ControlDB.MaxConnLifetime, "SHOPSHIFT_CONTROL_MAX_CONN_LIFETIME")
	setDuration(&cfg.ControlDB.MaxConnIdleTime, "SHOPSHIFT_CONTROL_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.ControlDB.HealthCheck, "SHOPSHIFT_CONTROL_HEALTH_CHECK")

	setString(&cfg.Legacy.DSN, "SHOPSHIFT_LEGACY_DSN")
	setBool(&cfg.Legacy.Bootstrap, "SHOPSHIFT_LEGACY_BOOTSTRAP")

	setString(&cfg.Provision.AdminDSN, "SHOPSHIFT_PROVISION_ADMIN_DSN")
	setString(&cfg.Provision.DSNTemplate, "SHOPSHIFT_PROVISION_DSN_TEMPLATE")

	setInt32(&cfg.Registry.MaxConnsPerStore, "SHOPSHIFT_REGISTRY_MAX_CONNS")
	setInt32(&cfg.Registry.MinConnsPerStore, "SHOPSHIFT_REGISTRY_MIN_CONNS")
	setDuration(&cfg.Registry.AcquireTimeout, "SHOPSHIFT_REGISTRY_ACQUIRE_TIMEOUT")
	setDuration(&cfg.Registry.IdleTimeout, "SHOPSHIFT_REGISTRY_IDLE_TIMEOUT")
	setDuration(&cfg.Registry.HealthInterval, "SHOPSHIFT_REGISTRY_HEALTH_INTERVAL")

	setInt(&cfg.Sync.BatchSize, "SHOPSHIFT_SYNC_BATCH_SIZE")
	setInt(&cfg.Sync.DrainBatch, "SHOPSHIFT_SYNC_DRAIN_BATCH")
	setDuration(&cfg.Sync.BatchInterval, "SHOPSHIFT_SYNC_BATCH_INTERVAL")
	setDuration(&cfg.Sync.OpTimeout, "SHOPSHIFT_SYNC_OP_TIMEOUT")

	setDuration(&cfg.Validate.Interval, "SHOPSHIFT_VALIDATE_INTERVAL")

	setInt(&cfg.Coordinator.CleanValidations, "SHOPSHIFT_CLEAN_VALIDATIONS")
	setDuration(&cfg.Coordinator.StabilityWindow, "SHOPSHIFT_STABILITY_WINDOW")
	setInt(&cfg.Coordinator.RetryAttempts, "SHOPSHIFT_RETRY_ATTEMPTS")
	setDuration(&cfg.Coordinator.RetryBase, "SHOPSHIFT_RETRY_BASE")
	setDuration(&cfg.Coordinator.RetryCap, "SHOPSHIFT_RETRY_CAP")
	setDuration(&cfg.Coordinator.OpTimeout, "SHOPSHIFT_OP_TIMEOUT")

	setString(&cfg.NATS.URL, "NATS_URL")

	setInt64(&cfg.Cache.MaxSizeMB, "SHOPSHIFT_CACHE_SIZE_MB")
	setDuration(&cfg.Cache.TTL, "SHOPSHIFT_CACHE_TTL")

	setString(&cfg.Logging.Level, "SHOPSHIFT_LOG_LEVEL")
	setString(&cfg.Logging.Service, "SHOPSHIFT_LOG_SERVICE")

	setInt(&cfg.Breaker.MaxFailures, "SHOPSHIFT_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "SHOPSHIFT_BREAKER_TIMEOUT")

	setBool(&cfg.Telemetry.Enabled, "SHOPSHIFT_TELEMETRY_ENABLED")
	setString(&cfg.Telemetry.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.ControlDB.DSN == "" {
		return errors.New("control_db.dsn is required")
	}
	if cfg.Legacy.DSN == "" {
		return errors.New("legacy.dsn is required")
	}
	if cfg.Provision.DSNTemplate == "" {
		return errors.New("provision.dsn_template is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Registry.MaxConnsPerStore < 1 {
		return errors.New("registry.max_conns_per_store must be >= 1")
	}
	if cfg.Sync.BatchSize < 1 {
		return errors.New("sync.batch_size must be >= 1")
	}
	if cfg.Coordinator.CleanValidations < 1 {
		return errors.New("coordinator.clean_validations must be >= 1")
	}
	if cfg.Coordinator.RetryAttempts < 1 {
		return errors.New("coordinator.retry_attempts must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
