// internal/config/load.go
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file and applies environment overrides.
// A .env file next to the process is honored when present; deployment knobs
// (listen address, log level, database path) can be overridden without
// touching the device table.
func Load(path string) (*Config, error) {
	// Best effort: absence of a .env file is the normal case.
	_ = godotenv.Load()

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if v := os.Getenv("LIS_LISTEN"); v != "" {
		cfg.Server.Listen = v
	}
	if v := os.Getenv("LIS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LIS_DB_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("LIS_METRICS_LISTEN"); v != "" {
		cfg.Metrics.Listen = v
	}

	return &cfg, nil
}
