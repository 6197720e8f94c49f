// internal/config/config.go

// Package config defines the engine's startup configuration: a YAML file
// describing devices and engine limits, with a handful of environment
// overrides for deployment knobs.
package config

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Queue    QueueConfig    `yaml:"queue"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Storage  StorageConfig  `yaml:"storage"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Devices  []DeviceConfig `yaml:"devices"`
}

// ---- SERVER ----

type ServerConfig struct {
	Listen        string `yaml:"listen"`
	IdleTimeoutS  int    `yaml:"idle_timeout_s"`
	MaxFrameBytes int    `yaml:"max_frame_bytes"`
	// ShutdownGraceS bounds the drain of in-flight work on shutdown.
	ShutdownGraceS int `yaml:"shutdown_grace_s"`
}

// ---- DEVICE ----

type DeviceConfig struct {
	ID        string `yaml:"id"`
	Transport string `yaml:"transport"` // "tcp" | "serial"
	Profile   string `yaml:"profile"`   // "hl7" | "bt1500"

	// Serial-only connection parameters.
	Port     string `yaml:"port"`
	BaudRate int    `yaml:"baud_rate"`
	DataBits int    `yaml:"data_bits"`
	StopBits int    `yaml:"stop_bits"`
	Parity   string `yaml:"parity"`

	// TimeoutS is the per-device inactivity timeout used by the registry
	// sweep and as the serial read window.
	TimeoutS int `yaml:"timeout_s"`

	Reconnect ReconnectConfig `yaml:"reconnect"`
}

// ReconnectConfig shapes the serial reconnect backoff. The numeric defaults
// live in Normalize, declared in one place rather than assumed by callers.
type ReconnectConfig struct {
	InitialMs   int `yaml:"initial_ms"`
	MaxMs       int `yaml:"max_ms"`
	MaxAttempts int `yaml:"max_attempts"`
}

// ---- QUEUE ----

type QueueConfig struct {
	Capacity int `yaml:"capacity"`
}

// ---- PIPELINE ----

type PipelineConfig struct {
	Workers      int `yaml:"workers"`
	RetryMax     int `yaml:"retry_max"`
	RetryDelayMs int `yaml:"retry_delay_ms"`
}

// ---- STORAGE ----

type StorageConfig struct {
	// Path of the SQLite database file.
	Path string `yaml:"path"`
}

// ---- LOGGING ----

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// ---- METRICS ----

type MetricsConfig struct {
	// Listen enables the /metrics endpoint when non-empty.
	Listen string `yaml:"listen"`
}
