// internal/config/normalize.go
package config

// Engine-wide defaults. Applied by Normalize only, so every consumer sees
// the same values.
const (
	defaultListen         = ":6000"
	defaultIdleTimeoutS   = 300
	defaultMaxFrameBytes  = 256 * 1024
	defaultShutdownGraceS = 10
	defaultQueueCapacity  = 1024
	defaultWorkers        = 4
	defaultRetryMax       = 3
	defaultRetryDelayMs   = 500
	defaultStoragePath    = "lis.db"
	defaultLogLevel       = "info"

	defaultDeviceTimeoutS      = 120
	defaultBaudRate            = 9600
	defaultDataBits            = 8
	defaultStopBits            = 1
	defaultParity              = "N"
	defaultReconnectInitialMs  = 1000
	defaultReconnectMaxMs      = 60000
	defaultReconnectMaxRetries = 10
)

// Normalize fills defaults after validation. It is allowed to mutate
// configuration and MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	if cfg.Server.Listen == "" {
		cfg.Server.Listen = defaultListen
	}
	if cfg.Server.IdleTimeoutS == 0 {
		cfg.Server.IdleTimeoutS = defaultIdleTimeoutS
	}
	if cfg.Server.MaxFrameBytes == 0 {
		cfg.Server.MaxFrameBytes = defaultMaxFrameBytes
	}
	if cfg.Server.ShutdownGraceS == 0 {
		cfg.Server.ShutdownGraceS = defaultShutdownGraceS
	}
	if cfg.Queue.Capacity == 0 {
		cfg.Queue.Capacity = defaultQueueCapacity
	}
	if cfg.Pipeline.Workers == 0 {
		cfg.Pipeline.Workers = defaultWorkers
	}
	if cfg.Pipeline.RetryMax == 0 {
		cfg.Pipeline.RetryMax = defaultRetryMax
	}
	if cfg.Pipeline.RetryDelayMs == 0 {
		cfg.Pipeline.RetryDelayMs = defaultRetryDelayMs
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = defaultStoragePath
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaultLogLevel
	}

	for di := range cfg.Devices {
		d := &cfg.Devices[di]
		if d.Profile == "" {
			d.Profile = "hl7"
		}
		if d.TimeoutS == 0 {
			d.TimeoutS = defaultDeviceTimeoutS
		}
		if d.Transport != "serial" {
			continue
		}
		if d.BaudRate == 0 {
			d.BaudRate = defaultBaudRate
		}
		if d.DataBits == 0 {
			d.DataBits = defaultDataBits
		}
		if d.StopBits == 0 {
			d.StopBits = defaultStopBits
		}
		if d.Parity == "" {
			d.Parity = defaultParity
		}
		if d.Reconnect.InitialMs == 0 {
			d.Reconnect.InitialMs = defaultReconnectInitialMs
		}
		if d.Reconnect.MaxMs == 0 {
			d.Reconnect.MaxMs = defaultReconnectMaxMs
		}
		if d.Reconnect.MaxAttempts == 0 {
			d.Reconnect.MaxAttempts = defaultReconnectMaxRetries
		}
	}
}
