// internal/config/validate.go
package config

import (
	"fmt"
)

var validProfiles = map[string]bool{"hl7": true, "bt1500": true}
var validParity = map[string]bool{"": true, "N": true, "E": true, "O": true}

// Validate checks configuration correctness.
// It performs declarative validation only.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	if cfg.Queue.Capacity < 0 {
		return fmt.Errorf("queue.capacity must be >= 0")
	}
	if cfg.Pipeline.Workers < 0 {
		return fmt.Errorf("pipeline.workers must be >= 0")
	}
	if cfg.Pipeline.RetryMax < 0 {
		return fmt.Errorf("pipeline.retry_max must be >= 0")
	}

	seenID := make(map[string]bool)
	seenPort := make(map[string]string)

	for _, d := range cfg.Devices {
		if d.ID == "" {
			return fmt.Errorf("device without id")
		}
		if seenID[d.ID] {
			return fmt.Errorf("duplicate device id %q", d.ID)
		}
		seenID[d.ID] = true

		switch d.Transport {
		case "tcp":
			// Inbound: the device dials us; no address needed.
		case "serial":
			if d.Port == "" {
				return fmt.Errorf("device %q: serial transport requires port", d.ID)
			}
			if prev, taken := seenPort[d.Port]; taken {
				return fmt.Errorf("serial port %s claimed by devices %q and %q", d.Port, prev, d.ID)
			}
			seenPort[d.Port] = d.ID
			if !validParity[d.Parity] {
				return fmt.Errorf("device %q: invalid parity %q", d.ID, d.Parity)
			}
			if d.StopBits < 0 || d.StopBits > 2 {
				return fmt.Errorf("device %q: invalid stop_bits %d", d.ID, d.StopBits)
			}
		default:
			return fmt.Errorf("device %q: unknown transport %q", d.ID, d.Transport)
		}

		if d.Profile != "" && !validProfiles[d.Profile] {
			return fmt.Errorf("device %q: unknown profile %q", d.ID, d.Profile)
		}
	}

	return nil
}
