// internal/config/normalize.go
package config

import "time"

// Normalize applies post-validation defaults.
// It is allowed to mutate configuration.
// It MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	if cfg.Interface == "" {
		cfg.Interface = "can0"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	// Zero durations are left alone; odrive.New applies its own defaults.

	// ------------------------------------------------------------
	// AMQP (OPT-IN)
	// ------------------------------------------------------------

	if cfg.AMQP.ControlExchange == "" {
		cfg.AMQP.ControlExchange = "odrive_ctrl"
	}
	if cfg.AMQP.EventsExchange == "" {
		cfg.AMQP.EventsExchange = "odrive_events"
	}

	// ------------------------------------------------------------
	// STATUS EXPORT (OPT-IN)
	// ------------------------------------------------------------

	if cfg.Status.UnitID == 0 {
		cfg.Status.UnitID = 1
	}
	if cfg.Status.Period == 0 {
		cfg.Status.Period = time.Second
	}
	if cfg.Status.Timeout == 0 {
		cfg.Status.Timeout = 2 * time.Second
	}
}
