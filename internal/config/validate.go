// internal/config/validate.go
package config

import (
	"fmt"

	"github.com/notnil/odrivecan/odrive"
)

// Validate checks configuration correctness.
// It performs declarative validation only.
// It MUST NOT mutate configuration.
// Every failure is an *odrive.ConfigurationError.
func Validate(cfg *Config) error {
	if cfg == nil {
		return &odrive.ConfigurationError{Field: "config", Reason: "missing"}
	}

	// ------------------------------------------------------------
	// NODE IDENTITY
	// ------------------------------------------------------------

	if cfg.NodeID == nil {
		return &odrive.ConfigurationError{Field: "node_id", Reason: "required"}
	}
	if id := *cfg.NodeID; id < 0 || id > int(odrive.MaxNodeID) {
		return &odrive.ConfigurationError{
			Field:  "node_id",
			Reason: fmt.Sprintf("%d outside 0..%d", id, odrive.MaxNodeID),
		}
	}

	// ------------------------------------------------------------
	// BUS
	// ------------------------------------------------------------

	if cfg.BusBitrate != "" {
		if _, err := ParseBitrate(cfg.BusBitrate); err != nil {
			return &odrive.ConfigurationError{Field: "bus_bitrate", Reason: err.Error()}
		}
	}

	switch cfg.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return &odrive.ConfigurationError{
			Field:  "log_level",
			Reason: fmt.Sprintf("unknown level %q", cfg.LogLevel),
		}
	}

	// ------------------------------------------------------------
	// DURATIONS
	// ------------------------------------------------------------

	durations := []struct {
		field string
		d     int64
	}{
		{"timeouts.state", int64(cfg.Timeouts.State)},
		{"monitors.error_period", int64(cfg.Monitors.ErrorPeriod)},
		{"monitors.goal_period", int64(cfg.Monitors.GoalPeriod)},
		{"status.period", int64(cfg.Status.Period)},
		{"status.timeout", int64(cfg.Status.Timeout)},
	}
	for _, d := range durations {
		if d.d < 0 {
			return &odrive.ConfigurationError{Field: d.field, Reason: "must not be negative"}
		}
	}
	// timeouts.query may be negative: it disables the query bound.

	// ------------------------------------------------------------
	// STATUS EXPORT (OPT-IN)
	// ------------------------------------------------------------

	if cfg.Status.Endpoint != "" && cfg.Status.UnitID > 247 {
		return &odrive.ConfigurationError{
			Field:  "status.unit_id",
			Reason: fmt.Sprintf("%d outside 0..247", cfg.Status.UnitID),
		}
	}

	return nil
}
