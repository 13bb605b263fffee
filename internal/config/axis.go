// internal/config/axis.go
package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/notnil/odrivecan/odrive"
)

// ResolveCatalog loads the configured message database, or returns the
// built-in CANSimple set when none is configured.
func ResolveCatalog(cfg *Config) (*odrive.Catalog, error) {
	if cfg.Catalog == "" {
		return odrive.DefaultCatalog(), nil
	}
	f, err := os.Open(cfg.Catalog)
	if err != nil {
		return nil, &odrive.ConfigurationError{Field: "catalog", Reason: err.Error()}
	}
	defer f.Close()
	cat, err := odrive.LoadCatalog(f)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", cfg.Catalog, err)
	}
	return cat, nil
}

// AxisConfig maps a validated, normalized configuration, its calibration and
// message catalog onto odrive.Config. A nil catalog means the built-in set.
func AxisConfig(cfg *Config, cal Calibration, cat *odrive.Catalog, log *slog.Logger) odrive.Config {
	if cat == nil {
		cat = odrive.DefaultCatalog()
	}
	return odrive.Config{
		NodeID:           odrive.NodeID(*cfg.NodeID),
		TorqueConstant:   cal.TorqueConstant,
		CurrentLimit:     cal.CurrentLimit,
		Interface:        cfg.Interface,
		Bitrate:          ResolveBitrate(cfg, cal),
		Catalog:          cat,
		StateTimeout:     cfg.Timeouts.State,
		QueryTimeout:     cfg.Timeouts.Query,
		ErrorPeriod:      cfg.Monitors.ErrorPeriod,
		GoalPeriod:       cfg.Monitors.GoalPeriod,
		RequestTelemetry: cfg.RequestTelemetry,
		Logger:           log,
	}
}

// LogLevel maps log_level onto a slog level.
func LogLevel(cfg *Config) slog.Level {
	switch cfg.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
