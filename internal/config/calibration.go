// internal/config/calibration.go
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/notnil/odrivecan/odrive"
)

// Calibration holds the values taken from an exported controller
// configuration.
type Calibration struct {
	TorqueConstant float64
	CurrentLimit   float64
	BaudRate       uint32 // 0 when the export has none
}

const (
	pathTorqueConstant = "axis0.motor.config.torque_constant"
	pathLockinCurrent  = "axis0.config.general_lockin.current"
	pathBaudRate       = "can.config.baud_rate"
)

// DefaultCalibration is used when no calibration source is configured.
func DefaultCalibration() Calibration {
	return Calibration{
		TorqueConstant: odrive.DefaultTorqueConstant,
		CurrentLimit:   odrive.DefaultCurrentLimit,
	}
}

// LoadCalibration reads a JSON or YAML configuration export. Values it does
// not contain keep their defaults, which is logged.
func LoadCalibration(path string, log *slog.Logger) (Calibration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Calibration{}, &odrive.ConfigurationError{Field: "calibration_source", Reason: err.Error()}
	}
	return ParseCalibration(data, log)
}

// ParseCalibration decodes an export. Documents starting with '{' are JSON.
func ParseCalibration(data []byte, log *slog.Logger) (Calibration, error) {
	if log == nil {
		log = slog.Default()
	}

	var doc map[string]any
	var err error
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte("{")) {
		err = json.Unmarshal(data, &doc)
	} else {
		err = yaml.Unmarshal(data, &doc)
	}
	if err != nil {
		return Calibration{}, &odrive.ConfigurationError{Field: "calibration_source", Reason: err.Error()}
	}

	cal := DefaultCalibration()

	if v, ok := lookupNumber(doc, pathTorqueConstant); ok && v > 0 {
		cal.TorqueConstant = v
	} else {
		log.Warn("torque constant not found in calibration, using default",
			"path", pathTorqueConstant, "default", cal.TorqueConstant)
	}

	if v, ok := lookupNumber(doc, pathLockinCurrent); ok && v > 0 {
		cal.CurrentLimit = v
	} else {
		log.Warn("current limit not found in calibration, using default",
			"path", pathLockinCurrent, "default", cal.CurrentLimit)
	}

	if v, ok := lookupNumber(doc, pathBaudRate); ok && v > 0 {
		cal.BaudRate = uint32(v)
	}

	return cal, nil
}

// lookupNumber walks a dotted path through nested maps.
func lookupNumber(doc map[string]any, path string) (float64, bool) {
	var cur any = doc
	for _, key := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return 0, false
		}
		if cur, ok = m[key]; !ok {
			return 0, false
		}
	}
	switch n := cur.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

// ResolveCalibration loads the configured calibration source, or returns the
// defaults when there is none.
func ResolveCalibration(cfg *Config, log *slog.Logger) (Calibration, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.CalibrationSource == "" {
		return DefaultCalibration(), nil
	}
	if cfg.SerialNumber == "" {
		log.Info("no serial_number configured; set it when more than one controller shares the bus",
			"calibration_source", cfg.CalibrationSource)
	}
	cal, err := LoadCalibration(cfg.CalibrationSource, log)
	if err != nil {
		return Calibration{}, fmt.Errorf("calibration: %w", err)
	}
	return cal, nil
}
