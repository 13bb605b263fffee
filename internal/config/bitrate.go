// internal/config/bitrate.go
package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/notnil/odrivecan/odrive"
)

// ParseBitrate accepts "250000", "250k" or "250K".
func ParseBitrate(s string) (uint32, error) {
	raw := strings.TrimSpace(s)
	raw = strings.NewReplacer("k", "000", "K", "000").Replace(raw)
	n, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("bitrate %q: %w", s, err)
	}
	if n == 0 {
		return 0, fmt.Errorf("bitrate %q: must be positive", s)
	}
	return uint32(n), nil
}

// ResolveBitrate picks bus_bitrate, then the calibration baud rate, then the
// CANSimple default.
func ResolveBitrate(cfg *Config, cal Calibration) uint32 {
	if cfg.BusBitrate != "" {
		if n, err := ParseBitrate(cfg.BusBitrate); err == nil {
			return n
		}
	}
	if cal.BaudRate != 0 {
		return cal.BaudRate
	}
	return odrive.DefaultBitrate
}
