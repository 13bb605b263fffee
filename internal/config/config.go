// internal/config/config.go
package config

import "time"

type Config struct {
	// NodeID is required. A pointer keeps "absent" apart from node 0.
	NodeID            *int   `yaml:"node_id"`
	SerialNumber      string `yaml:"serial_number"`
	BusBitrate        string `yaml:"bus_bitrate"` // "250k", "500000"
	CalibrationSource string `yaml:"calibration_source"`
	Catalog           string `yaml:"catalog"` // YAML message database; empty uses the built-in set

	Interface string `yaml:"interface"`
	SLCANPort string `yaml:"slcan_port"` // when set, SLCAN replaces SocketCAN

	RequestTelemetry bool   `yaml:"request_telemetry"`
	LogLevel         string `yaml:"log_level"`
	LogBus           bool   `yaml:"log_bus"`

	Timeouts TimeoutsConfig `yaml:"timeouts"`
	Monitors MonitorsConfig `yaml:"monitors"`
	AMQP     AMQPConfig     `yaml:"amqp"`
	Status   StatusConfig   `yaml:"status"`
}

// ---- TIMEOUTS ----

type TimeoutsConfig struct {
	State time.Duration `yaml:"state"`
	Query time.Duration `yaml:"query"`
}

// ---- MONITORS ----

type MonitorsConfig struct {
	ErrorPeriod time.Duration `yaml:"error_period"`
	GoalPeriod  time.Duration `yaml:"goal_period"`
}

// ---- AMQP CONTROL ----

type AMQPConfig struct {
	URL             string `yaml:"url"` // empty disables the broker
	ControlExchange string `yaml:"control_exchange"`
	EventsExchange  string `yaml:"events_exchange"`
}

// ---- MODBUS STATUS EXPORT ----

type StatusConfig struct {
	Endpoint string        `yaml:"endpoint"` // empty disables the export
	UnitID   uint8         `yaml:"unit_id"`
	Address  uint16        `yaml:"address"`
	Period   time.Duration `yaml:"period"`
	Timeout  time.Duration `yaml:"timeout"`
}
