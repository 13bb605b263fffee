// internal/statusexport/exporter.go
package statusexport

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/goburrow/modbus"

	"github.com/notnil/odrivecan/internal/syncutil"
	"github.com/notnil/odrivecan/odrive"
)

// Source provides telemetry snapshots. *odrive.Axis implements it.
type Source interface {
	Telemetry() odrive.Telemetry
}

// RegisterWriter is the part of modbus.Client the exporter needs.
type RegisterWriter interface {
	WriteMultipleRegisters(address, quantity uint16, value []byte) ([]byte, error)
}

type Config struct {
	Endpoint string
	UnitID   uint8
	Address  uint16
	Period   time.Duration
	Timeout  time.Duration
	Logger   *slog.Logger
}

// Exporter periodically writes the axis status block to a Modbus TCP server.
type Exporter struct {
	cfg    Config
	log    *slog.Logger
	src    Source
	mu     syncutil.Mutex
	client RegisterWriter
	close  func() error
}

// Dial connects to cfg.Endpoint.
func Dial(cfg Config, src Source) (*Exporter, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("statusexport: endpoint required")
	}
	h := modbus.NewTCPClientHandler(cfg.Endpoint)
	h.Timeout = cfg.Timeout
	h.SlaveId = cfg.UnitID
	if err := h.Connect(); err != nil {
		return nil, err
	}
	e := New(cfg, src, modbus.NewClient(h))
	e.close = h.Close
	return e, nil
}

// New builds an exporter over an existing register writer.
func New(cfg Config, src Source, w RegisterWriter) *Exporter {
	if cfg.Period <= 0 {
		cfg.Period = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Exporter{cfg: cfg, log: cfg.Logger, src: src, client: w}
}

// WriteOnce writes the current snapshot.
func (e *Exporter) WriteOnce() error {
	regs := Encode(e.src.Telemetry())
	e.mu.Lock()
	defer e.mu.Unlock()
	_, err := e.client.WriteMultipleRegisters(e.cfg.Address, BlockLength, packRegisters(regs[:]))
	return err
}

// Run writes on start and then every period until ctx is done. Write errors
// are logged and the loop continues.
func (e *Exporter) Run(ctx context.Context) error {
	t := time.NewTicker(e.cfg.Period)
	defer t.Stop()

	e.write()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			e.write()
		}
	}
}

func (e *Exporter) write() {
	if err := e.WriteOnce(); err != nil {
		e.log.Warn("status write failed", "endpoint", e.cfg.Endpoint, "address", e.cfg.Address, "error", err)
	}
}

// Close closes the Modbus connection when Dial opened it.
func (e *Exporter) Close() error {
	if e.close == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.close()
}
