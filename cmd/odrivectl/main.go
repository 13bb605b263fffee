// Command odrivectl drives one ODrive axis over CAN.
//
//	odrivectl -config odrive.yaml position
//	odrivectl -config odrive.yaml go-for 60 2.5
//	odrivectl -config odrive.yaml daemon
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"go.uber.org/multierr"

	"github.com/notnil/odrivecan/canbus"
	"github.com/notnil/odrivecan/canbus/slcan"
	"github.com/notnil/odrivecan/internal/config"
	"github.com/notnil/odrivecan/internal/mqcontrol"
	"github.com/notnil/odrivecan/internal/statusexport"
	"github.com/notnil/odrivecan/odrive"
)

var flagConfig string

func init() {
	flag.StringVar(&flagConfig, "config", "odrive.yaml", "Path to the YAML configuration")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), `usage: odrivectl [-config file] <command> [args]

commands:
  position                 print the position estimate (turns)
  telemetry                print the latest heartbeat and estimates
  go-for <rpm> <revs>      move a relative number of revolutions
  go-to <rpm> <position>   move to an absolute position
  set-rpm <rpm>            spin at a velocity
  set-power <power>        apply a fraction of the current limit
  stop                     request idle
  clear                    clear device errors
  estop                    latch the device emergency stop
  reboot                   restart the controller
  set-limits <vel> <amps>  set the velocity (turns/s) and current limits
  set-node-id <id>         move the device to a new node id
  daemon                   serve AMQP commands and Modbus status until interrupted
`)
		flag.PrintDefaults()
	}
}

func main() {
	flag.Parse()
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}
	if err := run(flag.Arg(0), flag.Args()[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "odrivectl:", err)
		os.Exit(1)
	}
}

func run(command string, args []string) (err error) {
	// --------------------
	// Load + validate config
	// --------------------

	cfg, err := config.Load(flagConfig)
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	config.Normalize(cfg)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: config.LogLevel(cfg)}))
	slog.SetDefault(logger)

	cal, err := config.ResolveCalibration(cfg, logger)
	if err != nil {
		return err
	}
	cat, err := config.ResolveCatalog(cfg)
	if err != nil {
		return err
	}
	axisCfg := config.AxisConfig(cfg, cal, cat, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --------------------
	// Bus
	// --------------------

	bus, err := openBus(cfg, axisCfg.Bitrate, logger)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, bus.Close()) }()
	if cfg.LogBus {
		bus = canbus.NewLoggedBus(bus, logger, slog.LevelDebug, canbus.LogAll)
	}

	// --------------------
	// Optional broker
	// --------------------

	var ctl *mqcontrol.Controller
	if command == "daemon" && cfg.AMQP.URL != "" {
		ctl, err = mqcontrol.Dial(mqcontrol.Config{
			URL:             cfg.AMQP.URL,
			ControlExchange: cfg.AMQP.ControlExchange,
			EventsExchange:  cfg.AMQP.EventsExchange,
			Logger:          logger,
		})
		if err != nil {
			return err
		}
		defer func() { err = multierr.Append(err, ctl.Close()) }()
		axisCfg.Events = ctl.Events()
	}

	axis, err := odrive.New(bus, axisCfg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, axis.Close()) }()

	return dispatch(ctx, axis, cfg, ctl, command, args, logger)
}

func openBus(cfg *config.Config, bitrate uint32, logger *slog.Logger) (canbus.Bus, error) {
	if cfg.SLCANPort != "" {
		b, err := slcan.Open(cfg.SLCANPort, bitrate, logger)
		if err != nil {
			return nil, fmt.Errorf("open slcan %s: %w", cfg.SLCANPort, err)
		}
		return b, nil
	}

	up, err := canbus.IsInterfaceUp(cfg.Interface)
	switch {
	case err != nil:
		logger.Warn("cannot read interface state", "interface", cfg.Interface, "error", err)
	case !up:
		logger.Warn("interface is down", "interface", cfg.Interface, "hint", canbus.BringUpHint(cfg.Interface, bitrate))
	}

	b, err := canbus.DialSocketCAN(cfg.Interface)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w (try: %s)", cfg.Interface, err, canbus.BringUpHint(cfg.Interface, bitrate))
	}
	return b, nil
}

func dispatch(ctx context.Context, axis *odrive.Axis, cfg *config.Config, ctl *mqcontrol.Controller, command string, args []string, logger *slog.Logger) error {
	switch command {
	case "position":
		pos, err := axis.GetPosition(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%.4f\n", pos)
		return nil

	case "telemetry":
		if _, err := axis.GetPosition(ctx); err != nil {
			return err
		}
		t := axis.Telemetry()
		fmt.Printf("state=%s error=%s position=%.4f velocity=%.4f vbus=%.2f\n",
			t.State, t.AxisError, t.Position, t.Velocity, t.VbusVoltage)
		return nil

	case "go-for", "go-to":
		v, err := floats(args, 2)
		if err != nil {
			return err
		}
		if command == "go-for" {
			err = axis.GoFor(ctx, v[0], v[1])
		} else {
			err = axis.GoTo(ctx, v[0], v[1])
		}
		if err != nil {
			return err
		}
		if err := axis.WaitGoal(ctx); err != nil {
			return multierr.Append(err, axis.Stop(context.WithoutCancel(ctx)))
		}
		return nil

	case "set-rpm":
		v, err := floats(args, 1)
		if err != nil {
			return err
		}
		return axis.SetRPM(ctx, v[0])

	case "set-power":
		v, err := floats(args, 1)
		if err != nil {
			return err
		}
		return axis.SetPower(ctx, v[0])

	case "stop":
		return axis.Stop(ctx)

	case "clear":
		return axis.ClearErrors(ctx)

	case "estop":
		return axis.Estop(ctx)

	case "reboot":
		return axis.Reboot(ctx)

	case "set-limits":
		v, err := floats(args, 2)
		if err != nil {
			return err
		}
		return axis.SetLimits(ctx, v[0], v[1])

	case "set-node-id":
		if len(args) != 1 {
			return errors.New("set-node-id takes one argument")
		}
		id, err := strconv.Atoi(args[0])
		if err != nil || id < 0 || id > int(odrive.MaxNodeID) {
			return &odrive.ConfigurationError{Field: "node_id", Reason: fmt.Sprintf("%q is not a node id", args[0])}
		}
		return axis.SetNodeID(ctx, odrive.NodeID(id))

	case "daemon":
		return daemon(ctx, axis, cfg, ctl, logger)
	}
	return fmt.Errorf("unknown command %q", command)
}

func daemon(ctx context.Context, axis *odrive.Axis, cfg *config.Config, ctl *mqcontrol.Controller, logger *slog.Logger) error {
	errs := make(chan error, 2)
	running := 0

	if cfg.Status.Endpoint != "" {
		exp, err := statusexport.Dial(statusexport.Config{
			Endpoint: cfg.Status.Endpoint,
			UnitID:   cfg.Status.UnitID,
			Address:  cfg.Status.Address,
			Period:   cfg.Status.Period,
			Timeout:  cfg.Status.Timeout,
			Logger:   logger,
		}, axis)
		if err != nil {
			return fmt.Errorf("status export: %w", err)
		}
		defer exp.Close()
		running++
		go func() { errs <- exp.Run(ctx) }()
	}

	if ctl != nil {
		running++
		go func() { errs <- ctl.Run(ctx, axis) }()
	}

	logger.Info("daemon running", "node", axis.NodeID(), "amqp", ctl != nil, "status", cfg.Status.Endpoint != "")

	var err error
	if running == 0 {
		<-ctx.Done()
	} else {
		err = <-errs
	}
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return multierr.Append(err, axis.Stop(context.WithoutCancel(ctx)))
}

func floats(args []string, n int) ([]float64, error) {
	if len(args) != n {
		return nil, fmt.Errorf("expected %d arguments, got %d", n, len(args))
	}
	out := make([]float64, n)
	for i, a := range args {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i+1, err)
		}
		out[i] = v
	}
	return out, nil
}
