package odrive

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/notnil/odrivecan/canbus"
	"github.com/notnil/odrivecan/internal/syncutil"
)

// Defaults applied by New for zero Config fields.
const (
	DefaultTorqueConstant = 1.0
	DefaultCurrentLimit   = 10.0
	DefaultBitrate        = 250000
	DefaultStateTimeout   = 60 * time.Second
	DefaultQueryTimeout   = 5 * time.Second
	DefaultErrorPeriod    = time.Second
	DefaultGoalPeriod     = 500 * time.Millisecond
)

const (
	// minMagnitude is the smallest |power| or |rpm| that is acted on.
	minMagnitude = 0.001
	// positionTolerance is the distance in turns at which a move counts as
	// done.
	positionTolerance = 0.01
)

// Config configures an Axis.
type Config struct {
	NodeID NodeID
	// TorqueConstant and CurrentLimit scale SetPower. Zero means default.
	TorqueConstant float64
	CurrentLimit   float64

	// Interface and Bitrate only feed log hints; the link is never configured.
	Interface string
	Bitrate   uint32

	// Catalog defaults to DefaultCatalog().
	Catalog *Catalog

	StateTimeout time.Duration
	QueryTimeout time.Duration // negative disables the bound
	ErrorPeriod  time.Duration
	GoalPeriod   time.Duration

	// RequestTelemetry makes queries send a remote frame for the wanted
	// message instead of waiting for the cyclic broadcast.
	RequestTelemetry bool

	Logger *slog.Logger
	Events Events
}

// Events are optional callbacks invoked from the monitor goroutines.
type Events struct {
	OnFault       func(DeviceFault)
	OnGoalReached func(node NodeID, g Goal, position float64)
}

// Goal is the target of the last position move, in device turns.
type Goal struct {
	Target float64
	Active bool
}

// Properties describes what the axis can report.
type Properties struct {
	PositionReporting bool
}

// Axis drives one ODrive axis on a shared bus.
type Axis struct {
	bus canbus.Bus
	mux *canbus.Mux
	cat *Catalog
	cfg Config
	log *slog.Logger

	node atomic.Uint32

	mu      syncutil.Mutex
	offset  float64
	goal    Goal
	bitrate uint32

	tele telemetry

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closed    atomic.Bool
	closeOnce sync.Once
}

// New creates an axis on bus and starts the error surfacer and goal watcher.
// The Axis reads bus exclusively until Close; sends may still be shared.
func New(bus canbus.Bus, cfg Config) (*Axis, error) {
	if err := cfg.NodeID.Validate(); err != nil {
		return nil, &ConfigurationError{Field: "node_id", Reason: err.Error()}
	}
	if cfg.TorqueConstant == 0 {
		cfg.TorqueConstant = DefaultTorqueConstant
	}
	if cfg.CurrentLimit == 0 {
		cfg.CurrentLimit = DefaultCurrentLimit
	}
	if cfg.CurrentLimit < 0 {
		return nil, &ConfigurationError{Field: "current_limit", Reason: "must be positive"}
	}
	if cfg.Bitrate == 0 {
		cfg.Bitrate = DefaultBitrate
	}
	if cfg.Interface == "" {
		cfg.Interface = "can0"
	}
	if cfg.Catalog == nil {
		cfg.Catalog = DefaultCatalog()
	}
	if cfg.StateTimeout <= 0 {
		cfg.StateTimeout = DefaultStateTimeout
	}
	if cfg.QueryTimeout == 0 {
		cfg.QueryTimeout = DefaultQueryTimeout
	}
	if cfg.ErrorPeriod <= 0 {
		cfg.ErrorPeriod = DefaultErrorPeriod
	}
	if cfg.GoalPeriod <= 0 {
		cfg.GoalPeriod = DefaultGoalPeriod
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &Axis{
		bus:     bus,
		mux:     canbus.NewMux(bus),
		cat:     cfg.Catalog,
		cfg:     cfg,
		log:     cfg.Logger,
		bitrate: cfg.Bitrate,
		ctx:     ctx,
		cancel:  cancel,
	}
	a.node.Store(uint32(cfg.NodeID))

	a.log.Info("odrive axis ready; the CAN link must already be up",
		"node", cfg.NodeID,
		"bitrate", cfg.Bitrate,
		"hint", canbus.BringUpHint(cfg.Interface, cfg.Bitrate),
	)

	// The monitors are subscribed before New returns.
	a.start(a.telemetryFrame(), 32, a.watchTelemetry)
	a.start(a.ownFrame(CmdHeartbeat), 16, a.surfaceErrors)
	a.start(a.ownFrame(CmdGetEncoderEstimates), 16, a.watchGoal)
	return a, nil
}

func (a *Axis) start(filter canbus.FrameFilter, buffer int, loop func(context.Context, <-chan canbus.Frame)) {
	frames, cancel := a.mux.Subscribe(filter, buffer)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer cancel()
		loop(a.ctx, frames)
	}()
}

// Close stops the monitors, waits for them and releases the bus reader. It
// does not close the bus.
func (a *Axis) Close() error {
	var err error
	a.closeOnce.Do(func() {
		a.closed.Store(true)
		a.cancel()
		a.wg.Wait()
		err = a.mux.Close()
	})
	return err
}

// NodeID returns the node id currently in effect.
func (a *Axis) NodeID() NodeID { return NodeID(a.node.Load()) }

// Properties reports the axis capabilities.
func (a *Axis) Properties() Properties { return Properties{PositionReporting: true} }

// Offset returns the accumulated zero-position correction.
func (a *Axis) Offset() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.offset
}

// Goal returns the current position goal.
func (a *Axis) Goal() Goal {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.goal
}

// Bitrate returns the bitrate last applied by New or Reconfigure.
func (a *Axis) Bitrate() uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.bitrate
}

// WaitGoal blocks until no position goal is active.
func (a *Axis) WaitGoal(ctx context.Context) error {
	t := time.NewTicker(a.cfg.GoalPeriod)
	defer t.Stop()
	for {
		if !a.Goal().Active {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-a.ctx.Done():
			return ErrClosed
		case <-t.C:
		}
	}
}

func (a *Axis) setGoal(target float64) {
	a.mu.Lock()
	a.goal = Goal{Target: target, Active: true}
	a.mu.Unlock()
}

// clearGoal deactivates the goal if it still targets target.
func (a *Axis) clearGoal(target float64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.goal.Active || a.goal.Target != target {
		return false
	}
	a.goal.Active = false
	return true
}

// ownFrame builds a filter for cmd frames addressed by the current node id.
func (a *Axis) ownFrame(cmd CmdID) canbus.FrameFilter {
	return canbus.And(
		canbus.StandardOnly(),
		canbus.DataOnly(),
		canbus.ByIDFunc(func() uint32 { return ArbitrationID(a.NodeID(), cmd) }),
	)
}
