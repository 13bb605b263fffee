// Package odrivesim simulates an ODrive axis speaking CANSimple on a
// canbus.Bus. It follows state requests, tracks position and velocity
// setpoints, answers remote frames and broadcasts heartbeats and encoder
// estimates.
package odrivesim

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/notnil/odrivecan/canbus"
	"github.com/notnil/odrivecan/odrive"
)

// Config configures a simulated axis.
type Config struct {
	Node odrive.NodeID
	// Period is the cyclic broadcast interval. Zero disables broadcasts.
	Period time.Duration
	// Step is how far the position moves toward a position setpoint each
	// period. Default 0.05 turns.
	Step float64
	// IgnoreStateRequests keeps the axis in its current state.
	IgnoreStateRequests bool
	// TorqueConstant converts torque setpoints to Iq. Default 1.
	TorqueConstant float64
	Vbus           float64
}

// Command is a frame the simulated axis received.
type Command struct {
	Node    odrive.NodeID
	Name    string
	Signals odrive.Signals
	RTR     bool
}

// Sim is a simulated axis.
type Sim struct {
	bus canbus.Bus
	cat *odrive.Catalog
	cfg Config

	mu       sync.Mutex
	node     odrive.NodeID
	state    odrive.AxisState
	axisErr  odrive.AxisError
	mode     odrive.ControlMode
	pos      float64
	vel      float64
	target   float64
	tracking bool
	iq       float64
	received []Command

	wg sync.WaitGroup
}

// New creates a simulated axis in the idle state.
func New(bus canbus.Bus, cfg Config) *Sim {
	if cfg.Step == 0 {
		cfg.Step = 0.05
	}
	if cfg.TorqueConstant == 0 {
		cfg.TorqueConstant = 1
	}
	if cfg.Vbus == 0 {
		cfg.Vbus = 24
	}
	return &Sim{
		bus:   bus,
		cat:   odrive.DefaultCatalog(),
		cfg:   cfg,
		node:  cfg.Node,
		state: odrive.AxisStateIdle,
	}
}

// Start runs the simulation until ctx is done.
func (s *Sim) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.receive(ctx)
	}()
	if s.cfg.Period > 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.broadcast(ctx)
		}()
	}
}

// Wait blocks until the simulation goroutines exit.
func (s *Sim) Wait() { s.wg.Wait() }

func (s *Sim) receive(ctx context.Context) {
	for {
		f, err := s.bus.Receive(ctx)
		if err != nil {
			if errors.Is(err, canbus.ErrClosed) || ctx.Err() != nil {
				return
			}
			continue
		}
		s.handle(ctx, f)
	}
}

func (s *Sim) broadcast(ctx context.Context) {
	t := time.NewTicker(s.cfg.Period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.step()
			_ = s.EmitHeartbeat(ctx)
			_ = s.EmitEstimates(ctx)
			_ = s.emit(ctx, odrive.MsgGetIq)
			_ = s.emit(ctx, odrive.MsgGetVbusVoltage)
		}
	}
}

func (s *Sim) step() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != odrive.AxisStateClosedLoopControl {
		s.vel = 0
		return
	}
	dt := s.cfg.Period.Seconds()
	switch {
	case s.tracking:
		d := s.target - s.pos
		if math.Abs(d) <= s.cfg.Step {
			s.pos = s.target
			s.vel = 0
			s.tracking = false
			return
		}
		step := math.Copysign(s.cfg.Step, d)
		s.pos += step
		s.vel = step / dt
	case s.mode == odrive.ControlModeVelocity:
		s.pos += s.vel * dt
	}
}

func (s *Sim) handle(ctx context.Context, f canbus.Frame) {
	node, cmd, err := odrive.SplitArbitrationID(f.ID)
	if err != nil || f.Extended {
		return
	}
	s.mu.Lock()
	mine := node == s.node
	s.mu.Unlock()
	if !mine {
		return
	}
	m, ok := s.cat.MessageByID(cmd)
	if !ok {
		return
	}
	if f.RTR {
		s.record(Command{Node: node, Name: m.Name, RTR: true})
		_ = s.emit(ctx, m.Name)
		return
	}
	_, v, err := s.cat.Decode(f.ID, f.Payload())
	if err != nil {
		return
	}
	s.record(Command{Node: node, Name: m.Name, Signals: v})

	var heartbeat bool
	s.mu.Lock()
	switch m.Name {
	case odrive.MsgSetAxisState:
		req := odrive.AxisState(v["Axis_Requested_State"])
		if !s.cfg.IgnoreStateRequests && req != s.state {
			s.state = req
			heartbeat = true
			if req == odrive.AxisStateIdle {
				s.tracking = false
				s.vel = 0
				s.iq = 0
			}
		}
	case odrive.MsgSetControllerMode:
		s.mode = odrive.ControlMode(v["Control_Mode"])
	case odrive.MsgSetInputPos:
		s.target = v["Input_Pos"]
		s.tracking = true
	case odrive.MsgSetInputVel:
		s.vel = v["Input_Vel"]
		s.tracking = false
	case odrive.MsgSetInputTorque:
		s.iq = v["Input_Torque"] / s.cfg.TorqueConstant
	case odrive.MsgSetAxisNodeID:
		s.node = odrive.NodeID(v["Axis_Node_ID"])
	case odrive.MsgClearErrors:
		s.axisErr = 0
	case odrive.MsgEstop:
		s.axisErr |= odrive.AxisErrorEstopRequested
		s.state = odrive.AxisStateIdle
		heartbeat = true
	}
	s.mu.Unlock()
	if heartbeat {
		_ = s.EmitHeartbeat(ctx)
	}
}

func (s *Sim) record(c Command) {
	s.mu.Lock()
	s.received = append(s.received, c)
	s.mu.Unlock()
}

func (s *Sim) values(name string) odrive.Signals {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch name {
	case odrive.MsgHeartbeat:
		done := 0.0
		if !s.tracking {
			done = 1
		}
		return odrive.Signals{
			"Axis_Error":            float64(s.axisErr),
			"Axis_State":            float64(s.state),
			"Motor_Error_Flag":      0,
			"Encoder_Error_Flag":    0,
			"Controller_Error_Flag": 0,
			"Trajectory_Done_Flag":  done,
		}
	case odrive.MsgGetEncoderEstimates:
		return odrive.Signals{"Pos_Estimate": s.pos, "Vel_Estimate": s.vel}
	case odrive.MsgGetIq:
		return odrive.Signals{"Iq_Setpoint": s.iq, "Iq_Measured": s.iq}
	case odrive.MsgGetVbusVoltage:
		return odrive.Signals{"Vbus_Voltage": s.cfg.Vbus}
	case odrive.MsgGetMotorError:
		return odrive.Signals{"Motor_Error": 0}
	case odrive.MsgGetEncoderError:
		return odrive.Signals{"Encoder_Error": 0}
	}
	return nil
}

func (s *Sim) emit(ctx context.Context, name string) error {
	v := s.values(name)
	if v == nil {
		return nil
	}
	f, err := s.cat.Encode(name, v)
	if err != nil {
		return err
	}
	f.ID = odrive.ArbitrationID(s.Node(), odrive.CmdID(f.ID))
	return s.bus.Send(ctx, f)
}

// EmitHeartbeat sends one heartbeat with the current state and error.
func (s *Sim) EmitHeartbeat(ctx context.Context) error { return s.emit(ctx, odrive.MsgHeartbeat) }

// EmitEstimates sends one encoder estimate frame.
func (s *Sim) EmitEstimates(ctx context.Context) error {
	return s.emit(ctx, odrive.MsgGetEncoderEstimates)
}

// SetPosition overrides the position estimate.
func (s *Sim) SetPosition(p float64) {
	s.mu.Lock()
	s.pos = p
	s.mu.Unlock()
}

// SetError sets the axis error reported in heartbeats.
func (s *Sim) SetError(e odrive.AxisError) {
	s.mu.Lock()
	s.axisErr = e
	s.mu.Unlock()
}

// Node returns the node id the simulated axis answers to.
func (s *Sim) Node() odrive.NodeID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.node
}

// State returns the simulated axis state.
func (s *Sim) State() odrive.AxisState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Position returns the simulated position estimate.
func (s *Sim) Position() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

// Received returns every command received so far.
func (s *Sim) Received() []Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Command(nil), s.received...)
}

// ReceivedNamed returns the received commands with the given message name.
func (s *Sim) ReceivedNamed(name string) []Command {
	var out []Command
	for _, c := range s.Received() {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}
