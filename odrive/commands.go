package odrive

import (
	"context"
	"fmt"
	"math"

	"github.com/notnil/odrivecan/canbus"
)

const secondsPerMinute = 60.0

// Reconfig holds the values Reconfigure can change at runtime.
type Reconfig struct {
	NodeID  *NodeID // nil keeps the current node id
	Bitrate uint32  // 0 keeps the current bitrate
}

// send encodes the named message for the current node and sends it. Failures
// are logged and returned.
func (a *Axis) send(ctx context.Context, name string, values Signals) error {
	return a.sendTo(ctx, a.NodeID(), name, values)
}

func (a *Axis) sendTo(ctx context.Context, node NodeID, name string, values Signals) error {
	if a.closed.Load() {
		return ErrClosed
	}
	f, err := a.cat.Encode(name, values)
	if err != nil {
		a.log.Error("cannot encode message", "node", node, "message", name, "error", err)
		return err
	}
	f.ID = ArbitrationID(node, CmdID(f.ID))
	if err := a.bus.Send(ctx, f); err != nil {
		te := &TransportError{Op: name, Node: node, Err: err}
		a.log.Error("message not sent, verify the CAN link is working",
			"node", node,
			"message", name,
			"error", err,
			"hint", canbus.BringUpHint(a.cfg.Interface, a.Bitrate()),
		)
		return te
	}
	return nil
}

func (a *Axis) setControllerMode(ctx context.Context, cm ControlMode, im InputMode) error {
	return a.send(ctx, MsgSetControllerMode, Signals{
		"Control_Mode": float64(cm),
		"Input_Mode":   float64(im),
	})
}

func (a *Axis) rejectSmall(op, what string, v float64) error {
	if math.Abs(v) < minMagnitude {
		a.log.Error("cannot move motor at a magnitude that is nearly 0", "node", a.NodeID(), "op", op, what, v)
		return fmt.Errorf("%w: %s %s=%v", ErrInputTooSmall, op, what, v)
	}
	return nil
}

// SetPower drives the motor in torque control at the given fraction of the
// current limit. power is clamped to [-1, 1].
func (a *Axis) SetPower(ctx context.Context, power float64) error {
	if err := a.rejectSmall("set_power", "power", power); err != nil {
		return err
	}
	if power > 1 || power < -1 {
		a.log.Warn("power out of range, clamping", "node", a.NodeID(), "power", power)
		power = math.Max(-1, math.Min(1, power))
	}
	torque := power * a.cfg.CurrentLimit * a.cfg.TorqueConstant
	if err := a.requestState(ctx, AxisStateClosedLoopControl); err != nil {
		return err
	}
	if err := a.setControllerMode(ctx, ControlModeTorque, InputModePassthrough); err != nil {
		return err
	}
	return a.send(ctx, MsgSetInputTorque, Signals{"Input_Torque": torque})
}

// GoFor moves the given number of revolutions at rpm using the trapezoidal
// trajectory planner. The sign of rpm sets the direction. The goal watcher
// stops the axis once the target is reached.
func (a *Axis) GoFor(ctx context.Context, rpm, revolutions float64) error {
	if err := a.rejectSmall("go_for", "rpm", rpm); err != nil {
		return err
	}
	rps := rpm / secondsPerMinute
	if err := a.setControllerMode(ctx, ControlModePosition, InputModeTrapTraj); err != nil {
		return err
	}
	if err := a.send(ctx, MsgSetTrajVelLimit, Signals{"Traj_Vel_Limit": math.Abs(rps)}); err != nil {
		return err
	}
	if err := a.requestState(ctx, AxisStateClosedLoopControl); err != nil {
		return err
	}
	current, err := a.GetPosition(ctx)
	if err != nil {
		return err
	}
	goal := current + math.Copysign(revolutions, rpm) + a.Offset()
	if err := a.send(ctx, MsgSetInputPos, Signals{
		"Input_Pos": goal,
		"Vel_FF":    0,
		"Torque_FF": 0,
	}); err != nil {
		return err
	}
	a.setGoal(goal)
	return nil
}

// GoTo moves to an absolute position, in turns relative to the zero offset.
func (a *Axis) GoTo(ctx context.Context, rpm, position float64) error {
	current, err := a.GetPosition(ctx)
	if err != nil {
		return err
	}
	delta := position - current
	if math.Abs(delta) <= positionTolerance {
		a.log.Info("already at requested position", "node", a.NodeID(), "position", current)
		return nil
	}
	return a.GoFor(ctx, rpm, delta)
}

// SetRPM spins the motor in velocity control.
func (a *Axis) SetRPM(ctx context.Context, rpm float64) error {
	if err := a.rejectSmall("set_rpm", "rpm", rpm); err != nil {
		return err
	}
	rps := rpm / secondsPerMinute
	if err := a.setControllerMode(ctx, ControlModeVelocity, InputModePassthrough); err != nil {
		return err
	}
	if err := a.requestState(ctx, AxisStateClosedLoopControl); err != nil {
		return err
	}
	return a.send(ctx, MsgSetInputVel, Signals{"Input_Vel": rps, "Input_Torque_FF": 0})
}

// ResetZeroPosition adds the current reported position to the offset.
// Repeated calls accumulate.
func (a *Axis) ResetZeroPosition(ctx context.Context) error {
	pos, err := a.GetPosition(ctx)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.offset += pos
	off := a.offset
	a.mu.Unlock()
	a.log.Debug("zero position reset", "node", a.NodeID(), "offset", off)
	return nil
}

// Stop requests the idle state without waiting for it and drops any active
// goal.
func (a *Axis) Stop(ctx context.Context) error {
	a.mu.Lock()
	a.goal.Active = false
	a.mu.Unlock()
	return a.idle(ctx)
}

func (a *Axis) idle(ctx context.Context) error {
	return a.send(ctx, MsgSetAxisState, Signals{"Axis_Requested_State": float64(AxisStateIdle)})
}

// ClearErrors clears the device error state.
func (a *Axis) ClearErrors(ctx context.Context) error {
	return a.send(ctx, MsgClearErrors, nil)
}

// Estop latches the device emergency stop.
func (a *Axis) Estop(ctx context.Context) error {
	a.mu.Lock()
	a.goal.Active = false
	a.mu.Unlock()
	return a.send(ctx, MsgEstop, nil)
}

// Reboot restarts the controller.
func (a *Axis) Reboot(ctx context.Context) error {
	return a.send(ctx, MsgReboot, nil)
}

// SetLimits sets the controller velocity (turns/s) and current (A) limits.
func (a *Axis) SetLimits(ctx context.Context, velocity, current float64) error {
	return a.send(ctx, MsgSetLimits, Signals{"Velocity_Limit": velocity, "Current_Limit": current})
}

// SetNodeID moves the device to node id and switches all further traffic,
// including the monitors' filters, to it.
func (a *Axis) SetNodeID(ctx context.Context, id NodeID) error {
	if err := id.Validate(); err != nil {
		a.log.Error("invalid node id", "node", a.NodeID(), "new_node", id, "error", err)
		return &ConfigurationError{Field: "node_id", Reason: err.Error()}
	}
	old := a.NodeID()
	if err := a.sendTo(ctx, old, MsgSetAxisNodeID, Signals{"Axis_Node_ID": float64(id)}); err != nil {
		return err
	}
	a.node.Store(uint32(id))
	a.log.Info("node id changed", "node", id, "old_node", old)
	return nil
}

// Reconfigure applies a new bitrate and node id. Zero fields are left as they
// are. A bitrate change is only
// logged; the link has to be brought up again by the operator.
func (a *Axis) Reconfigure(ctx context.Context, rc Reconfig) error {
	if rc.Bitrate != 0 {
		a.mu.Lock()
		changed := rc.Bitrate != a.bitrate
		a.bitrate = rc.Bitrate
		a.mu.Unlock()
		if changed {
			a.log.Info("bitrate changed, bring the CAN link up again",
				"bitrate", rc.Bitrate,
				"hint", canbus.BringUpHint(a.cfg.Interface, rc.Bitrate),
			)
		}
	}
	if rc.NodeID != nil && *rc.NodeID != a.NodeID() {
		return a.SetNodeID(ctx, *rc.NodeID)
	}
	return nil
}
