package odrive

import (
	"context"
	"fmt"
	"math"

	"github.com/notnil/odrivecan/canbus"
)

// await returns the next frame of the named message from this node. When
// RequestTelemetry is set and request is true, a remote frame asks the device
// for it first. The wait is bounded by ctx and QueryTimeout.
func (a *Axis) await(ctx context.Context, name string, request bool) (Signals, error) {
	if a.closed.Load() {
		return nil, ErrClosed
	}
	m, ok := a.cat.Message(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, name)
	}
	if a.cfg.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.QueryTimeout)
		defer cancel()
	}

	frames, cancel := a.mux.Subscribe(a.ownFrame(m.ID), 1)
	defer cancel()

	if request && a.cfg.RequestTelemetry {
		node := a.NodeID()
		rtr := canbus.Frame{ID: ArbitrationID(node, m.ID), RTR: true, Len: m.Length}
		if err := a.bus.Send(ctx, rtr); err != nil {
			return nil, &TransportError{Op: name, Node: node, Err: err}
		}
	}

	select {
	case f, ok := <-frames:
		if !ok {
			return nil, ErrClosed
		}
		return a.cat.DecodeFrame(name, f)
	case <-ctx.Done():
		return nil, fmt.Errorf("odrive: waiting for %s from node %d: %w", name, a.NodeID(), ctx.Err())
	}
}

// rawPosition is the device position estimate without the zero offset.
func (a *Axis) rawPosition(ctx context.Context) (float64, float64, error) {
	v, err := a.await(ctx, MsgGetEncoderEstimates, true)
	if err != nil {
		return 0, 0, err
	}
	return v["Pos_Estimate"], v["Vel_Estimate"], nil
}

// GetPosition returns the position estimate in turns minus the zero offset.
// On failure it logs and returns 0 with the error.
func (a *Axis) GetPosition(ctx context.Context) (float64, error) {
	pos, _, err := a.rawPosition(ctx)
	if err != nil {
		a.log.Error("position estimates not received, check that the CAN link is configured correctly",
			"node", a.NodeID(), "interface", a.cfg.Interface, "error", err)
		return 0, err
	}
	return pos - a.Offset(), nil
}

// IsMoving reports whether the next velocity estimate is nonzero.
func (a *Axis) IsMoving(ctx context.Context) (bool, error) {
	_, vel, err := a.rawPosition(ctx)
	if err != nil {
		a.log.Error("velocity estimates not received", "node", a.NodeID(), "error", err)
		return false, err
	}
	return math.Abs(vel) > 0, nil
}

// IsPowered reports whether the axis is in a driving state and, if so, the
// Iq setpoint as a fraction of the current limit.
func (a *Axis) IsPowered(ctx context.Context) (bool, float64, error) {
	hb, err := a.await(ctx, MsgHeartbeat, false)
	if err != nil {
		a.log.Error("heartbeat not received", "node", a.NodeID(), "error", err)
		return false, 0, err
	}
	if !AxisState(hb["Axis_State"]).Powered() {
		return false, 0, nil
	}
	iq, err := a.await(ctx, MsgGetIq, true)
	if err != nil {
		a.log.Error("current readings not received", "node", a.NodeID(), "error", err)
		return false, 0, err
	}
	return true, iq["Iq_Setpoint"] / a.cfg.CurrentLimit, nil
}

// BusVoltage returns the DC bus voltage.
func (a *Axis) BusVoltage(ctx context.Context) (float64, error) {
	v, err := a.await(ctx, MsgGetVbusVoltage, true)
	if err != nil {
		a.log.Error("bus voltage not received", "node", a.NodeID(), "error", err)
		return 0, err
	}
	return v["Vbus_Voltage"], nil
}
