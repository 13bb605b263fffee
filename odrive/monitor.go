package odrive

import (
	"context"
	"math"
	"time"

	"github.com/notnil/odrivecan/canbus"
)

// latest keeps the newest frame seen since the last tick.
type latest struct {
	f  canbus.Frame
	ok bool
}

func (l *latest) put(f canbus.Frame) { l.f, l.ok = f, true }

func (l *latest) take() (canbus.Frame, bool) {
	f, ok := l.f, l.ok
	l.ok = false
	return f, ok
}

// surfaceErrors stops the axis, logs the fault and clears it whenever a
// heartbeat since the previous tick carried a nonzero axis error.
func (a *Axis) surfaceErrors(ctx context.Context, frames <-chan canbus.Frame) {
	ticker := time.NewTicker(a.cfg.ErrorPeriod)
	defer ticker.Stop()

	var last latest
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			last.put(f)
		case <-ticker.C:
			f, ok := last.take()
			if !ok {
				continue
			}
			hb, err := a.cat.DecodeFrame(MsgHeartbeat, f)
			if err != nil {
				continue
			}
			code := AxisError(hb["Axis_Error"])
			if code == 0 {
				continue
			}
			fault := DeviceFault{Node: a.NodeID(), Code: code, State: AxisState(hb["Axis_State"])}
			_ = a.Stop(ctx)
			a.log.Error("axis fault", "node", fault.Node, "error", fault.Code.String(), "state", fault.State.String())
			_ = a.ClearErrors(ctx)
			if a.cfg.Events.OnFault != nil {
				a.cfg.Events.OnFault(fault)
			}
		}
	}
}

// watchGoal stops the axis once the position estimate is within tolerance of
// the active goal.
func (a *Axis) watchGoal(ctx context.Context, frames <-chan canbus.Frame) {
	ticker := time.NewTicker(a.cfg.GoalPeriod)
	defer ticker.Stop()

	var last latest
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			last.put(f)
		case <-ticker.C:
			goal := a.Goal()
			f, ok := last.take()
			if !goal.Active {
				continue
			}
			if !ok {
				a.requestEstimates(ctx)
				continue
			}
			est, err := a.cat.DecodeFrame(MsgGetEncoderEstimates, f)
			if err != nil {
				continue
			}
			pos := est["Pos_Estimate"]
			if math.Abs(pos-goal.Target) >= positionTolerance {
				continue
			}
			if !a.clearGoal(goal.Target) {
				continue
			}
			_ = a.idle(ctx)
			a.log.Info("goal reached", "node", a.NodeID(), "target", goal.Target, "position", pos)
			if a.cfg.Events.OnGoalReached != nil {
				a.cfg.Events.OnGoalReached(a.NodeID(), goal, pos-a.Offset())
			}
		}
	}
}

// requestEstimates asks for an encoder estimate when cyclic broadcasts are
// not relied on.
func (a *Axis) requestEstimates(ctx context.Context) {
	if !a.cfg.RequestTelemetry {
		return
	}
	node := a.NodeID()
	rtr := canbus.Frame{ID: ArbitrationID(node, CmdGetEncoderEstimates), RTR: true, Len: 8}
	if err := a.bus.Send(ctx, rtr); err != nil {
		a.log.Debug("estimate request not sent", "node", node, "error", err)
	}
}
