package odrive

import (
	"context"
	"time"

	"github.com/notnil/odrivecan/canbus"
	"github.com/notnil/odrivecan/internal/syncutil"
)

// Telemetry is the last cyclic data seen from the axis. It is meant for status
// reporting; commands never act on it.
type Telemetry struct {
	State       AxisState
	AxisError   AxisError
	Heartbeat   time.Time // zero until the first heartbeat
	Position    float64   // turns, zero offset applied
	Velocity    float64   // turns/s
	Estimate    time.Time
	IqSetpoint  float64
	IqMeasured  float64
	VbusVoltage float64
}

type telemetry struct {
	mu   syncutil.RWMutex
	snap Telemetry
	raw  float64
}

// Telemetry returns a copy of the latest telemetry.
func (a *Axis) Telemetry() Telemetry {
	a.tele.mu.RLock()
	t := a.tele.snap
	raw := a.tele.raw
	a.tele.mu.RUnlock()
	t.Position = raw - a.Offset()
	return t
}

// telemetryFrame matches the cyclic frames kept in the snapshot.
func (a *Axis) telemetryFrame() canbus.FrameFilter {
	return canbus.And(canbus.StandardOnly(), canbus.DataOnly(), func(f canbus.Frame) bool {
		node, cmd, err := SplitArbitrationID(f.ID)
		if err != nil || node != a.NodeID() {
			return false
		}
		switch cmd {
		case CmdHeartbeat, CmdGetEncoderEstimates, CmdGetIq, CmdGetVbusVoltage:
			return true
		}
		return false
	})
}

func (a *Axis) watchTelemetry(ctx context.Context, frames <-chan canbus.Frame) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			a.recordTelemetry(f, time.Now())
		}
	}
}

func (a *Axis) recordTelemetry(f canbus.Frame, now time.Time) {
	m, v, err := a.cat.Decode(f.ID, f.Payload())
	if err != nil {
		return
	}
	a.tele.mu.Lock()
	defer a.tele.mu.Unlock()
	s := &a.tele.snap
	switch m.Name {
	case MsgHeartbeat:
		s.State = AxisState(v["Axis_State"])
		s.AxisError = AxisError(v["Axis_Error"])
		s.Heartbeat = now
	case MsgGetEncoderEstimates:
		a.tele.raw = v["Pos_Estimate"]
		s.Velocity = v["Vel_Estimate"]
		s.Estimate = now
	case MsgGetIq:
		s.IqSetpoint = v["Iq_Setpoint"]
		s.IqMeasured = v["Iq_Measured"]
	case MsgGetVbusVoltage:
		s.VbusVoltage = v["Vbus_Voltage"]
	}
}
