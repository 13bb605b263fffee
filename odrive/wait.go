package odrive

import (
	"context"
	"fmt"
	"time"
)

// requestState asks for target and waits for a heartbeat reporting it.
//
// The heartbeat subscription is taken before the request goes out so a fast
// reply cannot be missed. If StateTimeout passes first the axis is sent to
// idle once and ErrStateTimeout is returned. Cancelling ctx returns its error
// and leaves the axis alone.
func (a *Axis) requestState(ctx context.Context, target AxisState) error {
	frames, cancel := a.mux.Subscribe(a.ownFrame(CmdHeartbeat), 8)
	defer cancel()

	if err := a.send(ctx, MsgSetAxisState, Signals{"Axis_Requested_State": float64(target)}); err != nil {
		return err
	}

	timer := time.NewTimer(a.cfg.StateTimeout)
	defer timer.Stop()
	for {
		select {
		case f, ok := <-frames:
			if !ok {
				return ErrClosed
			}
			hb, err := a.cat.DecodeFrame(MsgHeartbeat, f)
			if err != nil {
				a.log.Debug("bad heartbeat", "node", a.NodeID(), "error", err)
				continue
			}
			if AxisState(hb["Axis_State"]) == target {
				return nil
			}
		case <-timer.C:
			a.log.Error("unable to set requested state, setting to idle",
				"node", a.NodeID(),
				"state", target,
				"timeout", a.cfg.StateTimeout,
			)
			if err := a.idle(ctx); err != nil {
				return fmt.Errorf("%w: %s (idle not sent: %v)", ErrStateTimeout, target, err)
			}
			return fmt.Errorf("%w: %s", ErrStateTimeout, target)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
