package odrive_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notnil/odrivecan/canbus"
	"github.com/notnil/odrivecan/internal/odrivesim"
	"github.com/notnil/odrivecan/odrive"
)

type rig struct {
	bus  *canbus.LoopbackBus
	sim  *odrivesim.Sim
	axis *odrive.Axis
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRig(t *testing.T, simCfg odrivesim.Config, cfg odrive.Config) *rig {
	t.Helper()
	bus := canbus.NewLoopbackBus()
	ctx, cancel := context.WithCancel(context.Background())

	sim := odrivesim.New(bus.Open(), simCfg)
	sim.Start(ctx)

	if cfg.Logger == nil {
		cfg.Logger = quietLogger()
	}
	if cfg.ErrorPeriod == 0 {
		cfg.ErrorPeriod = 50 * time.Millisecond
	}
	if cfg.GoalPeriod == 0 {
		cfg.GoalPeriod = 20 * time.Millisecond
	}
	if cfg.QueryTimeout == 0 {
		cfg.QueryTimeout = time.Second
	}
	if cfg.StateTimeout == 0 {
		cfg.StateTimeout = time.Second
	}
	axis, err := odrive.New(bus.Open(), cfg)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = axis.Close()
		cancel()
		_ = bus.Close()
		sim.Wait()
	})
	return &rig{bus: bus, sim: sim, axis: axis}
}

func idleRequests(cmds []odrivesim.Command) int {
	n := 0
	for _, c := range cmds {
		if c.Name == odrive.MsgSetAxisState && odrive.AxisState(c.Signals["Axis_Requested_State"]) == odrive.AxisStateIdle {
			n++
		}
	}
	return n
}

func TestGoForCompletesGoal(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var reached []odrive.Goal
	r := newRig(t,
		odrivesim.Config{Period: 10 * time.Millisecond, Step: 0.05},
		odrive.Config{Events: odrive.Events{OnGoalReached: func(_ odrive.NodeID, g odrive.Goal, _ float64) {
			mu.Lock()
			reached = append(reached, g)
			mu.Unlock()
		}}},
	)
	ctx := context.Background()

	require.NoError(t, r.axis.GoFor(ctx, 10, 1))
	g := r.axis.Goal()
	assert.True(t, g.Active)
	assert.InDelta(t, 1.0, g.Target, 1e-6)

	modes := r.sim.ReceivedNamed(odrive.MsgSetControllerMode)
	require.Len(t, modes, 1)
	assert.Equal(t, float64(odrive.ControlModePosition), modes[0].Signals["Control_Mode"])
	assert.Equal(t, float64(odrive.InputModeTrapTraj), modes[0].Signals["Input_Mode"])
	lim := r.sim.ReceivedNamed(odrive.MsgSetTrajVelLimit)
	require.Len(t, lim, 1)
	assert.InDelta(t, 10.0/60, lim[0].Signals["Traj_Vel_Limit"], 1e-6)

	waitCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	require.NoError(t, r.axis.WaitGoal(waitCtx))
	assert.False(t, r.axis.Goal().Active)
	assert.InDelta(t, 1.0, r.sim.Position(), 0.01)
	require.Eventually(t, func() bool { return r.sim.State() == odrive.AxisStateIdle }, time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(reached) > 0
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, reached, 1)
	assert.InDelta(t, 1.0, reached[0].Target, 1e-6)
}

func TestGoForNegativeRPMReversesDirection(t *testing.T) {
	t.Parallel()

	r := newRig(t, odrivesim.Config{Period: 10 * time.Millisecond}, odrive.Config{})
	r.sim.SetPosition(2)
	require.Eventually(t, func() bool { return r.axis.Telemetry().Position == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, r.axis.GoFor(context.Background(), -30, 0.5))
	assert.InDelta(t, 1.5, r.axis.Goal().Target, 1e-6)
}

func TestGoToSkipsWhenAtTarget(t *testing.T) {
	t.Parallel()

	r := newRig(t, odrivesim.Config{Period: 10 * time.Millisecond}, odrive.Config{})
	r.sim.SetPosition(1)
	require.Eventually(t, func() bool { return r.axis.Telemetry().Position == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, r.axis.GoTo(context.Background(), 10, 1.005))
	assert.False(t, r.axis.Goal().Active)
	assert.Empty(t, r.sim.ReceivedNamed(odrive.MsgSetInputPos))

	require.NoError(t, r.axis.GoTo(context.Background(), 10, 3))
	var pos []odrivesim.Command
	require.Eventually(t, func() bool {
		pos = r.sim.ReceivedNamed(odrive.MsgSetInputPos)
		return len(pos) == 1
	}, time.Second, 5*time.Millisecond)
	assert.InDelta(t, 3.0, pos[0].Signals["Input_Pos"], 1e-6)
}

func TestResetZeroPositionAccumulates(t *testing.T) {
	t.Parallel()

	r := newRig(t, odrivesim.Config{Period: 10 * time.Millisecond}, odrive.Config{})
	ctx := context.Background()

	r.sim.SetPosition(2)
	require.Eventually(t, func() bool { return r.axis.Telemetry().Position == 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, r.axis.ResetZeroPosition(ctx))
	assert.Equal(t, 2.0, r.axis.Offset())

	// Reported position 3.0 with the offset applied.
	r.sim.SetPosition(5)
	require.Eventually(t, func() bool { return r.axis.Telemetry().Position == 3 }, time.Second, 5*time.Millisecond)
	require.NoError(t, r.axis.ResetZeroPosition(ctx))
	assert.Equal(t, 5.0, r.axis.Offset())

	pos, err := r.axis.GetPosition(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0.0, pos)
}

func TestLowMagnitudeSendsNothing(t *testing.T) {
	t.Parallel()

	r := newRig(t, odrivesim.Config{}, odrive.Config{})
	ctx := context.Background()

	assert.ErrorIs(t, r.axis.SetPower(ctx, 0.0005), odrive.ErrInputTooSmall)
	assert.ErrorIs(t, r.axis.SetRPM(ctx, 0.0005), odrive.ErrInputTooSmall)
	assert.ErrorIs(t, r.axis.GoFor(ctx, -0.0001, 3), odrive.ErrInputTooSmall)

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, r.sim.Received())
}

func TestStateTimeoutForcesIdleOnce(t *testing.T) {
	t.Parallel()

	r := newRig(t,
		odrivesim.Config{Period: 10 * time.Millisecond, IgnoreStateRequests: true},
		odrive.Config{StateTimeout: 100 * time.Millisecond},
	)

	start := time.Now()
	err := r.axis.SetRPM(context.Background(), 60)
	assert.ErrorIs(t, err, odrive.ErrStateTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	states := r.sim.ReceivedNamed(odrive.MsgSetAxisState)
	require.Len(t, states, 2)
	assert.Equal(t, float64(odrive.AxisStateClosedLoopControl), states[0].Signals["Axis_Requested_State"])
	assert.Equal(t, 1, idleRequests(states))
	assert.Empty(t, r.sim.ReceivedNamed(odrive.MsgSetInputVel))
}

func TestStateWaitHonorsContext(t *testing.T) {
	t.Parallel()

	r := newRig(t,
		odrivesim.Config{IgnoreStateRequests: true},
		odrive.Config{StateTimeout: time.Minute},
	)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := r.axis.SetPower(ctx, 0.5)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, idleRequests(r.sim.Received()))
}

func TestFaultStopsAndClearsOnce(t *testing.T) {
	t.Parallel()

	faults := make(chan odrive.DeviceFault, 4)
	r := newRig(t, odrivesim.Config{}, odrive.Config{
		ErrorPeriod: 50 * time.Millisecond,
		Events:      odrive.Events{OnFault: func(f odrive.DeviceFault) { faults <- f }},
	})

	r.sim.SetError(odrive.AxisErrorInvalidState)
	require.NoError(t, r.sim.EmitHeartbeat(context.Background()))

	select {
	case f := <-faults:
		assert.Equal(t, odrive.AxisErrorInvalidState, f.Code)
		assert.Equal(t, odrive.NodeID(0), f.Node)
	case <-time.After(time.Second):
		t.Fatal("fault not surfaced")
	}
	// Give any duplicate a few more periods to show up.
	time.Sleep(200 * time.Millisecond)

	cmds := r.sim.Received()
	assert.Equal(t, 1, idleRequests(cmds))
	require.Len(t, r.sim.ReceivedNamed(odrive.MsgClearErrors), 1)

	var stopAt, clearAt int
	for i, c := range cmds {
		switch c.Name {
		case odrive.MsgSetAxisState:
			stopAt = i
		case odrive.MsgClearErrors:
			clearAt = i
		}
	}
	assert.Less(t, stopAt, clearAt)
	assert.Empty(t, faults)
}

func TestSetNodeIDMigratesFiltering(t *testing.T) {
	t.Parallel()

	r := newRig(t, odrivesim.Config{Period: 10 * time.Millisecond}, odrive.Config{})
	ctx := context.Background()

	// A second unit left behind on node 0 reports a different position.
	ctxGhost, cancel := context.WithCancel(ctx)
	defer cancel()

	require.NoError(t, r.axis.SetNodeID(ctx, 5))
	assert.Equal(t, odrive.NodeID(5), r.axis.NodeID())
	require.Eventually(t, func() bool { return r.sim.Node() == 5 }, time.Second, 5*time.Millisecond)

	ghost := odrivesim.New(r.bus.Open(), odrivesim.Config{Node: 0, Period: 5 * time.Millisecond})
	ghost.SetPosition(9)
	ghost.Start(ctxGhost)

	r.sim.SetPosition(4)
	require.Eventually(t, func() bool { return r.axis.Telemetry().Position == 4 }, time.Second, 5*time.Millisecond)
	for i := 0; i < 5; i++ {
		pos, err := r.axis.GetPosition(ctx)
		require.NoError(t, err)
		assert.Equal(t, 4.0, pos)
	}

	require.NoError(t, r.axis.Stop(ctx))
	require.Eventually(t, func() bool { return len(r.sim.ReceivedNamed(odrive.MsgSetAxisState)) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, odrive.NodeID(5), r.sim.ReceivedNamed(odrive.MsgSetAxisState)[0].Node)
	assert.Empty(t, ghost.ReceivedNamed(odrive.MsgSetAxisState))

	assert.Error(t, r.axis.SetNodeID(ctx, 64))
	assert.Equal(t, odrive.NodeID(5), r.axis.NodeID())
}

func TestIsPoweredAndIsMoving(t *testing.T) {
	t.Parallel()

	r := newRig(t, odrivesim.Config{Period: 10 * time.Millisecond}, odrive.Config{CurrentLimit: 10})
	ctx := context.Background()

	on, frac, err := r.axis.IsPowered(ctx)
	require.NoError(t, err)
	assert.False(t, on)
	assert.Zero(t, frac)

	moving, err := r.axis.IsMoving(ctx)
	require.NoError(t, err)
	assert.False(t, moving)

	require.NoError(t, r.axis.SetPower(ctx, 0.5))
	var torque []odrivesim.Command
	require.Eventually(t, func() bool {
		torque = r.sim.ReceivedNamed(odrive.MsgSetInputTorque)
		return len(torque) == 1
	}, time.Second, 5*time.Millisecond)
	assert.InDelta(t, 5.0, torque[0].Signals["Input_Torque"], 1e-6)

	require.Eventually(t, func() bool {
		on, frac, err := r.axis.IsPowered(ctx)
		return err == nil && on && frac > 0.49 && frac < 0.51
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, r.axis.SetRPM(ctx, 120))
	var vel []odrivesim.Command
	require.Eventually(t, func() bool {
		vel = r.sim.ReceivedNamed(odrive.MsgSetInputVel)
		return len(vel) == 1
	}, time.Second, 5*time.Millisecond)
	assert.InDelta(t, 2.0, vel[0].Signals["Input_Vel"], 1e-6)
	require.Eventually(t, func() bool {
		m, err := r.axis.IsMoving(ctx)
		return err == nil && m
	}, time.Second, 10*time.Millisecond)

	v, err := r.axis.BusVoltage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 24.0, v)
}

func TestQueriesTimeOutWithoutTelemetry(t *testing.T) {
	t.Parallel()

	r := newRig(t, odrivesim.Config{}, odrive.Config{QueryTimeout: 30 * time.Millisecond})
	pos, err := r.axis.GetPosition(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, pos)
}

func TestRequestTelemetryUsesRemoteFrames(t *testing.T) {
	t.Parallel()

	r := newRig(t, odrivesim.Config{}, odrive.Config{RequestTelemetry: true})
	r.sim.SetPosition(1.5)

	pos, err := r.axis.GetPosition(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1.5, pos)

	req := r.sim.ReceivedNamed(odrive.MsgGetEncoderEstimates)
	require.Len(t, req, 1)
	assert.True(t, req[0].RTR)
}

func TestReconfigure(t *testing.T) {
	t.Parallel()

	r := newRig(t, odrivesim.Config{Node: 7}, odrive.Config{NodeID: 7, Bitrate: 250000})
	ctx := context.Background()

	// A bitrate-only change must not re-address the device.
	require.NoError(t, r.axis.Reconfigure(ctx, odrive.Reconfig{Bitrate: 500000}))
	assert.Equal(t, uint32(500000), r.axis.Bitrate())
	assert.Equal(t, odrive.NodeID(7), r.axis.NodeID())
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, r.sim.Received())
	assert.Equal(t, odrive.NodeID(7), r.sim.Node())

	same := odrive.NodeID(7)
	require.NoError(t, r.axis.Reconfigure(ctx, odrive.Reconfig{NodeID: &same}))
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, r.sim.Received())

	next := odrive.NodeID(0)
	require.NoError(t, r.axis.Reconfigure(ctx, odrive.Reconfig{NodeID: &next}))
	assert.Equal(t, odrive.NodeID(0), r.axis.NodeID())
	assert.Equal(t, uint32(500000), r.axis.Bitrate())
	require.Eventually(t, func() bool { return r.sim.Node() == 0 }, time.Second, 5*time.Millisecond)
	renames := r.sim.ReceivedNamed(odrive.MsgSetAxisNodeID)
	require.Len(t, renames, 1)
	assert.Equal(t, odrive.NodeID(7), renames[0].Node)
}

func TestPropertiesAndClose(t *testing.T) {
	t.Parallel()

	r := newRig(t, odrivesim.Config{}, odrive.Config{})
	assert.True(t, r.axis.Properties().PositionReporting)

	require.NoError(t, r.axis.Close())
	require.NoError(t, r.axis.Close())
	assert.ErrorIs(t, r.axis.ClearErrors(context.Background()), odrive.ErrClosed)
	_, err := r.axis.GetPosition(context.Background())
	assert.ErrorIs(t, err, odrive.ErrClosed)
}

func TestNewRejectsBadConfig(t *testing.T) {
	t.Parallel()

	bus := canbus.NewLoopbackBus()
	defer bus.Close()
	_, err := odrive.New(bus.Open(), odrive.Config{NodeID: 64})
	var ce *odrive.ConfigurationError
	assert.ErrorAs(t, err, &ce)
}

func TestEstopRebootAndLimits(t *testing.T) {
	t.Parallel()

	r := newRig(t, odrivesim.Config{Period: 10 * time.Millisecond}, odrive.Config{})
	ctx := context.Background()

	require.NoError(t, r.axis.GoFor(ctx, 60, 5))
	require.True(t, r.axis.Goal().Active)

	require.NoError(t, r.axis.Estop(ctx))
	assert.False(t, r.axis.Goal().Active)
	require.Eventually(t, func() bool { return r.sim.State() == odrive.AxisStateIdle }, time.Second, 5*time.Millisecond)
	require.Len(t, r.sim.ReceivedNamed(odrive.MsgEstop), 1)

	require.NoError(t, r.axis.Reboot(ctx))
	require.NoError(t, r.axis.SetLimits(ctx, 3, 12.5))
	require.Eventually(t, func() bool { return len(r.sim.ReceivedNamed(odrive.MsgSetLimits)) == 1 }, time.Second, 5*time.Millisecond)
	require.Len(t, r.sim.ReceivedNamed(odrive.MsgReboot), 1)

	lim := r.sim.ReceivedNamed(odrive.MsgSetLimits)[0]
	assert.Equal(t, odrive.NodeID(0), lim.Node)
	assert.Equal(t, 3.0, lim.Signals["Velocity_Limit"])
	assert.Equal(t, 12.5, lim.Signals["Current_Limit"])
}

func TestGoForCompletesWithZeroOffset(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var landed []float64
	r := newRig(t,
		odrivesim.Config{Period: 10 * time.Millisecond},
		odrive.Config{Events: odrive.Events{OnGoalReached: func(_ odrive.NodeID, _ odrive.Goal, pos float64) {
			mu.Lock()
			landed = append(landed, pos)
			mu.Unlock()
		}}},
	)
	ctx := context.Background()

	r.sim.SetPosition(2)
	require.Eventually(t, func() bool { return r.axis.Telemetry().Position == 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, r.axis.ResetZeroPosition(ctx))
	require.InDelta(t, 2.0, r.axis.Offset(), 1e-9)

	require.NoError(t, r.axis.GoFor(ctx, 60, 0.5))
	assert.InDelta(t, 2.5, r.axis.Goal().Target, 1e-6)
	require.Eventually(t, func() bool { return len(r.sim.ReceivedNamed(odrive.MsgSetInputPos)) == 1 }, time.Second, 5*time.Millisecond)
	assert.InDelta(t, 2.5, r.sim.ReceivedNamed(odrive.MsgSetInputPos)[0].Signals["Input_Pos"], 1e-6)

	waitCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	require.NoError(t, r.axis.WaitGoal(waitCtx))
	assert.InDelta(t, 2.5, r.sim.Position(), 0.01)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(landed) == 1
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.InDelta(t, 0.5, landed[0], 0.01)
}

func TestMonitorsFollowNodeID(t *testing.T) {
	t.Parallel()

	faults := make(chan odrive.DeviceFault, 16)
	r := newRig(t,
		odrivesim.Config{Period: 10 * time.Millisecond, Step: 0.01},
		odrive.Config{Events: odrive.Events{OnFault: func(f odrive.DeviceFault) { faults <- f }}},
	)
	ctx := context.Background()

	require.NoError(t, r.axis.SetNodeID(ctx, 5))
	require.Eventually(t, func() bool { return r.sim.Node() == 5 }, time.Second, 5*time.Millisecond)

	// A faulted unit left on node 0 sits at the position the move targets.
	ghostCtx, cancelGhost := context.WithCancel(ctx)
	defer cancelGhost()
	ghost := odrivesim.New(r.bus.Open(), odrivesim.Config{Node: 0, Period: 5 * time.Millisecond})
	ghost.SetPosition(1)
	ghost.SetError(odrive.AxisErrorInvalidState)
	ghost.Start(ghostCtx)

	require.NoError(t, r.axis.GoFor(ctx, 60, 1))
	assert.InDelta(t, 1.0, r.axis.Goal().Target, 1e-6)

	// Several monitor periods pass while the real axis is still travelling.
	time.Sleep(150 * time.Millisecond)
	assert.True(t, r.axis.Goal().Active)
	assert.Empty(t, faults)
	assert.Zero(t, idleRequests(r.sim.Received()))

	waitCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	require.NoError(t, r.axis.WaitGoal(waitCtx))
	assert.InDelta(t, 1.0, r.sim.Position(), 0.01)
	assert.Empty(t, faults)

	r.sim.SetError(odrive.AxisErrorMotorFailed)
	select {
	case f := <-faults:
		assert.Equal(t, odrive.NodeID(5), f.Node)
		assert.Equal(t, odrive.AxisErrorMotorFailed, f.Code)
	case <-time.After(time.Second):
		t.Fatal("fault on the new node id not surfaced")
	}
	require.Eventually(t, func() bool { return len(r.sim.ReceivedNamed(odrive.MsgClearErrors)) >= 1 }, time.Second, 5*time.Millisecond)
	for _, c := range r.sim.ReceivedNamed(odrive.MsgClearErrors) {
		assert.Equal(t, odrive.NodeID(5), c.Node)
	}
	assert.Empty(t, ghost.Received())
}
