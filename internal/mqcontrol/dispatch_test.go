package mqcontrol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notnil/odrivecan/odrive"
)

type fakeAxis struct {
	calls []string
	err   error
}

func (f *fakeAxis) record(format string, args ...any) error {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
	return f.err
}

func (f *fakeAxis) SetPower(_ context.Context, p float64) error { return f.record("power %v", p) }
func (f *fakeAxis) GoFor(_ context.Context, rpm, rev float64) error {
	return f.record("go_for %v %v", rpm, rev)
}
func (f *fakeAxis) GoTo(_ context.Context, rpm, pos float64) error {
	return f.record("go_to %v %v", rpm, pos)
}
func (f *fakeAxis) SetRPM(_ context.Context, rpm float64) error { return f.record("rpm %v", rpm) }
func (f *fakeAxis) Stop(context.Context) error { return f.record("stop") }
func (f *fakeAxis) ClearErrors(context.Context) error { return f.record("clear") }
func (f *fakeAxis) ResetZeroPosition(context.Context) error { return f.record("zero") }
func (f *fakeAxis) SetNodeID(_ context.Context, id odrive.NodeID) error { return f.record("node %d", id) }
func (f *fakeAxis) Estop(context.Context) error { return f.record("estop") }
func (f *fakeAxis) Reboot(context.Context) error { return f.record("reboot") }
func (f *fakeAxis) SetLimits(_ context.Context, vel, cur float64) error {
	return f.record("limits %v %v", vel, cur)
}

var _ Axis = (*odrive.Axis)(nil)

func TestDispatchRoutesEveryOperation(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		op   string
		body string
		want string
	}{
		{OpSetPower, `{"power":0.5}`, "power 0.5"},
		{OpGoFor, `{"rpm":60,"revolutions":2}`, "go_for 60 2"},
		{OpGoTo, `{"rpm":30,"position":-1.5}`, "go_to 30 -1.5"},
		{OpSetRPM, `{"rpm":-120}`, "rpm -120"},
		{OpStop, ``, "stop"},
		{OpClearErrors, `{}`, "clear"},
		{OpResetZero, ``, "zero"},
		{OpSetNodeID, `{"node_id":12}`, "node 12"},
		{OpEstop, ``, "estop"},
		{OpReboot, `{}`, "reboot"},
		{OpSetLimits, `{"velocity_limit":4,"current_limit":12.5}`, "limits 4 12.5"},
	}
	for _, tc := range cases {
		ax := &fakeAxis{}
		op, err := Dispatch(ctx, ax, ContentType(tc.op), []byte(tc.body))
		require.NoError(t, err, tc.op)
		assert.Equal(t, tc.op, op)
		assert.Equal(t, []string{tc.want}, ax.calls, tc.op)
	}
}

func TestDispatchErrors(t *testing.T) {
	ctx := context.Background()
	ax := &fakeAxis{}

	_, err := Dispatch(ctx, ax, "application/dcmotor_forward", nil)
	assert.ErrorIs(t, err, ErrUnknownCommand)

	_, err = Dispatch(ctx, ax, ContentType("warp"), nil)
	assert.ErrorIs(t, err, ErrUnknownCommand)

	_, err = Dispatch(ctx, ax, ContentType(OpGoFor), []byte("{"))
	assert.Error(t, err)

	var ce *odrive.ConfigurationError
	_, err = Dispatch(ctx, ax, ContentType(OpSetNodeID), []byte(`{}`))
	assert.True(t, errors.As(err, &ce))
	_, err = Dispatch(ctx, ax, ContentType(OpSetNodeID), []byte(`{"node_id":64}`))
	assert.True(t, errors.As(err, &ce))
	assert.Empty(t, ax.calls)

	ax.err = odrive.ErrInputTooSmall
	_, err = Dispatch(ctx, ax, ContentType(OpSetRPM), []byte(`{"rpm":0}`))
	assert.ErrorIs(t, err, odrive.ErrInputTooSmall)
}

func TestEventEncoding(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	body, err := GoalReachedEvent(3, odrive.Goal{Target: 4.5, Active: true}, 4.49, now).marshal()
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, EventGoalReached, got["type"])
	assert.Equal(t, 3.0, got["node_id"])
	assert.Equal(t, 4.5, got["target"])
	assert.Equal(t, 4.49, got["position"])
	assert.NotContains(t, got, "error")

	f := odrive.DeviceFault{Node: 1, Code: odrive.AxisErrorMotorFailed, State: odrive.AxisStateClosedLoopControl}
	body, err = FaultEvent(f, now).marshal()
	require.NoError(t, err)
	got = nil
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, EventFault, got["type"])
	assert.Equal(t, "MOTOR_FAILED", got["error"])
	assert.Equal(t, "CLOSED_LOOP_CONTROL", got["state"])
	assert.Equal(t, float64(odrive.AxisErrorMotorFailed), got["code"])
	assert.NotContains(t, got, "target")
}
