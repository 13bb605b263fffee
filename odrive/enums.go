package odrive

import (
	"fmt"
	"strings"
)

// AxisState is the axis state machine value reported in heartbeats and
// requested with Set_Axis_State.
type AxisState uint32

const (
	AxisStateUndefined                AxisState = 0
	AxisStateIdle                     AxisState = 1
	AxisStateStartupSequence          AxisState = 2
	AxisStateFullCalibrationSequence  AxisState = 3
	AxisStateMotorCalibration         AxisState = 4
	AxisStateEncoderIndexSearch       AxisState = 6
	AxisStateEncoderOffsetCalibration AxisState = 7
	AxisStateClosedLoopControl        AxisState = 8
	AxisStateLockinSpin               AxisState = 9
	AxisStateEncoderDirFind           AxisState = 10
	AxisStateHoming                   AxisState = 11
	AxisStateEncoderHallPolarityCal   AxisState = 12
	AxisStateEncoderHallPhaseCal      AxisState = 13
)

var axisStateNames = map[AxisState]string{
	AxisStateUndefined:                "UNDEFINED",
	AxisStateIdle:                     "IDLE",
	AxisStateStartupSequence:          "STARTUP_SEQUENCE",
	AxisStateFullCalibrationSequence:  "FULL_CALIBRATION_SEQUENCE",
	AxisStateMotorCalibration:         "MOTOR_CALIBRATION",
	AxisStateEncoderIndexSearch:       "ENCODER_INDEX_SEARCH",
	AxisStateEncoderOffsetCalibration: "ENCODER_OFFSET_CALIBRATION",
	AxisStateClosedLoopControl:        "CLOSED_LOOP_CONTROL",
	AxisStateLockinSpin:               "LOCKIN_SPIN",
	AxisStateEncoderDirFind:           "ENCODER_DIR_FIND",
	AxisStateHoming:                   "HOMING",
	AxisStateEncoderHallPolarityCal:   "ENCODER_HALL_POLARITY_CALIBRATION",
	AxisStateEncoderHallPhaseCal:      "ENCODER_HALL_PHASE_CALIBRATION",
}

func (s AxisState) String() string {
	if n, ok := axisStateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("AxisState(%d)", uint32(s))
}

// Powered reports whether the state drives the motor.
func (s AxisState) Powered() bool {
	return s != AxisStateUndefined && s != AxisStateIdle
}

// ControlMode selects the controller loop.
type ControlMode uint32

const (
	ControlModeVoltage  ControlMode = 0
	ControlModeTorque   ControlMode = 1
	ControlModeVelocity ControlMode = 2
	ControlModePosition ControlMode = 3
)

func (m ControlMode) String() string {
	switch m {
	case ControlModeVoltage:
		return "VOLTAGE_CONTROL"
	case ControlModeTorque:
		return "TORQUE_CONTROL"
	case ControlModeVelocity:
		return "VELOCITY_CONTROL"
	case ControlModePosition:
		return "POSITION_CONTROL"
	}
	return fmt.Sprintf("ControlMode(%d)", uint32(m))
}

// InputMode selects how setpoints are shaped before reaching the controller.
type InputMode uint32

const (
	InputModeInactive    InputMode = 0
	InputModePassthrough InputMode = 1
	InputModeVelRamp     InputMode = 2
	InputModePosFilter   InputMode = 3
	InputModeMixChannels InputMode = 4
	InputModeTrapTraj    InputMode = 5
	InputModeTorqueRamp  InputMode = 6
	InputModeMirror      InputMode = 7
	InputModeTuning      InputMode = 8
)

var inputModeNames = [...]string{
	"INACTIVE", "PASSTHROUGH", "VEL_RAMP", "POS_FILTER", "MIX_CHANNELS",
	"TRAP_TRAJ", "TORQUE_RAMP", "MIRROR", "TUNING",
}

func (m InputMode) String() string {
	if int(m) < len(inputModeNames) {
		return inputModeNames[m]
	}
	return fmt.Sprintf("InputMode(%d)", uint32(m))
}

// AxisError is the axis error bitfield carried in heartbeats.
type AxisError uint32

const (
	AxisErrorInvalidState              AxisError = 0x00000001
	AxisErrorMotorFailed               AxisError = 0x00000040
	AxisErrorSensorlessEstimatorFailed AxisError = 0x00000080
	AxisErrorEncoderFailed             AxisError = 0x00000100
	AxisErrorControllerFailed          AxisError = 0x00000200
	AxisErrorWatchdogTimerExpired      AxisError = 0x00000800
	AxisErrorMinEndstopPressed         AxisError = 0x00001000
	AxisErrorMaxEndstopPressed         AxisError = 0x00002000
	AxisErrorEstopRequested            AxisError = 0x00004000
	AxisErrorHomingWithoutEndstop      AxisError = 0x00020000
	AxisErrorOverTemp                  AxisError = 0x00040000
	AxisErrorUnknownPosition           AxisError = 0x00080000
)

var axisErrorNames = []struct {
	bit  AxisError
	name string
}{
	{AxisErrorInvalidState, "INVALID_STATE"},
	{AxisErrorMotorFailed, "MOTOR_FAILED"},
	{AxisErrorSensorlessEstimatorFailed, "SENSORLESS_ESTIMATOR_FAILED"},
	{AxisErrorEncoderFailed, "ENCODER_FAILED"},
	{AxisErrorControllerFailed, "CONTROLLER_FAILED"},
	{AxisErrorWatchdogTimerExpired, "WATCHDOG_TIMER_EXPIRED"},
	{AxisErrorMinEndstopPressed, "MIN_ENDSTOP_PRESSED"},
	{AxisErrorMaxEndstopPressed, "MAX_ENDSTOP_PRESSED"},
	{AxisErrorEstopRequested, "ESTOP_REQUESTED"},
	{AxisErrorHomingWithoutEndstop, "HOMING_WITHOUT_ENDSTOP"},
	{AxisErrorOverTemp, "OVER_TEMP"},
	{AxisErrorUnknownPosition, "UNKNOWN_POSITION"},
}

// String lists the set flags joined by "|", e.g. "INVALID_STATE|MOTOR_FAILED".
// Unnamed bits are rendered in hex.
func (e AxisError) String() string {
	if e == 0 {
		return "NONE"
	}
	var parts []string
	rest := e
	for _, n := range axisErrorNames {
		if e&n.bit != 0 {
			parts = append(parts, n.name)
			rest &^= n.bit
		}
	}
	if rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%X", uint32(rest)))
	}
	return strings.Join(parts, "|")
}
