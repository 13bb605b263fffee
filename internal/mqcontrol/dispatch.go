// Package mqcontrol drives an axis from commands published on an AMQP
// fanout exchange and publishes axis events to another.
package mqcontrol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/notnil/odrivecan/odrive"
)

// Axis is the set of operations reachable over the broker. *odrive.Axis
// implements it.
type Axis interface {
	SetPower(ctx context.Context, power float64) error
	GoFor(ctx context.Context, rpm, revolutions float64) error
	GoTo(ctx context.Context, rpm, position float64) error
	SetRPM(ctx context.Context, rpm float64) error
	Stop(ctx context.Context) error
	ClearErrors(ctx context.Context) error
	ResetZeroPosition(ctx context.Context) error
	SetNodeID(ctx context.Context, id odrive.NodeID) error
	Estop(ctx context.Context) error
	Reboot(ctx context.Context) error
	SetLimits(ctx context.Context, velocity, current float64) error
}

// ContentTypePrefix prefixes every command content type, as in
// "application/odrive_go_for".
const ContentTypePrefix = "application/odrive_"

// Operations.
const (
	OpSetPower    = "set_power"
	OpGoFor       = "go_for"
	OpGoTo        = "go_to"
	OpSetRPM      = "set_rpm"
	OpStop        = "stop"
	OpClearErrors = "clear_errors"
	OpResetZero   = "reset_zero"
	OpSetNodeID   = "set_node_id"
	OpEstop       = "estop"
	OpReboot      = "reboot"
	OpSetLimits   = "set_limits"
)

// ErrUnknownCommand is returned for content types outside the command set.
var ErrUnknownCommand = errors.New("mqcontrol: unknown command")

// Command is the JSON body of a command message. Fields an operation does
// not use are ignored.
type Command struct {
	Power       float64 `json:"power"`
	RPM         float64 `json:"rpm"`
	Revolutions float64 `json:"revolutions"`
	Position    float64 `json:"position"`
	NodeID      *int    `json:"node_id"`

	VelocityLimit float64 `json:"velocity_limit"` // turns/s
	CurrentLimit  float64 `json:"current_limit"`  // A
}

// ContentType returns the content type for op.
func ContentType(op string) string { return ContentTypePrefix + op }

// Dispatch decodes one command and runs it against axis.
func Dispatch(ctx context.Context, axis Axis, contentType string, body []byte) (string, error) {
	op, ok := strings.CutPrefix(contentType, ContentTypePrefix)
	if !ok {
		return "", fmt.Errorf("%w: content type %q", ErrUnknownCommand, contentType)
	}

	var cmd Command
	if len(body) > 0 {
		if err := json.Unmarshal(body, &cmd); err != nil {
			return op, fmt.Errorf("mqcontrol: %s body: %w", op, err)
		}
	}

	switch op {
	case OpSetPower:
		return op, axis.SetPower(ctx, cmd.Power)
	case OpGoFor:
		return op, axis.GoFor(ctx, cmd.RPM, cmd.Revolutions)
	case OpGoTo:
		return op, axis.GoTo(ctx, cmd.RPM, cmd.Position)
	case OpSetRPM:
		return op, axis.SetRPM(ctx, cmd.RPM)
	case OpStop:
		return op, axis.Stop(ctx)
	case OpClearErrors:
		return op, axis.ClearErrors(ctx)
	case OpResetZero:
		return op, axis.ResetZeroPosition(ctx)
	case OpEstop:
		return op, axis.Estop(ctx)
	case OpReboot:
		return op, axis.Reboot(ctx)
	case OpSetLimits:
		return op, axis.SetLimits(ctx, cmd.VelocityLimit, cmd.CurrentLimit)
	case OpSetNodeID:
		if cmd.NodeID == nil {
			return op, &odrive.ConfigurationError{Field: "node_id", Reason: "required"}
		}
		if *cmd.NodeID < 0 || *cmd.NodeID > int(odrive.MaxNodeID) {
			return op, &odrive.ConfigurationError{
				Field:  "node_id",
				Reason: fmt.Sprintf("%d outside 0..%d", *cmd.NodeID, odrive.MaxNodeID),
			}
		}
		return op, axis.SetNodeID(ctx, odrive.NodeID(*cmd.NodeID))
	}
	return op, fmt.Errorf("%w: %q", ErrUnknownCommand, op)
}
