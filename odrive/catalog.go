package odrive

import (
	"fmt"
	"io"
	"sort"
	"sync"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// Message names of the CANSimple set.
const (
	MsgHeartbeat           = "Heartbeat"
	MsgEstop               = "Estop"
	MsgGetMotorError       = "Get_Motor_Error"
	MsgGetEncoderError     = "Get_Encoder_Error"
	MsgSetAxisNodeID       = "Set_Axis_Node_ID"
	MsgSetAxisState        = "Set_Axis_State"
	MsgGetEncoderEstimates = "Get_Encoder_Estimates"
	MsgGetEncoderCount     = "Get_Encoder_Count"
	MsgSetControllerMode   = "Set_Controller_Mode"
	MsgSetInputPos         = "Set_Input_Pos"
	MsgSetInputVel         = "Set_Input_Vel"
	MsgSetInputTorque      = "Set_Input_Torque"
	MsgSetLimits           = "Set_Limits"
	MsgSetTrajVelLimit     = "Set_Traj_Vel_Limit"
	MsgSetTrajAccelLimits  = "Set_Traj_Accel_Limits"
	MsgGetIq               = "Get_Iq"
	MsgReboot              = "Reboot"
	MsgGetVbusVoltage      = "Get_Vbus_Voltage"
	MsgClearErrors         = "Clear_Errors"
)

// MessageSpec describes one message: its base frame id, payload length and
// ordered signals.
type MessageSpec struct {
	Name    string   `yaml:"name"`
	ID      CmdID    `yaml:"id"`
	Length  uint8    `yaml:"length"`
	Signals []Signal `yaml:"signals"`
}

// Signal returns the named signal.
func (m MessageSpec) Signal(name string) (Signal, bool) {
	for _, s := range m.Signals {
		if s.Name == name {
			return s, true
		}
	}
	return Signal{}, false
}

func (m MessageSpec) validate() error {
	var err error
	if m.Name == "" {
		err = multierr.Append(err, fmt.Errorf("message with id 0x%02X has no name", uint8(m.ID)))
	}
	if m.ID > cmdMask {
		err = multierr.Append(err, fmt.Errorf("message %s: id 0x%02X exceeds %d bits", m.Name, uint8(m.ID), cmdBits))
	}
	if m.Length > 8 {
		err = multierr.Append(err, fmt.Errorf("message %s: length %d exceeds 8", m.Name, m.Length))
	}
	seen := make(map[string]bool, len(m.Signals))
	for _, s := range m.Signals {
		if seen[s.Name] {
			err = multierr.Append(err, fmt.Errorf("message %s: duplicate signal %s", m.Name, s.Name))
		}
		seen[s.Name] = true
		if serr := s.validate(uint(m.Length) * 8); serr != nil {
			err = multierr.Append(err, fmt.Errorf("message %s: %w", m.Name, serr))
		}
	}
	return err
}

// Catalog is an immutable message database.
type Catalog struct {
	specs  []MessageSpec
	byName map[string]int
	byID   map[CmdID]int
}

// NewCatalog validates specs and builds a catalog. All problems are reported
// together.
func NewCatalog(specs []MessageSpec) (*Catalog, error) {
	c := &Catalog{
		specs:  make([]MessageSpec, len(specs)),
		byName: make(map[string]int, len(specs)),
		byID:   make(map[CmdID]int, len(specs)),
	}
	var err error
	for i, m := range specs {
		m.Signals = append([]Signal(nil), m.Signals...)
		c.specs[i] = m
		err = multierr.Append(err, m.validate())
		if _, dup := c.byName[m.Name]; dup {
			err = multierr.Append(err, fmt.Errorf("duplicate message name %s", m.Name))
		}
		if j, dup := c.byID[m.ID]; dup {
			err = multierr.Append(err, fmt.Errorf("messages %s and %s share id 0x%02X", c.specs[j].Name, m.Name, uint8(m.ID)))
		}
		c.byName[m.Name] = i
		c.byID[m.ID] = i
	}
	if err != nil {
		return nil, fmt.Errorf("odrive: invalid catalog: %w", err)
	}
	return c, nil
}

// LoadCatalog reads a YAML message database of the form
//
//	messages:
//	  - name: Heartbeat
//	    id: 0x01
//	    length: 8
//	    signals:
//	      - {name: Axis_Error, start: 0, length: 32, kind: unsigned}
func LoadCatalog(r io.Reader) (*Catalog, error) {
	var doc struct {
		Messages []MessageSpec `yaml:"messages"`
	}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("odrive: decode catalog: %w", err)
	}
	return NewCatalog(doc.Messages)
}

// Message looks up a message by name.
func (c *Catalog) Message(name string) (MessageSpec, bool) {
	i, ok := c.byName[name]
	if !ok {
		return MessageSpec{}, false
	}
	return c.specs[i], true
}

// MessageByID looks up a message by base frame id.
func (c *Catalog) MessageByID(id CmdID) (MessageSpec, bool) {
	i, ok := c.byID[id]
	if !ok {
		return MessageSpec{}, false
	}
	return c.specs[i], true
}

// Messages returns the catalog entries ordered by frame id.
func (c *Catalog) Messages() []MessageSpec {
	out := append([]MessageSpec(nil), c.specs...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
)

// DefaultCatalog returns the built-in CANSimple message set.
func DefaultCatalog() *Catalog {
	defaultOnce.Do(func() {
		c, err := NewCatalog(cansimple)
		if err != nil {
			panic(err)
		}
		defaultCatalog = c
	})
	return defaultCatalog
}

func u(name string, start, length uint) Signal {
	return Signal{Name: name, Start: start, Length: length, Kind: Unsigned}
}

func f32(name string, start uint) Signal {
	return Signal{Name: name, Start: start, Length: 32, Kind: Float}
}

var cansimple = []MessageSpec{
	{Name: MsgHeartbeat, ID: CmdHeartbeat, Length: 8, Signals: []Signal{
		u("Axis_Error", 0, 32),
		u("Axis_State", 32, 8),
		u("Motor_Error_Flag", 40, 1),
		u("Encoder_Error_Flag", 48, 1),
		u("Controller_Error_Flag", 56, 1),
		u("Trajectory_Done_Flag", 63, 1),
	}},
	{Name: MsgEstop, ID: CmdEstop},
	{Name: MsgGetMotorError, ID: CmdGetMotorError, Length: 8, Signals: []Signal{
		u("Motor_Error", 0, 32),
	}},
	{Name: MsgGetEncoderError, ID: CmdGetEncoderError, Length: 8, Signals: []Signal{
		u("Encoder_Error", 0, 32),
	}},
	{Name: MsgSetAxisNodeID, ID: CmdSetAxisNodeID, Length: 8, Signals: []Signal{
		{Name: "Axis_Node_ID", Start: 0, Length: 32, Kind: Unsigned, Max: float64(MaxNodeID)},
	}},
	{Name: MsgSetAxisState, ID: CmdSetAxisState, Length: 8, Signals: []Signal{
		u("Axis_Requested_State", 0, 32),
	}},
	{Name: MsgGetEncoderEstimates, ID: CmdGetEncoderEstimates, Length: 8, Signals: []Signal{
		f32("Pos_Estimate", 0),
		f32("Vel_Estimate", 32),
	}},
	{Name: MsgGetEncoderCount, ID: CmdGetEncoderCount, Length: 8, Signals: []Signal{
		{Name: "Shadow_Count", Start: 0, Length: 32, Kind: Signed},
		{Name: "Count_In_CPR", Start: 32, Length: 32, Kind: Signed},
	}},
	{Name: MsgSetControllerMode, ID: CmdSetControllerMode, Length: 8, Signals: []Signal{
		u("Control_Mode", 0, 32),
		u("Input_Mode", 32, 32),
	}},
	{Name: MsgSetInputPos, ID: CmdSetInputPos, Length: 8, Signals: []Signal{
		f32("Input_Pos", 0),
		{Name: "Vel_FF", Start: 32, Length: 16, Kind: Signed, Factor: 0.001, Min: -32.768, Max: 32.767},
		{Name: "Torque_FF", Start: 48, Length: 16, Kind: Signed, Factor: 0.001, Min: -32.768, Max: 32.767},
	}},
	{Name: MsgSetInputVel, ID: CmdSetInputVel, Length: 8, Signals: []Signal{
		f32("Input_Vel", 0),
		f32("Input_Torque_FF", 32),
	}},
	{Name: MsgSetInputTorque, ID: CmdSetInputTorque, Length: 8, Signals: []Signal{
		f32("Input_Torque", 0),
	}},
	{Name: MsgSetLimits, ID: CmdSetLimits, Length: 8, Signals: []Signal{
		f32("Velocity_Limit", 0),
		f32("Current_Limit", 32),
	}},
	{Name: MsgSetTrajVelLimit, ID: CmdSetTrajVelLimit, Length: 8, Signals: []Signal{
		f32("Traj_Vel_Limit", 0),
	}},
	{Name: MsgSetTrajAccelLimits, ID: CmdSetTrajAccelLimits, Length: 8, Signals: []Signal{
		f32("Traj_Accel_Limit", 0),
		f32("Traj_Decel_Limit", 32),
	}},
	{Name: MsgGetIq, ID: CmdGetIq, Length: 8, Signals: []Signal{
		f32("Iq_Setpoint", 0),
		f32("Iq_Measured", 32),
	}},
	{Name: MsgReboot, ID: CmdReboot},
	{Name: MsgGetVbusVoltage, ID: CmdGetVbusVoltage, Length: 8, Signals: []Signal{
		f32("Vbus_Voltage", 0),
	}},
	{Name: MsgClearErrors, ID: CmdClearErrors},
}
