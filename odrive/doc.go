// Package odrive drives an ODrive motor controller axis over CAN using the
// CANSimple protocol.
//
// Every frame on the bus carries an 11-bit arbitration id built as
// node<<5 | command. The package provides:
//   - A message catalog and codec mapping message names to frame layouts
//   - An Axis that issues command sequences (state switch, controller mode,
//     setpoint) and answers telemetry queries for its own node
//   - A bounded state wait used by every "request state then act" sequence
//   - Two background monitors: one stops and clears the axis when the device
//     reports an error, the other stops the axis when a position move lands
//
// All inbound traffic is read by a single canbus.Mux and fanned out to every
// consumer, so foreground queries and the monitors never compete for frames.
package odrive
