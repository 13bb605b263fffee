// Package canbus provides core types and utilities for working with
// Controller Area Network (CAN) in Go.
//
// It includes:
//   - A core Frame type with validation and binary marshaling helpers
//   - A Mux that fans one Bus out to any number of filtered subscribers
//   - An in-memory loopback bus for tests and simulations
//   - A Linux SocketCAN driver (linux-only) built on golang.org/x/sys/unix
//
// The slcan subpackage provides a serial-line adapter implementing Bus.
package canbus
