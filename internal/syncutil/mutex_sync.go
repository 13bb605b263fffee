//go:build !deadlock

// Package syncutil holds the mutex types used by the axis state. Builds tagged
// deadlock swap them for github.com/sasha-s/go-deadlock so lock-order bugs in
// the monitors show up in tests.
package syncutil

import "sync"

// Mutex is sync.Mutex unless built with -tags=deadlock.
//
//nolint:gocritic // embedding exposes Lock/Unlock
type Mutex struct {
	sync.Mutex
}

// RWMutex is sync.RWMutex unless built with -tags=deadlock.
//
//nolint:gocritic // embedding exposes Lock/Unlock/RLock/RUnlock
type RWMutex struct {
	sync.RWMutex
}
