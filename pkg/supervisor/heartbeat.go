// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package supervisor keeps the hardware watchdog fed for as long as the
// controller goroutine proves it is alive.
package supervisor

import (
	"sync/atomic"
	"time"
)

// Heartbeat is the liveness signal: the controller beats it, the
// supervisor reads its age. Safe for concurrent use.
type Heartbeat struct {
	last atomic.Int64 // unix nanoseconds
}

// NewHeartbeat creates a heartbeat that has just beaten
func NewHeartbeat() *Heartbeat {
	h := &Heartbeat{}
	h.Beat()
	return h
}

// Beat records that the controller is alive now
func (h *Heartbeat) Beat() {
	h.BeatAt(time.Now())
}

// BeatAt records a beat at t
func (h *Heartbeat) BeatAt(t time.Time) {
	h.last.Store(t.UnixNano())
}

// Last returns the time of the most recent beat
func (h *Heartbeat) Last() time.Time {
	return time.Unix(0, h.last.Load())
}

// Age returns how long ago the last beat was, as of now
func (h *Heartbeat) Age(now time.Time) time.Duration {
	return now.Sub(h.Last())
}
