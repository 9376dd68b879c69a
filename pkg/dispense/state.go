// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dispense

// State is a dispense job state
type State int

// Dispense states, in order
const (
	StateIdle State = iota
	StateStartRead
	StatePersist
	StateValveOpen
	StateMonitoring
	StateCompleted
	StateFailed
)

// Failure reasons
const (
	ReasonInitialRead  = "initial_read_error"
	ReasonMeterTimeout = "meter_timeout"
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStartRead:
		return "start_read"
	case StatePersist:
		return "persist"
	case StateValveOpen:
		return "valve_open"
	case StateMonitoring:
		return "monitoring"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether s ends a job
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Outcome is the terminal result of one dispense
type Outcome struct {
	State        State
	Reason       string  // set when failed
	Start        float64 // meter reading when the job began
	Target       float64 // start + litres
	Dispensed    float64 // litres delivered, partial on failure
	FinalReading float64 // meter reading at completion
}

// Completed reports whether the full amount was delivered
func (o Outcome) Completed() bool {
	return o.State == StateCompleted
}
