// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package report defines the device reports published over the network link.
package report

import (
	"fmt"

	"github.com/Thermoquad/hydrant/pkg/rtu"
)

// TypeDeviceReport is the type field of every report
const TypeDeviceReport = "device_report"

// Status identifies what a report announces
type Status string

// Report statuses
const (
	StatusResumingBatch    Status = "resuming_batch"
	StatusDispenseStarted  Status = "dispense_started"
	StatusDispenseComplete Status = "dispense_complete"
	StatusDispenseFailed   Status = "dispense_failed"
	StatusValveForceOpen   Status = "valve_force_open"
	StatusValveForceClosed Status = "valve_force_closed"
	StatusIdle             Status = "idle"
	StatusInterrupted      Status = "interrupted_batch_detected"
)

// Report is one status message. Fields that do not apply to the status are
// omitted from the encoding.
type Report struct {
	Type            string   `json:"type"`
	Device          string   `json:"device"`
	Status          Status   `json:"status"`
	Remaining       *float64 `json:"remaining,omitempty"`
	Amount          *float64 `json:"amount,omitempty"`
	Dispensed       *float64 `json:"dispensed,omitempty"`
	FinalReading    *float64 `json:"final_reading,omitempty"`
	Reason          string   `json:"reason,omitempty"`
	CumulativeFlowL *float64 `json:"cumulative_flow_L,omitempty"`
}

// New creates a report of the given status for device
func New(device string, status Status) Report {
	return Report{Type: TypeDeviceReport, Device: device, Status: status}
}

// ResumingBatch announces a boot-time resume of remaining litres
func ResumingBatch(device string, remaining float64) Report {
	r := New(device, StatusResumingBatch)
	r.Remaining = &remaining
	return r
}

// DispenseStarted announces a dispense of amount litres
func DispenseStarted(device string, amount float64) Report {
	r := New(device, StatusDispenseStarted)
	r.Amount = &amount
	return r
}

// DispenseComplete announces a completed dispense
func DispenseComplete(device string, dispensed, finalReading float64) Report {
	r := New(device, StatusDispenseComplete)
	r.Dispensed = &dispensed
	r.FinalReading = &finalReading
	return r
}

// DispenseFailed announces an aborted dispense with its partial progress
func DispenseFailed(device, reason string, dispensed float64) Report {
	r := New(device, StatusDispenseFailed)
	r.Reason = reason
	r.Dispensed = &dispensed
	return r
}

// Idle reports a unit with no outstanding debt
func Idle(device string, cumulative float64) Report {
	r := New(device, StatusIdle)
	r.CumulativeFlowL = &cumulative
	return r
}

// Interrupted reports a unit whose persisted target is ahead of its meter
func Interrupted(device string, cumulative float64) Report {
	r := New(device, StatusInterrupted)
	r.CumulativeFlowL = &cumulative
	return r
}

// DeviceID names a unit for reports not tied to an inbound command:
// "<deviceID>-<address>", the same shape as inbound device ids.
func DeviceID(deviceID string, addr rtu.Address) string {
	return fmt.Sprintf("%s-%d", deviceID, addr)
}

// Publisher sends reports. Publishing is best-effort and never blocks the
// controller on the network.
type Publisher interface {
	Publish(r Report)
}

// PublisherFunc adapts a function to Publisher
type PublisherFunc func(r Report)

// Publish calls f(r)
func (f PublisherFunc) Publish(r Report) {
	f(r)
}

// Discard drops every report
var Discard Publisher = PublisherFunc(func(Report) {})
