// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package report

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportEncoding(t *testing.T) {
	tests := []struct {
		name   string
		report Report
		want   string
	}{
		{
			"resuming",
			ResumingBatch("ATM-7-1", 50),
			`{"type":"device_report","device":"ATM-7-1","status":"resuming_batch","remaining":50}`,
		},
		{
			"started",
			DispenseStarted("ATM-7-1", 20),
			`{"type":"device_report","device":"ATM-7-1","status":"dispense_started","amount":20}`,
		},
		{
			"complete",
			DispenseComplete("ATM-7-1", 24.5, 175),
			`{"type":"device_report","device":"ATM-7-1","status":"dispense_complete","dispensed":24.5,"final_reading":175}`,
		},
		{
			"failed keeps zero progress",
			DispenseFailed("ATM-7-1", "initial_read_error", 0),
			`{"type":"device_report","device":"ATM-7-1","status":"dispense_failed","dispensed":0,"reason":"initial_read_error"}`,
		},
		{
			"valve",
			New("ATM-7-2", StatusValveForceClosed),
			`{"type":"device_report","device":"ATM-7-2","status":"valve_force_closed"}`,
		},
		{
			"idle",
			Idle("ATM-7-1", 175),
			`{"type":"device_report","device":"ATM-7-1","status":"idle","cumulative_flow_L":175}`,
		},
		{
			"interrupted",
			Interrupted("ATM-7-1", 150),
			`{"type":"device_report","device":"ATM-7-1","status":"interrupted_batch_detected","cumulative_flow_L":150}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.report)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(data))
		})
	}
}

func TestDeviceID(t *testing.T) {
	assert.Equal(t, "ATM-7-3", DeviceID("ATM-7", 3))
}

func TestPublisherFunc(t *testing.T) {
	var got []Report
	p := PublisherFunc(func(r Report) { got = append(got, r) })
	p.Publish(Idle("x-1", 1))
	Discard.Publish(Idle("x-1", 1))
	assert.Len(t, got, 1)
}
