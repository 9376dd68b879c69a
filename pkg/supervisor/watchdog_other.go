// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

//go:build !linux

package supervisor

import "errors"

// DeviceWatchdog is unavailable off Linux
type DeviceWatchdog struct{}

// OpenDeviceWatchdog always fails off Linux
func OpenDeviceWatchdog(path string) (*DeviceWatchdog, error) {
	return nil, errors.New("hardware watchdog requires linux")
}

func (*DeviceWatchdog) Feed() error  { return nil }
func (*DeviceWatchdog) Close() error { return nil }
