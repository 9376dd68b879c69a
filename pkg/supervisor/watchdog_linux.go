// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

//go:build linux

package supervisor

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// DeviceWatchdog drives a Linux watchdog character device
type DeviceWatchdog struct {
	f *os.File
}

// OpenDeviceWatchdog opens path (normally /dev/watchdog). Opening arms the timer.
func OpenDeviceWatchdog(path string) (*DeviceWatchdog, error) {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open watchdog %s: %w", path, err)
	}
	return &DeviceWatchdog{f: f}, nil
}

// Feed restarts the hardware timer
func (w *DeviceWatchdog) Feed() error {
	if err := unix.IoctlWatchdogKeepalive(int(w.f.Fd())); err != nil {
		return fmt.Errorf("watchdog keepalive: %w", err)
	}
	return nil
}

// Timeout reports the hardware timeout
func (w *DeviceWatchdog) Timeout() (time.Duration, error) {
	secs, err := unix.IoctlGetInt(int(w.f.Fd()), unix.WDIOC_GETTIMEOUT)
	if err != nil {
		return 0, fmt.Errorf("watchdog get timeout: %w", err)
	}
	return time.Duration(secs) * time.Second, nil
}

// Close disarms the timer with the magic close character and releases the device
func (w *DeviceWatchdog) Close() error {
	if _, err := w.f.Write([]byte("V")); err != nil {
		w.f.Close()
		return fmt.Errorf("watchdog magic close: %w", err)
	}
	return w.f.Close()
}
