// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package supervisor

import (
	"log/slog"
	"time"
)

// Watchdog is a hardware timer that resets the board unless fed
type Watchdog interface {
	Feed() error
	Close() error
}

// NopWatchdog is used when no hardware watchdog is available
type NopWatchdog struct{}

func (NopWatchdog) Feed() error  { return nil }
func (NopWatchdog) Close() error { return nil }

// timeoutReporter is implemented by watchdogs that can report their timeout
type timeoutReporter interface {
	Timeout() (time.Duration, error)
}

// OpenWatchdog opens the watchdog device at path. An empty path, or a device
// that cannot be opened, yields a NopWatchdog; the failure is logged.
func OpenWatchdog(path string, logger *slog.Logger) Watchdog {
	if path == "" {
		return NopWatchdog{}
	}
	wd, err := OpenDeviceWatchdog(path)
	if err != nil {
		if logger == nil {
			logger = slog.New(slog.DiscardHandler)
		}
		logger.Error("watchdog init failed, running unsupervised", "device", path, "error", err)
		return NopWatchdog{}
	}
	return wd
}
