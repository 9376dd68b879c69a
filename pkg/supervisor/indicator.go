// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package supervisor

import (
	"fmt"
	"os"
	"path/filepath"
)

// Indicator is a visible sign of life toggled on every supervisor tick
type Indicator interface {
	Toggle() error
}

// NopIndicator is used when the board has no status LED configured
type NopIndicator struct{}

func (NopIndicator) Toggle() error { return nil }

// SysfsLED toggles a Linux LED class device, e.g. /sys/class/leds/status
type SysfsLED struct {
	path string
	on   bool
}

// NewSysfsLED drives the LED directory dir
func NewSysfsLED(dir string) *SysfsLED {
	return &SysfsLED{path: filepath.Join(dir, "brightness")}
}

// Toggle flips the LED
func (l *SysfsLED) Toggle() error {
	value := "1"
	if l.on {
		value = "0"
	}
	if err := os.WriteFile(l.path, []byte(value), 0o644); err != nil {
		return fmt.Errorf("failed to set led: %w", err)
	}
	l.on = !l.on
	return nil
}

// OpenIndicator returns the LED at dir, or a NopIndicator when dir is empty
func OpenIndicator(dir string) Indicator {
	if dir == "" {
		return NopIndicator{}
	}
	return NewSysfsLED(dir)
}
