// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package meter

import (
	"fmt"
	"io"
	"strings"
	"time"

	"go.bug.st/serial"
)

// Bus is the half-duplex serial line shared by every unit.
// go.bug.st/serial.Port satisfies it.
type Bus interface {
	io.ReadWriter
	ResetInputBuffer() error
	SetReadTimeout(t time.Duration) error
}

// SerialConfig describes the UART settings of the meter bus
type SerialConfig struct {
	Port     string `yaml:"port"`
	Baud     int    `yaml:"baud"`
	DataBits int    `yaml:"data_bits"`
	Parity   string `yaml:"parity"`
	StopBits int    `yaml:"stop_bits"`
}

// DefaultSerialConfig returns the line settings the meters ship with
func DefaultSerialConfig() SerialConfig {
	return SerialConfig{
		Port:     "/dev/ttyS1",
		Baud:     9600,
		DataBits: 8,
		Parity:   "odd",
		StopBits: 1,
	}
}

// OpenSerial opens the serial port described by cfg
func OpenSerial(cfg SerialConfig) (serial.Port, error) {
	mode, err := cfg.mode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Port, err)
	}

	return port, nil
}

func (c SerialConfig) mode() (*serial.Mode, error) {
	mode := &serial.Mode{
		BaudRate: c.Baud,
		DataBits: c.DataBits,
	}

	switch strings.ToLower(c.Parity) {
	case "", "none":
		mode.Parity = serial.NoParity
	case "odd":
		mode.Parity = serial.OddParity
	case "even":
		mode.Parity = serial.EvenParity
	default:
		return nil, fmt.Errorf("unsupported parity %q", c.Parity)
	}

	switch c.StopBits {
	case 0, 1:
		mode.StopBits = serial.OneStopBit
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("unsupported stop bits %d", c.StopBits)
	}

	return mode, nil
}
