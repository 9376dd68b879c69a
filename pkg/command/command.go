// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package command carries dispense and valve commands from the network link
// to the controller goroutine.
package command

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/xid"

	"github.com/Thermoquad/hydrant/pkg/rtu"
)

// ErrMalformed is returned for payloads that cannot become a command
var ErrMalformed = errors.New("malformed command")

// Valid unit addresses on the bus
const (
	MinAddress = 1
	MaxAddress = 247
)

// Kind is the closed set of command kinds
type Kind int

// Command kinds
const (
	KindDispense Kind = iota + 1
	KindValveOpen
	KindValveClose
)

// String returns the wire name of the kind
func (k Kind) String() string {
	switch k {
	case KindDispense:
		return "success"
	case KindValveOpen:
		return "valve_open"
	case KindValveClose:
		return "valve_close"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ParseKind maps a wire name to a Kind
func ParseKind(s string) (Kind, bool) {
	switch s {
	case "success":
		return KindDispense, true
	case "valve_open":
		return KindValveOpen, true
	case "valve_close":
		return KindValveClose, true
	default:
		return 0, false
	}
}

// Command is one unit of work for the controller
type Command struct {
	ID         xid.ID
	Kind       Kind
	Address    rtu.Address
	DeviceID   string
	Litres     float64
	ReceivedAt time.Time
}

// payload is the inbound JSON message
type payload struct {
	Message  string  `json:"message"`
	Litres   float64 `json:"litres"`
	DeviceID string  `json:"deviceID"`
}

// Parse decodes an inbound payload. The unit address is the final
// hyphen-separated segment of deviceID, e.g. "ATM-7-2" addresses unit 2.
func Parse(data []byte) (Command, error) {
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	kind, ok := ParseKind(p.Message)
	if !ok {
		return Command{}, fmt.Errorf("%w: unknown message %q", ErrMalformed, p.Message)
	}

	addr, err := AddressFromDeviceID(p.DeviceID)
	if err != nil {
		return Command{}, err
	}

	return Command{
		ID:         xid.New(),
		Kind:       kind,
		Address:    addr,
		DeviceID:   p.DeviceID,
		Litres:     p.Litres,
		ReceivedAt: time.Now(),
	}, nil
}

// AddressFromDeviceID extracts the unit address from a device id
func AddressFromDeviceID(deviceID string) (rtu.Address, error) {
	i := strings.LastIndexByte(deviceID, '-')
	if i < 0 || i == len(deviceID)-1 {
		return 0, fmt.Errorf("%w: device id %q has no address segment", ErrMalformed, deviceID)
	}

	n, err := strconv.Atoi(deviceID[i+1:])
	if err != nil {
		return 0, fmt.Errorf("%w: device id %q address segment is not a number", ErrMalformed, deviceID)
	}
	if n < MinAddress || n > MaxAddress {
		return 0, fmt.Errorf("%w: address %d out of range", ErrMalformed, n)
	}
	return rtu.Address(n), nil
}
