// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package rtu implements the subset of Modbus RTU framing spoken by the
// flow meter / valve units on the hydrant serial bus.
//
// A frame is the unit address, a function code, a function-specific body and
// a CRC-16 trailer sent low byte first. This package builds request frames,
// validates and parses the responses, and formats frames for debug logs.
// It performs no I/O.
package rtu

import "strconv"

// Address identifies one meter/valve unit on the bus.
type Address uint8

// String returns the decimal form used in logs and store keys
func (a Address) String() string {
	return strconv.Itoa(int(a))
}

// Function codes
const (
	FuncReadHolding    = 0x03
	FuncWriteMultiple  = 0x10
	exceptionFlag      = 0x80
	writeRegisterCount = 0x0001
	writeByteCount     = 0x02
)

// Frame sizes
const (
	CRCSize            = 2
	MinFrameSize       = 3
	ReadRequestSize    = 8
	WriteRequestSize   = 11
	ReadResponseSize   = 9
	WriteAckSize       = 8
	readDataOffset     = 3
	readByteCountIndex = 2
)

// Meter register map
const (
	RegCumulativeFlow   = 0x000E
	CumulativeFlowCount = 2
	RegValveControl     = 0x0060
	ValveOpen           = 0x0001
	ValveClose          = 0x0002
)

// CRC-16/MODBUS configuration (reflected polynomial 0x8005)
const (
	crcPolynomial = 0xA001
	crcInitial    = 0xFFFF
)
