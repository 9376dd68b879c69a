// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rtu

import (
	"errors"
	"fmt"
)

// Transport faults. The meter driver absorbs all of them.
var (
	ErrReadTimeout      = errors.New("meter did not respond in time")
	ErrChecksumMismatch = errors.New("frame checksum mismatch")
	ErrAddressMismatch  = errors.New("response from unexpected unit")
	ErrShortFrame       = errors.New("frame too short")
	ErrException        = errors.New("unit returned exception")
)

// ParseReadResponse validates a cumulative flow response from addr and
// returns the 16-bit register value at the fixed data offset.
// Layout: [addr, func, byteCount, dataHi, dataLo, ..., crcLo, crcHi]
func ParseReadResponse(frame []byte, addr Address) (uint16, error) {
	if len(frame) < ReadResponseSize {
		return 0, fmt.Errorf("%w: got %d bytes, want %d", ErrShortFrame, len(frame), ReadResponseSize)
	}
	frame = frame[:ReadResponseSize]

	if !VerifyCRC(frame) {
		return 0, fmt.Errorf("%w: expected 0x%04X, got 0x%04X",
			ErrChecksumMismatch, CalculateCRC(frame[:ReadResponseSize-CRCSize]), frameCRC(frame))
	}
	if Address(frame[0]) != addr {
		return 0, fmt.Errorf("%w: expected %d, got %d", ErrAddressMismatch, addr, frame[0])
	}
	if frame[1]&exceptionFlag != 0 {
		return 0, fmt.Errorf("%w: function 0x%02X", ErrException, frame[1])
	}

	return uint16(frame[readDataOffset])<<8 | uint16(frame[readDataOffset+1]), nil
}

// ParseWriteAck validates the 8-byte acknowledgment of a register write
func ParseWriteAck(frame []byte) error {
	if len(frame) < WriteAckSize {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrShortFrame, len(frame), WriteAckSize)
	}
	frame = frame[:WriteAckSize]
	if !VerifyCRC(frame) {
		return fmt.Errorf("%w: expected 0x%04X, got 0x%04X",
			ErrChecksumMismatch, CalculateCRC(frame[:WriteAckSize-CRCSize]), frameCRC(frame))
	}
	return nil
}

// ReadResponse builds the response a unit sends for a cumulative flow read.
// Used by simulators and tests.
func ReadResponse(addr Address, value uint16) []byte {
	frame := []byte{
		byte(addr),
		FuncReadHolding,
		CumulativeFlowCount * 2,
		byte(value >> 8),
		byte(value),
		0x00,
		0x00,
	}
	return AppendCRC(frame)
}

// WriteAck builds the acknowledgment a unit sends for a single register write
func WriteAck(addr Address, register uint16) []byte {
	frame := []byte{
		byte(addr),
		FuncWriteMultiple,
		byte(register >> 8),
		byte(register),
		byte(writeRegisterCount >> 8),
		byte(writeRegisterCount),
	}
	return AppendCRC(frame)
}

func frameCRC(frame []byte) uint16 {
	return uint16(frame[len(frame)-2]) | uint16(frame[len(frame)-1])<<8
}
