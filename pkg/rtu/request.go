// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rtu

// ReadHoldingRequest builds a "read holding registers" frame:
// [addr, 0x03, regHi, regLo, countHi, countLo, crcLo, crcHi]
func ReadHoldingRequest(addr Address, register, count uint16) []byte {
	frame := make([]byte, 6, ReadRequestSize)
	frame[0] = byte(addr)
	frame[1] = FuncReadHolding
	frame[2] = byte(register >> 8)
	frame[3] = byte(register)
	frame[4] = byte(count >> 8)
	frame[5] = byte(count)
	return AppendCRC(frame)
}

// WriteRegisterRequest builds a single-register "write multiple registers"
// frame: [addr, 0x10, regHi, regLo, 0x00, 0x01, 0x02, valHi, valLo, crcLo, crcHi]
func WriteRegisterRequest(addr Address, register, value uint16) []byte {
	frame := make([]byte, 9, WriteRequestSize)
	frame[0] = byte(addr)
	frame[1] = FuncWriteMultiple
	frame[2] = byte(register >> 8)
	frame[3] = byte(register)
	frame[4] = byte(writeRegisterCount >> 8)
	frame[5] = byte(writeRegisterCount)
	frame[6] = writeByteCount
	frame[7] = byte(value >> 8)
	frame[8] = byte(value)
	return AppendCRC(frame)
}

// CumulativeFlowRequest builds the read request for the cumulative flow window
func CumulativeFlowRequest(addr Address) []byte {
	return ReadHoldingRequest(addr, RegCumulativeFlow, CumulativeFlowCount)
}

// ValveRequest builds the valve control write for open (true) or close (false)
func ValveRequest(addr Address, open bool) []byte {
	value := uint16(ValveClose)
	if open {
		value = ValveOpen
	}
	return WriteRegisterRequest(addr, RegValveControl, value)
}
