// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rtu

// CalculateCRC computes the CRC-16/MODBUS checksum for the given data
func CalculateCRC(data []byte) uint16 {
	crc := uint16(crcInitial)
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&0x0001 != 0 {
				crc = (crc >> 1) ^ crcPolynomial
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}

// AppendCRC appends the checksum of frame to frame, low byte first
func AppendCRC(frame []byte) []byte {
	crc := CalculateCRC(frame)
	return append(frame, byte(crc&0xFF), byte(crc>>8))
}

// VerifyCRC reports whether the trailing two bytes of frame match the
// checksum of everything before them. Frames shorter than 3 bytes are invalid.
func VerifyCRC(frame []byte) bool {
	if len(frame) < MinFrameSize {
		return false
	}
	body := frame[:len(frame)-CRCSize]
	received := uint16(frame[len(frame)-2]) | uint16(frame[len(frame)-1])<<8
	return CalculateCRC(body) == received
}
