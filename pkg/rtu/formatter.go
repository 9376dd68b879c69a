// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rtu

import (
	"fmt"
	"strings"
)

// FormatFunction returns the human-readable name for a function code
func FormatFunction(code byte) string {
	if code&exceptionFlag != 0 {
		return fmt.Sprintf("EXCEPTION(%s)", FormatFunction(code&^exceptionFlag))
	}
	switch code {
	case FuncReadHolding:
		return "READ_HOLDING"
	case FuncWriteMultiple:
		return "WRITE_MULTIPLE"
	default:
		return fmt.Sprintf("UNKNOWN_0x%02X", code)
	}
}

// Describe formats a frame for debug logging:
// "READ_HOLDING addr=1 len=8 crc=ok [01 03 00 0E 00 02 A5 C8]"
func Describe(frame []byte) string {
	if len(frame) == 0 {
		return "<empty>"
	}

	var b strings.Builder
	if len(frame) >= 2 {
		fmt.Fprintf(&b, "%s addr=%d ", FormatFunction(frame[1]), frame[0])
	}

	crcState := "bad"
	if VerifyCRC(frame) {
		crcState = "ok"
	}
	fmt.Fprintf(&b, "len=%d crc=%s [% X]", len(frame), crcState, frame)
	return b.String()
}
