// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rtu

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

// ============================================================================
// CRC Tests
// ============================================================================

func TestCalculateCRC_CheckValue(t *testing.T) {
	got := CalculateCRC([]byte("123456789"))
	if got != 0x4B37 {
		t.Errorf("CalculateCRC(\"123456789\") = 0x%04X, want 0x4B37", got)
	}
}

func TestCalculateCRC_Empty(t *testing.T) {
	if got := CalculateCRC(nil); got != 0xFFFF {
		t.Errorf("CalculateCRC(nil) = 0x%04X, want 0xFFFF", got)
	}
}

func TestAppendCRC_LowByteFirst(t *testing.T) {
	frame := AppendCRC([]byte{0x01, 0x03, 0x00, 0x0E, 0x00, 0x02})
	want := []byte{0x01, 0x03, 0x00, 0x0E, 0x00, 0x02, 0xA5, 0xC8}
	if !bytes.Equal(frame, want) {
		t.Errorf("AppendCRC() = % X, want % X", frame, want)
	}
}

func TestVerifyCRC(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
		want  bool
	}{
		{"valid read request", []byte{0x01, 0x03, 0x00, 0x0E, 0x00, 0x02, 0xA5, 0xC8}, true},
		{"flipped crc byte", []byte{0x01, 0x03, 0x00, 0x0E, 0x00, 0x02, 0xA5, 0xC9}, false},
		{"flipped body byte", []byte{0x01, 0x03, 0x00, 0x0F, 0x00, 0x02, 0xA5, 0xC8}, false},
		{"nil", nil, false},
		{"one byte", []byte{0x01}, false},
		{"two bytes", []byte{0xFF, 0xFF}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerifyCRC(tt.frame); got != tt.want {
				t.Errorf("VerifyCRC(% X) = %v, want %v", tt.frame, got, tt.want)
			}
		})
	}
}

// ============================================================================
// Request Tests
// ============================================================================

func TestCumulativeFlowRequest(t *testing.T) {
	tests := []struct {
		addr Address
		want []byte
	}{
		{1, []byte{0x01, 0x03, 0x00, 0x0E, 0x00, 0x02, 0xA5, 0xC8}},
		{2, []byte{0x02, 0x03, 0x00, 0x0E, 0x00, 0x02, 0xA5, 0xFB}},
		{3, []byte{0x03, 0x03, 0x00, 0x0E, 0x00, 0x02, 0xA4, 0x2A}},
	}

	for _, tt := range tests {
		got := CumulativeFlowRequest(tt.addr)
		if !bytes.Equal(got, tt.want) {
			t.Errorf("CumulativeFlowRequest(%d) = % X, want % X", tt.addr, got, tt.want)
		}
		if len(got) != ReadRequestSize {
			t.Errorf("len = %d, want %d", len(got), ReadRequestSize)
		}
	}
}

func TestValveRequest(t *testing.T) {
	tests := []struct {
		name string
		addr Address
		open bool
		want []byte
	}{
		{"open 1", 1, true, []byte{0x01, 0x10, 0x00, 0x60, 0x00, 0x01, 0x02, 0x00, 0x01, 0x6E, 0x30}},
		{"close 1", 1, false, []byte{0x01, 0x10, 0x00, 0x60, 0x00, 0x01, 0x02, 0x00, 0x02, 0x2E, 0x31}},
		{"open 2", 2, true, []byte{0x02, 0x10, 0x00, 0x60, 0x00, 0x01, 0x02, 0x00, 0x01, 0x7A, 0xC0}},
		{"close 3", 3, false, []byte{0x03, 0x10, 0x00, 0x60, 0x00, 0x01, 0x02, 0x00, 0x02, 0x37, 0x51}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ValveRequest(tt.addr, tt.open)
			if !bytes.Equal(got, tt.want) {
				t.Errorf("ValveRequest(%d, %v) = % X, want % X", tt.addr, tt.open, got, tt.want)
			}
			if len(got) != WriteRequestSize {
				t.Errorf("len = %d, want %d", len(got), WriteRequestSize)
			}
		})
	}
}

// ============================================================================
// Response Tests
// ============================================================================

func TestParseReadResponse(t *testing.T) {
	frame := ReadResponse(1, 0x0096)
	got, err := ParseReadResponse(frame, 1)
	if err != nil {
		t.Fatalf("ParseReadResponse() error = %v", err)
	}
	if got != 150 {
		t.Errorf("ParseReadResponse() = %d, want 150", got)
	}
}

func TestParseReadResponse_HighByte(t *testing.T) {
	frame := ReadResponse(7, 0x1234)
	got, err := ParseReadResponse(frame, 7)
	if err != nil {
		t.Fatalf("ParseReadResponse() error = %v", err)
	}
	if got != 0x1234 {
		t.Errorf("ParseReadResponse() = 0x%04X, want 0x1234", got)
	}
}

func TestParseReadResponse_Errors(t *testing.T) {
	corrupted := ReadResponse(1, 100)
	corrupted[4] ^= 0xFF

	exception := AppendCRC([]byte{0x01, 0x83, 0x02, 0x00, 0x00, 0x00, 0x00})

	tests := []struct {
		name  string
		frame []byte
		addr  Address
		want  error
	}{
		{"short", []byte{0x01, 0x03, 0x04}, 1, ErrShortFrame},
		{"empty", nil, 1, ErrShortFrame},
		{"bad crc", corrupted, 1, ErrChecksumMismatch},
		{"wrong unit", ReadResponse(2, 100), 1, ErrAddressMismatch},
		{"exception", exception, 1, ErrException},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseReadResponse(tt.frame, tt.addr)
			if !errors.Is(err, tt.want) {
				t.Errorf("ParseReadResponse() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestParseReadResponse_TrailingBytesIgnored(t *testing.T) {
	frame := append(ReadResponse(1, 42), 0xAA, 0xBB)
	got, err := ParseReadResponse(frame, 1)
	if err != nil {
		t.Fatalf("ParseReadResponse() error = %v", err)
	}
	if got != 42 {
		t.Errorf("ParseReadResponse() = %d, want 42", got)
	}
}

func TestParseWriteAck(t *testing.T) {
	ack := WriteAck(1, RegValveControl)
	if len(ack) != WriteAckSize {
		t.Fatalf("len(WriteAck) = %d, want %d", len(ack), WriteAckSize)
	}
	if err := ParseWriteAck(ack); err != nil {
		t.Errorf("ParseWriteAck() error = %v", err)
	}

	if err := ParseWriteAck(ack[:5]); !errors.Is(err, ErrShortFrame) {
		t.Errorf("ParseWriteAck(short) error = %v, want %v", err, ErrShortFrame)
	}

	ack[2] ^= 0x01
	if err := ParseWriteAck(ack); !errors.Is(err, ErrChecksumMismatch) {
		t.Errorf("ParseWriteAck(corrupt) error = %v, want %v", err, ErrChecksumMismatch)
	}
}

// ============================================================================
// Formatter Tests
// ============================================================================

func TestDescribe(t *testing.T) {
	got := Describe(CumulativeFlowRequest(1))
	want := "READ_HOLDING addr=1 len=8 crc=ok [01 03 00 0E 00 02 A5 C8]"
	if got != want {
		t.Errorf("Describe() = %q, want %q", got, want)
	}

	if got := Describe(nil); got != "<empty>" {
		t.Errorf("Describe(nil) = %q, want <empty>", got)
	}

	if got := Describe([]byte{0x01, 0x90, 0x00}); !strings.Contains(got, "EXCEPTION(WRITE_MULTIPLE)") {
		t.Errorf("Describe(exception) = %q, want EXCEPTION(WRITE_MULTIPLE)", got)
	}
}

func TestAddressString(t *testing.T) {
	if got := Address(12).String(); got != "12" {
		t.Errorf("Address.String() = %q, want \"12\"", got)
	}
}
