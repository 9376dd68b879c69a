// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package meter

import (
	"fmt"
	"time"
)

// Statistics tracks bus transactions and fault counts
type Statistics struct {
	StartTime time.Time

	// Counters
	Reads             uint64
	ValidReads        uint64
	Timeouts          uint64
	ChecksumErrors    uint64
	AddressMismatches uint64
	Exceptions        uint64
	IOErrors          uint64
	ValveCommands     uint64
	ValveAcks         uint64

	// Rates (calculated)
	TransactionRate float64 // transactions/sec
	ErrorRate       float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	return &Statistics{StartTime: time.Now()}
}

// Transactions returns the number of request/response exchanges
func (s *Statistics) Transactions() uint64 {
	return s.Reads + s.ValveCommands
}

// Errors returns the number of failed exchanges
func (s *Statistics) Errors() uint64 {
	return s.Timeouts + s.ChecksumErrors + s.AddressMismatches + s.Exceptions + s.IOErrors
}

// CalculateRates calculates transaction and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.TransactionRate = float64(s.Transactions()) / elapsed
		s.ErrorRate = float64(s.Errors()) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	var validPercent float64
	if s.Reads > 0 {
		validPercent = float64(s.ValidReads) * 100.0 / float64(s.Reads)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Bus Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Volume Reads:    %8d\n", s.Reads)
	result += fmt.Sprintf("Valid Reads:     %8d (%.1f%%)\n", s.ValidReads, validPercent)

	if s.Timeouts > 0 {
		result += fmt.Sprintf("Timeouts:        %8d\n", s.Timeouts)
	}
	if s.ChecksumErrors > 0 {
		result += fmt.Sprintf("CRC Errors:      %8d\n", s.ChecksumErrors)
	}
	if s.AddressMismatches > 0 {
		result += fmt.Sprintf("Wrong Unit:      %8d\n", s.AddressMismatches)
	}
	if s.Exceptions > 0 {
		result += fmt.Sprintf("Exceptions:      %8d\n", s.Exceptions)
	}
	if s.IOErrors > 0 {
		result += fmt.Sprintf("I/O Errors:      %8d\n", s.IOErrors)
	}
	if s.ValveCommands > 0 {
		result += fmt.Sprintf("Valve Commands:  %8d (%d acked)\n", s.ValveCommands, s.ValveAcks)
	}

	result += fmt.Sprintf("Bus Rate:        %8.1f txn/sec\n", s.TransactionRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "=====================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = Statistics{StartTime: time.Now()}
}
