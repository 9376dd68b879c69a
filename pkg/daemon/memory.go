// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package daemon

import (
	"fmt"

	"github.com/shirou/gopsutil/mem"
)

// MemoryProbe reports memory available to new allocations
type MemoryProbe interface {
	Available() (uint64, error)
}

// SystemMemory reads the host's available memory
type SystemMemory struct{}

// Available returns the kernel's MemAvailable estimate in bytes
func (SystemMemory) Available() (uint64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, fmt.Errorf("failed to read memory stats: %w", err)
	}
	return vm.Available, nil
}
