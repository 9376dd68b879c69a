// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Hydrant - Water ATM Dispense Controller
//
// Drives flow meters with integrated valves over a Modbus RTU bus and
// dispenses the volumes ordered over the remote link.

package main

import (
	"fmt"
	"os"

	"github.com/Thermoquad/hydrant/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
