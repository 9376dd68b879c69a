// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"github.com/Thermoquad/hydrant/pkg/config"
	"github.com/spf13/cobra"
)

var (
	// Configuration flags
	configPath string
	envFile    string
	logLevel   string

	// Serial overrides
	portName string
	baudRate int
)

var rootCmd = &cobra.Command{
	Use:   "hydrant",
	Short: "Water ATM dispense controller",
	Long: `Hydrant - Controller daemon for a networked water vending machine.

Drives one or more flow meters with integrated valves over a shared RS-485
Modbus RTU bus, dispenses volumes ordered over the remote link, survives
power loss mid-dispense and keeps a hardware watchdog fed while healthy.

Commands:
  run:    start the controller daemon
  probe:  read each meter once and show its persisted target

Settings come from the YAML file given by --config, then the environment.
The link password is read from HYDRANT_LINK_PASSWORD, or prompted
interactively when a username is configured and stdin is a terminal. A
--password flag is intentionally not provided to avoid leaking credentials
in shell history.`,
	Version:       "1.0.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Environment file loaded before the HYDRANT_* variables are read")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level override (debug, info, warn, error)")

	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Meter bus serial device override")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 0, "Meter bus baud rate override")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig loads the configuration and applies the persistent flag overrides
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath, envFile)
	if err != nil {
		return cfg, err
	}

	if portName != "" {
		cfg.Serial.Port = portName
	}
	if baudRate > 0 {
		cfg.Serial.Baud = baudRate
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}
