// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Thermoquad/hydrant/pkg/daemon"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the dispense controller",
	Long: `Run the dispense controller daemon.

On start the daemon opens the meter bus and the target store, resumes any
dispense interrupted by a power loss, then connects the remote link and
serves commands until SIGINT or SIGTERM.

A fatal fault in the controller loop makes the process exit with status 75
so the service manager restarts it. If the loop stalls instead, the
supervisor stops feeding the hardware watchdog and the board resets.`,
	Args: cobra.NoArgs,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := promptLinkPassword(&cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := newLogger(os.Stderr, cfg.Log)
	if err != nil {
		return err
	}

	d, err := daemon.Build(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Debug("configuration loaded", "version", rootCmd.Version, "config", configPath, "port", cfg.Serial.Port)

	runErr := d.Run(ctx)
	if err := d.Close(); err != nil {
		logger.Warn("shutdown incomplete", "error", err)
	}
	return runErr
}
