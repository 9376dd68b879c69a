// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Thermoquad/hydrant/pkg/meter"
	"github.com/Thermoquad/hydrant/pkg/rtu"
	"github.com/spf13/cobra"
)

// frameGap is the bus silence that ends a frame on the wire
const frameGap = 20 * time.Millisecond

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display raw meter bus frames in human-readable format",
	Long: `Passively listen on the meter bus and display every frame seen.

Frames are delimited by bus silence and printed with a timestamp, function,
address and checksum verdict. Nothing is transmitted, so this can run on a
second adapter tapped onto the RS-485 pair while the daemon is dispensing.`,
	Args: cobra.NoArgs,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
}

func runRawLog(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	port, err := meter.OpenSerial(cfg.Serial)
	if err != nil {
		return err
	}
	defer port.Close()

	if err := port.SetReadTimeout(frameGap); err != nil {
		return fmt.Errorf("set read timeout: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Hydrant - Raw Bus Log\n")
	fmt.Fprintf(out, "Connection: %s @ %d baud\n", cfg.Serial.Port, cfg.Serial.Baud)
	fmt.Fprintf(out, "Press Ctrl+C to exit\n\n")

	return logFrames(ctx, port, out)
}

// logFrames prints each frame read from r until ctx is done. A read that
// returns no bytes is bus silence and closes the pending frame.
func logFrames(ctx context.Context, r io.Reader, w io.Writer) error {
	var fc frameCollector
	buf := make([]byte, 128)

	for ctx.Err() == nil {
		n, err := r.Read(buf)
		if err != nil {
			if frame := fc.Flush(); frame != nil {
				printFrame(w, frame)
			}
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("bus read: %w", err)
		}
		if n == 0 {
			if frame := fc.Flush(); frame != nil {
				printFrame(w, frame)
			}
			continue
		}
		fc.Feed(buf[:n])
	}

	if frame := fc.Flush(); frame != nil {
		printFrame(w, frame)
	}
	return nil
}

func printFrame(w io.Writer, frame []byte) {
	fmt.Fprintf(w, "[%s] %s\n", time.Now().Format("15:04:05.000"), rtu.Describe(frame))
}

// frameCollector accumulates bytes between silences
type frameCollector struct {
	pending []byte
}

// Feed appends bytes received since the last silence
func (f *frameCollector) Feed(p []byte) {
	f.pending = append(f.pending, p...)
}

// Flush returns the pending frame, or nil when nothing arrived
func (f *frameCollector) Flush() []byte {
	if len(f.pending) == 0 {
		return nil
	}
	frame := f.pending
	f.pending = nil
	return frame
}
