// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Thermoquad/hydrant/pkg/meter"
	"github.com/Thermoquad/hydrant/pkg/rtu"
	"github.com/Thermoquad/hydrant/pkg/store"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	probeAddresses []uint
	probeValve     string
	probeFrames    bool
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Read each meter once and show its persisted target",
	Long: `Probe the meter bus without starting the daemon.

For every configured address (or each --address given) the probe reads the
cumulative volume, looks up the persisted dispense target and shows how much
is still owed. With --valve the valve of each unit is forced open or closed
afterwards, which is useful when commissioning a machine.

Stop the daemon first: the bus has a single master.`,
	Args: cobra.NoArgs,
	RunE: runProbe,
}

func init() {
	probeCmd.Flags().UintSliceVarP(&probeAddresses, "address", "a", nil, "Unit address to probe (repeatable, default: all configured)")
	probeCmd.Flags().StringVar(&probeValve, "valve", "", "Force the valve afterwards (open or close)")
	probeCmd.Flags().BoolVar(&probeFrames, "frames", false, "Print the request frames sent to each unit")
	rootCmd.AddCommand(probeCmd)
}

// probeStyles renders probe output, coloured only on a terminal
type probeStyles struct {
	label func(...string) string
	ok    func(...string) string
	warn  func(...string) string
	bad   func(...string) string
}

func plainStyles() probeStyles {
	plain := func(s ...string) string { return strings.Join(s, " ") }
	return probeStyles{label: plain, ok: plain, warn: plain, bad: plain}
}

func terminalStyles() probeStyles {
	return probeStyles{
		label: lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true).Render,
		ok:    lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render,
		warn:  lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Render,
		bad:   lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true).Render,
	}
}

func runProbe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	addrs, err := probeTargets(cfg.Addresses, probeAddresses)
	if err != nil {
		return err
	}

	var forceOpen bool
	switch probeValve {
	case "":
	case "open":
		forceOpen = true
	case "close":
	default:
		return fmt.Errorf("--valve must be open or close, got %q", probeValve)
	}

	logger, err := newLogger(os.Stderr, cfg.Log)
	if err != nil {
		return err
	}

	port, err := meter.OpenSerial(cfg.Serial)
	if err != nil {
		return err
	}
	defer port.Close()

	drv := meter.NewDriver(port, cfg.Meter, logger)

	backend, err := store.OpenBackend(cfg.Store, logger)
	if err != nil {
		return fmt.Errorf("target store: %w", err)
	}
	targets := store.NewTargets(backend, logger)
	defer targets.Close()

	styles := plainStyles()
	if term.IsTerminal(int(os.Stdout.Fd())) {
		styles = terminalStyles()
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Probing %d unit(s) on %s @ %d baud\n\n", len(addrs), cfg.Serial.Port, cfg.Serial.Baud)

	for _, addr := range addrs {
		if probeFrames {
			fmt.Fprintln(out, "  >", rtu.Describe(rtu.CumulativeFlowRequest(addr)))
		}

		volume, ok := drv.GetValidVolume(addr, cfg.Dispense.Retries, cfg.Dispense.RetryDelay)
		target, targetErr := targets.Lookup(addr)
		fmt.Fprintln(out, formatProbeLine(styles, addr, volume, ok, target, targetErr))

		if probeValve != "" {
			if probeFrames {
				fmt.Fprintln(out, "  >", rtu.Describe(rtu.ValveRequest(addr, forceOpen)))
			}
			writeValveResult(out, styles, probeValve, forceValve(drv, addr, forceOpen))
		}
	}

	fmt.Fprintln(out)
	fmt.Fprint(out, drv.Statistics().String())
	return nil
}

// probeTargets resolves the --address flags against the configured units
func probeTargets(configured []rtu.Address, requested []uint) ([]rtu.Address, error) {
	if len(requested) == 0 {
		return configured, nil
	}
	addrs := make([]rtu.Address, 0, len(requested))
	for _, a := range requested {
		if a < 1 || a > 247 {
			return nil, fmt.Errorf("address %d outside 1..247", a)
		}
		addrs = append(addrs, rtu.Address(a))
	}
	return addrs, nil
}

func forceValve(drv *meter.Driver, addr rtu.Address, open bool) bool {
	if open {
		return drv.OpenValve(addr)
	}
	return drv.CloseValve(addr)
}

func writeValveResult(w io.Writer, st probeStyles, action string, acked bool) {
	if acked {
		fmt.Fprintf(w, "  valve %s: %s\n", action, st.ok("acked"))
		return
	}
	fmt.Fprintf(w, "  valve %s: %s\n", action, st.bad("no ack"))
}

// formatProbeLine renders one unit: volume, persisted target and the
// outstanding amount a resume would dispense
func formatProbeLine(st probeStyles, addr rtu.Address, volume float64, ok bool, target float64, targetErr error) string {
	var b strings.Builder
	b.WriteString(st.label(fmt.Sprintf("unit %-3d", addr)))

	if !ok {
		b.WriteString("  volume " + st.bad("unreadable"))
	} else {
		fmt.Fprintf(&b, "  volume %10.3f L", volume)
	}

	switch {
	case errors.Is(targetErr, store.ErrNotFound):
		b.WriteString("  target " + st.warn("none"))
		return b.String()
	case targetErr != nil:
		b.WriteString("  target " + st.bad("unreadable"))
		return b.String()
	}
	fmt.Fprintf(&b, "  target %10.3f L", target)

	if !ok {
		return b.String()
	}
	if target > volume {
		b.WriteString("  " + st.warn(fmt.Sprintf("owed %.3f L", target-volume)))
	} else {
		b.WriteString("  " + st.ok("settled"))
	}
	return b.String()
}
