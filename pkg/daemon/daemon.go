// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package daemon wires the components together and runs the three
// concurrent contexts: the backend link (command producer), the controller
// loop (bus owner and command consumer) and the liveness supervisor.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/Thermoquad/hydrant/pkg/command"
	"github.com/Thermoquad/hydrant/pkg/config"
	"github.com/Thermoquad/hydrant/pkg/dispense"
	"github.com/Thermoquad/hydrant/pkg/link"
	"github.com/Thermoquad/hydrant/pkg/meter"
	"github.com/Thermoquad/hydrant/pkg/store"
	"github.com/Thermoquad/hydrant/pkg/supervisor"
)

// Deps are the hardware and network resources the daemon runs on
type Deps struct {
	Meter     dispense.Meter
	Backend   store.Backend
	Link      link.Link
	Queue     *command.Queue
	Watchdog  supervisor.Watchdog
	Indicator supervisor.Indicator
	Memory    MemoryProbe
	Restarter Restarter
	Closers   []io.Closer // released after the store on Close
}

// Daemon is the assembled controller
type Daemon struct {
	cfg       config.Config
	deps      Deps
	targets   *store.Targets
	hb        *supervisor.Heartbeat
	loop      *loop
	sup       *supervisor.Supervisor
	log       *slog.Logger
	closeOnce sync.Once
}

// Build opens the serial bus, store, link and watchdog described by cfg
func Build(cfg config.Config, logger *slog.Logger) (*Daemon, error) {
	port, err := meter.OpenSerial(cfg.Serial)
	if err != nil {
		return nil, err
	}

	backend, err := store.OpenBackend(cfg.Store, logger)
	if err != nil {
		port.Close()
		return nil, err
	}

	queue := command.NewQueue()
	ingest := command.NewIngest(queue, cfg.Link.RejectLogRate, cfg.Link.RejectLogBurst, logger)
	lnk, err := link.Open(cfg.Link, ingest.Handle, logger)
	if err != nil {
		backend.Close()
		port.Close()
		return nil, err
	}

	d := New(cfg, Deps{
		Meter:     meter.NewDriver(port, cfg.Meter, logger),
		Backend:   backend,
		Link:      lnk,
		Queue:     queue,
		Watchdog:  supervisor.OpenWatchdog(cfg.Supervisor.Watchdog, logger),
		Indicator: supervisor.OpenIndicator(cfg.Supervisor.LED),
		Memory:    SystemMemory{},
		Restarter: ExitRestarter{Log: logger},
		Closers:   []io.Closer{port},
	}, logger)

	OnExit(func() {
		if err := d.Close(); err != nil {
			d.log.Error("shutdown cleanup failed", "error", err)
		}
	})
	return d, nil
}

// New assembles a daemon from already opened resources
func New(cfg config.Config, deps Deps, logger *slog.Logger) *Daemon {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if deps.Queue == nil {
		deps.Queue = command.NewQueue()
	}
	if deps.Restarter == nil {
		deps.Restarter = ExitRestarter{Log: logger}
	}

	hb := supervisor.NewHeartbeat()
	targets := store.NewTargets(deps.Backend, logger)
	ctl := dispense.NewController(deps.Meter, targets, hb, cfg.Dispense, logger)
	proc := command.NewProcessor(deps.Queue, ctl, deps.Meter, deps.Link, hb, cfg.Loop.QueuePause, logger)

	return &Daemon{
		cfg:     cfg,
		deps:    deps,
		targets: targets,
		hb:      hb,
		loop: &loop{
			cfg:     cfg,
			meter:   deps.Meter,
			ctl:     ctl,
			proc:    proc,
			queue:   deps.Queue,
			targets: targets,
			link:    deps.Link,
			hb:      hb,
			mem:     deps.Memory,
			log:     logger.With("component", "loop"),
			now:     time.Now,
		},
		sup: supervisor.New(hb, deps.Watchdog, deps.Indicator, cfg.Supervisor, logger),
		log: logger.With("component", "daemon"),
	}
}

// Heartbeat returns the controller liveness signal
func (d *Daemon) Heartbeat() *supervisor.Heartbeat {
	return d.hb
}

// Targets returns the target store
func (d *Daemon) Targets() *store.Targets {
	return d.targets
}

// Run runs every context until ctx is done. A FatalLoopFault stops the
// others and triggers a controlled restart; the fault is also returned.
func (d *Daemon) Run(ctx context.Context) error {
	d.log.Info("hydrant starting",
		"device", d.cfg.DeviceID,
		"addresses", len(d.cfg.Addresses),
		"link", d.cfg.Link.Kind)

	g, gctx := errgroup.WithContext(ctx)

	// The supervisor keeps feeding until the loop returns, so a dispense
	// still running at shutdown stays supervised to its end.
	supCtx, stopSup := context.WithCancel(context.Background())
	defer stopSup()

	g.Go(func() error {
		return d.deps.Link.Run(gctx)
	})
	g.Go(func() error {
		return d.sup.Run(supCtx)
	})
	g.Go(func() error {
		defer stopSup()
		return d.loop.run(gctx)
	})
	if d.cfg.Metrics.Listen != "" {
		d.serveMetrics(gctx, g)
	}

	err := g.Wait()

	var lf *FatalLoopFault
	if errors.As(err, &lf) {
		d.log.Error("controller loop failed", "step", lf.Step, "error", lf.Err)
		d.deps.Restarter.Restart(lf)
		return lf
	}
	if err != nil {
		return err
	}
	d.log.Info("hydrant stopped")
	return nil
}

func (d *Daemon) serveMetrics(ctx context.Context, g *errgroup.Group) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              d.cfg.Metrics.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		d.log.Info("metrics listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// Close flushes the store and releases the watchdog and bus. Safe to call
// more than once.
func (d *Daemon) Close() error {
	var err error
	d.closeOnce.Do(func() {
		var errs []error
		if e := d.targets.Close(); e != nil {
			errs = append(errs, fmt.Errorf("store: %w", e))
		}
		if d.deps.Watchdog != nil {
			if e := d.deps.Watchdog.Close(); e != nil {
				errs = append(errs, fmt.Errorf("watchdog: %w", e))
			}
		}
		for _, c := range d.deps.Closers {
			if e := c.Close(); e != nil {
				errs = append(errs, e)
			}
		}
		err = errors.Join(errs...)
	})
	return err
}
