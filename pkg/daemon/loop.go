// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Thermoquad/hydrant/pkg/command"
	"github.com/Thermoquad/hydrant/pkg/config"
	"github.com/Thermoquad/hydrant/pkg/dispense"
	"github.com/Thermoquad/hydrant/pkg/link"
	"github.com/Thermoquad/hydrant/pkg/report"
	"github.com/Thermoquad/hydrant/pkg/store"
	"github.com/Thermoquad/hydrant/pkg/supervisor"
)

// loop is the controller goroutine: the only owner of the meter bus and the
// only consumer of the command queue
type loop struct {
	cfg     config.Config
	meter   dispense.Meter
	ctl     *dispense.Controller
	proc    *command.Processor
	queue   *command.Queue
	targets *store.Targets
	link    link.Link
	hb      *supervisor.Heartbeat
	mem     MemoryProbe
	log     *slog.Logger
	now     func() time.Time

	linkDownSince time.Time
}

// run recovers interrupted jobs and iterates until ctx is done or a step fails
func (l *loop) run(ctx context.Context) error {
	l.hb.Beat()
	if l.cfg.Loop.StartupDelay > 0 {
		l.log.Info("waiting before recovery", "delay", l.cfg.Loop.StartupDelay)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(l.cfg.Loop.StartupDelay):
		}
	}

	if err := l.step("recovery", func() error {
		l.ctl.Recover(l.cfg.Addresses, l.link, l.cfg.DeviceID)
		return nil
	}); err != nil {
		return err
	}

	l.log.Info("controller loop started", "addresses", len(l.cfg.Addresses))
	for ctx.Err() == nil {
		if err := l.iterate(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (l *loop) iterate(ctx context.Context) error {
	l.hb.Beat()

	if err := l.step("maintenance", l.maintenance); err != nil {
		return err
	}
	if err := l.step("commands", func() error {
		l.proc.DrainAndProcess()
		return nil
	}); err != nil {
		return err
	}
	if err := l.step("link_health", l.checkLink); err != nil {
		return err
	}
	if err := l.step("idle_poll", func() error {
		l.idlePoll()
		return nil
	}); err != nil {
		return err
	}

	l.hb.Beat()
	l.idle(ctx)
	l.hb.Beat()
	return nil
}

// step runs fn, turning both errors and panics into a FatalLoopFault
func (l *loop) step(name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fault(name, fmt.Errorf("panic: %v", r))
		}
	}()
	if err := fn(); err != nil {
		return fault(name, err)
	}
	return nil
}

// maintenance enforces the free memory floor
func (l *loop) maintenance() error {
	if l.cfg.Loop.MinFreeMemory == 0 || l.mem == nil {
		return nil
	}
	avail, err := l.mem.Available()
	if err != nil {
		l.log.Warn("memory check skipped", "error", err)
		return nil
	}
	if avail < l.cfg.Loop.MinFreeMemory {
		return fmt.Errorf("%w: %d < %d bytes", ErrLowMemory, avail, l.cfg.Loop.MinFreeMemory)
	}
	return nil
}

// checkLink fails once the link has been down longer than the grace period
func (l *loop) checkLink() error {
	if l.link.Connected() {
		l.linkDownSince = time.Time{}
		return nil
	}

	now := l.now()
	if l.linkDownSince.IsZero() {
		l.linkDownSince = now
		l.log.Warn("backend link down")
		return nil
	}

	down := now.Sub(l.linkDownSince)
	if l.cfg.Loop.LinkGrace > 0 && down > l.cfg.Loop.LinkGrace {
		return fmt.Errorf("%w: down for %s", ErrLinkLost, down.Round(time.Second))
	}
	return nil
}

// idlePoll reports every unit's reading while the link is up
func (l *loop) idlePoll() {
	if !l.link.Connected() {
		return
	}
	for _, addr := range l.cfg.Addresses {
		device := report.DeviceID(l.cfg.DeviceID, addr)

		current, ok := l.meter.GetValidVolume(addr, l.cfg.Dispense.Retries, l.cfg.Dispense.RetryDelay)
		if !ok {
			l.log.Warn("idle read failed", "address", int(addr))
			continue
		}

		if target, ok := l.targets.Load(addr); ok && target > current {
			l.log.Warn("interrupted batch detected", "address", int(addr), "target", target, "current", current)
			l.link.Publish(report.Interrupted(device, current))
		} else {
			l.link.Publish(report.Idle(device, current))
		}
	}
}

// idle sleeps for the idle interval, waking early for queued commands
func (l *loop) idle(ctx context.Context) {
	waitCtx, cancel := context.WithTimeout(ctx, l.cfg.Loop.IdleInterval)
	defer cancel()
	if err := l.queue.Wait(waitCtx); err == nil {
		l.log.Debug("woken by queued command", "depth", l.queue.Len())
	}
}
