// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package command

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/Thermoquad/hydrant/pkg/dispense"
	"github.com/Thermoquad/hydrant/pkg/report"
	"github.com/Thermoquad/hydrant/pkg/rtu"
)

// Dispenser runs one blocking dispense job
type Dispenser interface {
	Dispense(addr rtu.Address, litres float64) dispense.Outcome
}

// Valves forces a valve open or closed
type Valves interface {
	OpenValve(addr rtu.Address) bool
	CloseValve(addr rtu.Address) bool
}

// Beater receives a liveness beat per processed command
type Beater interface {
	Beat()
}

// Processor executes queued commands on the controller goroutine
type Processor struct {
	queue     *Queue
	dispenser Dispenser
	valves    Valves
	pub       report.Publisher
	hb        Beater
	pause     time.Duration
	sleep     func(time.Duration)
	log       *slog.Logger
}

// NewProcessor creates a processor that waits pause between commands
func NewProcessor(queue *Queue, dispenser Dispenser, valves Valves, pub report.Publisher, hb Beater, pause time.Duration, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if pub == nil {
		pub = report.Discard
	}
	return &Processor{
		queue:     queue,
		dispenser: dispenser,
		valves:    valves,
		pub:       pub,
		hb:        hb,
		pause:     pause,
		sleep:     time.Sleep,
		log:       logger.With("component", "processor"),
	}
}

// SetSleep replaces the delay function used between commands
func (p *Processor) SetSleep(sleep func(time.Duration)) {
	p.sleep = sleep
}

// DrainAndProcess runs queued commands in order until the queue is empty and
// returns how many were taken. Each command finishes before the next starts;
// a failing command is logged and skipped.
func (p *Processor) DrainAndProcess() int {
	n := 0
	for {
		cmd, ok := p.queue.Pop()
		if !ok {
			return n
		}
		n++
		if p.hb != nil {
			p.hb.Beat()
		}
		if err := p.safeProcess(cmd); err != nil {
			p.log.Error("command failed", "id", cmd.ID.String(), "kind", cmd.Kind.String(), "error", err)
		}
		p.sleep(p.pause)
	}
}

func (p *Processor) safeProcess(cmd Command) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return p.process(cmd)
}

func (p *Processor) process(cmd Command) error {
	log := p.log.With("id", cmd.ID.String(), "address", int(cmd.Address), "device", cmd.DeviceID)
	log.Info("processing command", "kind", cmd.Kind.String(), "litres", cmd.Litres)

	switch cmd.Kind {
	case KindDispense:
		if cmd.Litres <= 0 {
			log.Warn("dispense command without litres dropped", "litres", cmd.Litres)
			return nil
		}
		p.pub.Publish(report.DispenseStarted(cmd.DeviceID, cmd.Litres))

		out := p.dispenser.Dispense(cmd.Address, cmd.Litres)
		if out.Completed() {
			p.pub.Publish(report.DispenseComplete(cmd.DeviceID, out.Dispensed, out.FinalReading))
		} else {
			p.pub.Publish(report.DispenseFailed(cmd.DeviceID, out.Reason, out.Dispensed))
		}
		return nil

	case KindValveOpen:
		if !p.valves.OpenValve(cmd.Address) {
			log.Warn("forced valve open not acknowledged")
		}
		p.pub.Publish(report.New(cmd.DeviceID, report.StatusValveForceOpen))
		return nil

	case KindValveClose:
		if !p.valves.CloseValve(cmd.Address) {
			log.Warn("forced valve close not acknowledged")
		}
		p.pub.Publish(report.New(cmd.DeviceID, report.StatusValveForceClosed))
		return nil

	default:
		return fmt.Errorf("unreachable: unhandled command kind %s", cmd.Kind)
	}
}
