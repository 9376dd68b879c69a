// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package dispense runs dispense jobs against one meter/valve unit and
// resumes jobs interrupted by power loss.
//
// The target (start reading + litres) is persisted before the valve opens,
// so on any interruption the store already holds how far the meter still has
// to advance. A job never times out on its own: it ends when the meter reaches
// the target or when the meter stops answering.
package dispense

import (
	"log/slog"
	"time"

	"github.com/Thermoquad/hydrant/pkg/rtu"
)

// Meter is the subset of the meter driver the controller uses
type Meter interface {
	ReadCumulativeVolume(addr rtu.Address) (float64, bool)
	GetValidVolume(addr rtu.Address, retries int, delay time.Duration) (float64, bool)
	OpenValve(addr rtu.Address) bool
	CloseValve(addr rtu.Address) bool
}

// TargetStore persists per-address targets
type TargetStore interface {
	Save(addr rtu.Address, target float64)
	Load(addr rtu.Address) (float64, bool)
}

// Beater receives a liveness beat on every monitoring poll
type Beater interface {
	Beat()
}

// Config holds the dispense timings
type Config struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	OpenSettle   time.Duration `yaml:"open_settle"`
	MaxErrors    int           `yaml:"max_errors"`  // consecutive absent readings before giving up
	Retries      int           `yaml:"retries"`     // attempts for the start reading
	RetryDelay   time.Duration `yaml:"retry_delay"` // spacing of start reading attempts
}

// DefaultConfig returns the production timings
func DefaultConfig() Config {
	return Config{
		PollInterval: time.Second,
		OpenSettle:   time.Second,
		MaxErrors:    5,
		Retries:      5,
		RetryDelay:   time.Second,
	}
}

type nopBeater struct{}

func (nopBeater) Beat() {}

// Controller runs dispense jobs. It is used only from the goroutine that
// owns the meter bus.
type Controller struct {
	meter Meter
	store TargetStore
	hb    Beater
	cfg   Config
	log   *slog.Logger
	sleep func(time.Duration)
}

// NewController creates a controller. A nil Beater or logger is replaced
// with a no-op.
func NewController(meter Meter, store TargetStore, hb Beater, cfg Config, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if hb == nil {
		hb = nopBeater{}
	}
	if cfg.MaxErrors <= 0 {
		cfg.MaxErrors = 1
	}
	return &Controller{
		meter: meter,
		store: store,
		hb:    hb,
		cfg:   cfg,
		log:   logger.With("component", "dispense"),
		sleep: time.Sleep,
	}
}

// SetSleep replaces the delay function used between polls
func (c *Controller) SetSleep(sleep func(time.Duration)) {
	c.sleep = sleep
}

// Dispense delivers litres through the unit at addr and blocks until the
// job completes or fails.
func (c *Controller) Dispense(addr rtu.Address, litres float64) Outcome {
	began := time.Now()
	log := c.log.With("address", int(addr), "litres", litres)

	outcome := c.run(log, addr, litres)

	observe(outcome, time.Since(began))
	if outcome.Completed() {
		log.Info("dispense completed",
			"dispensed", outcome.Dispensed,
			"final_reading", outcome.FinalReading)
	} else {
		log.Error("dispense failed",
			"reason", outcome.Reason,
			"dispensed", outcome.Dispensed)
	}
	return outcome
}

func (c *Controller) run(log *slog.Logger, addr rtu.Address, litres float64) Outcome {
	c.enter(log, StateStartRead)
	start, ok := c.meter.GetValidVolume(addr, c.cfg.Retries, c.cfg.RetryDelay)
	if !ok {
		return Outcome{State: StateFailed, Reason: ReasonInitialRead}
	}

	target := start + litres
	c.enter(log, StatePersist, "start", start, "target", target)
	c.store.Save(addr, target)

	c.enter(log, StateValveOpen)
	if !c.meter.OpenValve(addr) {
		log.Warn("valve open not acknowledged, monitoring anyway")
	}
	c.sleep(c.cfg.OpenSettle)

	c.enter(log, StateMonitoring)
	last := start
	misses := 0
	for {
		c.hb.Beat()

		current, ok := c.meter.ReadCumulativeVolume(addr)
		if !ok {
			misses++
			log.Warn("meter reading absent", "consecutive", misses, "limit", c.cfg.MaxErrors)
			if misses >= c.cfg.MaxErrors {
				c.closeValve(log, addr)
				return Outcome{
					State:     StateFailed,
					Reason:    ReasonMeterTimeout,
					Start:     start,
					Target:    target,
					Dispensed: last - start,
				}
			}
		} else {
			misses = 0
			last = current
			log.Debug("monitoring", "current", current, "remaining", target-current)

			if current >= target {
				c.closeValve(log, addr)
				c.store.Save(addr, current)
				return Outcome{
					State:        StateCompleted,
					Start:        start,
					Target:       target,
					Dispensed:    current - start,
					FinalReading: current,
				}
			}
		}

		c.sleep(c.cfg.PollInterval)
	}
}

func (c *Controller) closeValve(log *slog.Logger, addr rtu.Address) {
	if !c.meter.CloseValve(addr) {
		log.Error("valve close not acknowledged")
	}
}

func (c *Controller) enter(log *slog.Logger, s State, args ...any) {
	log.Debug("dispense state", append([]any{"state", s.String()}, args...)...)
}
