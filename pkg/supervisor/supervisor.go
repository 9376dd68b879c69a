// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ErrIntervalTooLong is returned when the poll interval would let the
// hardware watchdog expire between feeds
var ErrIntervalTooLong = errors.New("supervisor interval must be shorter than the watchdog timeout")

// Config holds the supervisor timings and devices
type Config struct {
	LivenessLimit   time.Duration `yaml:"liveness_limit"`
	Interval        time.Duration `yaml:"interval"`
	HardwareTimeout time.Duration `yaml:"hardware_timeout"`
	Watchdog        string        `yaml:"watchdog"` // device path, empty disables
	LED             string        `yaml:"led"`      // sysfs LED directory, empty disables
}

// DefaultConfig returns the production timings
func DefaultConfig() Config {
	return Config{
		LivenessLimit:   1200 * time.Second,
		Interval:        5 * time.Second,
		HardwareTimeout: 15 * time.Second,
		Watchdog:        "/dev/watchdog",
	}
}

var (
	watchdogFeeds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hydrant_watchdog_feeds_total",
		Help: "Hardware watchdog feeds.",
	})

	watchdogWithheld = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hydrant_watchdog_withheld_total",
		Help: "Supervisor ticks that withheld the feed because the controller was stale.",
	})

	heartbeatAge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hydrant_heartbeat_age_seconds",
		Help: "Age of the controller heartbeat at the last supervisor tick.",
	})
)

// Supervisor feeds the watchdog while the heartbeat is fresh
type Supervisor struct {
	hb  *Heartbeat
	wd  Watchdog
	led Indicator
	cfg Config
	log *slog.Logger
	now func() time.Time
}

// New creates a supervisor. A nil logger discards output.
func New(hb *Heartbeat, wd Watchdog, led Indicator, cfg Config, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if wd == nil {
		wd = NopWatchdog{}
	}
	if led == nil {
		led = NopIndicator{}
	}
	return &Supervisor{
		hb:  hb,
		wd:  wd,
		led: led,
		cfg: cfg,
		log: logger.With("component", "supervisor"),
		now: time.Now,
	}
}

// HardwareTimeout returns the watchdog timeout reported by the device, or
// the configured one when the device cannot report it
func (s *Supervisor) HardwareTimeout() time.Duration {
	if tr, ok := s.wd.(timeoutReporter); ok {
		if d, err := tr.Timeout(); err == nil && d > 0 {
			return d
		} else if err != nil {
			s.log.Warn("watchdog timeout unavailable, using configured value", "error", err)
		}
	}
	return s.cfg.HardwareTimeout
}

// Run ticks until ctx is done. It returns ErrIntervalTooLong without
// ticking if the interval is not shorter than the hardware timeout.
func (s *Supervisor) Run(ctx context.Context) error {
	timeout := s.HardwareTimeout()
	if s.cfg.Interval <= 0 || s.cfg.Interval >= timeout {
		return fmt.Errorf("%w: interval %s, timeout %s", ErrIntervalTooLong, s.cfg.Interval, timeout)
	}

	s.log.Info("supervisor started",
		"interval", s.cfg.Interval,
		"liveness_limit", s.cfg.LivenessLimit,
		"hardware_timeout", timeout)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.Tick()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Tick performs one supervision step and reports whether the watchdog was fed
func (s *Supervisor) Tick() bool {
	age := s.hb.Age(s.now())
	heartbeatAge.Set(age.Seconds())

	fed := false
	if age < s.cfg.LivenessLimit {
		if err := s.wd.Feed(); err != nil {
			s.log.Error("watchdog feed failed", "error", err)
		} else {
			watchdogFeeds.Inc()
			fed = true
		}
	} else {
		watchdogWithheld.Inc()
		s.log.Error("controller heartbeat stale, withholding watchdog feed",
			"age", age.Round(time.Second),
			"limit", s.cfg.LivenessLimit)
	}

	if err := s.led.Toggle(); err != nil {
		s.log.Debug("indicator toggle failed", "error", err)
	}
	return fed
}
