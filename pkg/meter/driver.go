// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package meter drives the flow meter / valve units over the shared RTU bus.
//
// Every fault below the driver (timeouts, checksum failures, replies from the
// wrong unit) is absorbed here: reads report an absent value and valve
// commands report a missing acknowledgment. A Driver is owned by exactly one
// goroutine and is not safe for concurrent use.
package meter

import (
	"errors"
	"log/slog"
	"time"

	"github.com/Thermoquad/hydrant/pkg/rtu"
)

// Config holds the driver timing and scaling
type Config struct {
	Scale        float64       `yaml:"scale"`         // litres per register count
	ReadAttempts int           `yaml:"read_attempts"` // response polls per exchange
	ReadInterval time.Duration `yaml:"read_interval"` // wait per response poll
	Settle       time.Duration `yaml:"settle"`        // pause after every valve command
	DrainPoll    time.Duration `yaml:"drain_poll"`
	DrainQuiet   time.Duration `yaml:"drain_quiet"`
}

// DefaultConfig returns the timings the meters were commissioned with
func DefaultConfig() Config {
	return Config{
		Scale:        1,
		ReadAttempts: 15,
		ReadInterval: 100 * time.Millisecond,
		Settle:       500 * time.Millisecond,
		DrainPoll:    10 * time.Millisecond,
		DrainQuiet:   50 * time.Millisecond,
	}
}

// maxDrainReads bounds the stale-byte drain on a chattering line
const maxDrainReads = 64

// Driver speaks the meter protocol on a Bus
type Driver struct {
	bus      Bus
	cfg      Config
	log      *slog.Logger
	stats    *Statistics
	sleep    func(time.Duration)
	rxBuf    []byte
	drainBuf []byte
}

// NewDriver creates a driver for bus. A nil logger discards output.
func NewDriver(bus Bus, cfg Config, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Scale == 0 {
		cfg.Scale = 1
	}
	if cfg.ReadAttempts <= 0 {
		cfg.ReadAttempts = 1
	}
	return &Driver{
		bus:      bus,
		cfg:      cfg,
		log:      logger.With("component", "meter"),
		stats:    NewStatistics(),
		sleep:    time.Sleep,
		rxBuf:    make([]byte, 64),
		drainBuf: make([]byte, 64),
	}
}

// SetSleep replaces the delay function used for settle, retry and drain waits
func (d *Driver) SetSleep(sleep func(time.Duration)) {
	d.sleep = sleep
}

// Statistics returns the driver's bus counters
func (d *Driver) Statistics() *Statistics {
	return d.stats
}

// ReadCumulativeVolume reads the cumulative flow register of addr.
// The second result is false when the unit did not produce a valid reply.
func (d *Driver) ReadCumulativeVolume(addr rtu.Address) (float64, bool) {
	d.stats.Reads++
	busTransactions.WithLabelValues(opRead).Inc()

	log := d.log.With("address", int(addr))
	request := rtu.CumulativeFlowRequest(addr)

	d.drain()
	log.Debug("tx", "frame", rtu.Describe(request))
	if _, err := d.bus.Write(request); err != nil {
		d.stats.IOErrors++
		busFailures.WithLabelValues(opRead, "write").Inc()
		log.Warn("volume request write failed", "error", err)
		return 0, false
	}

	response, err := d.expect(rtu.ReadResponseSize)
	if err == nil {
		log.Debug("rx", "frame", rtu.Describe(response))
		var raw uint16
		raw, err = rtu.ParseReadResponse(response, addr)
		if err == nil {
			d.stats.ValidReads++
			return float64(raw) * d.cfg.Scale, true
		}
	}

	d.countFault(opRead, err)
	log.Warn("volume read failed", "error", err)
	return 0, false
}

// GetValidVolume retries ReadCumulativeVolume up to retries times, waiting
// delay between attempts. The value is absent only if every attempt failed.
func (d *Driver) GetValidVolume(addr rtu.Address, retries int, delay time.Duration) (float64, bool) {
	if retries <= 0 {
		retries = 1
	}
	for attempt := 1; attempt <= retries; attempt++ {
		if volume, ok := d.ReadCumulativeVolume(addr); ok {
			return volume, true
		}
		if attempt < retries {
			d.log.Debug("retrying volume read", "address", int(addr), "attempt", attempt, "retries", retries)
			d.sleep(delay)
		}
	}
	d.log.Error("no valid volume after retries", "address", int(addr), "retries", retries)
	return 0, false
}

// OpenValve commands the valve of addr open. It reports whether the unit
// acknowledged; the settle delay is observed either way.
func (d *Driver) OpenValve(addr rtu.Address) bool {
	return d.setValve(addr, true)
}

// CloseValve commands the valve of addr closed. It reports whether the unit
// acknowledged; the settle delay is observed either way.
func (d *Driver) CloseValve(addr rtu.Address) bool {
	return d.setValve(addr, false)
}

func (d *Driver) setValve(addr rtu.Address, open bool) bool {
	d.stats.ValveCommands++
	busTransactions.WithLabelValues(opValve).Inc()

	action := "close"
	if open {
		action = "open"
	}
	log := d.log.With("address", int(addr), "valve", action)
	request := rtu.ValveRequest(addr, open)

	d.drain()
	log.Debug("tx", "frame", rtu.Describe(request))

	acked := false
	if _, err := d.bus.Write(request); err != nil {
		d.stats.IOErrors++
		busFailures.WithLabelValues(opValve, "write").Inc()
		log.Warn("valve command write failed", "error", err)
	} else {
		ack, err := d.expect(rtu.WriteAckSize)
		if err == nil {
			log.Debug("rx", "frame", rtu.Describe(ack))
			err = rtu.ParseWriteAck(ack)
		}
		if err != nil {
			d.countFault(opValve, err)
			log.Warn("valve command not acknowledged", "error", err)
		} else {
			d.stats.ValveAcks++
			acked = true
		}
	}

	d.sleep(d.cfg.Settle)
	return acked
}

// drain discards bytes left on the line by earlier exchanges
func (d *Driver) drain() {
	if err := d.bus.ResetInputBuffer(); err != nil {
		d.log.Debug("input buffer reset failed", "error", err)
	}
	if err := d.bus.SetReadTimeout(d.cfg.DrainPoll); err != nil {
		d.log.Debug("set read timeout failed", "error", err)
	}

	discarded := 0
	for i := 0; i < maxDrainReads; i++ {
		n, err := d.bus.Read(d.drainBuf)
		discarded += n
		if n == 0 || err != nil {
			break
		}
	}
	if discarded > 0 {
		d.log.Debug("drained stale bytes", "count", discarded)
	}

	d.sleep(d.cfg.DrainQuiet)
}

// expect polls the bus until n bytes have arrived or the attempts run out
func (d *Driver) expect(n int) ([]byte, error) {
	if err := d.bus.SetReadTimeout(d.cfg.ReadInterval); err != nil {
		d.log.Debug("set read timeout failed", "error", err)
	}

	frame := make([]byte, 0, n)
	for attempt := 0; attempt < d.cfg.ReadAttempts && len(frame) < n; attempt++ {
		got, err := d.bus.Read(d.rxBuf)
		if got > 0 {
			frame = append(frame, d.rxBuf[:got]...)
		}
		if err != nil {
			return frame, err
		}
	}

	if len(frame) < n {
		return frame, rtu.ErrReadTimeout
	}
	return frame[:n], nil
}

func (d *Driver) countFault(op string, err error) {
	fault := "other"
	switch {
	case errors.Is(err, rtu.ErrReadTimeout), errors.Is(err, rtu.ErrShortFrame):
		d.stats.Timeouts++
		fault = "timeout"
	case errors.Is(err, rtu.ErrChecksumMismatch):
		d.stats.ChecksumErrors++
		fault = "checksum"
	case errors.Is(err, rtu.ErrAddressMismatch):
		d.stats.AddressMismatches++
		fault = "address"
	case errors.Is(err, rtu.ErrException):
		d.stats.Exceptions++
		fault = "exception"
	default:
		d.stats.IOErrors++
	}
	busFailures.WithLabelValues(op, fault).Inc()
}
