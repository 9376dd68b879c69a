// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dispense

import (
	"fmt"

	"github.com/Thermoquad/hydrant/pkg/report"
	"github.com/Thermoquad/hydrant/pkg/rtu"
)

// RecoveryAction is what boot recovery did for one address
type RecoveryAction string

// Recovery actions
const (
	RecoveryInitialized RecoveryAction = "initialized" // no record; target set to the current reading
	RecoveryUnreadable  RecoveryAction = "unreadable"  // meter did not answer; nothing done
	RecoveryClean       RecoveryAction = "clean"       // no outstanding debt
	RecoveryResumed     RecoveryAction = "resumed"     // remaining litres dispensed
	RecoveryError       RecoveryAction = "error"       // recovery of this address panicked
)

// Recovery is the result of recovering one address
type Recovery struct {
	Address rtu.Address
	Action  RecoveryAction
	Outcome *Outcome // set when resumed
}

// Recover reconciles the persisted target of every address with its meter
// and finishes any interrupted dispense. Addresses are handled in order; a
// failure on one does not stop the rest.
func (c *Controller) Recover(addrs []rtu.Address, pub report.Publisher, deviceID string) []Recovery {
	if pub == nil {
		pub = report.Discard
	}

	c.log.Info("checking for interrupted dispenses", "addresses", len(addrs))
	results := make([]Recovery, 0, len(addrs))
	for _, addr := range addrs {
		r := c.recoverOne(addr, pub, deviceID)
		recoveryTotal.WithLabelValues(string(r.Action)).Inc()
		results = append(results, r)
	}
	return results
}

func (c *Controller) recoverOne(addr rtu.Address, pub report.Publisher, deviceID string) (result Recovery) {
	log := c.log.With("address", int(addr))
	result = Recovery{Address: addr}

	defer func() {
		if r := recover(); r != nil {
			log.Error("recovery failed", "panic", fmt.Sprint(r))
			result.Action = RecoveryError
		}
	}()

	c.hb.Beat()
	target, ok := c.store.Load(addr)
	if !ok {
		log.Info("no saved target, reading meter")
		current, ok := c.meter.GetValidVolume(addr, c.cfg.Retries, c.cfg.RetryDelay)
		if !ok {
			log.Error("cannot initialize target, meter unreadable")
			result.Action = RecoveryUnreadable
			return result
		}
		c.store.Save(addr, current)
		log.Info("target initialized", "volume", current)
		result.Action = RecoveryInitialized
		return result
	}

	current, ok := c.meter.GetValidVolume(addr, c.cfg.Retries, c.cfg.RetryDelay)
	if !ok {
		log.Error("meter unreadable, skipping recovery", "target", target)
		result.Action = RecoveryUnreadable
		return result
	}

	if target <= current {
		log.Info("no outstanding debt", "target", target, "current", current)
		result.Action = RecoveryClean
		return result
	}

	remaining := target - current
	log.Warn("resuming interrupted dispense", "target", target, "current", current, "remaining", remaining)
	pub.Publish(report.ResumingBatch(report.DeviceID(deviceID, addr), remaining))

	outcome := c.Dispense(addr, remaining)
	result.Action = RecoveryResumed
	result.Outcome = &outcome
	return result
}
