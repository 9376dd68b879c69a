// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package store persists the per-address target volume: the cumulative
// meter reading at which the customer's outstanding water is fully
// delivered. A record survives power loss and process restarts.
package store

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/Thermoquad/hydrant/pkg/rtu"
)

var (
	// ErrNotFound is returned when no record was ever written for an address
	ErrNotFound = errors.New("no target record")
	// ErrCorrupt is returned when a record exists but cannot be decoded
	ErrCorrupt = errors.New("target record corrupt")
)

// Backend is durable storage for target records
type Backend interface {
	Put(addr rtu.Address, target float64) error
	Get(addr rtu.Address) (float64, error)
	Close() error
}

// Backend kinds
const (
	BackendFile   = "file"
	BackendBadger = "badger"
)

// Config selects and locates the backend
type Config struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// DefaultConfig returns the on-device store location
func DefaultConfig() Config {
	return Config{
		Backend: BackendFile,
		Path:    "/var/lib/hydrant/targets",
	}
}

// OpenBackend opens the backend described by cfg
func OpenBackend(cfg Config, logger *slog.Logger) (Backend, error) {
	switch cfg.Backend {
	case BackendFile, "":
		return NewFileBackend(cfg.Path), nil
	case BackendBadger:
		b, err := OpenBadger(cfg.Path, logger)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// Targets is the target store used by the controller. Write failures are
// logged and counted, never returned: the controller keeps running on a
// stale record rather than stopping.
type Targets struct {
	backend Backend
	log     *slog.Logger
}

// NewTargets wraps backend. A nil logger discards output.
func NewTargets(backend Backend, logger *slog.Logger) *Targets {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Targets{
		backend: backend,
		log:     logger.With("component", "store"),
	}
}

// Save durably replaces the target for addr
func (t *Targets) Save(addr rtu.Address, target float64) {
	if err := t.backend.Put(addr, target); err != nil {
		storeFailures.WithLabelValues("save").Inc()
		t.log.Error("failed to persist target", "address", int(addr), "target", target, "error", err)
		return
	}
	storeWrites.Inc()
	t.log.Debug("target saved", "address", int(addr), "target", target)
}

// Load returns the target for addr. Never-written and unreadable records
// both report absent; use Lookup to tell them apart.
func (t *Targets) Load(addr rtu.Address) (float64, bool) {
	target, err := t.Lookup(addr)
	if err != nil {
		return 0, false
	}
	return target, true
}

// Lookup returns the target for addr, or ErrNotFound / ErrCorrupt
func (t *Targets) Lookup(addr rtu.Address) (float64, error) {
	target, err := t.backend.Get(addr)
	switch {
	case err == nil:
		return target, nil
	case errors.Is(err, ErrNotFound):
		return 0, err
	default:
		storeFailures.WithLabelValues("load").Inc()
		t.log.Warn("target record unreadable", "address", int(addr), "error", err)
		return 0, err
	}
}

// Close flushes and releases the backend
func (t *Targets) Close() error {
	return t.backend.Close()
}
