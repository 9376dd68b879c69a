// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package store

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"

	"github.com/Thermoquad/hydrant/pkg/rtu"
)

// record is the CBOR value stored under target/<addr>
type record struct {
	Address uint8   `cbor:"address"`
	Target  float64 `cbor:"target"`
	SavedAt int64   `cbor:"saved_at"` // unix seconds
}

// BadgerBackend keeps target records in an embedded key-value store
type BadgerBackend struct {
	db *badger.DB
}

// OpenBadger opens (or creates) the store at path. An empty path opens an
// in-memory store.
func OpenBadger(path string, logger *slog.Logger) (*BadgerBackend, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(path).WithSyncWrites(true)
	}

	if logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: logger.With("component", "badger")})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger store at %q: %w", path, err)
	}
	return &BadgerBackend{db: db}, nil
}

func badgerKey(addr rtu.Address) []byte {
	return []byte("target/" + addr.String())
}

// Put writes the record for addr
func (b *BadgerBackend) Put(addr rtu.Address, target float64) error {
	value, err := cbor.Marshal(record{
		Address: uint8(addr),
		Target:  target,
		SavedAt: time.Now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode target: %w", err)
	}

	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(addr), value)
	})
}

// Get reads the record for addr
func (b *BadgerBackend) Get(addr rtu.Address) (float64, error) {
	var value []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(addr))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read target: %w", err)
	}

	var rec record
	if err := cbor.Unmarshal(value, &rec); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if rtu.Address(rec.Address) != addr {
		return 0, fmt.Errorf("%w: record for address %d stored under %d", ErrCorrupt, rec.Address, addr)
	}
	return rec.Target, nil
}

// Close flushes and closes the store
func (b *BadgerBackend) Close() error {
	return b.db.Close()
}

// badgerLogger adapts slog.Logger to badger's Logger interface
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
