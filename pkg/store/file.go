// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/Thermoquad/hydrant/pkg/rtu"
)

// FileBackend keeps one JSON file per address: <dir>/target_<addr>.json
// containing {"<addr>": target}.
type FileBackend struct {
	dir string
}

// NewFileBackend stores records under dir, created on first write
func NewFileBackend(dir string) *FileBackend {
	return &FileBackend{dir: dir}
}

// Path returns the record file for addr
func (b *FileBackend) Path(addr rtu.Address) string {
	return filepath.Join(b.dir, "target_"+addr.String()+".json")
}

// Put writes the record through a synced temp file and a rename, so a
// reader sees either the old or the new record, never a partial one.
func (b *FileBackend) Put(addr rtu.Address, target float64) error {
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}

	data, err := json.Marshal(map[string]float64{addr.String(): target})
	if err != nil {
		return fmt.Errorf("failed to encode target: %w", err)
	}

	tmp, err := os.CreateTemp(b.dir, ".target_"+addr.String()+"_*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write target: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync target: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, b.Path(addr)); err != nil {
		return fmt.Errorf("failed to replace target: %w", err)
	}

	return syncDir(b.dir)
}

// Get reads the record for addr
func (b *FileBackend) Get(addr rtu.Address) (float64, error) {
	data, err := os.ReadFile(b.Path(addr))
	if errors.Is(err, fs.ErrNotExist) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read target: %w", err)
	}

	var record map[string]float64
	if err := json.Unmarshal(data, &record); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	target, ok := record[addr.String()]
	if !ok {
		return 0, fmt.Errorf("%w: no entry for address %d", ErrCorrupt, addr)
	}
	return target, nil
}

// Close is a no-op; every Put is already durable
func (b *FileBackend) Close() error {
	return nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("failed to open store directory: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("failed to sync store directory: %w", err)
	}
	return nil
}
