// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package metertest provides an in-memory meter bus that answers real RTU
// request frames the way the field units do.
package metertest

import (
	"sync"
	"time"

	"github.com/Thermoquad/hydrant/pkg/rtu"
)

// Unit is the simulated state of one meter/valve unit
type Unit struct {
	// Counter is the raw cumulative flow register value
	Counter uint16
	// Script, when non-empty, supplies the next read values in order
	// before Counter is used
	Script []uint16
	// FlowPerRead is added to Counter after each read while the valve is open
	FlowPerRead uint16
	// ValveOpen is the current valve state
	ValveOpen bool

	// Fault injection, each consumed one reply at a time
	DropReplies   int
	CorruptCRC    int
	WrongAddress  int
	DropValveAcks int

	// ValveLog records every valve command received, true for open
	ValveLog []bool
	// Reads counts read requests received
	Reads int
}

// Simulator is a meter Bus backed by simulated units
type Simulator struct {
	mu      sync.Mutex
	units   map[rtu.Address]*Unit
	pending []byte
	late    []byte
	written [][]byte
}

// NewSimulator creates an empty bus
func NewSimulator() *Simulator {
	return &Simulator{units: make(map[rtu.Address]*Unit)}
}

// AddUnit attaches a unit at addr and returns it for scripting
func (s *Simulator) AddUnit(addr rtu.Address, counter uint16) *Unit {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := &Unit{Counter: counter}
	s.units[addr] = u
	return u
}

// Unit returns the unit at addr, or nil
func (s *Simulator) Unit(addr rtu.Address) *Unit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.units[addr]
}

// Update runs fn with exclusive access to the unit at addr
func (s *Simulator) Update(addr rtu.Address, fn func(u *Unit)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.units[addr]; ok {
		fn(u)
	}
}

// InjectNoise queues bytes that arrive just after the next input buffer
// reset, like the tail of a late reply from an earlier exchange
func (s *Simulator) InjectNoise(b []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.late = append(s.late, b...)
}

// Written returns a copy of every frame written to the bus
func (s *Simulator) Written() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.written))
	copy(out, s.written)
	return out
}

// Read returns buffered reply bytes; an empty buffer behaves like a read timeout
func (s *Simulator) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

// Write decodes one request frame and queues the addressed unit's reply
func (s *Simulator) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	frame := append([]byte(nil), p...)
	s.written = append(s.written, frame)

	if !rtu.VerifyCRC(frame) || len(frame) < rtu.ReadRequestSize {
		return len(p), nil
	}
	addr := rtu.Address(frame[0])
	u, ok := s.units[addr]
	if !ok {
		return len(p), nil
	}

	switch frame[1] {
	case rtu.FuncReadHolding:
		s.reply(u, addr, s.read(u))
	case rtu.FuncWriteMultiple:
		if len(frame) != rtu.WriteRequestSize {
			return len(p), nil
		}
		value := uint16(frame[7])<<8 | uint16(frame[8])
		open := value == rtu.ValveOpen
		u.ValveLog = append(u.ValveLog, open)
		u.ValveOpen = open
		if u.DropValveAcks > 0 {
			u.DropValveAcks--
			return len(p), nil
		}
		s.pending = append(s.pending, rtu.WriteAck(addr, rtu.RegValveControl)...)
	}

	return len(p), nil
}

func (s *Simulator) read(u *Unit) uint16 {
	u.Reads++
	var value uint16
	if len(u.Script) > 0 {
		value = u.Script[0]
		u.Script = u.Script[1:]
	} else {
		value = u.Counter
		if u.ValveOpen {
			u.Counter += u.FlowPerRead
		}
	}
	return value
}

func (s *Simulator) reply(u *Unit, addr rtu.Address, value uint16) {
	if u.DropReplies > 0 {
		u.DropReplies--
		return
	}
	from := addr
	if u.WrongAddress > 0 {
		u.WrongAddress--
		from = addr + 1
	}
	response := rtu.ReadResponse(from, value)
	if u.CorruptCRC > 0 {
		u.CorruptCRC--
		response[len(response)-1] ^= 0xFF
	}
	s.pending = append(s.pending, response...)
}

// ResetInputBuffer discards unread reply bytes
func (s *Simulator) ResetInputBuffer() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending[:0], s.late...)
	s.late = nil
	return nil
}

// SetReadTimeout is accepted and ignored; reads never block
func (s *Simulator) SetReadTimeout(time.Duration) error {
	return nil
}
