// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-eseaccess.
//
// go-eseaccess is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package power

import (
	"errors"
	"sync"
)

// ErrLinesClosed is returned after Close.
var ErrLinesClosed = errors.New("power: lines closed")

// LineChange is one recorded write.
type LineChange struct {
	Line string
	On   bool
}

// MemoryLines is an in-memory Lines used by the simulator and tests. It
// records every write in order.
type MemoryLines struct {
	mu         sync.Mutex
	supply     bool
	commEnable bool
	history    []LineChange
	closed     bool

	// FailSupply and FailComm, when set, are returned by the next
	// matching write.
	FailSupply error
	FailComm   error
}

// NewMemoryLines returns lines with both outputs low.
func NewMemoryLines() *MemoryLines {
	return &MemoryLines{}
}

func (m *MemoryLines) SetSupply(on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrLinesClosed
	}
	if err := m.FailSupply; err != nil {
		m.FailSupply = nil
		return err
	}
	m.supply = on
	m.history = append(m.history, LineChange{Line: "supply", On: on})
	return nil
}

func (m *MemoryLines) SetCommEnable(on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrLinesClosed
	}
	if err := m.FailComm; err != nil {
		m.FailComm = nil
		return err
	}
	m.commEnable = on
	m.history = append(m.history, LineChange{Line: "comm_enable", On: on})
	return nil
}

func (m *MemoryLines) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Supply returns the current supply output.
func (m *MemoryLines) Supply() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.supply
}

// CommEnable returns the current comm-enable output.
func (m *MemoryLines) CommEnable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commEnable
}

// History returns a copy of every recorded write.
func (m *MemoryLines) History() []LineChange {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]LineChange, len(m.history))
	copy(out, m.history)
	return out
}

// SetFailSupply arms a one-shot supply write failure.
func (m *MemoryLines) SetFailSupply(err error) {
	m.mu.Lock()
	m.FailSupply = err
	m.mu.Unlock()
}

// SetFailComm arms a one-shot comm-enable write failure.
func (m *MemoryLines) SetFailComm(err error) {
	m.mu.Lock()
	m.FailComm = err
	m.mu.Unlock()
}
