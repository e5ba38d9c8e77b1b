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

package handshake

import "github.com/benbjohnson/clock"

// Set holds one slot per purpose.
type Set struct {
	slots map[Purpose]*Slot
}

// NewSet creates a released slot for every purpose.
func NewSet(clk clock.Clock) *Set {
	if clk == nil {
		clk = clock.New()
	}
	set := &Set{slots: make(map[Purpose]*Slot, len(purposeNames))}
	for _, p := range Purposes() {
		set.slots[p] = NewSlot(p, clk)
	}
	return set
}

// Slot returns the slot for p. Unknown purposes return nil.
func (s *Set) Slot(p Purpose) *Slot {
	return s.slots[p]
}

// ReleaseAll expires every slot.
func (s *Set) ReleaseAll() {
	for _, slot := range s.slots {
		slot.Expire()
	}
}
