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

package access

import "fmt"

// InvariantError describes a flag combination that no sequence of
// arbiter operations may produce. Encountering one is a logic error.
type InvariantError struct {
	State State
	Rule  string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("access state %s violates invariant: %s", e.State, e.Rule)
}

// Validate checks the state against the combination rules. Idle is
// derived, so only holder exclusions and sync ordering are checked.
func (s State) Validate() error {
	if s.holders&Spi != 0 && s.holders&SpiPriority != 0 {
		return &InvariantError{State: s, Rule: "ordinary and priority SPI sessions are exclusive"}
	}
	if s.holders&downloadMask != 0 && s.holders&spiSessions != 0 {
		return &InvariantError{State: s, Rule: "downloads are exclusive with SPI sessions"}
	}
	if s.sync&SpiSvddSyncEnd != 0 && s.sync&SpiSvddSyncStart == 0 {
		return &InvariantError{State: s, Rule: "SPI SVDD sync end without start"}
	}
	if s.sync&WiredSvddSyncEnd != 0 && s.sync&WiredSvddSyncStart == 0 {
		return &InvariantError{State: s, Rule: "wired SVDD sync end without start"}
	}
	return nil
}

// MustValidate panics with an *InvariantError when s is not a legal
// combination.
func (s State) MustValidate() State {
	if err := s.Validate(); err != nil {
		panic(err)
	}
	return s
}
