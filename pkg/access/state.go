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

import (
	"fmt"
	"strings"
)

// Flag identifies a consumer currently holding the secure element.
// Several flags may be held at once; see State.
type Flag uint16

const (
	// Wired is set while the in-package host holds the secure element
	// through the contactless controller's internal link.
	Wired Flag = 1 << iota

	// Spi is set while the discrete SPI host holds an ordinary session.
	Spi

	// SpiPriority is set while a time-bounded, preempting SPI session
	// is in progress. It may coexist with Wired.
	SpiPriority

	// Download is set while controller firmware is being downloaded.
	Download

	// JcopDownload is set while a secure-OS image is being loaded into
	// the SPI-side secure element.
	JcopDownload

	// Idle is never stored. Has(Idle) reports whether no holder is set.
	Idle Flag = 1 << 15
)

const (
	holderMask   = Wired | Spi | SpiPriority | Download | JcopDownload
	spiSessions  = Spi | SpiPriority
	downloadMask = Download | JcopDownload
)

var flagOrder = []Flag{Wired, Spi, SpiPriority, Download, JcopDownload}

// String returns the canonical name of a single flag.
func (f Flag) String() string {
	switch f {
	case Idle:
		return "Idle"
	case Wired:
		return "Wired"
	case Spi:
		return "Spi"
	case SpiPriority:
		return "SpiPriority"
	case Download:
		return "Download"
	case JcopDownload:
		return "JcopDownload"
	default:
		return fmt.Sprintf("Flag(0x%04x)", uint16(f))
	}
}

// Sync identifies a transitional sub-state that exists only while a
// power-rail teardown handshake is outstanding.
type Sync uint8

const (
	SpiSvddSyncStart Sync = 1 << iota
	SpiSvddSyncEnd
	WiredSvddSyncStart
	WiredSvddSyncEnd
)

const syncMask = SpiSvddSyncStart | SpiSvddSyncEnd | WiredSvddSyncStart | WiredSvddSyncEnd

var syncOrder = []Sync{SpiSvddSyncStart, SpiSvddSyncEnd, WiredSvddSyncStart, WiredSvddSyncEnd}

// String returns the canonical name of a single sync sub-flag.
func (s Sync) String() string {
	switch s {
	case SpiSvddSyncStart:
		return "SpiSvddSyncStart"
	case SpiSvddSyncEnd:
		return "SpiSvddSyncEnd"
	case WiredSvddSyncStart:
		return "WiredSvddSyncStart"
	case WiredSvddSyncEnd:
		return "WiredSvddSyncEnd"
	default:
		return fmt.Sprintf("Sync(0x%02x)", uint8(s))
	}
}

// State is an immutable snapshot of the secure element's holders and
// in-flight transitions. The zero value is the idle state.
//
// Idle is derived rather than stored, so "Idle iff no holder" holds for
// every value of this type.
type State struct {
	holders Flag
	sync    Sync
}

// IdleState returns the state with no holder and no pending transition.
func IdleState() State {
	return State{}
}

// Of returns a state holding exactly the given flags. Idle is ignored.
func Of(flags ...Flag) State {
	var s State
	for _, f := range flags {
		s = s.With(f)
	}
	return s
}

// Has reports whether f is set. Has(Idle) is true iff no holder is set.
func (s State) Has(f Flag) bool {
	if f == Idle {
		return s.IsIdle()
	}
	f &= holderMask
	return f != 0 && s.holders&f == f
}

// HasAny reports whether any of the given flags is set.
func (s State) HasAny(flags ...Flag) bool {
	for _, f := range flags {
		if s.Has(f) {
			return true
		}
	}
	return false
}

// IsIdle reports whether no consumer holds the secure element.
func (s State) IsIdle() bool {
	return s.holders == 0
}

// HasSync reports whether the given sync sub-flag is set.
func (s State) HasSync(f Sync) bool {
	f &= syncMask
	return f != 0 && s.sync&f == f
}

// Syncing reports whether any transitional sub-flag is set.
func (s State) Syncing() bool {
	return s.sync != 0
}

// With returns a copy of s with f set.
func (s State) With(f Flag) State {
	s.holders |= f & holderMask
	return s
}

// Without returns a copy of s with f cleared.
func (s State) Without(f Flag) State {
	s.holders &^= f & holderMask
	return s
}

// WithSync returns a copy of s with the sync sub-flag set.
func (s State) WithSync(f Sync) State {
	s.sync |= f & syncMask
	return s
}

// WithoutSync returns a copy of s with the sync sub-flag cleared.
func (s State) WithoutSync(f Sync) State {
	s.sync &^= f & syncMask
	return s
}

// Settled returns a copy of s with every sync sub-flag cleared.
func (s State) Settled() State {
	s.sync = 0
	return s
}

// Holders returns the set flags in canonical order, or [Idle].
func (s State) Holders() []Flag {
	if s.IsIdle() {
		return []Flag{Idle}
	}
	out := make([]Flag, 0, len(flagOrder))
	for _, f := range flagOrder {
		if s.holders&f != 0 {
			out = append(out, f)
		}
	}
	return out
}

// SyncFlags returns the set sync sub-flags in canonical order.
func (s State) SyncFlags() []Sync {
	var out []Sync
	for _, f := range syncOrder {
		if s.sync&f != 0 {
			out = append(out, f)
		}
	}
	return out
}

// Headline returns the dominant holder, used when a single label is
// needed. Downloads dominate sessions and SPI dominates wired access.
func (s State) Headline() Flag {
	for _, f := range []Flag{JcopDownload, Download, SpiPriority, Spi, Wired} {
		if s.holders&f != 0 {
			return f
		}
	}
	return Idle
}

// String formats the state as "{Wired|Spi}" with sync sub-flags
// appended after a slash, e.g. "{Wired/WiredSvddSyncStart}".
func (s State) String() string {
	names := make([]string, 0, 6)
	for _, f := range s.Holders() {
		names = append(names, f.String())
	}
	out := strings.Join(names, "|")
	if s.sync != 0 {
		syncNames := make([]string, 0, 4)
		for _, f := range s.SyncFlags() {
			syncNames = append(syncNames, f.String())
		}
		out += "/" + strings.Join(syncNames, "|")
	}
	return "{" + out + "}"
}

// Equal reports whether two states are identical, including sync flags.
func (s State) Equal(o State) bool {
	return s.holders == o.holders && s.sync == o.sync
}
