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
	"encoding/json"
	"fmt"
)

// Wire values reported to user space. These match the values the
// controller driver has always exposed through its state query, so
// existing HAL code can keep decoding them.
const (
	BitSpiSvddSyncStart   uint32 = 0x0001
	BitSpiSvddSyncEnd     uint32 = 0x0002
	BitWiredSvddSyncStart uint32 = 0x0004
	BitWiredSvddSyncEnd   uint32 = 0x0008
	BitIdle               uint32 = 0x0100
	BitWired              uint32 = 0x0200
	BitSpi                uint32 = 0x0400
	BitDownload           uint32 = 0x0800
	BitSpiPriority        uint32 = 0x1000
	BitJcopDownload       uint32 = 0x8000
)

var holderBits = map[Flag]uint32{
	Wired:        BitWired,
	Spi:          BitSpi,
	SpiPriority:  BitSpiPriority,
	Download:     BitDownload,
	JcopDownload: BitJcopDownload,
}

var syncBits = map[Sync]uint32{
	SpiSvddSyncStart:   BitSpiSvddSyncStart,
	SpiSvddSyncEnd:     BitSpiSvddSyncEnd,
	WiredSvddSyncStart: BitWiredSvddSyncStart,
	WiredSvddSyncEnd:   BitWiredSvddSyncEnd,
}

const knownBits = BitSpiSvddSyncStart | BitSpiSvddSyncEnd | BitWiredSvddSyncStart |
	BitWiredSvddSyncEnd | BitIdle | BitWired | BitSpi | BitDownload |
	BitSpiPriority | BitJcopDownload

// Bits returns the wire encoding of the state. BitIdle is set iff no
// holder is set.
func (s State) Bits() uint32 {
	var v uint32
	if s.IsIdle() {
		v |= BitIdle
	}
	for f, b := range holderBits {
		if s.holders&f != 0 {
			v |= b
		}
	}
	for f, b := range syncBits {
		if s.sync&f != 0 {
			v |= b
		}
	}
	return v
}

// FromBits decodes a wire value. Unknown bits and an Idle bit that
// disagrees with the holder bits are rejected.
func FromBits(v uint32) (State, error) {
	if v&^knownBits != 0 {
		return State{}, fmt.Errorf("access: unknown state bits 0x%04x", v&^knownBits)
	}
	var s State
	for f, b := range holderBits {
		if v&b != 0 {
			s.holders |= f
		}
	}
	for f, b := range syncBits {
		if v&b != 0 {
			s.sync |= f
		}
	}
	if (v&BitIdle != 0) != s.IsIdle() {
		return State{}, fmt.Errorf("access: idle bit inconsistent with holders in 0x%04x", v)
	}
	return s, nil
}

type stateJSON struct {
	Bits    uint32   `json:"bits"`
	Holders []string `json:"holders"`
	Sync    []string `json:"sync,omitempty"`
}

// MarshalJSON encodes the state with both its wire bits and flag names.
func (s State) MarshalJSON() ([]byte, error) {
	out := stateJSON{Bits: s.Bits()}
	for _, f := range s.Holders() {
		out.Holders = append(out.Holders, f.String())
	}
	for _, f := range s.SyncFlags() {
		out.Sync = append(out.Sync, f.String())
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the state from its wire bits.
func (s *State) UnmarshalJSON(data []byte) error {
	var in stateJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	decoded, err := FromBits(in.Bits)
	if err != nil {
		return err
	}
	*s = decoded
	return nil
}
