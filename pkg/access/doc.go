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

// Package access models who holds the shared secure element.
//
// A State is a set of holder flags (Wired, Spi, SpiPriority, Download,
// JcopDownload) plus a separate set of transitional sync sub-flags that
// only exist while a supply-rail teardown handshake is outstanding:
//
//	s := access.Of(access.Wired)
//	s = s.With(access.SpiPriority)
//	fmt.Println(s) // {Wired|SpiPriority}
//
// Idle is not stored; Has(Idle) is true exactly when no holder is set.
// States are values and are only replaced, never mutated in place, by
// the arbiter.
//
// # Wire encoding
//
// Bits and FromBits convert to and from the numeric encoding used by the
// controller HAL (Idle 0x0100, Wired 0x0200, Spi 0x0400, ...).
package access
