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

import (
	"fmt"
	"strings"
)

// Purpose identifies an independent handshake slot. Waits for different
// purposes never interfere with one another.
type Purpose int

const (
	// Transaction gates the transaction lock.
	Transaction Purpose = iota
	// SvddSync gives the other side a window before the rail drops.
	SvddSync
	// PriorityHandoff lets the wired side yield to a priority session.
	PriorityHandoff
	// Download gives the registered process a window before a secure-OS
	// download begins.
	Download
)

var purposeNames = map[Purpose]string{
	Transaction:     "transaction",
	SvddSync:        "svdd_sync",
	PriorityHandoff: "priority_handoff",
	Download:        "download",
}

// Purposes returns every purpose in declaration order.
func Purposes() []Purpose {
	return []Purpose{Transaction, SvddSync, PriorityHandoff, Download}
}

func (p Purpose) String() string {
	if name, ok := purposeNames[p]; ok {
		return name
	}
	return fmt.Sprintf("purpose(%d)", int(p))
}

// ParsePurpose accepts the names returned by String, case-insensitively.
// Hyphens are accepted in place of underscores.
func ParsePurpose(s string) (Purpose, error) {
	name := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for p, n := range purposeNames {
		if n == name {
			return p, nil
		}
	}
	return 0, fmt.Errorf("handshake: unknown purpose %q", s)
}
