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

//go:build !linux

package unix

import (
	"net"

	"github.com/jeremyhahn/go-eseaccess/pkg/notify"
)

// peerIdentity is unsupported off Linux; callers must send the identity
// header.
func peerIdentity(net.Conn) (notify.Identity, bool) {
	return notify.None, false
}
