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

//go:build linux

package unix

import (
	"net"

	"golang.org/x/sys/unix"

	"github.com/jeremyhahn/go-eseaccess/pkg/notify"
)

// peerIdentity reads SO_PEERCRED from the accepted connection.
func peerIdentity(conn net.Conn) (notify.Identity, bool) {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return notify.None, false
	}
	raw, err := uc.SyscallConn()
	if err != nil {
		return notify.None, false
	}

	var cred *unix.Ucred
	var credErr error
	if err := raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil || credErr != nil || cred == nil {
		return notify.None, false
	}
	return notify.Identity(cred.Pid), true
}
