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

package arbiter

import (
	"github.com/jeremyhahn/go-eseaccess/pkg/handshake"
	"github.com/jeremyhahn/go-eseaccess/pkg/notify"
)

// AckPurpose returns the handshake a notification expects the receiver
// to release. Informational notifications report false.
func AckPurpose(r notify.Reason) (handshake.Purpose, bool) {
	switch r {
	case notify.SpiPriorityStart:
		return handshake.PriorityHandoff, true
	case notify.SpiSvddSync, notify.WiredSvddSync:
		return handshake.SvddSync, true
	case notify.JcopDownloadStart:
		return handshake.Download, true
	default:
		return 0, false
	}
}
