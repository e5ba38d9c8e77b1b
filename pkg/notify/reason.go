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

package notify

import (
	"fmt"
	"strconv"
	"time"
)

// Identity names the registered external process. On the daemon it is
// the peer PID taken from the socket credentials.
type Identity int32

// None is the null identity; registering it clears the registration.
const None Identity = 0

func (id Identity) String() string {
	if id == None {
		return "none"
	}
	return strconv.Itoa(int(id))
}

// Reason is the small integer code delivered with each notification.
type Reason uint8

const (
	// SpiPriorityStart asks the wired side to yield to a priority session.
	SpiPriorityStart Reason = iota + 1
	// SpiPriorityEnd tells the wired side the priority session is over.
	SpiPriorityEnd
	// SpiEnd tells the wired side an SPI session ended while it still holds
	// the element, so the rail stays up.
	SpiEnd
	// SpiSvddSync announces an SPI-initiated rail power-down.
	SpiSvddSync
	// WiredSvddSync announces a wired-initiated rail power-down.
	WiredSvddSync
	// JcopDownloadStart announces a secure-OS download.
	JcopDownloadStart
	// JcopDownloadEnd announces the end of a secure-OS download.
	JcopDownloadEnd
)

var reasonNames = map[Reason]string{
	SpiPriorityStart:  "spi_priority_start",
	SpiPriorityEnd:    "spi_priority_end",
	SpiEnd:            "spi_end",
	SpiSvddSync:       "spi_svdd_sync",
	WiredSvddSync:     "wired_svdd_sync",
	JcopDownloadStart: "jcop_download_start",
	JcopDownloadEnd:   "jcop_download_end",
}

func (r Reason) String() string {
	if name, ok := reasonNames[r]; ok {
		return name
	}
	return fmt.Sprintf("reason(%d)", uint8(r))
}

// Event is what a transport delivers to the registered process.
type Event struct {
	ID     string    `json:"id"`
	Reason Reason    `json:"code"`
	Name   string    `json:"reason"`
	Time   time.Time `json:"time"`
}
