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

package power

import "errors"

// ErrGPIOUnsupported is returned by OpenGPIOLines off Linux.
var ErrGPIOUnsupported = errors.New("power: gpio character device requires linux")

// GPIOConfig names the character device and line offsets of the rail.
type GPIOConfig struct {
	Chip             string
	SupplyOffset     uint32
	CommEnableOffset uint32
	ActiveLow        bool
}

// OpenGPIOLines always fails off Linux.
func OpenGPIOLines(GPIOConfig) (Lines, error) {
	return nil, ErrGPIOUnsupported
}
