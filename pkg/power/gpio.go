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

package power

import (
	"fmt"
	"sync"

	"github.com/mkch/gpio"
	"go.uber.org/multierr"
)

const gpioConsumer = "esed"

// GPIOConfig names the character device and line offsets of the rail.
type GPIOConfig struct {
	Chip             string
	SupplyOffset     uint32
	CommEnableOffset uint32
	ActiveLow        bool
}

// GPIOLines drives the rail through the GPIO character device.
type GPIOLines struct {
	mu         sync.Mutex
	supply     *gpio.Line
	commEnable *gpio.Line
	activeLow  bool
}

// OpenGPIOLines requests both lines as outputs, driven inactive.
func OpenGPIOLines(cfg GPIOConfig) (*GPIOLines, error) {
	chip, err := gpio.OpenChip(cfg.Chip)
	if err != nil {
		return nil, fmt.Errorf("power: open %s: %w", cfg.Chip, err)
	}
	defer chip.Close()

	inactive := byte(0)
	if cfg.ActiveLow {
		inactive = 1
	}

	supply, err := chip.OpenLine(cfg.SupplyOffset, inactive, gpio.Output, gpioConsumer)
	if err != nil {
		return nil, fmt.Errorf("power: open supply line %d: %w", cfg.SupplyOffset, err)
	}
	comm, err := chip.OpenLine(cfg.CommEnableOffset, inactive, gpio.Output, gpioConsumer)
	if err != nil {
		_ = supply.Close()
		return nil, fmt.Errorf("power: open comm-enable line %d: %w", cfg.CommEnableOffset, err)
	}
	return &GPIOLines{supply: supply, commEnable: comm, activeLow: cfg.ActiveLow}, nil
}

func (g *GPIOLines) level(on bool) byte {
	if on != g.activeLow {
		return 1
	}
	return 0
}

func (g *GPIOLines) SetSupply(on bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.supply.SetValue(g.level(on))
}

func (g *GPIOLines) SetCommEnable(on bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.commEnable.SetValue(g.level(on))
}

// Close releases both lines.
func (g *GPIOLines) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return multierr.Combine(g.commEnable.Close(), g.supply.Close())
}
