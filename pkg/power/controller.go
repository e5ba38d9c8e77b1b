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

// Package power drives the shared secure-element supply rail and its
// communication-enable line.
package power

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/jeremyhahn/go-eseaccess/pkg/adapters/logger"
	"github.com/jeremyhahn/go-eseaccess/pkg/metrics"
)

// DefaultSettleDelay is how long the supply is given to stabilise.
const DefaultSettleDelay = 10 * time.Millisecond

// Lines are the two physical outputs behind the rail.
type Lines interface {
	SetSupply(on bool) error
	SetCommEnable(on bool) error
	Close() error
}

// Rail is the surface the arbiter depends on.
type Rail interface {
	SetPower(ctx context.Context, on bool) error
	IsEnabled() bool
}

// Config configures a Controller.
type Config struct {
	Lines       Lines
	Clock       clock.Clock
	SettleDelay time.Duration
	Logger      logger.Logger
}

// Controller sequences the rail lines. SetPower is idempotent.
type Controller struct {
	lines  Lines
	clock  clock.Clock
	settle time.Duration
	log    logger.Logger

	mu          sync.Mutex
	enabled     bool
	transitions uint64
}

// NewController validates cfg and returns a controller with the rail
// assumed off.
func NewController(cfg Config) (*Controller, error) {
	if cfg.Lines == nil {
		return nil, fmt.Errorf("power: lines are required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.SettleDelay < 0 {
		return nil, fmt.Errorf("power: negative settle delay %s", cfg.SettleDelay)
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NoOp{}
	}
	return &Controller{
		lines:  cfg.Lines,
		clock:  cfg.Clock,
		settle: cfg.SettleDelay,
		log:    cfg.Logger.With(logger.String("component", "rail")),
	}, nil
}

// SetPower drives the rail on or off. Calling it with the current state
// does nothing. On failure the rail is reported off.
func (c *Controller) SetPower(ctx context.Context, on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.enabled == on {
		return nil
	}

	var err error
	if on {
		err = c.powerOn(ctx)
	} else {
		err = c.powerOff(ctx)
	}
	if err != nil {
		c.enabled = false
		logger.Ctx(c.log).ErrorContext(ctx, "rail transition failed",
			logger.Bool("on", on), logger.Error(err))
		return err
	}

	c.enabled = on
	c.transitions++
	metrics.RecordRailTransition(on)
	logger.Ctx(c.log).DebugContext(ctx, "rail transition", logger.Bool("on", on))
	return nil
}

func (c *Controller) powerOn(ctx context.Context) error {
	if err := c.lines.SetSupply(true); err != nil {
		return fmt.Errorf("power: supply on: %w", err)
	}
	if err := c.sleep(ctx); err != nil {
		_ = c.lines.SetSupply(false)
		return err
	}
	if err := c.lines.SetCommEnable(true); err != nil {
		_ = c.lines.SetSupply(false)
		return fmt.Errorf("power: comm enable: %w", err)
	}
	return nil
}

func (c *Controller) powerOff(ctx context.Context) error {
	if err := c.lines.SetCommEnable(false); err != nil {
		return fmt.Errorf("power: comm disable: %w", err)
	}
	if err := c.lines.SetSupply(false); err != nil {
		return fmt.Errorf("power: supply off: %w", err)
	}
	return c.sleep(ctx)
}

func (c *Controller) sleep(ctx context.Context) error {
	if c.settle == 0 {
		return nil
	}
	t := c.clock.Timer(c.settle)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsEnabled reports whether the rail is on.
func (c *Controller) IsEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// Transitions returns the number of physical transitions performed.
func (c *Controller) Transitions() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transitions
}

// Close releases the underlying lines.
func (c *Controller) Close() error {
	return c.lines.Close()
}
