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

// Package notify delivers asynchronous reason codes from the arbiter to
// the single registered external process.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/jeremyhahn/go-eseaccess/pkg/correlation"
	"github.com/jeremyhahn/go-eseaccess/pkg/metrics"
)

var (
	// ErrNoRecipient is returned by Notify when no process is registered.
	// Callers treat it as an immediate handshake.
	ErrNoRecipient = errors.New("notify: no registered recipient")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("notify: channel closed")
)

// Transport hands an event to a process without blocking.
type Transport interface {
	Deliver(id Identity, ev Event) error
}

// Notifier is the surface the arbiter depends on.
type Notifier interface {
	Register(id Identity)
	Registered() Identity
	Notify(ctx context.Context, reason Reason) error
	Close() error
}

// Channel routes notifications to the registered identity over a
// Transport.
type Channel struct {
	transport Transport
	clock     clock.Clock

	mu         sync.RWMutex
	registered Identity
	closed     bool
}

// NewChannel returns a channel with nothing registered. A nil clock
// selects the wall clock.
func NewChannel(transport Transport, clk clock.Clock) *Channel {
	if clk == nil {
		clk = clock.New()
	}
	return &Channel{transport: transport, clock: clk}
}

// Register stores id as the recipient. None clears the registration.
func (c *Channel) Register(id Identity) {
	c.mu.Lock()
	c.registered = id
	c.mu.Unlock()
}

// Registered returns the current recipient or None.
func (c *Channel) Registered() Identity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.registered
}

// Notify dispatches reason to the registered process and returns without
// waiting for it to be handled.
func (c *Channel) Notify(ctx context.Context, reason Reason) error {
	c.mu.RLock()
	id, closed := c.registered, c.closed
	c.mu.RUnlock()

	if closed {
		return ErrClosed
	}
	if id == None {
		metrics.RecordNotification(reason.String(), metrics.OutcomeNoRecipient)
		return ErrNoRecipient
	}

	ev := Event{
		ID:     correlation.GetOrGenerate(ctx),
		Reason: reason,
		Name:   reason.String(),
		Time:   c.clock.Now(),
	}
	if err := c.transport.Deliver(id, ev); err != nil {
		metrics.RecordNotification(reason.String(), metrics.OutcomeDropped)
		return fmt.Errorf("notify %s to %s: %w", reason, id, err)
	}
	metrics.RecordNotification(reason.String(), metrics.OutcomeDelivered)
	return nil
}

// Close stops further deliveries and closes the transport if it is an
// io.Closer-like type.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if closer, ok := c.transport.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}
