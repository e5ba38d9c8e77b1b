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

// Package handshake provides the bounded-wait rendezvous used by the
// arbiter. A slot is armed before the peer is notified, so a release that
// arrives before the waiter blocks is never lost.
package handshake

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/jeremyhahn/go-eseaccess/pkg/metrics"
)

// DefaultTimeout bounds every handshake wait unless configured otherwise.
const DefaultTimeout = 500 * time.Millisecond

// ErrTimeout is returned by Wait when the slot was not released in time.
var ErrTimeout = errors.New("handshake: timed out")

// Slot is a single-purpose arm/wait/release rendezvous. The zero value
// is not usable; construct with NewSlot.
type Slot struct {
	purpose Purpose
	clock   clock.Clock

	mu       sync.Mutex
	done     chan struct{}
	released bool
	waiters  int
}

// NewSlot returns a released slot. A nil clock selects the wall clock.
func NewSlot(p Purpose, clk clock.Clock) *Slot {
	if clk == nil {
		clk = clock.New()
	}
	done := make(chan struct{})
	close(done)
	return &Slot{purpose: p, clock: clk, done: done, released: true}
}

// Purpose returns the purpose the slot serves.
func (s *Slot) Purpose() Purpose {
	return s.purpose
}

// Arm resets the slot to not-released. Arming an already armed slot is a
// no-op, so waiters on the current arming are not orphaned.
func (s *Slot) Arm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.released {
		return
	}
	s.done = make(chan struct{})
	s.released = false
}

// Release wakes every waiter of the current arming. It reports whether
// this call performed the release; excess releases are no-ops.
func (s *Slot) Release() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return false
	}
	s.released = true
	close(s.done)
	return true
}

// Expire force-releases the slot. Used at shutdown so no waiter outlives
// the arbiter.
func (s *Slot) Expire() {
	s.Release()
}

// Pending reports whether the slot is armed and not yet released.
func (s *Slot) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.released
}

// Waiting reports whether at least one caller is blocked in Wait with its
// timer running.
func (s *Slot) Waiting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waiters > 0
}

// Waiters returns the number of callers blocked in Wait.
func (s *Slot) Waiters() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waiters
}

// Wait blocks until the slot is released, timeout elapses or ctx is done.
// It returns nil on release, ErrTimeout, or ctx.Err().
func (s *Slot) Wait(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	start := s.clock.Now()
	timer := s.clock.Timer(timeout)
	defer timer.Stop()

	s.mu.Lock()
	done := s.done
	s.waiters++
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.waiters--
		s.mu.Unlock()
	}()

	err := s.await(ctx, done, timer.C)

	outcome := metrics.OutcomeReleased
	switch {
	case errors.Is(err, ErrTimeout):
		outcome = metrics.OutcomeTimeout
	case err != nil:
		outcome = metrics.OutcomeCancelled
	}
	metrics.RecordHandshakeWait(s.purpose.String(), outcome, s.clock.Since(start).Seconds())
	return err
}

func (s *Slot) await(ctx context.Context, done <-chan struct{}, expired <-chan time.Time) error {
	select {
	case <-done:
		return nil
	default:
	}
	select {
	case <-done:
		return nil
	case <-expired:
		return ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}
