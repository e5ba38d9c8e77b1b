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
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jeremyhahn/go-eseaccess/pkg/adapters/audit"
	"github.com/jeremyhahn/go-eseaccess/pkg/handshake"
)

// TransactionLock is a mutual-exclusion gate for secure-element
// transactions. Waiters block on the Transaction handshake slot, which
// the holder arms on acquisition and releases on Release.
//
// Acquiring the lock twice from the same caller deadlocks until the
// timeout; it is not guarded.
type TransactionLock struct {
	a    *Arbiter
	slot *handshake.Slot

	mu   sync.Mutex
	held bool
}

// Acquire blocks until the lock is free or timeout elapses. A
// non-positive timeout selects the arbiter's handshake timeout.
func (l *TransactionLock) Acquire(ctx context.Context, timeout time.Duration) error {
	return l.a.run(ctx, OpLockAcquire, audit.EventLockAcquire, func(ctx context.Context) error {
		if timeout <= 0 {
			timeout = l.a.timeout
		}
		deadline := l.a.clock.Now().Add(timeout)

		for {
			if l.a.isClosed() {
				return ErrClosed
			}
			l.mu.Lock()
			if !l.held {
				l.held = true
				l.slot.Arm()
				l.mu.Unlock()
				return nil
			}
			l.slot.Arm()
			l.mu.Unlock()
			if l.a.isClosed() {
				return ErrClosed
			}

			remaining := deadline.Sub(l.a.clock.Now())
			if remaining <= 0 {
				return fmt.Errorf("%w: transaction lock", ErrTimeout)
			}
			err := l.slot.Wait(ctx, remaining)
			switch {
			case errors.Is(err, handshake.ErrTimeout):
				return fmt.Errorf("%w: transaction lock after %s", ErrTimeout, timeout)
			case err != nil:
				return err
			}
		}
	})
}

// Release frees the lock and wakes waiters. Releasing a lock that is not
// held returns ErrForbidden.
func (l *TransactionLock) Release(ctx context.Context) error {
	return l.a.run(ctx, OpLockRelease, audit.EventLockRelease, func(ctx context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if !l.held {
			return fmt.Errorf("%w: transaction lock not held", ErrForbidden)
		}
		l.held = false
		l.slot.Release()
		return nil
	})
}

// Held reports whether the lock is currently held.
func (l *TransactionLock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}
