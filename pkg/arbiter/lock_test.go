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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-eseaccess/pkg/handshake"
)

func TestLockAcquireRelease(t *testing.T) {
	f := newFixture(t)
	lock := f.arb.Lock()

	assert.False(t, lock.Held())
	require.NoError(t, lock.Acquire(ctx, 0))
	assert.True(t, lock.Held())
	assert.True(t, f.arb.Pending(handshake.Transaction))

	require.NoError(t, lock.Release(ctx))
	assert.False(t, lock.Held())
	assert.False(t, f.arb.Pending(handshake.Transaction))
}

func TestLockReleaseNotHeld(t *testing.T) {
	f := newFixture(t)
	err := f.arb.Lock().Release(ctx)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestLockWaiterWokenByRelease(t *testing.T) {
	f := newFixture(t)
	lock := f.arb.Lock()
	require.NoError(t, lock.Acquire(ctx, 0))

	done := async(func(ctx context.Context) error { return lock.Acquire(ctx, time.Minute) })
	require.Eventually(t, f.waiting(handshake.Transaction), time.Second, time.Millisecond)
	pending(t, done)

	require.NoError(t, lock.Release(ctx))
	require.NoError(t, result(t, done))
	assert.True(t, lock.Held(), "waiter now holds the lock")
}

func TestLockSlotNotReleasedExternally(t *testing.T) {
	f := newFixture(t)
	lock := f.arb.Lock()
	require.NoError(t, lock.Acquire(ctx, 0))

	done := async(func(ctx context.Context) error { return lock.Acquire(ctx, time.Minute) })
	require.Eventually(t, f.waiting(handshake.Transaction), time.Second, time.Millisecond)

	assert.False(t, f.arb.ReleaseHandshake(ctx, handshake.Transaction))
	assert.True(t, f.arb.Pending(handshake.Transaction))
	pending(t, done)
	assert.True(t, f.waiting(handshake.Transaction)(), "waiter stays blocked on the held lock")

	require.NoError(t, lock.Release(ctx))
	require.NoError(t, result(t, done))
	assert.True(t, lock.Held())
}

func TestLockOnlyOneWaiterWins(t *testing.T) {
	f := newFixture(t)
	lock := f.arb.Lock()
	require.NoError(t, lock.Acquire(ctx, 0))

	first := async(func(ctx context.Context) error { return lock.Acquire(ctx, time.Minute) })
	second := async(func(ctx context.Context) error { return lock.Acquire(ctx, time.Minute) })
	require.Eventually(t, func() bool {
		return f.arb.slots.Slot(handshake.Transaction).Waiters() == 2
	}, time.Second, time.Millisecond)

	require.NoError(t, lock.Release(ctx))

	var loser <-chan error
	select {
	case err := <-first:
		require.NoError(t, err)
		loser = second
	case err := <-second:
		require.NoError(t, err)
		loser = first
	case <-time.After(2 * time.Second):
		t.Fatal("no waiter acquired the lock")
	}
	pending(t, loser)

	require.NoError(t, lock.Release(ctx))
	require.NoError(t, result(t, loser))
	require.NoError(t, lock.Release(ctx))
}

func TestLockTimeout(t *testing.T) {
	f := newFixture(t)
	lock := f.arb.Lock()
	require.NoError(t, lock.Acquire(ctx, 0))

	done := async(func(ctx context.Context) error { return lock.Acquire(ctx, 0) })
	require.Eventually(t, f.waiting(handshake.Transaction), time.Second, time.Millisecond)

	f.clock.Add(handshake.DefaultTimeout)
	err := result(t, done)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, CodeTimeout, CodeOf(err))
	assert.True(t, lock.Held(), "original holder keeps the lock")
}

func TestLockContextCancelled(t *testing.T) {
	f := newFixture(t)
	lock := f.arb.Lock()
	require.NoError(t, lock.Acquire(ctx, 0))

	cctx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- lock.Acquire(cctx, time.Minute) }()
	require.Eventually(t, f.waiting(handshake.Transaction), time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, result(t, done), context.Canceled)
}

func TestLockWaiterWokenByClose(t *testing.T) {
	f := newFixture(t)
	lock := f.arb.Lock()
	require.NoError(t, lock.Acquire(ctx, 0))

	done := async(func(ctx context.Context) error { return lock.Acquire(ctx, time.Minute) })
	require.Eventually(t, f.waiting(handshake.Transaction), time.Second, time.Millisecond)

	require.NoError(t, f.arb.Close())
	assert.ErrorIs(t, result(t, done), ErrClosed)
	assert.ErrorIs(t, lock.Acquire(ctx, 0), ErrClosed)
}
