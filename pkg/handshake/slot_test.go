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

package handshake

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func waitAsync(s *Slot, timeout time.Duration) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Wait(context.Background(), timeout)
	}()
	return errCh
}

func TestNewSlotIsReleased(t *testing.T) {
	s := NewSlot(SvddSync, clock.NewMock())
	assert.False(t, s.Pending())
	assert.False(t, s.Release(), "releasing an unarmed slot is a no-op")
	assert.NoError(t, s.Wait(context.Background(), time.Second))
}

func TestReleaseBeforeWaitIsNotLost(t *testing.T) {
	s := NewSlot(SvddSync, clock.NewMock())
	s.Arm()
	require.True(t, s.Pending())

	assert.True(t, s.Release())
	assert.NoError(t, s.Wait(context.Background(), time.Second))
}

func TestWaitReleased(t *testing.T) {
	mock := clock.NewMock()
	s := NewSlot(PriorityHandoff, mock)
	s.Arm()

	errCh := waitAsync(s, DefaultTimeout)
	require.Eventually(t, s.Waiting, time.Second, time.Millisecond)

	assert.True(t, s.Release())
	assert.NoError(t, <-errCh)
	assert.False(t, s.Waiting())
}

func TestWaitersCountsBlockedCallers(t *testing.T) {
	s := NewSlot(Transaction, clock.NewMock())
	s.Arm()
	assert.Zero(t, s.Waiters())

	first := waitAsync(s, DefaultTimeout)
	second := waitAsync(s, DefaultTimeout)
	require.Eventually(t, func() bool { return s.Waiters() == 2 }, time.Second, time.Millisecond)

	assert.True(t, s.Release())
	assert.NoError(t, <-first)
	assert.NoError(t, <-second)
	assert.Zero(t, s.Waiters())
}

func TestWaitTimesOut(t *testing.T) {
	mock := clock.NewMock()
	s := NewSlot(SvddSync, mock)
	s.Arm()

	errCh := waitAsync(s, DefaultTimeout)
	require.Eventually(t, s.Waiting, time.Second, time.Millisecond)

	mock.Add(DefaultTimeout - time.Millisecond)
	select {
	case err := <-errCh:
		t.Fatalf("wait returned early: %v", err)
	default:
	}

	mock.Add(time.Millisecond)
	err := <-errCh
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.True(t, s.Pending(), "timeout does not release the slot")
}

func TestWaitContextCancelled(t *testing.T) {
	s := NewSlot(Download, clock.NewMock())
	s.Arm()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Wait(ctx, time.Hour) }()
	require.Eventually(t, s.Waiting, time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
}

func TestReleaseIsIdempotent(t *testing.T) {
	s := NewSlot(Transaction, clock.NewMock())
	s.Arm()
	assert.True(t, s.Release())
	assert.False(t, s.Release())
	assert.False(t, s.Release())
}

func TestArmWhilePendingKeepsWaiters(t *testing.T) {
	s := NewSlot(SvddSync, clock.NewMock())
	s.Arm()

	errCh := waitAsync(s, time.Hour)
	require.Eventually(t, s.Waiting, time.Second, time.Millisecond)

	s.Arm()
	s.Release()
	assert.NoError(t, <-errCh)
}

func TestReleaseWakesAllWaiters(t *testing.T) {
	s := NewSlot(Transaction, clock.NewMock())
	s.Arm()

	first := waitAsync(s, time.Hour)
	second := waitAsync(s, time.Hour)
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.waiters == 2
	}, time.Second, time.Millisecond)

	s.Expire()
	assert.NoError(t, <-first)
	assert.NoError(t, <-second)
}

func TestRearmAfterRelease(t *testing.T) {
	mock := clock.NewMock()
	s := NewSlot(SvddSync, mock)
	s.Arm()
	s.Release()

	s.Arm()
	assert.True(t, s.Pending())
	errCh := waitAsync(s, 10*time.Millisecond)
	require.Eventually(t, s.Waiting, time.Second, time.Millisecond)
	mock.Add(10 * time.Millisecond)
	assert.ErrorIs(t, <-errCh, ErrTimeout)
}

func TestWaitRealClock(t *testing.T) {
	s := NewSlot(SvddSync, nil)
	s.Arm()

	start := time.Now()
	err := s.Wait(context.Background(), 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestSet(t *testing.T) {
	set := NewSet(clock.NewMock())
	for _, p := range Purposes() {
		require.NotNil(t, set.Slot(p))
		assert.Equal(t, p, set.Slot(p).Purpose())
		set.Slot(p).Arm()
	}
	assert.Nil(t, set.Slot(Purpose(99)))

	set.ReleaseAll()
	for _, p := range Purposes() {
		assert.False(t, set.Slot(p).Pending(), p.String())
	}
}

func TestParsePurpose(t *testing.T) {
	tests := []struct {
		in   string
		want Purpose
	}{
		{"transaction", Transaction},
		{"svdd_sync", SvddSync},
		{"SVDD-SYNC", SvddSync},
		{"priority_handoff", PriorityHandoff},
		{" download ", Download},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePurpose(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParsePurpose("lock")
	assert.Error(t, err)
	assert.Equal(t, "purpose(42)", Purpose(42).String())
}
