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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMailboxDeliver(t *testing.T) {
	mb := NewMailbox(2)
	events, cancel := mb.Subscribe(Identity(10))
	defer cancel()

	require.NoError(t, mb.Deliver(Identity(10), Event{Reason: SpiEnd}))
	ev := <-events
	assert.Equal(t, SpiEnd, ev.Reason)
}

func TestMailboxNotSubscribed(t *testing.T) {
	mb := NewMailbox(0)
	assert.ErrorIs(t, mb.Deliver(Identity(1), Event{}), ErrNotSubscribed)
}

func TestMailboxFull(t *testing.T) {
	mb := NewMailbox(1)
	_, cancel := mb.Subscribe(Identity(5))
	defer cancel()

	require.NoError(t, mb.Deliver(Identity(5), Event{Reason: SpiSvddSync}))
	assert.ErrorIs(t, mb.Deliver(Identity(5), Event{Reason: SpiSvddSync}), ErrMailboxFull)
}

func TestMailboxResubscribeClosesPrevious(t *testing.T) {
	mb := NewMailbox(1)
	first, cancelFirst := mb.Subscribe(Identity(5))
	second, cancelSecond := mb.Subscribe(Identity(5))
	defer cancelSecond()

	_, ok := <-first
	assert.False(t, ok, "previous subscription must be closed")

	// Cancelling the stale subscription must not close the new one.
	cancelFirst()
	require.True(t, mb.Subscribed(Identity(5)))
	require.NoError(t, mb.Deliver(Identity(5), Event{Reason: SpiEnd}))
	ev := <-second
	assert.Equal(t, SpiEnd, ev.Reason)
}

func TestMailboxCancel(t *testing.T) {
	mb := NewMailbox(1)
	events, cancel := mb.Subscribe(Identity(8))
	cancel()
	cancel()

	_, ok := <-events
	assert.False(t, ok)
	assert.False(t, mb.Subscribed(Identity(8)))
}

func TestMailboxClose(t *testing.T) {
	mb := NewMailbox(1)
	events, cancel := mb.Subscribe(Identity(8))
	defer cancel()

	require.NoError(t, mb.Close())
	_, ok := <-events
	assert.False(t, ok)

	late, _ := mb.Subscribe(Identity(9))
	_, ok = <-late
	assert.False(t, ok, "subscriptions after close are already closed")
}
