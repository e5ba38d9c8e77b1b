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
	"context"
	"errors"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-eseaccess/pkg/correlation"
)

type recordingTransport struct {
	delivered []Event
	to        []Identity
	err       error
}

func (r *recordingTransport) Deliver(id Identity, ev Event) error {
	if r.err != nil {
		return r.err
	}
	r.to = append(r.to, id)
	r.delivered = append(r.delivered, ev)
	return nil
}

func TestNotifyWithoutRecipient(t *testing.T) {
	tr := &recordingTransport{}
	c := NewChannel(tr, clock.NewMock())

	err := c.Notify(context.Background(), WiredSvddSync)
	assert.ErrorIs(t, err, ErrNoRecipient)
	assert.Empty(t, tr.delivered)
}

func TestNotifyDelivers(t *testing.T) {
	tr := &recordingTransport{}
	mock := clock.NewMock()
	c := NewChannel(tr, mock)
	c.Register(Identity(1234))

	ctx := correlation.WithCorrelationID(context.Background(), "op-1")
	require.NoError(t, c.Notify(ctx, SpiPriorityStart))

	require.Len(t, tr.delivered, 1)
	assert.Equal(t, Identity(1234), tr.to[0])
	ev := tr.delivered[0]
	assert.Equal(t, SpiPriorityStart, ev.Reason)
	assert.Equal(t, "spi_priority_start", ev.Name)
	assert.Equal(t, "op-1", ev.ID)
	assert.Equal(t, mock.Now(), ev.Time)
}

func TestRegisterNoneClears(t *testing.T) {
	c := NewChannel(&recordingTransport{}, nil)
	c.Register(Identity(7))
	assert.Equal(t, Identity(7), c.Registered())

	c.Register(None)
	c.Register(None)
	assert.Equal(t, None, c.Registered())
	assert.ErrorIs(t, c.Notify(context.Background(), SpiEnd), ErrNoRecipient)
}

func TestNotifyTransportError(t *testing.T) {
	c := NewChannel(&recordingTransport{err: ErrMailboxFull}, nil)
	c.Register(Identity(9))

	err := c.Notify(context.Background(), JcopDownloadStart)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMailboxFull))
	assert.False(t, errors.Is(err, ErrNoRecipient))
}

func TestNotifyAfterClose(t *testing.T) {
	mb := NewMailbox(1)
	c := NewChannel(mb, nil)
	c.Register(Identity(3))

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Notify(context.Background(), SpiEnd), ErrClosed)
}

func TestReasonAndIdentityStrings(t *testing.T) {
	assert.Equal(t, "wired_svdd_sync", WiredSvddSync.String())
	assert.Equal(t, "reason(99)", Reason(99).String())
	assert.Equal(t, "none", None.String())
	assert.Equal(t, "4242", Identity(4242).String())
}
