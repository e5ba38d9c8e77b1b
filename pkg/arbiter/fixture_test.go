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

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/jeremyhahn/go-eseaccess/pkg/access"
	"github.com/jeremyhahn/go-eseaccess/pkg/adapters/audit"
	"github.com/jeremyhahn/go-eseaccess/pkg/handshake"
	"github.com/jeremyhahn/go-eseaccess/pkg/notify"
	"github.com/jeremyhahn/go-eseaccess/pkg/power"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testPID = notify.Identity(4242)

type fixture struct {
	arb     *Arbiter
	clock   *clock.Mock
	lines   *power.MemoryLines
	rail    *power.Controller
	mailbox *notify.Mailbox
	audit   *audit.MemoryAuditAdapter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithClock(t, clock.NewMock(), 0)
}

func newFixtureWithClock(t *testing.T, clk clock.Clock, timeout time.Duration) *fixture {
	t.Helper()
	lines := power.NewMemoryLines()
	rail, err := power.NewController(power.Config{Lines: lines, Clock: clk})
	require.NoError(t, err)

	mailbox := notify.NewMailbox(8)
	trail := audit.NewMemoryAuditAdapter(0)
	arb, err := New(Config{
		Rail:             rail,
		Notifier:         notify.NewChannel(mailbox, clk),
		Clock:            clk,
		HandshakeTimeout: timeout,
		Audit:            trail,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = arb.Close() })

	f := &fixture{arb: arb, lines: lines, rail: rail, mailbox: mailbox, audit: trail}
	if mock, ok := clk.(*clock.Mock); ok {
		f.clock = mock
	}
	return f
}

// listen registers testPID and returns its notification queue.
func (f *fixture) listen(t *testing.T) <-chan notify.Event {
	t.Helper()
	events, cancel := f.mailbox.Subscribe(testPID)
	t.Cleanup(cancel)
	f.arb.Register(context.Background(), testPID)
	return events
}

// powerOn drives the rail up directly so a later power-down is
// observable.
func (f *fixture) powerOn(t *testing.T) {
	t.Helper()
	require.NoError(t, f.rail.SetPower(context.Background(), true))
}

func (f *fixture) waiting(p handshake.Purpose) func() bool {
	return f.arb.slots.Slot(p).Waiting
}

func (f *fixture) requireState(t *testing.T, want access.State) {
	t.Helper()
	got := f.arb.State()
	require.True(t, want.Equal(got), "state = %s, want %s", got, want)
}

func nextEvent(t *testing.T, events <-chan notify.Event) notify.Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no notification delivered")
		return notify.Event{}
	}
}

func noEvent(t *testing.T, events <-chan notify.Event) {
	t.Helper()
	select {
	case ev := <-events:
		t.Fatalf("unexpected notification %s", ev.Name)
	default:
	}
}

func async(fn func(context.Context) error) <-chan error {
	done := make(chan error, 1)
	go func() { done <- fn(context.Background()) }()
	return done
}

func result(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("operation did not complete")
		return nil
	}
}

func pending(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		t.Fatalf("operation completed early: %v", err)
	case <-time.After(10 * time.Millisecond):
	}
}
