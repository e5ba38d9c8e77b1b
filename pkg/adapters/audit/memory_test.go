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

package audit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func logAll(t *testing.T, m *MemoryAuditAdapter, events ...*AuditEvent) {
	t.Helper()
	for _, ev := range events {
		require.NoError(t, m.LogEvent(context.Background(), ev))
	}
}

func TestLogEventAssignsIDAndTimestamp(t *testing.T) {
	m := NewMemoryAuditAdapter(0)
	ev := &AuditEvent{EventType: EventSpiAcquire, Outcome: OutcomeSuccess}

	require.NoError(t, m.LogEvent(context.Background(), ev))
	_, err := uuid.Parse(ev.ID)
	assert.NoError(t, err)
	assert.False(t, ev.Timestamp.IsZero())

	got, err := m.GetEvent(context.Background(), ev.ID)
	require.NoError(t, err)
	assert.Same(t, ev, got)
}

func TestLogEventNil(t *testing.T) {
	m := NewMemoryAuditAdapter(0)
	assert.Error(t, m.LogEvent(context.Background(), nil))
}

func TestGetEventErrors(t *testing.T) {
	m := NewMemoryAuditAdapter(0)
	_, err := m.GetEvent(context.Background(), "")
	assert.Error(t, err)
	_, err = m.GetEvent(context.Background(), "missing")
	assert.Error(t, err)
}

func TestCapacityEvictsOldest(t *testing.T) {
	m := NewMemoryAuditAdapter(2)
	first := &AuditEvent{EventType: EventWiredAcquire}
	logAll(t, m,
		first,
		&AuditEvent{EventType: EventSpiAcquire},
		&AuditEvent{EventType: EventSpiRelease},
	)

	assert.Equal(t, 2, m.Len())
	_, err := m.GetEvent(context.Background(), first.ID)
	assert.Error(t, err)
}

func TestGetEventsFilters(t *testing.T) {
	m := NewMemoryAuditAdapter(0)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	logAll(t, m,
		&AuditEvent{EventType: EventWiredAcquire, Outcome: OutcomeSuccess, Principal: "100", Timestamp: base},
		&AuditEvent{EventType: EventSpiAcquire, Outcome: OutcomeBusy, Principal: "200", Timestamp: base.Add(time.Second)},
		&AuditEvent{EventType: EventSpiAcquire, Outcome: OutcomeSuccess, Principal: "200", Timestamp: base.Add(2 * time.Second), RequestID: "req-9"},
	)
	ctx := context.Background()

	events, err := m.GetEvents(ctx, &EventQuery{EventTypes: []EventType{EventSpiAcquire}})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, OutcomeSuccess, events[0].Outcome, "newest first by default")

	events, err = m.GetEvents(ctx, &EventQuery{Outcomes: []EventOutcome{OutcomeBusy}})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "200", events[0].Principal)

	events, err = m.GetEvents(ctx, &EventQuery{Principal: "100"})
	require.NoError(t, err)
	assert.Len(t, events, 1)

	events, err = m.GetEvents(ctx, &EventQuery{RequestID: "req-9"})
	require.NoError(t, err)
	assert.Len(t, events, 1)

	start := base.Add(500 * time.Millisecond)
	events, err = m.GetEvents(ctx, &EventQuery{StartTime: &start, Ascending: true})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, OutcomeBusy, events[0].Outcome)
}

func TestGetEventsPaging(t *testing.T) {
	m := NewMemoryAuditAdapter(0)
	for i := 0; i < 5; i++ {
		logAll(t, m, &AuditEvent{EventType: EventLockAcquire, Metadata: map[string]string{"n": fmt.Sprint(i)}})
	}
	ctx := context.Background()

	events, err := m.GetEvents(ctx, &EventQuery{Limit: 2, Offset: 1, Ascending: true})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "1", events[0].Metadata["n"])
	assert.Equal(t, "2", events[1].Metadata["n"])

	events, err = m.GetEvents(ctx, &EventQuery{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, events)

	events, err = m.GetEvents(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, events, 5)
}

func TestGetStatistics(t *testing.T) {
	m := NewMemoryAuditAdapter(0)
	logAll(t, m,
		&AuditEvent{EventType: EventSpiAcquire, Outcome: OutcomeSuccess, Principal: "1"},
		&AuditEvent{EventType: EventSpiAcquire, Outcome: OutcomeBusy, Principal: "2"},
		&AuditEvent{EventType: EventWiredRelease, Outcome: OutcomeForbidden},
	)

	stats, err := m.GetStatistics(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalEvents)
	assert.Equal(t, int64(2), stats.EventsByType[EventSpiAcquire])
	assert.Equal(t, int64(1), stats.EventsByOutcome[OutcomeForbidden])
	assert.Len(t, stats.EventsByPrincipal, 2)

	future := time.Now().Add(time.Hour)
	stats, err = m.GetStatistics(context.Background(), &StatisticsQuery{StartTime: &future})
	require.NoError(t, err)
	assert.Zero(t, stats.TotalEvents)
}
