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
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultMemoryCapacity bounds the in-memory trail.
const DefaultMemoryCapacity = 4096

// MemoryAuditAdapter implements AuditAdapter with bounded in-memory
// storage. When full, the oldest event is evicted.
//
// Note: All events are stored in memory and will be lost on process restart.
type MemoryAuditAdapter struct {
	mu       sync.RWMutex
	capacity int
	events   []*AuditEvent
	byID     map[string]*AuditEvent
	now      func() time.Time
}

// NewMemoryAuditAdapter creates a new in-memory audit adapter. capacity
// <= 0 selects DefaultMemoryCapacity.
func NewMemoryAuditAdapter(capacity int) *MemoryAuditAdapter {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &MemoryAuditAdapter{
		capacity: capacity,
		events:   make([]*AuditEvent, 0, min(capacity, 1024)),
		byID:     make(map[string]*AuditEvent),
		now:      time.Now,
	}
}

// LogEvent records an audit event in memory
func (m *MemoryAuditAdapter) LogEvent(ctx context.Context, event *AuditEvent) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}

	// Generate ID if not provided
	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	// Set timestamp if not provided
	if event.Timestamp.IsZero() {
		event.Timestamp = m.now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.events) >= m.capacity {
		evicted := m.events[0]
		delete(m.byID, evicted.ID)
		m.events = m.events[1:]
	}
	m.events = append(m.events, event)
	m.byID[event.ID] = event
	return nil
}

// GetEvents retrieves audit events based on query parameters
func (m *MemoryAuditAdapter) GetEvents(ctx context.Context, query *EventQuery) ([]*AuditEvent, error) {
	if query == nil {
		query = &EventQuery{}
	}

	m.mu.RLock()
	results := make([]*AuditEvent, 0, len(m.events))
	for _, event := range m.events {
		if matchesQuery(event, query) {
			results = append(results, event)
		}
	}
	m.mu.RUnlock()

	// Events are stored oldest first
	if !query.Ascending {
		slices.Reverse(results)
	}

	// Apply offset and limit
	if query.Offset > 0 {
		if query.Offset >= len(results) {
			return []*AuditEvent{}, nil
		}
		results = results[query.Offset:]
	}
	if query.Limit > 0 && query.Limit < len(results) {
		results = results[:query.Limit]
	}

	return results, nil
}

// GetEvent retrieves a specific audit event by ID
func (m *MemoryAuditAdapter) GetEvent(ctx context.Context, eventID string) (*AuditEvent, error) {
	if eventID == "" {
		return nil, fmt.Errorf("event ID cannot be empty")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	event, ok := m.byID[eventID]
	if !ok {
		return nil, fmt.Errorf("event not found: %s", eventID)
	}
	return event, nil
}

// GetStatistics returns audit statistics
func (m *MemoryAuditAdapter) GetStatistics(ctx context.Context, query *StatisticsQuery) (*Statistics, error) {
	if query == nil {
		query = &StatisticsQuery{}
	}

	stats := &Statistics{
		EventsByType:      make(map[EventType]int64),
		EventsByOutcome:   make(map[EventOutcome]int64),
		EventsByPrincipal: make(map[string]int64),
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, event := range m.events {
		if !inWindow(event, query.StartTime, query.EndTime) {
			continue
		}
		stats.TotalEvents++
		stats.EventsByType[event.EventType]++
		stats.EventsByOutcome[event.Outcome]++
		if event.Principal != "" {
			stats.EventsByPrincipal[event.Principal]++
		}
	}

	return stats, nil
}

// Len returns the number of retained events.
func (m *MemoryAuditAdapter) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events)
}

func matchesQuery(event *AuditEvent, query *EventQuery) bool {
	if len(query.EventTypes) > 0 && !slices.Contains(query.EventTypes, event.EventType) {
		return false
	}
	if len(query.Outcomes) > 0 && !slices.Contains(query.Outcomes, event.Outcome) {
		return false
	}
	if query.Principal != "" && event.Principal != query.Principal {
		return false
	}
	if query.RequestID != "" && event.RequestID != query.RequestID {
		return false
	}
	return inWindow(event, query.StartTime, query.EndTime)
}

func inWindow(event *AuditEvent, start, end *time.Time) bool {
	if start != nil && event.Timestamp.Before(*start) {
		return false
	}
	if end != nil && event.Timestamp.After(*end) {
		return false
	}
	return true
}
