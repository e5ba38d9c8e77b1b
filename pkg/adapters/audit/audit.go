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

// Package audit provides an adapter interface for the access audit trail.
// Every arbiter entry point produces one event naming the caller, the
// operation, its result and the state before and after.
package audit

import (
	"context"
	"time"
)

// EventType represents the type of audit event
type EventType string

const (
	// Access events, one per arbiter entry point
	EventWiredAcquire       EventType = "access.wired_acquire"
	EventWiredRelease       EventType = "access.wired_release"
	EventSpiAcquire         EventType = "access.spi_acquire"
	EventSpiRelease         EventType = "access.spi_release"
	EventSpiPriorityAcquire EventType = "access.spi_priority_acquire"
	EventSpiPriorityRelease EventType = "access.spi_priority_release"
	EventDownloadStart      EventType = "access.download_start"
	EventDownloadEnd        EventType = "access.download_end"
	EventJcopDownloadStart  EventType = "access.jcop_download_start"
	EventJcopDownloadEnd    EventType = "access.jcop_download_end"

	// Transaction lock events
	EventLockAcquire EventType = "lock.acquire"
	EventLockRelease EventType = "lock.release"

	// Registration and handshake events
	EventRegister         EventType = "process.register"
	EventHandshakeRelease EventType = "handshake.release"

	// System events
	EventSystemStart EventType = "system.start"
	EventSystemStop  EventType = "system.stop"
)

// EventOutcome indicates the result of an operation. Values mirror the
// arbiter result codes.
type EventOutcome string

const (
	OutcomeSuccess   EventOutcome = "success"
	OutcomeBusy      EventOutcome = "busy"
	OutcomeForbidden EventOutcome = "forbidden"
	OutcomeInvalid   EventOutcome = "invalid"
	OutcomeTimeout   EventOutcome = "timeout"
	OutcomeIO        EventOutcome = "io"
	OutcomeClosed    EventOutcome = "closed"
)

// AuditEvent represents a single audit log entry
type AuditEvent struct {
	// ID is a unique identifier for this audit event
	ID string `json:"id"`

	// Timestamp when the event occurred
	Timestamp time.Time `json:"timestamp"`

	// EventType categorizes the event
	EventType EventType `json:"event_type"`

	// Outcome is the result code returned to the caller
	Outcome EventOutcome `json:"outcome"`

	// Principal is the caller identity (peer PID on the daemon), or empty
	// for in-process callers
	Principal string `json:"principal,omitempty"`

	// StateBefore and StateAfter are the access state strings around the
	// operation
	StateBefore string `json:"state_before"`
	StateAfter  string `json:"state_after"`

	// Duration includes any handshake wait
	Duration time.Duration `json:"duration"`

	// Error is the error text for non-success outcomes
	Error string `json:"error,omitempty"`

	// RequestID correlates this event with a socket API request
	RequestID string `json:"request_id,omitempty"`

	// Metadata stores additional context
	Metadata map[string]string `json:"metadata,omitempty"`
}

// AuditAdapter records audit events.
//
// Applications can implement this interface to ship the trail elsewhere
// (journald, a database, a SIEM).
type AuditAdapter interface {
	// LogEvent records an audit event
	LogEvent(ctx context.Context, event *AuditEvent) error

	// GetEvents retrieves audit events based on query parameters
	GetEvents(ctx context.Context, query *EventQuery) ([]*AuditEvent, error)

	// GetEvent retrieves a specific audit event by ID
	GetEvent(ctx context.Context, eventID string) (*AuditEvent, error)

	// GetStatistics returns audit statistics
	GetStatistics(ctx context.Context, query *StatisticsQuery) (*Statistics, error)
}

// EventQuery provides parameters for querying audit events
type EventQuery struct {
	// EventTypes filters by event type
	EventTypes []EventType

	// Outcomes filters by outcome
	Outcomes []EventOutcome

	// Principal filters by caller identity
	Principal string

	// RequestID filters by request ID
	RequestID string

	// StartTime filters events after this time
	StartTime *time.Time

	// EndTime filters events before this time
	EndTime *time.Time

	// Limit limits the number of results
	Limit int

	// Offset skips the first N results
	Offset int

	// Ascending returns the oldest events first (default: newest first)
	Ascending bool
}

// StatisticsQuery provides parameters for audit statistics
type StatisticsQuery struct {
	// StartTime for statistics window
	StartTime *time.Time

	// EndTime for statistics window
	EndTime *time.Time
}

// Statistics contains audit statistics
type Statistics struct {
	// TotalEvents is the total number of events in the window
	TotalEvents int64

	// EventsByType breaks down events by type
	EventsByType map[EventType]int64

	// EventsByOutcome breaks down events by outcome
	EventsByOutcome map[EventOutcome]int64

	// EventsByPrincipal breaks down events by caller identity
	EventsByPrincipal map[string]int64
}
