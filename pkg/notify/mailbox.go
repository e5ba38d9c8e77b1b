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
	"errors"
	"sync"
)

// DefaultMailboxSize is the per-subscriber buffer depth.
const DefaultMailboxSize = 16

var (
	// ErrMailboxFull is returned when the subscriber is not draining.
	ErrMailboxFull = errors.New("notify: mailbox full")

	// ErrNotSubscribed is returned when the identity has no open mailbox.
	ErrNotSubscribed = errors.New("notify: identity not subscribed")
)

// Mailbox is an in-process Transport with one buffered queue per
// subscribed identity. Delivery never blocks.
type Mailbox struct {
	size int

	mu     sync.Mutex
	boxes  map[Identity]*subscription
	closed bool
}

type subscription struct {
	ch chan Event
}

// NewMailbox creates a mailbox. size <= 0 selects DefaultMailboxSize.
func NewMailbox(size int) *Mailbox {
	if size <= 0 {
		size = DefaultMailboxSize
	}
	return &Mailbox{size: size, boxes: make(map[Identity]*subscription)}
}

// Subscribe opens a queue for id, replacing any previous one. The
// returned cancel func closes the queue; it is safe to call more than
// once.
func (m *Mailbox) Subscribe(id Identity) (<-chan Event, func()) {
	sub := &subscription{ch: make(chan Event, m.size)}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	if old, ok := m.boxes[id]; ok {
		close(old.ch)
	}
	m.boxes[id] = sub
	m.mu.Unlock()

	return sub.ch, func() { m.unsubscribe(id, sub) }
}

func (m *Mailbox) unsubscribe(id Identity, sub *subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.boxes[id]; ok && cur == sub {
		delete(m.boxes, id)
		close(sub.ch)
	}
}

// Subscribed reports whether id has an open queue.
func (m *Mailbox) Subscribed(id Identity) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.boxes[id]
	return ok
}

// Deliver enqueues ev for id.
func (m *Mailbox) Deliver(id Identity, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.boxes[id]
	if !ok {
		return ErrNotSubscribed
	}
	select {
	case sub.ch <- ev:
		return nil
	default:
		return ErrMailboxFull
	}
}

// Close closes every open queue.
func (m *Mailbox) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for id, sub := range m.boxes {
		close(sub.ch)
		delete(m.boxes, id)
	}
	return nil
}
