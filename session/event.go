// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import "sync"

// EventType is the kind of Event.
type EventType int

const (
	// StateChanged is sent after every externally visible transition.
	StateChanged EventType = iota
	// AccessTokenExpiring is advisory; it's sent once per token set before
	// the access token expires.  The state doesn't change.
	AccessTokenExpiring
)

func (t EventType) String() string {
	switch t {
	case StateChanged:
		return "state-changed"
	case AccessTokenExpiring:
		return "access-token-expiring"
	default:
		return "unknown"
	}
}

// Event is delivered to subscribers.  State is the session's state when the
// event was sent.
type Event struct {
	Type  EventType
	State State
}

// Listener receives session events.
type Listener func(Event)

type subscriber struct {
	id uint64
	fn Listener
}

// subscribers holds the listeners and the queue of events waiting to be
// delivered.  One goroutine at a time drains the queue.
type subscribers struct {
	mu          sync.Mutex
	nextID      uint64
	subs        []subscriber
	queue       []Event
	dispatching bool
}

func (s *subscribers) add(fn Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.subs = append(s.subs, subscriber{id: id, fn: fn})
	var once sync.Once
	return func() {
		once.Do(func() { s.remove(id) })
	}
}

func (s *subscribers) remove(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sub := range s.subs {
		if sub.id == id {
			s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
			return
		}
	}
}

func (s *subscribers) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = nil
	s.queue = nil
}

// enqueue adds e to the events waiting for dispatch.
func (s *subscribers) enqueue(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, e)
}

// dispatch delivers the queued events in order.  If another call is already
// delivering (including one further up the stack, when a listener calls back
// into the session) it returns at once and that call delivers the rest.
func (s *subscribers) dispatch() {
	s.mu.Lock()
	if s.dispatching {
		s.mu.Unlock()
		return
	}
	s.dispatching = true
	for len(s.queue) > 0 {
		e := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()
		s.notify(e)
		s.mu.Lock()
	}
	s.dispatching = false
	s.mu.Unlock()
}

// notify calls the listeners subscribed when it started; changes to the
// subscriptions made by a listener apply to the next notification.
func (s *subscribers) notify(e Event) {
	s.mu.Lock()
	snapshot := make([]subscriber, len(s.subs))
	copy(snapshot, s.subs)
	s.mu.Unlock()
	for _, sub := range snapshot {
		sub.fn(e)
	}
}
