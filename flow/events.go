// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package flow

import (
	"sort"
	"sync"
)

// EventKind identifies the kind of an Event.
type EventKind string

const (
	// EventTokenResponse is emitted once per successful sign-in, after the
	// authorization code has been exchanged for tokens.
	EventTokenResponse EventKind = "on_token_response"

	// EventAuthorizationFailed is emitted when an authorization request ends
	// without a session: the provider's error, a failed code exchange, a
	// timeout or a cancellation.
	EventAuthorizationFailed EventKind = "on_authorization_failed"

	// EventTokenRefreshed is emitted after the access token was refreshed.
	EventTokenRefreshed EventKind = "on_token_refreshed"

	// EventSignedOut is emitted when SignOut clears a session.
	EventSignedOut EventKind = "on_signed_out"
)

// Event is delivered to the handlers subscribed to its Kind.
type Event struct {
	Kind EventKind

	// State of the authorization request the event belongs to, if any.
	State string

	// Err is set for EventAuthorizationFailed.
	Err error
}

// Handler receives events.  Handlers are called synchronously on the
// emitting goroutine and must not block.
type Handler func(Event)

type emitter struct {
	mu       sync.Mutex
	nextID   int
	handlers map[EventKind]map[int]Handler
}

func (e *emitter) subscribe(kind EventKind, h Handler) func() {
	if h == nil {
		return func() {}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.handlers == nil {
		e.handlers = map[EventKind]map[int]Handler{}
	}
	if e.handlers[kind] == nil {
		e.handlers[kind] = map[int]Handler{}
	}
	id := e.nextID
	e.nextID++
	e.handlers[kind][id] = h

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			delete(e.handlers[kind], id)
		})
	}
}

// emit calls the event's handlers in subscription order, outside of the
// emitter's lock so handlers may subscribe or unsubscribe.
func (e *emitter) emit(ev Event) {
	e.mu.Lock()
	ids := make([]int, 0, len(e.handlers[ev.Kind]))
	for id := range e.handlers[ev.Kind] {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	hs := make([]Handler, 0, len(ids))
	for _, id := range ids {
		hs = append(hs, e.handlers[ev.Kind][id])
	}
	e.mu.Unlock()

	for _, h := range hs {
		h(ev)
	}
}
