// Copyright 2026 The Palaver Authors
// SPDX-License-Identifier: Apache-2.0

package matrix

import (
	"github.com/google/uuid"

	"github.com/palaver-im/palaver/lib/ref"
)

// ListenerID identifies a registered listener for later removal.
type ListenerID string

func newListenerID() ListenerID {
	return ListenerID(uuid.NewString())
}

// TimelineListener receives timeline events (messages, state changes
// appearing in the timeline) as they arrive from sync. room is the
// projection the event was folded into; it is nil only when the room
// is unknown, which does not happen for events delivered via sync.
type TimelineListener func(room *Room, event Event)

// StateListener receives state-section events before the corresponding
// timeline events of the same sync batch.
type StateListener func(room *Room, event Event)

// EphemeralListener receives ephemeral room events (typing, receipts).
type EphemeralListener func(room *Room, event Event)

// PresenceListener receives global presence events.
type PresenceListener func(event Event)

// InviteListener receives invites with the stripped invite state that
// accompanied them.
type InviteListener func(roomID ref.RoomID, inviteState []Event)

// LeaveListener fires when the user leaves or is removed from a room.
type LeaveListener func(roomID ref.RoomID, delta LeftRoomDelta)

// listenerSet holds registered callbacks of one kind. Dispatch order is
// registration order. An optional event type filter restricts delivery;
// the zero type matches everything.
//
// listenerSet is not safe for concurrent use. Registration and dispatch
// both happen on the syncer's goroutine (or before it starts).
type listenerSet[T any] struct {
	entries []listenerEntry[T]
}

type listenerEntry[T any] struct {
	id     ListenerID
	filter ref.EventType
	fn     T
}

func (ls *listenerSet[T]) add(filter ref.EventType, fn T) ListenerID {
	id := newListenerID()
	ls.entries = append(ls.entries, listenerEntry[T]{id: id, filter: filter, fn: fn})
	return id
}

func (ls *listenerSet[T]) remove(id ListenerID) bool {
	for i, entry := range ls.entries {
		if entry.id == id {
			ls.entries = append(ls.entries[:i], ls.entries[i+1:]...)
			return true
		}
	}
	return false
}

// each calls visit for every listener whose filter matches eventType,
// in registration order.
func (ls *listenerSet[T]) each(eventType ref.EventType, visit func(fn T)) {
	for _, entry := range ls.entries {
		if entry.filter != "" && entry.filter != eventType {
			continue
		}
		visit(entry.fn)
	}
}
