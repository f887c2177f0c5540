// Copyright 2026 The Palaver Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import "fmt"

// EventID is a validated Matrix event ID (e.g., "$abc123xyz").
//
// In room version 4 and later, event IDs are "$base64hash" with no
// ":server" suffix; older room versions use "$something:server". The
// ID is treated as opaque — validation only requires the '$' sigil
// and at least one character after it.
type EventID struct {
	id string
}

// ParseEventID validates and wraps a raw Matrix event ID string.
func ParseEventID(raw string) (EventID, error) {
	if raw == "" {
		return EventID{}, fmt.Errorf("empty event ID")
	}
	if raw[0] != '$' {
		return EventID{}, fmt.Errorf("event ID must start with '$': %q", raw)
	}
	if len(raw) < 2 {
		return EventID{}, fmt.Errorf("event ID has no content after '$': %q", raw)
	}
	return EventID{id: raw}, nil
}

// MustParseEventID is like ParseEventID but panics on error.
func MustParseEventID(raw string) EventID {
	e, err := ParseEventID(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParseEventID(%q): %v", raw, err))
	}
	return e
}

// String returns the full event ID string.
func (e EventID) String() string { return e.id }

// IsZero reports whether the EventID is the zero value.
func (e EventID) IsZero() bool { return e.id == "" }

// MarshalText implements encoding.TextMarshaler.
func (e EventID) MarshalText() ([]byte, error) {
	return []byte(e.id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (e *EventID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*e = EventID{}
		return nil
	}
	parsed, err := ParseEventID(string(data))
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}

// EventType identifies a Matrix state or timeline event type
// (e.g., "m.room.message", "m.room.member").
//
// EventType is a named string type, not a struct wrapper: event types
// are opaque identifiers that need no parsing. The type exists for
// compile-time safety — preventing accidental use of a state key where
// an event type is expected.
type EventType string

// Standard Matrix event types this library interprets. Any other type
// passes through untouched.
const (
	TypeRoomName           EventType = "m.room.name"
	TypeRoomTopic          EventType = "m.room.topic"
	TypeRoomCanonicalAlias EventType = "m.room.canonical_alias"
	TypeRoomAliases        EventType = "m.room.aliases"
	TypeRoomJoinRules      EventType = "m.room.join_rules"
	TypeRoomGuestAccess    EventType = "m.room.guest_access"
	TypeRoomEncryption     EventType = "m.room.encryption"
	TypeRoomMember         EventType = "m.room.member"
	TypeRoomMessage        EventType = "m.room.message"
	TypeRoomRedaction      EventType = "m.room.redaction"
	TypePresence           EventType = "m.presence"
	TypeTyping             EventType = "m.typing"
	TypeReceipt            EventType = "m.receipt"
)

// String returns the event type string.
func (t EventType) String() string { return string(t) }
