// Copyright 2026 The Palaver Authors
// SPDX-License-Identifier: Apache-2.0

package matrix

import (
	"context"
	"fmt"
	"slices"

	"github.com/palaver-im/palaver/lib/ref"
)

// User is the cross-room view of a Matrix user. A single *User is
// shared by every Room the user is a member of, so a presence update
// is visible from all of them.
type User struct {
	id ref.UserID

	presence        string
	statusMsg       string
	currentlyActive bool
	lastActiveAgo   int64
}

// ID returns the user's Matrix ID.
func (u *User) ID() ref.UserID { return u.id }

// Presence returns the last observed presence state ("online",
// "unavailable", "offline"), or "" before any presence event arrived.
func (u *User) Presence() string { return u.presence }

// StatusMsg returns the user's status message, if any.
func (u *User) StatusMsg() string { return u.statusMsg }

// CurrentlyActive reports whether the user was active at the last
// presence update.
func (u *User) CurrentlyActive() bool { return u.currentlyActive }

// LastActiveAgo returns milliseconds since the user was last active,
// as of the last presence update.
func (u *User) LastActiveAgo() int64 { return u.lastActiveAgo }

func (u *User) updatePresence(event Event) {
	if p := event.stringContent("presence"); p != "" {
		u.presence = p
	}
	u.statusMsg = event.stringContent("status_msg")
	active, _ := event.Content["currently_active"].(bool)
	u.currentlyActive = active
	if ago, ok := event.Content["last_active_ago"].(float64); ok {
		u.lastActiveAgo = int64(ago)
	}
}

// Member is a user's membership in one specific room, carrying the
// per-room display name on top of the shared User handle.
type Member struct {
	User        *User
	DisplayName string
}

// Room is the client-side projection of one room's state, built up by
// folding sync deltas. How much is retained depends on the syncer's
// CacheLevel; listeners fire regardless.
//
// Room is not safe for concurrent use; see the package documentation
// for the threading model.
type Room struct {
	syncer *Syncer
	id     ref.RoomID

	name           string
	topic          string
	canonicalAlias string
	altAliases     []string
	inviteOnly     bool
	guestAccess    bool
	encrypted      bool

	members map[ref.UserID]*Member
	typing  []ref.UserID

	timeline  []Event
	prevBatch string

	timelineListeners  listenerSet[TimelineListener]
	stateListeners     listenerSet[StateListener]
	ephemeralListeners listenerSet[EphemeralListener]
}

func newRoom(s *Syncer, id ref.RoomID) *Room {
	return &Room{
		syncer:  s,
		id:      id,
		members: make(map[ref.UserID]*Member),
	}
}

// ID returns the room ID.
func (r *Room) ID() ref.RoomID { return r.id }

// Name returns the room's m.room.name, or "" when unset or uncached.
func (r *Room) Name() string { return r.name }

// Topic returns the room's m.room.topic, or "".
func (r *Room) Topic() string { return r.topic }

// CanonicalAlias returns the room's canonical alias, or "".
func (r *Room) CanonicalAlias() string { return r.canonicalAlias }

// AltAliases returns the room's alternative aliases.
func (r *Room) AltAliases() []string { return append([]string(nil), r.altAliases...) }

// InviteOnly reports whether the room's join rule is "invite".
func (r *Room) InviteOnly() bool { return r.inviteOnly }

// GuestAccess reports whether guests can join.
func (r *Room) GuestAccess() bool { return r.guestAccess }

// Encrypted reports whether an m.room.encryption event has been seen.
// Once set it never clears; rooms cannot be un-encrypted.
func (r *Room) Encrypted() bool { return r.encrypted }

// PrevBatch returns the token for paginating backward from the oldest
// buffered timeline event.
func (r *Room) PrevBatch() string { return r.prevBatch }

// Timeline returns a copy of the buffered timeline, oldest first.
func (r *Room) Timeline() []Event { return append([]Event(nil), r.timeline...) }

// Member returns the membership record for a user, or nil.
func (r *Room) Member(userID ref.UserID) *Member { return r.members[userID] }

// Members returns a copy of the room's membership map.
func (r *Room) Members() map[ref.UserID]*Member {
	members := make(map[ref.UserID]*Member, len(r.members))
	for id, member := range r.members {
		members[id] = member
	}
	return members
}

// Typing returns the users currently typing, per the last m.typing
// ephemeral event.
func (r *Room) Typing() []ref.UserID { return append([]ref.UserID(nil), r.typing...) }

// DisplayNameOf returns the user's display name in this room, falling
// back to the raw user ID when no membership record names one.
func (r *Room) DisplayNameOf(userID ref.UserID) string {
	if member := r.members[userID]; member != nil && member.DisplayName != "" {
		return member.DisplayName
	}
	return userID.String()
}

// OnTimeline registers a listener for this room's timeline events.
// filter restricts delivery to one event type; "" matches all.
func (r *Room) OnTimeline(filter ref.EventType, fn TimelineListener) ListenerID {
	return r.timelineListeners.add(filter, fn)
}

// OnState registers a listener for this room's state events.
func (r *Room) OnState(filter ref.EventType, fn StateListener) ListenerID {
	return r.stateListeners.add(filter, fn)
}

// OnEphemeral registers a listener for this room's ephemeral events.
func (r *Room) OnEphemeral(filter ref.EventType, fn EphemeralListener) ListenerID {
	return r.ephemeralListeners.add(filter, fn)
}

// RemoveListener unregisters a listener previously added to this room.
// Returns false when the ID is unknown.
func (r *Room) RemoveListener(id ListenerID) bool {
	return r.timelineListeners.remove(id) ||
		r.stateListeners.remove(id) ||
		r.ephemeralListeners.remove(id)
}

// applyState folds one state event into the projection. It is
// idempotent: replaying the same event leaves the projection unchanged.
// Retention is gated on the cache level; callers dispatch to listeners
// separately so they fire even when nothing is retained.
func (r *Room) applyState(event Event) {
	if r.syncer.config.CacheLevel == CacheNone {
		return
	}
	switch event.Type {
	case ref.TypeRoomName:
		r.name = event.stringContent("name")
	case ref.TypeRoomTopic:
		r.topic = event.stringContent("topic")
	case ref.TypeRoomCanonicalAlias:
		r.canonicalAlias = event.stringContent("alias")
	case ref.TypeRoomAliases:
		r.mergeAliases(event)
	case ref.TypeRoomJoinRules:
		r.inviteOnly = event.stringContent("join_rule") == "invite"
	case ref.TypeRoomGuestAccess:
		r.guestAccess = event.stringContent("guest_access") == "can_join"
	case ref.TypeRoomEncryption:
		r.encrypted = true
	case ref.TypeRoomMember:
		// Roster tracking is the expensive part; only CacheAll pays for it.
		if r.syncer.config.CacheLevel == CacheAll {
			r.applyMember(event)
		}
	}
}

func (r *Room) mergeAliases(event Event) {
	raw, _ := event.Content["aliases"].([]any)
	for _, entry := range raw {
		alias, ok := entry.(string)
		if !ok {
			continue
		}
		if !slices.Contains(r.altAliases, alias) {
			r.altAliases = append(r.altAliases, alias)
		}
	}
}

func (r *Room) applyMember(event Event) {
	if event.StateKey == nil {
		return
	}
	userID, err := ref.ParseUserID(*event.StateKey)
	if err != nil {
		return
	}
	// The roster tracks joined members only: "join" upserts, every
	// other membership value, including "invite", removes the record.
	// An invited user has no Member entry until they join.
	if event.stringContent("membership") != "join" {
		delete(r.members, userID)
		return
	}
	member := r.members[userID]
	if member == nil {
		member = &Member{User: r.syncer.user(userID)}
		r.members[userID] = member
	}
	member.DisplayName = event.stringContent("displayname")
}

// addTimeline appends a timeline event to the ring buffer, evicting the
// oldest event once the buffer is at capacity. The ring fills at every
// cache level; only state folding is gated.
func (r *Room) addTimeline(event Event) {
	capacity := r.syncer.config.TimelineCapacity
	if len(r.timeline) >= capacity {
		drop := len(r.timeline) - capacity + 1
		r.timeline = append(r.timeline[:0], r.timeline[drop:]...)
	}
	r.timeline = append(r.timeline, event)
}

// applyEphemeral folds an ephemeral event. Only m.typing carries state
// worth keeping; receipts are dispatch-only.
func (r *Room) applyEphemeral(event Event) {
	if r.syncer.config.CacheLevel == CacheNone {
		return
	}
	if event.Type != ref.TypeTyping {
		return
	}
	raw, _ := event.Content["user_ids"].([]any)
	typing := r.typing[:0]
	for _, entry := range raw {
		id, ok := entry.(string)
		if !ok {
			continue
		}
		userID, err := ref.ParseUserID(id)
		if err != nil {
			continue
		}
		typing = append(typing, userID)
	}
	r.typing = typing
}

// Backfill fetches up to limit older timeline events and prepends them
// to the buffer without dispatching listeners. The backfilled buffer
// may exceed the configured capacity; capacity only bounds sync
// appends. Returns the number of events added.
func (r *Room) Backfill(ctx context.Context, limit int) (int, error) {
	if r.prevBatch == "" {
		return 0, validationErrorf("room %s has no pagination token yet", r.id)
	}
	response, err := r.syncer.session.RoomMessages(ctx, r.id, RoomMessagesOptions{
		From:      r.prevBatch,
		Direction: "b",
		Limit:     limit,
	})
	if err != nil {
		return 0, fmt.Errorf("matrix: backfill of %q failed: %w", r.id, err)
	}

	// The chunk arrives newest-first; reverse into timeline order.
	added := make([]Event, 0, len(response.Chunk))
	for i := len(response.Chunk) - 1; i >= 0; i-- {
		added = append(added, response.Chunk[i])
	}
	r.timeline = append(added, r.timeline...)
	r.prevBatch = response.End
	return len(added), nil
}
