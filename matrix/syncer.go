// Copyright 2026 The Palaver Authors
// SPDX-License-Identifier: Apache-2.0

package matrix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/palaver-im/palaver/lib/clock"
	"github.com/palaver-im/palaver/lib/ref"
)

// CacheLevel controls how much room state the syncer folds into each
// projection. The timeline ring and listener dispatch are unaffected:
// events are buffered and delivered at every level.
type CacheLevel int

const (
	// CacheAll folds room metadata and maintains the full member
	// roster. This is the zero value.
	CacheAll CacheLevel = iota

	// CacheSome folds room metadata but not membership.
	CacheSome

	// CacheNone disables state folding entirely.
	CacheNone
)

// SyncerConfig configures a Syncer. The zero value is usable.
type SyncerConfig struct {
	// CacheLevel selects how much state to retain per room.
	CacheLevel CacheLevel

	// Since resumes syncing from a previously saved cursor. Empty
	// starts with an initial sync.
	Since string

	// Filter is a server-side filter ID or inline JSON filter applied
	// to every sync request.
	Filter string

	// SetPresence, when non-empty, is sent as the set_presence
	// parameter ("online", "offline", "unavailable").
	SetPresence string

	// TimelineCapacity bounds the per-room timeline buffer for sync
	// appends. Zero means 20.
	TimelineCapacity int

	// InitialBackoff is the first wait after a failed sync. Zero
	// means 5s.
	InitialBackoff time.Duration

	// MaxBackoff caps the exponential backoff. Zero means 1h.
	MaxBackoff time.Duration

	// Logger overrides the session client's logger.
	Logger *slog.Logger
}

const (
	defaultTimelineCapacity = 20
	defaultInitialBackoff   = 5 * time.Second
	defaultMaxBackoff       = time.Hour
	defaultSyncTimeout      = 30 * time.Second
)

// Syncer drives the /sync long-poll loop, folds the deltas into Room
// projections, and dispatches events to registered listeners.
//
// All methods except Stop must be called from a single goroutine; see
// the package documentation.
type Syncer struct {
	session *Session
	config  SyncerConfig
	logger  *slog.Logger
	clk     clock.Clock

	cursor           string
	rooms            map[ref.RoomID]*Room
	users            map[ref.UserID]*User
	oneTimeKeyCounts map[string]int

	stopped atomic.Bool

	timelineListeners  listenerSet[TimelineListener]
	stateListeners     listenerSet[StateListener]
	ephemeralListeners listenerSet[EphemeralListener]
	presenceListeners  listenerSet[PresenceListener]
	inviteListeners    listenerSet[InviteListener]
	leaveListeners     listenerSet[LeaveListener]
}

// NewSyncer creates a Syncer for a session.
func NewSyncer(session *Session, config SyncerConfig) *Syncer {
	if config.TimelineCapacity <= 0 {
		config.TimelineCapacity = defaultTimelineCapacity
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = defaultInitialBackoff
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = defaultMaxBackoff
	}
	logger := config.Logger
	if logger == nil {
		logger = session.client.logger
	}
	return &Syncer{
		session: session,
		config:  config,
		logger:  logger,
		clk:     session.client.clk,
		cursor:  config.Since,
		rooms:   make(map[ref.RoomID]*Room),
		users:   make(map[ref.UserID]*User),
	}
}

// Since returns the current sync cursor, for persisting across
// restarts. Empty until the first successful sync.
func (s *Syncer) Since() string { return s.cursor }

// Room returns the projection for a room, or nil if none exists.
func (s *Syncer) Room(id ref.RoomID) *Room { return s.rooms[id] }

// Rooms returns a copy of the known room projections.
func (s *Syncer) Rooms() map[ref.RoomID]*Room {
	rooms := make(map[ref.RoomID]*Room, len(s.rooms))
	for id, room := range s.rooms {
		rooms[id] = room
	}
	return rooms
}

// OneTimeKeyCounts returns the one-time key counts from the last sync,
// for an external encryption collaborator.
func (s *Syncer) OneTimeKeyCounts() map[string]int { return s.oneTimeKeyCounts }

// user returns the shared cross-room handle for a user, creating it on
// first sight.
func (s *Syncer) user(id ref.UserID) *User {
	u := s.users[id]
	if u == nil {
		u = &User{id: id}
		s.users[id] = u
	}
	return u
}

// User returns the shared handle for a user, or nil if never seen.
func (s *Syncer) User(id ref.UserID) *User { return s.users[id] }

// OnTimeline registers a listener for timeline events in every room.
// filter restricts delivery to one event type; "" matches all.
func (s *Syncer) OnTimeline(filter ref.EventType, fn TimelineListener) ListenerID {
	return s.timelineListeners.add(filter, fn)
}

// OnState registers a listener for state events in every room.
func (s *Syncer) OnState(filter ref.EventType, fn StateListener) ListenerID {
	return s.stateListeners.add(filter, fn)
}

// OnEphemeral registers a listener for ephemeral events in every room.
func (s *Syncer) OnEphemeral(filter ref.EventType, fn EphemeralListener) ListenerID {
	return s.ephemeralListeners.add(filter, fn)
}

// OnPresence registers a listener for presence events.
func (s *Syncer) OnPresence(fn PresenceListener) ListenerID {
	return s.presenceListeners.add("", fn)
}

// OnInvite registers a listener for room invites.
func (s *Syncer) OnInvite(fn InviteListener) ListenerID {
	return s.inviteListeners.add("", fn)
}

// OnLeave registers a listener for rooms the user leaves.
func (s *Syncer) OnLeave(fn LeaveListener) ListenerID {
	return s.leaveListeners.add("", fn)
}

// RemoveListener unregisters a listener previously added to this
// syncer. Returns false when the ID is unknown.
func (s *Syncer) RemoveListener(id ListenerID) bool {
	return s.timelineListeners.remove(id) ||
		s.stateListeners.remove(id) ||
		s.ephemeralListeners.remove(id) ||
		s.presenceListeners.remove(id) ||
		s.inviteListeners.remove(id) ||
		s.leaveListeners.remove(id)
}

// Stop requests that ListenForever return after the in-flight sync
// completes. It is the only Syncer method safe to call from another
// goroutine.
func (s *Syncer) Stop() { s.stopped.Store(true) }

// SyncOnce performs a single /sync round-trip and processes the
// response. timeout is the server-side long-poll timeout; zero asks
// the server to return immediately.
func (s *Syncer) SyncOnce(ctx context.Context, timeout time.Duration) error {
	response, err := s.session.Sync(ctx, SyncOptions{
		Since:       s.cursor,
		Timeout:     int(timeout / time.Millisecond),
		SetTimeout:  true,
		Filter:      s.config.Filter,
		SetPresence: s.config.SetPresence,
	})
	if err != nil {
		return err
	}
	s.process(response)
	return nil
}

// process folds one sync response into the projections and dispatches
// listeners. The cursor advances unconditionally, even when a listener
// panics out of the fold: a crashed handler must not cause redelivery.
func (s *Syncer) process(response *SyncResponse) {
	s.cursor = response.NextBatch
	if response.DeviceOneTimeKeysCount != nil {
		s.oneTimeKeyCounts = response.DeviceOneTimeKeysCount
	}

	for _, event := range response.Presence.Events {
		if !event.Sender.IsZero() {
			s.user(event.Sender).updatePresence(event)
		}
		s.presenceListeners.each(event.Type, func(fn PresenceListener) { fn(event) })
	}

	for _, roomID := range sortedRoomIDs(response.Rooms.Invite) {
		delta := response.Rooms.Invite[roomID]
		room := s.roomFor(roomID)
		for _, event := range delta.InviteState.Events {
			room.applyState(event)
		}
		s.inviteListeners.each("", func(fn InviteListener) { fn(roomID, delta.InviteState.Events) })
	}

	for _, roomID := range sortedRoomIDs(response.Rooms.Leave) {
		delta := response.Rooms.Leave[roomID]
		if room := s.rooms[roomID]; room != nil {
			for _, event := range delta.State.Events {
				room.applyState(event)
			}
		}
		// Listeners fire while the projection is still in the table,
		// so they can inspect the room they are losing.
		s.leaveListeners.each("", func(fn LeaveListener) { fn(roomID, delta) })
		delete(s.rooms, roomID)
	}

	for _, roomID := range sortedRoomIDs(response.Rooms.Join) {
		s.processJoined(roomID, response.Rooms.Join[roomID])
	}
}

// processJoined folds one joined room's delta: state section first,
// then timeline, then ephemeral.
func (s *Syncer) processJoined(roomID ref.RoomID, delta JoinedRoomDelta) {
	room := s.roomFor(roomID)

	for _, event := range delta.State.Events {
		room.applyState(event)
		s.dispatchState(room, event)
	}

	// A limited timeline means events were skipped between syncs; the
	// new token is the only way to reach them. Otherwise keep the
	// token pointing before the oldest buffered event so Backfill
	// stays contiguous.
	if delta.Timeline.PrevBatch != "" && (room.prevBatch == "" || delta.Timeline.Limited) {
		room.prevBatch = delta.Timeline.PrevBatch
	}

	for _, event := range delta.Timeline.Events {
		if event.IsState() {
			room.applyState(event)
		}
		room.addTimeline(event)
		s.dispatchTimeline(room, event)
	}

	for _, event := range delta.Ephemeral.Events {
		room.applyEphemeral(event)
		s.dispatchEphemeral(room, event)
	}
}

func (s *Syncer) roomFor(id ref.RoomID) *Room {
	room := s.rooms[id]
	if room == nil {
		room = newRoom(s, id)
		s.rooms[id] = room
	}
	return room
}

// Global listeners fire before per-room listeners, each in
// registration order.

func (s *Syncer) dispatchTimeline(room *Room, event Event) {
	s.timelineListeners.each(event.Type, func(fn TimelineListener) { fn(room, event) })
	room.timelineListeners.each(event.Type, func(fn TimelineListener) { fn(room, event) })
}

func (s *Syncer) dispatchState(room *Room, event Event) {
	s.stateListeners.each(event.Type, func(fn StateListener) { fn(room, event) })
	room.stateListeners.each(event.Type, func(fn StateListener) { fn(room, event) })
}

func (s *Syncer) dispatchEphemeral(room *Room, event Event) {
	s.ephemeralListeners.each(event.Type, func(fn EphemeralListener) { fn(room, event) })
	room.ephemeralListeners.each(event.Type, func(fn EphemeralListener) { fn(room, event) })
}

// ListenOptions configures the long-poll loop.
type ListenOptions struct {
	// Timeout is the per-request long-poll timeout. Zero means 30s.
	Timeout time.Duration

	// OnError, when set, receives non-retryable sync errors and the
	// loop continues (with backoff). When nil such errors end the
	// loop.
	OnError func(error)
}

// ListenForever runs the sync loop until the context is canceled or
// Stop is called. Server errors back off exponentially and retry;
// every other error goes to OnError or ends the loop.
func (s *Syncer) ListenForever(ctx context.Context, options ListenOptions) error {
	timeout := options.Timeout
	if timeout <= 0 {
		timeout = defaultSyncTimeout
	}

	backoff := s.config.InitialBackoff
	for {
		if s.stopped.Load() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		err := s.SyncOnce(ctx, timeout)
		if err == nil {
			backoff = s.config.InitialBackoff
			continue
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		var serverErr *ServerError
		if !errors.As(err, &serverErr) {
			if options.OnError == nil {
				return fmt.Errorf("matrix: sync failed: %w", err)
			}
			options.OnError(err)
		}

		s.logger.Warn("sync failed, backing off",
			"error", err,
			"backoff", backoff,
			"since", s.cursor,
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.clk.After(backoff):
		}
		backoff = min(backoff*2, s.config.MaxBackoff)
	}
}

// Listen runs ListenForever in a new goroutine and returns a channel
// that receives its result once.
func (s *Syncer) Listen(ctx context.Context, options ListenOptions) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- s.ListenForever(ctx, options)
	}()
	return done
}

func sortedRoomIDs[T any](m map[ref.RoomID]T) []ref.RoomID {
	ids := make([]ref.RoomID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b ref.RoomID) int {
		return strings.Compare(a.String(), b.String())
	})
	return ids
}
