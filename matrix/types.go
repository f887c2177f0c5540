// Copyright 2026 The Palaver Authors
// SPDX-License-Identifier: Apache-2.0

package matrix

import (
	"github.com/palaver-im/palaver/lib/ref"
)

// Event represents a Matrix event from the server. Content is kept as
// a generic document: each event is a tagged variant keyed by its Type
// string, and types this library does not interpret pass through
// untouched.
type Event struct {
	EventID        ref.EventID    `json:"event_id,omitempty"`
	Type           ref.EventType  `json:"type"`
	Sender         ref.UserID     `json:"sender,omitempty"`
	OriginServerTS int64          `json:"origin_server_ts,omitempty"`
	Content        map[string]any `json:"content"`
	RoomID         ref.RoomID     `json:"room_id,omitempty"`
	StateKey       *string        `json:"state_key,omitempty"`
	Redacts        ref.EventID    `json:"redacts,omitempty"`
	Unsigned       *EventUnsigned `json:"unsigned,omitempty"`
}

// EventUnsigned holds optional unsigned data attached to events.
type EventUnsigned struct {
	Age           int64  `json:"age,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
}

// stringContent returns a string field from the event content, or ""
// when absent or not a string.
func (e Event) stringContent(key string) string {
	value, _ := e.Content[key].(string)
	return value
}

// IsState reports whether the event carries a state key.
func (e Event) IsState() bool { return e.StateKey != nil }

// AuthResponse is returned by Login and Register.
type AuthResponse struct {
	UserID      ref.UserID `json:"user_id"`
	AccessToken string     `json:"access_token"`
	DeviceID    string     `json:"device_id"`
}

// LoginRequest is the request body for password login.
type LoginRequest struct {
	Type                     string `json:"type"`
	User                     string `json:"user"`
	Password                 string `json:"password"`
	DeviceID                 string `json:"device_id,omitempty"`
	InitialDeviceDisplayName string `json:"initial_device_display_name,omitempty"`
}

// RegisterRequest holds parameters for registering a new account.
// Auth carries the user-interactive authentication stage; leave nil
// for the first request of a UIAA flow or use RegisterDummy.
type RegisterRequest struct {
	Username                 string         `json:"username,omitempty"`
	Password                 string         `json:"password,omitempty"`
	DeviceID                 string         `json:"device_id,omitempty"`
	InitialDeviceDisplayName string         `json:"initial_device_display_name,omitempty"`
	InhibitLogin             bool           `json:"inhibit_login,omitempty"`
	Auth                     map[string]any `json:"auth,omitempty"`
}

// VersionsResponse is returned by Client.Versions.
type VersionsResponse struct {
	Versions         []string        `json:"versions"`
	UnstableFeatures map[string]bool `json:"unstable_features,omitempty"`
}

// WhoAmIResponse is returned by WhoAmI.
type WhoAmIResponse struct {
	UserID   ref.UserID `json:"user_id"`
	DeviceID string     `json:"device_id,omitempty"`
}

// CreateRoomRequest holds parameters for creating a room.
type CreateRoomRequest struct {
	Name            string         `json:"name,omitempty"`
	Topic           string         `json:"topic,omitempty"`
	Alias           string         `json:"room_alias_name,omitempty"` // local alias without # or :server
	Visibility      string         `json:"visibility,omitempty"`      // "public" or "private"
	Preset          string         `json:"preset,omitempty"`          // "private_chat", "public_chat", "trusted_private_chat"
	Invite          []ref.UserID   `json:"invite,omitempty"`
	IsDirect        bool           `json:"is_direct,omitempty"`
	CreationContent map[string]any `json:"creation_content,omitempty"`
	InitialState    []StateEvent   `json:"initial_state,omitempty"`
}

// CreateRoomResponse is returned by CreateRoom.
type CreateRoomResponse struct {
	RoomID ref.RoomID `json:"room_id"`
}

// StateEvent represents a state event for room creation or state
// setting.
type StateEvent struct {
	Type     ref.EventType `json:"type"`
	StateKey string        `json:"state_key"`
	Content  any           `json:"content"`
}

// MessageContent is the content body of an m.room.message event.
type MessageContent struct {
	MsgType       string `json:"msgtype"`
	Body          string `json:"body"`
	Format        string `json:"format,omitempty"`
	FormattedBody string `json:"formatted_body,omitempty"`
	URL           string `json:"url,omitempty"` // mxc:// URI for media messages
}

// NewTextMessage creates a plain m.text message.
func NewTextMessage(body string) MessageContent {
	return MessageContent{MsgType: "m.text", Body: body}
}

// NewNotice creates an m.notice message (automated output that
// clients render without notification noise).
func NewNotice(body string) MessageContent {
	return MessageContent{MsgType: "m.notice", Body: body}
}

// NewEmote creates an m.emote message.
func NewEmote(body string) MessageContent {
	return MessageContent{MsgType: "m.emote", Body: body}
}

// SendEventResponse is returned by SendMessage, SendEvent,
// SendStateEvent, and RedactEvent.
type SendEventResponse struct {
	EventID ref.EventID `json:"event_id"`
}

// InviteRequest holds the user to invite to a room.
type InviteRequest struct {
	UserID ref.UserID `json:"user_id"`
}

// MembershipRequest is the body for kick, ban, and unban.
type MembershipRequest struct {
	UserID ref.UserID `json:"user_id"`
	Reason string     `json:"reason,omitempty"`
}

// JoinedRoomsResponse is returned by JoinedRooms.
type JoinedRoomsResponse struct {
	JoinedRooms []ref.RoomID `json:"joined_rooms"`
}

// ResolveAliasResponse is returned by ResolveAlias.
type ResolveAliasResponse struct {
	RoomID  ref.RoomID `json:"room_id"`
	Servers []string   `json:"servers"`
}

// RoomMember represents a member of a room as reported by the
// /members endpoint.
type RoomMember struct {
	UserID      ref.UserID
	DisplayName string
	Membership  string
	AvatarURL   string
}

// RoomMembersResponse is the raw /members response.
type RoomMembersResponse struct {
	Chunk []Event `json:"chunk"`
}

// RoomMessagesOptions controls pagination for room message fetching.
type RoomMessagesOptions struct {
	From      string // pagination token; empty means "from now"
	To        string // optional stop token
	Direction string // "b" (backward/older) or "f" (forward/newer)
	Limit     int    // max events to return; 0 uses the server default
}

// RoomMessagesResponse is returned by RoomMessages.
type RoomMessagesResponse struct {
	Start string  `json:"start"`
	End   string  `json:"end"`
	Chunk []Event `json:"chunk"`
}

// TypingRequest is the body for the typing notification endpoint.
type TypingRequest struct {
	Typing  bool  `json:"typing"`
	Timeout int64 `json:"timeout,omitempty"` // milliseconds
}

// TagContent is the body for adding a room tag.
type TagContent struct {
	Order float64 `json:"order,omitempty"`
}

// TagsResponse is returned by RoomTags.
type TagsResponse struct {
	Tags map[string]TagContent `json:"tags"`
}

// ProfileResponse is returned by the profile endpoints.
type ProfileResponse struct {
	DisplayName string `json:"displayname,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// PresenceRequest is the body for setting presence.
type PresenceRequest struct {
	Presence  string `json:"presence"` // "online", "unavailable", "offline"
	StatusMsg string `json:"status_msg,omitempty"`
}

// PresenceResponse is returned by Presence.
type PresenceResponse struct {
	Presence        string `json:"presence"`
	LastActiveAgo   int64  `json:"last_active_ago,omitempty"`
	StatusMsg       string `json:"status_msg,omitempty"`
	CurrentlyActive bool   `json:"currently_active,omitempty"`
}

// Device describes one of the account's devices.
type Device struct {
	DeviceID    string `json:"device_id"`
	DisplayName string `json:"display_name,omitempty"`
	LastSeenIP  string `json:"last_seen_ip,omitempty"`
	LastSeenTS  int64  `json:"last_seen_ts,omitempty"`
}

// DevicesResponse is returned by Devices.
type DevicesResponse struct {
	Devices []Device `json:"devices"`
}

// UploadKeysRequest is the body for the one-shot key upload call. The
// encryption machinery that would populate it is out of scope; the
// endpoint exists so callers implementing encryption externally can
// publish keys.
type UploadKeysRequest struct {
	DeviceKeys  map[string]any `json:"device_keys,omitempty"`
	OneTimeKeys map[string]any `json:"one_time_keys,omitempty"`
}

// UploadKeysResponse is returned by UploadKeys.
type UploadKeysResponse struct {
	OneTimeKeyCounts map[string]int `json:"one_time_key_counts"`
}

// UploadResponse is returned by UploadMedia.
type UploadResponse struct {
	ContentURI ref.MXCURI `json:"content_uri"`
}

// FilterResponse is returned by UploadFilter.
type FilterResponse struct {
	FilterID string `json:"filter_id"`
}

// SyncOptions controls one /sync call.
type SyncOptions struct {
	Since       string // next_batch token from the previous sync; empty for initial sync
	Timeout     int    // long-poll timeout in milliseconds; 0 for immediate return
	SetTimeout  bool   // send the timeout parameter even when zero
	Filter      string // filter ID or inline JSON filter
	FullState   bool
	SetPresence string // "online", "unavailable", "offline"
}

// SyncResponse is the top-level /sync response.
type SyncResponse struct {
	NextBatch   string       `json:"next_batch"`
	Presence    EventList    `json:"presence"`
	AccountData EventList    `json:"account_data"`
	Rooms       RoomsSection `json:"rooms"`

	// DeviceOneTimeKeysCount is consumed by an external encryption
	// collaborator; the sync engine only records it.
	DeviceOneTimeKeysCount map[string]int `json:"device_one_time_keys_count,omitempty"`
}

// EventList is a bare list of events, the shape shared by the
// presence, account data, state, and ephemeral sections.
type EventList struct {
	Events []Event `json:"events"`
}

// RoomsSection groups per-room sync data by membership state. Map keys
// decode through ref.RoomID's TextUnmarshaler, validating at the
// boundary.
type RoomsSection struct {
	Join   map[ref.RoomID]JoinedRoomDelta  `json:"join,omitempty"`
	Invite map[ref.RoomID]InvitedRoomDelta `json:"invite,omitempty"`
	Leave  map[ref.RoomID]LeftRoomDelta    `json:"leave,omitempty"`
}

// JoinedRoomDelta is the sync delta for a joined room.
type JoinedRoomDelta struct {
	State       EventList       `json:"state"`
	Timeline    TimelineSection `json:"timeline"`
	Ephemeral   EventList       `json:"ephemeral"`
	AccountData EventList       `json:"account_data"`
}

// InvitedRoomDelta is the sync delta for a room the user is invited to.
type InvitedRoomDelta struct {
	InviteState EventList `json:"invite_state"`
}

// LeftRoomDelta is the sync delta for a room the user has left.
type LeftRoomDelta struct {
	State    EventList       `json:"state"`
	Timeline TimelineSection `json:"timeline"`
}

// TimelineSection holds timeline events plus the token for
// backfilling history before the first of them.
type TimelineSection struct {
	Events    []Event `json:"events"`
	PrevBatch string  `json:"prev_batch"`
	Limited   bool    `json:"limited"`
}
