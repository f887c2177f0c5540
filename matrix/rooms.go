// Copyright 2026 The Palaver Authors
// SPDX-License-Identifier: Apache-2.0

package matrix

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/palaver-im/palaver/lib/ref"
)

// CreateRoom creates a new Matrix room.
func (s *Session) CreateRoom(ctx context.Context, request CreateRoomRequest) (*CreateRoomResponse, error) {
	var response CreateRoomResponse
	err := s.callJSON(ctx, CallOptions{
		Method: http.MethodPost,
		Path:   "/createRoom",
		JSON:   request,
	}, &response)
	if err != nil {
		return nil, fmt.Errorf("matrix: create room failed: %w", err)
	}

	s.client.logger.Info("created room",
		"room_id", response.RoomID,
		"alias", request.Alias,
		"name", request.Name,
	)
	return &response, nil
}

// JoinRoom joins a room by ID.
func (s *Session) JoinRoom(ctx context.Context, roomID ref.RoomID) (ref.RoomID, error) {
	return s.join(ctx, roomID.String())
}

// JoinRoomAlias joins a room by alias, returning the resolved room ID.
func (s *Session) JoinRoomAlias(ctx context.Context, alias ref.RoomAlias) (ref.RoomID, error) {
	return s.join(ctx, alias.String())
}

func (s *Session) join(ctx context.Context, roomIDOrAlias string) (ref.RoomID, error) {
	var response struct {
		RoomID ref.RoomID `json:"room_id"`
	}
	err := s.callJSON(ctx, CallOptions{
		Method: http.MethodPost,
		Path:   "/join/" + url.PathEscape(roomIDOrAlias),
		JSON:   struct{}{},
	}, &response)
	if err != nil {
		return ref.RoomID{}, fmt.Errorf("matrix: join %q failed: %w", roomIDOrAlias, err)
	}
	return response.RoomID, nil
}

// LeaveRoom leaves a room.
func (s *Session) LeaveRoom(ctx context.Context, roomID ref.RoomID) error {
	if _, err := s.call(ctx, CallOptions{
		Method: http.MethodPost,
		Path:   "/rooms/" + url.PathEscape(roomID.String()) + "/leave",
		JSON:   struct{}{},
	}); err != nil {
		return fmt.Errorf("matrix: leave room %q failed: %w", roomID, err)
	}
	return nil
}

// ForgetRoom forgets a previously left room, removing it from the
// account's room list entirely.
func (s *Session) ForgetRoom(ctx context.Context, roomID ref.RoomID) error {
	if _, err := s.call(ctx, CallOptions{
		Method: http.MethodPost,
		Path:   "/rooms/" + url.PathEscape(roomID.String()) + "/forget",
		JSON:   struct{}{},
	}); err != nil {
		return fmt.Errorf("matrix: forget room %q failed: %w", roomID, err)
	}
	return nil
}

// InviteUser invites a user to a room.
func (s *Session) InviteUser(ctx context.Context, roomID ref.RoomID, userID ref.UserID) error {
	if _, err := s.call(ctx, CallOptions{
		Method: http.MethodPost,
		Path:   "/rooms/" + url.PathEscape(roomID.String()) + "/invite",
		JSON:   InviteRequest{UserID: userID},
	}); err != nil {
		return fmt.Errorf("matrix: invite %q to %q failed: %w", userID, roomID, err)
	}
	return nil
}

// KickUser removes a user from a room with an optional reason.
func (s *Session) KickUser(ctx context.Context, roomID ref.RoomID, userID ref.UserID, reason string) error {
	if err := s.membershipAction(ctx, roomID, "kick", userID, reason); err != nil {
		return fmt.Errorf("matrix: kick %q from %q failed: %w", userID, roomID, err)
	}
	return nil
}

// BanUser bans a user from a room with an optional reason.
func (s *Session) BanUser(ctx context.Context, roomID ref.RoomID, userID ref.UserID, reason string) error {
	if err := s.membershipAction(ctx, roomID, "ban", userID, reason); err != nil {
		return fmt.Errorf("matrix: ban %q from %q failed: %w", userID, roomID, err)
	}
	return nil
}

// UnbanUser lifts a ban.
func (s *Session) UnbanUser(ctx context.Context, roomID ref.RoomID, userID ref.UserID) error {
	if err := s.membershipAction(ctx, roomID, "unban", userID, ""); err != nil {
		return fmt.Errorf("matrix: unban %q in %q failed: %w", userID, roomID, err)
	}
	return nil
}

func (s *Session) membershipAction(ctx context.Context, roomID ref.RoomID, action string, userID ref.UserID, reason string) error {
	_, err := s.call(ctx, CallOptions{
		Method: http.MethodPost,
		Path:   "/rooms/" + url.PathEscape(roomID.String()) + "/" + action,
		JSON:   MembershipRequest{UserID: userID, Reason: reason},
	})
	return err
}

// JoinedRooms returns the room IDs the user has joined.
func (s *Session) JoinedRooms(ctx context.Context) ([]ref.RoomID, error) {
	var response JoinedRoomsResponse
	err := s.callJSON(ctx, CallOptions{
		Method: http.MethodGet,
		Path:   "/joined_rooms",
	}, &response)
	if err != nil {
		return nil, fmt.Errorf("matrix: joined rooms failed: %w", err)
	}
	return response.JoinedRooms, nil
}

// ResolveAlias resolves a room alias to a room ID.
func (s *Session) ResolveAlias(ctx context.Context, alias ref.RoomAlias) (ref.RoomID, error) {
	var response ResolveAliasResponse
	err := s.callJSON(ctx, CallOptions{
		Method: http.MethodGet,
		Path:   "/directory/room/" + url.PathEscape(alias.String()),
	}, &response)
	if err != nil {
		return ref.RoomID{}, fmt.Errorf("matrix: resolve alias %q failed: %w", alias, err)
	}
	return response.RoomID, nil
}

// RoomMembers returns the members of a room.
func (s *Session) RoomMembers(ctx context.Context, roomID ref.RoomID) ([]RoomMember, error) {
	var response RoomMembersResponse
	err := s.callJSON(ctx, CallOptions{
		Method: http.MethodGet,
		Path:   "/rooms/" + url.PathEscape(roomID.String()) + "/members",
	}, &response)
	if err != nil {
		return nil, fmt.Errorf("matrix: get members of %q failed: %w", roomID, err)
	}

	members := make([]RoomMember, 0, len(response.Chunk))
	for _, event := range response.Chunk {
		if event.StateKey == nil {
			continue
		}
		userID, err := ref.ParseUserID(*event.StateKey)
		if err != nil {
			continue
		}
		members = append(members, RoomMember{
			UserID:      userID,
			DisplayName: event.stringContent("displayname"),
			Membership:  event.stringContent("membership"),
			AvatarURL:   event.stringContent("avatar_url"),
		})
	}
	return members, nil
}

// RoomState fetches all current state events of a room.
func (s *Session) RoomState(ctx context.Context, roomID ref.RoomID) ([]Event, error) {
	var events []Event
	err := s.callJSON(ctx, CallOptions{
		Method: http.MethodGet,
		Path:   "/rooms/" + url.PathEscape(roomID.String()) + "/state",
	}, &events)
	if err != nil {
		return nil, fmt.Errorf("matrix: get state of %q failed: %w", roomID, err)
	}
	return events, nil
}

// StateEventContent fetches one state event's content. Returns the raw
// JSON for the caller to unmarshal; a missing event surfaces as an
// *APIError with code M_NOT_FOUND.
func (s *Session) StateEventContent(ctx context.Context, roomID ref.RoomID, eventType ref.EventType, stateKey string) (json.RawMessage, error) {
	path := "/rooms/" + url.PathEscape(roomID.String()) +
		"/state/" + url.PathEscape(eventType.String()) +
		"/" + url.PathEscape(stateKey)
	body, err := s.call(ctx, CallOptions{
		Method: http.MethodGet,
		Path:   path,
	})
	if err != nil {
		return nil, fmt.Errorf("matrix: get state %s[%q] in %q failed: %w", eventType, stateKey, roomID, err)
	}
	return json.RawMessage(body), nil
}

// SendStateEvent sends a state event to a room, returning the event ID.
func (s *Session) SendStateEvent(ctx context.Context, roomID ref.RoomID, eventType ref.EventType, stateKey string, content any) (ref.EventID, error) {
	path := "/rooms/" + url.PathEscape(roomID.String()) +
		"/state/" + url.PathEscape(eventType.String()) +
		"/" + url.PathEscape(stateKey)
	var response SendEventResponse
	err := s.callJSON(ctx, CallOptions{
		Method: http.MethodPut,
		Path:   path,
		JSON:   content,
	}, &response)
	if err != nil {
		return ref.EventID{}, fmt.Errorf("matrix: send state event to %q failed: %w", roomID, err)
	}
	return response.EventID, nil
}

// SendEvent sends an event of any type to a room using Matrix's
// idempotent PUT with a transaction ID. Returns the event ID.
func (s *Session) SendEvent(ctx context.Context, roomID ref.RoomID, eventType ref.EventType, content any) (ref.EventID, error) {
	path := "/rooms/" + url.PathEscape(roomID.String()) +
		"/send/" + url.PathEscape(eventType.String()) +
		"/" + url.PathEscape(s.nextTransactionID())
	var response SendEventResponse
	err := s.callJSON(ctx, CallOptions{
		Method: http.MethodPut,
		Path:   path,
		JSON:   content,
	}, &response)
	if err != nil {
		return ref.EventID{}, fmt.Errorf("matrix: send event to %q failed: %w", roomID, err)
	}
	return response.EventID, nil
}

// SendMessage sends an m.room.message event, returning the event ID.
func (s *Session) SendMessage(ctx context.Context, roomID ref.RoomID, content MessageContent) (ref.EventID, error) {
	return s.SendEvent(ctx, roomID, ref.TypeRoomMessage, content)
}

// SendText sends a plain text message.
func (s *Session) SendText(ctx context.Context, roomID ref.RoomID, body string) (ref.EventID, error) {
	return s.SendMessage(ctx, roomID, NewTextMessage(body))
}

// SendNotice sends an m.notice message.
func (s *Session) SendNotice(ctx context.Context, roomID ref.RoomID, body string) (ref.EventID, error) {
	return s.SendMessage(ctx, roomID, NewNotice(body))
}

// SendEmote sends an m.emote message.
func (s *Session) SendEmote(ctx context.Context, roomID ref.RoomID, body string) (ref.EventID, error) {
	return s.SendMessage(ctx, roomID, NewEmote(body))
}

// RedactEvent redacts an event, optionally with a reason. Returns the
// redaction's event ID.
func (s *Session) RedactEvent(ctx context.Context, roomID ref.RoomID, eventID ref.EventID, reason string) (ref.EventID, error) {
	path := "/rooms/" + url.PathEscape(roomID.String()) +
		"/redact/" + url.PathEscape(eventID.String()) +
		"/" + url.PathEscape(s.nextTransactionID())
	requestBody := map[string]any{}
	if reason != "" {
		requestBody["reason"] = reason
	}
	var response SendEventResponse
	err := s.callJSON(ctx, CallOptions{
		Method: http.MethodPut,
		Path:   path,
		JSON:   requestBody,
	}, &response)
	if err != nil {
		return ref.EventID{}, fmt.Errorf("matrix: redact %q in %q failed: %w", eventID, roomID, err)
	}
	return response.EventID, nil
}

// RoomMessages fetches paginated messages from a room.
func (s *Session) RoomMessages(ctx context.Context, roomID ref.RoomID, options RoomMessagesOptions) (*RoomMessagesResponse, error) {
	query := url.Values{}
	if options.From != "" {
		query.Set("from", options.From)
	}
	if options.To != "" {
		query.Set("to", options.To)
	}
	direction := options.Direction
	if direction == "" {
		direction = "b" // backward (newest first) by default
	}
	query.Set("dir", direction)
	if options.Limit > 0 {
		query.Set("limit", strconv.Itoa(options.Limit))
	}

	var response RoomMessagesResponse
	err := s.callJSON(ctx, CallOptions{
		Method: http.MethodGet,
		Path:   "/rooms/" + url.PathEscape(roomID.String()) + "/messages",
		Query:  query,
	}, &response)
	if err != nil {
		return nil, fmt.Errorf("matrix: messages of %q failed: %w", roomID, err)
	}
	return &response, nil
}

// SetRoomName sets the room's display name state event.
func (s *Session) SetRoomName(ctx context.Context, roomID ref.RoomID, name string) (ref.EventID, error) {
	return s.SendStateEvent(ctx, roomID, ref.TypeRoomName, "", map[string]any{"name": name})
}

// SetRoomTopic sets the room's topic state event.
func (s *Session) SetRoomTopic(ctx context.Context, roomID ref.RoomID, topic string) (ref.EventID, error) {
	return s.SendStateEvent(ctx, roomID, ref.TypeRoomTopic, "", map[string]any{"topic": topic})
}

// SetTyping publishes a typing notification for this session's user.
// timeoutMS is how long the server should consider the user typing.
func (s *Session) SetTyping(ctx context.Context, roomID ref.RoomID, typing bool, timeoutMS int64) error {
	path := "/rooms/" + url.PathEscape(roomID.String()) +
		"/typing/" + url.PathEscape(s.userID.String())
	request := TypingRequest{Typing: typing}
	if typing {
		request.Timeout = timeoutMS
	}
	if _, err := s.call(ctx, CallOptions{
		Method: http.MethodPut,
		Path:   path,
		JSON:   request,
	}); err != nil {
		return fmt.Errorf("matrix: set typing in %q failed: %w", roomID, err)
	}
	return nil
}

// SendReadReceipt marks an event as read.
func (s *Session) SendReadReceipt(ctx context.Context, roomID ref.RoomID, eventID ref.EventID) error {
	path := "/rooms/" + url.PathEscape(roomID.String()) +
		"/receipt/m.read/" + url.PathEscape(eventID.String())
	if _, err := s.call(ctx, CallOptions{
		Method: http.MethodPost,
		Path:   path,
		JSON:   struct{}{},
	}); err != nil {
		return fmt.Errorf("matrix: read receipt in %q failed: %w", roomID, err)
	}
	return nil
}

// RoomTags returns the account's tags on a room.
func (s *Session) RoomTags(ctx context.Context, roomID ref.RoomID) (map[string]TagContent, error) {
	var response TagsResponse
	err := s.callJSON(ctx, CallOptions{
		Method: http.MethodGet,
		Path:   s.tagsPath(roomID, ""),
	}, &response)
	if err != nil {
		return nil, fmt.Errorf("matrix: get tags of %q failed: %w", roomID, err)
	}
	return response.Tags, nil
}

// AddRoomTag tags a room. order, when in (0, 1], positions the room
// within the tag; pass 0 to omit.
func (s *Session) AddRoomTag(ctx context.Context, roomID ref.RoomID, tag string, order float64) error {
	if _, err := s.call(ctx, CallOptions{
		Method: http.MethodPut,
		Path:   s.tagsPath(roomID, tag),
		JSON:   TagContent{Order: order},
	}); err != nil {
		return fmt.Errorf("matrix: add tag %q to %q failed: %w", tag, roomID, err)
	}
	return nil
}

// RemoveRoomTag removes a tag from a room.
func (s *Session) RemoveRoomTag(ctx context.Context, roomID ref.RoomID, tag string) error {
	if _, err := s.call(ctx, CallOptions{
		Method: http.MethodDelete,
		Path:   s.tagsPath(roomID, tag),
	}); err != nil {
		return fmt.Errorf("matrix: remove tag %q from %q failed: %w", tag, roomID, err)
	}
	return nil
}

func (s *Session) tagsPath(roomID ref.RoomID, tag string) string {
	path := "/user/" + url.PathEscape(s.userID.String()) +
		"/rooms/" + url.PathEscape(roomID.String()) + "/tags"
	if tag != "" {
		path += "/" + url.PathEscape(tag)
	}
	return path
}
