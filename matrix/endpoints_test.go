// Copyright 2026 The Palaver Authors
// SPDX-License-Identifier: Apache-2.0

package matrix

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/palaver-im/palaver/lib/ref"
)

func TestLogin(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Path != "/_matrix/client/r0/login" {
			t.Errorf("unexpected path: %s", request.URL.Path)
		}
		var body LoginRequest
		json.NewDecoder(request.Body).Decode(&body)
		if body.Type != "m.login.password" {
			t.Errorf("login type = %q", body.Type)
		}
		if body.User != "alice" || body.Password != "hunter2" {
			t.Errorf("credentials = %q/%q", body.User, body.Password)
		}
		writeJSON(writer, http.StatusOK, map[string]any{
			"user_id":      "@alice:example.org",
			"access_token": "syt_fresh",
			"device_id":    "DEVICEABC",
		})
	}), RetryPolicy{})

	session, err := client.Login(context.Background(), "alice", "hunter2")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	if got := session.UserID().String(); got != "@alice:example.org" {
		t.Errorf("UserID = %q", got)
	}
	if session.DeviceID() != "DEVICEABC" {
		t.Errorf("DeviceID = %q", session.DeviceID())
	}
	if session.AccessToken() != "syt_fresh" {
		t.Errorf("AccessToken = %q", session.AccessToken())
	}
}

func TestRegisterDummyUIAA(t *testing.T) {
	callCount := 0
	client, _ := newTestClient(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Path != "/_matrix/client/r0/register" {
			t.Errorf("unexpected path: %s", request.URL.Path)
		}
		if request.URL.Query().Get("kind") != "user" {
			t.Errorf("kind = %q, want user", request.URL.Query().Get("kind"))
		}

		callCount++
		var body map[string]any
		json.NewDecoder(request.Body).Decode(&body)

		if callCount == 1 {
			writeJSON(writer, http.StatusUnauthorized, map[string]any{
				"session": "uiaa-session-1",
				"flows":   []map[string]any{{"stages": []string{"m.login.dummy"}}},
			})
			return
		}

		auth, ok := body["auth"].(map[string]any)
		if !ok {
			t.Fatal("second request missing auth")
		}
		if auth["type"] != "m.login.dummy" || auth["session"] != "uiaa-session-1" {
			t.Errorf("auth = %v", auth)
		}
		writeJSON(writer, http.StatusOK, map[string]any{
			"user_id":      "@newuser:example.org",
			"access_token": "syt_new",
			"device_id":    "NEWDEV",
		})
	}), RetryPolicy{})

	session, err := client.Register(context.Background(), RegisterRequest{
		Username: "newuser",
		Password: "secret",
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if callCount != 2 {
		t.Errorf("register calls = %d, want 2", callCount)
	}
	if got := session.UserID().String(); got != "@newuser:example.org" {
		t.Errorf("UserID = %q", got)
	}
}

func TestJoinRoomAlias(t *testing.T) {
	session := newTestSession(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		want := "/_matrix/client/r0/join/" + "%23general:example.org"
		if request.URL.EscapedPath() != want {
			t.Errorf("path = %s, want %s", request.URL.EscapedPath(), want)
		}
		writeJSON(writer, http.StatusOK, map[string]any{"room_id": "!resolved:example.org"})
	}))

	roomID, err := session.JoinRoomAlias(context.Background(), ref.MustParseRoomAlias("#general:example.org"))
	if err != nil {
		t.Fatalf("JoinRoomAlias failed: %v", err)
	}
	if roomID.String() != "!resolved:example.org" {
		t.Errorf("roomID = %q", roomID)
	}
}

func TestMembershipBodies(t *testing.T) {
	roomID := ref.MustParseRoomID("!room:example.org")
	target := ref.MustParseUserID("@bob:example.org")

	t.Run("invite", func(t *testing.T) {
		session := newTestSession(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			if !strings.HasSuffix(request.URL.Path, "/invite") {
				t.Errorf("path = %s", request.URL.Path)
			}
			var body map[string]any
			json.NewDecoder(request.Body).Decode(&body)
			if body["user_id"] != "@bob:example.org" {
				t.Errorf("body = %v", body)
			}
			writeJSON(writer, http.StatusOK, map[string]any{})
		}))
		if err := session.InviteUser(context.Background(), roomID, target); err != nil {
			t.Fatalf("InviteUser failed: %v", err)
		}
	})

	t.Run("kick with reason", func(t *testing.T) {
		session := newTestSession(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			if !strings.HasSuffix(request.URL.Path, "/kick") {
				t.Errorf("path = %s", request.URL.Path)
			}
			var body map[string]any
			json.NewDecoder(request.Body).Decode(&body)
			if body["user_id"] != "@bob:example.org" || body["reason"] != "spam" {
				t.Errorf("body = %v", body)
			}
			writeJSON(writer, http.StatusOK, map[string]any{})
		}))
		if err := session.KickUser(context.Background(), roomID, target, "spam"); err != nil {
			t.Fatalf("KickUser failed: %v", err)
		}
	})

	t.Run("unban omits empty reason", func(t *testing.T) {
		session := newTestSession(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			var body map[string]any
			json.NewDecoder(request.Body).Decode(&body)
			if _, present := body["reason"]; present {
				t.Error("empty reason serialized")
			}
			writeJSON(writer, http.StatusOK, map[string]any{})
		}))
		if err := session.UnbanUser(context.Background(), roomID, target); err != nil {
			t.Fatalf("UnbanUser failed: %v", err)
		}
	})
}

func TestSendMessage(t *testing.T) {
	var gotPath string
	session := newTestSession(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.Method != http.MethodPut {
			t.Errorf("method = %s, want PUT", request.Method)
		}
		gotPath = request.URL.Path
		var body MessageContent
		json.NewDecoder(request.Body).Decode(&body)
		if body.MsgType != "m.text" || body.Body != "hello world" {
			t.Errorf("content = %+v", body)
		}
		writeJSON(writer, http.StatusOK, map[string]any{"event_id": "$sent123"})
	}))

	eventID, err := session.SendText(context.Background(), ref.MustParseRoomID("!room:example.org"), "hello world")
	if err != nil {
		t.Fatalf("SendText failed: %v", err)
	}
	if eventID.String() != "$sent123" {
		t.Errorf("eventID = %q", eventID)
	}
	if !strings.Contains(gotPath, "/send/m.room.message/") {
		t.Errorf("path = %s, want a transaction-ID send path", gotPath)
	}
	// Transaction ID is the final segment and must be non-empty.
	segments := strings.Split(gotPath, "/")
	if txn := segments[len(segments)-1]; txn == "" {
		t.Error("empty transaction ID")
	}
}

func TestStateEndpoints(t *testing.T) {
	roomID := ref.MustParseRoomID("!room:example.org")

	t.Run("send state event", func(t *testing.T) {
		session := newTestSession(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			want := "/_matrix/client/r0/rooms/" + "%21room:example.org" + "/state/m.room.topic/"
			if request.URL.EscapedPath() != want {
				t.Errorf("path = %s, want %s", request.URL.EscapedPath(), want)
			}
			writeJSON(writer, http.StatusOK, map[string]any{"event_id": "$state1"})
		}))
		eventID, err := session.SetRoomTopic(context.Background(), roomID, "all things palaver")
		if err != nil {
			t.Fatalf("SetRoomTopic failed: %v", err)
		}
		if eventID.String() != "$state1" {
			t.Errorf("eventID = %q", eventID)
		}
	})

	t.Run("missing state is M_NOT_FOUND", func(t *testing.T) {
		session := newTestSession(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			writeJSON(writer, http.StatusNotFound, map[string]any{
				"errcode": "M_NOT_FOUND",
				"error":   "Event not found.",
			})
		}))
		_, err := session.StateEventContent(context.Background(), roomID, ref.TypeRoomName, "")
		if !IsAPIError(err, ErrCodeNotFound) {
			t.Fatalf("expected M_NOT_FOUND, got %v", err)
		}
	})
}

func TestRoomMembersEndpoint(t *testing.T) {
	session := newTestSession(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writeJSON(writer, http.StatusOK, map[string]any{
			"chunk": []map[string]any{
				{
					"type":      "m.room.member",
					"state_key": "@alice:example.org",
					"content":   map[string]any{"membership": "join", "displayname": "Alice"},
				},
				{
					"type":      "m.room.member",
					"state_key": "not-a-user-id",
					"content":   map[string]any{"membership": "join"},
				},
			},
		})
	}))

	members, err := session.RoomMembers(context.Background(), ref.MustParseRoomID("!room:example.org"))
	if err != nil {
		t.Fatalf("RoomMembers failed: %v", err)
	}
	if len(members) != 1 {
		t.Fatalf("members = %d, want 1 (malformed state key skipped)", len(members))
	}
	if members[0].DisplayName != "Alice" {
		t.Errorf("DisplayName = %q", members[0].DisplayName)
	}
}

func TestMediaEndpoints(t *testing.T) {
	t.Run("upload", func(t *testing.T) {
		session := newTestSession(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			if request.URL.Path != "/_matrix/media/r0/upload" {
				t.Errorf("path = %s", request.URL.Path)
			}
			if got := request.Header.Get("Content-Type"); got != "image/png" {
				t.Errorf("Content-Type = %q", got)
			}
			if request.URL.Query().Get("filename") != "avatar.png" {
				t.Errorf("filename = %q", request.URL.Query().Get("filename"))
			}
			writeJSON(writer, http.StatusOK, map[string]any{
				"content_uri": "mxc://example.org/abc123",
			})
		}))

		uri, err := session.UploadMedia(context.Background(), bytes.NewReader([]byte{0x89, 'P', 'N', 'G'}), "image/png", "avatar.png")
		if err != nil {
			t.Fatalf("UploadMedia failed: %v", err)
		}
		if uri.String() != "mxc://example.org/abc123" {
			t.Errorf("uri = %q", uri)
		}
	})

	t.Run("download returns raw bytes", func(t *testing.T) {
		payload := []byte{0x89, 'P', 'N', 'G', 0x00, 0x01}
		session := newTestSession(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			if request.URL.Path != "/_matrix/media/r0/download/example.org/abc123" {
				t.Errorf("path = %s", request.URL.Path)
			}
			writer.Header().Set("Content-Type", "image/png")
			writer.Write(payload)
		}))

		data, err := session.DownloadMedia(context.Background(), ref.MustParseMXCURI("mxc://example.org/abc123"))
		if err != nil {
			t.Fatalf("DownloadMedia failed: %v", err)
		}
		if !bytes.Equal(data, payload) {
			t.Errorf("data = %v, want raw payload", data)
		}
	})

	t.Run("thumbnail validates method before I/O", func(t *testing.T) {
		requests := 0
		session := newTestSession(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			requests++
		}))

		_, err := session.ThumbnailMedia(context.Background(), ref.MustParseMXCURI("mxc://example.org/abc123"), 64, 64, "cut")
		var validationErr *ValidationError
		if !errors.As(err, &validationErr) {
			t.Fatalf("expected ValidationError for bad method, got %v", err)
		}
		if requests != 0 {
			t.Error("request reached the server despite validation failure")
		}
	})
}

func TestDeleteDeviceInteractiveAuth(t *testing.T) {
	session := newTestSession(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.Method != http.MethodDelete {
			t.Errorf("method = %s, want DELETE", request.Method)
		}
		if request.URL.Path != "/_matrix/client/r0/devices/OLDDEVICE" {
			t.Errorf("path = %s", request.URL.Path)
		}
		writeJSON(writer, http.StatusUnauthorized, map[string]any{
			"session": "uiaa-2",
			"flows":   []map[string]any{{"stages": []string{"m.login.password"}}},
		})
	}))

	err := session.DeleteDevice(context.Background(), "OLDDEVICE", nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("StatusCode = %d, want 401", apiErr.StatusCode)
	}
	// The UIAA session must be recoverable from the body for a retry.
	var uiaa struct {
		Session string `json:"session"`
	}
	if json.Unmarshal(apiErr.Body, &uiaa) != nil || uiaa.Session != "uiaa-2" {
		t.Errorf("UIAA session not recoverable from body: %s", apiErr.Body)
	}
}

func TestProfileEndpoints(t *testing.T) {
	bob := ref.MustParseUserID("@bob:example.org")

	t.Run("display name getter", func(t *testing.T) {
		session := newTestSession(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			if request.URL.Path != "/_matrix/client/r0/profile/@bob:example.org/displayname" {
				t.Errorf("unexpected path: %s", request.URL.Path)
			}
			writeJSON(writer, http.StatusOK, map[string]any{"displayname": "Bob"})
		}))
		name, err := session.DisplayName(context.Background(), bob)
		if err != nil {
			t.Fatalf("DisplayName failed: %v", err)
		}
		if name != "Bob" {
			t.Errorf("display name = %q", name)
		}
	})

	t.Run("avatar getter without avatar", func(t *testing.T) {
		session := newTestSession(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			writeJSON(writer, http.StatusOK, map[string]any{})
		}))
		uri, err := session.AvatarURL(context.Background(), bob)
		if err != nil {
			t.Fatalf("AvatarURL failed: %v", err)
		}
		if !uri.IsZero() {
			t.Errorf("avatar = %s, want zero", uri)
		}
	})

	t.Run("set display name", func(t *testing.T) {
		var gotBody map[string]string
		session := newTestSession(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			if request.Method != http.MethodPut {
				t.Errorf("method = %s", request.Method)
			}
			json.NewDecoder(request.Body).Decode(&gotBody)
			writeJSON(writer, http.StatusOK, map[string]any{})
		}))
		if err := session.SetDisplayName(context.Background(), "Alice A."); err != nil {
			t.Fatalf("SetDisplayName failed: %v", err)
		}
		if gotBody["displayname"] != "Alice A." {
			t.Errorf("body = %v", gotBody)
		}
	})
}

func TestSyncQueryParameters(t *testing.T) {
	var gotQuery map[string][]string
	session := newTestSession(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		gotQuery = request.URL.Query()
		writeJSON(writer, http.StatusOK, map[string]any{"next_batch": "s1"})
	}))

	_, err := session.Sync(context.Background(), SyncOptions{
		Since:       "s0",
		Timeout:     30000,
		Filter:      "filter-id-7",
		SetPresence: "offline",
	})
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	for key, want := range map[string]string{
		"since":        "s0",
		"timeout":      "30000",
		"filter":       "filter-id-7",
		"set_presence": "offline",
	} {
		if got := gotQuery[key]; len(got) != 1 || got[0] != want {
			t.Errorf("query[%s] = %v, want %q", key, got, want)
		}
	}
}
