package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/neilotoole/slogt"

	"github.com/actogram/server/auth"
	"github.com/actogram/server/chat"
	"github.com/actogram/server/hub"
)

func newTestHandler(t *testing.T, svc Service, users UserLoader) (*Handler, *auth.JWTVerifier) {
	t.Helper()
	verifier, err := auth.NewJWTVerifier("test-secret")
	if err != nil {
		t.Fatal(err)
	}
	log := slogt.New(t)
	return &Handler{
		Logger:   log,
		Hub:      hub.New(log, nopPresence{}),
		Service:  svc,
		Verifier: verifier,
		Users:    users,
	}, verifier
}

func dial(t *testing.T, srv *httptest.Server, token string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?token=" + token
	return websocket.DefaultDialer.Dial(url, nil)
}

func signFor(t *testing.T, v *auth.JWTVerifier, userID string) string {
	t.Helper()
	token, err := v.Sign(auth.Identity{UserID: userID, Handle: "@" + userID}, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	return token
}

func sendIntent(t *testing.T, conn *websocket.Conn, intentType string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatal(err)
	}
	frame, err := json.Marshal(intent{Type: intentType, Data: raw})
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatal(err)
	}
}

// readEvent returns the next event, skipping the presence updates the hub
// emits on registration.
func readEvent(t *testing.T, conn *websocket.Conn) chat.Event {
	t.Helper()
	for {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("Could not read event: %v", err)
		}
		var ev chat.Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			t.Fatalf("Could not decode event: %v", err)
		}
		if ev.Type == chat.EventPresenceUpdate {
			continue
		}
		return ev
	}
}

func TestHandler_RejectsBadHandshakes(t *testing.T) {
	tests := []struct {
		name       string
		user       chat.User
		userErr    error
		token      func(t *testing.T, v *auth.JWTVerifier) string
		wantStatus int
	}{
		{
			name: "MissingToken",
			token: func(t *testing.T, v *auth.JWTVerifier) string {
				return ""
			},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "UnknownUser",
			token: func(t *testing.T, v *auth.JWTVerifier) string {
				return signFor(t, v, "ghost")
			},
			userErr:    chat.ErrNotFound,
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "BannedUser",
			user: chat.User{ID: "alice", Presence: chat.PresenceBanned},
			token: func(t *testing.T, v *auth.JWTVerifier) string {
				return signFor(t, v, "alice")
			},
			wantStatus: http.StatusForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			users := &testusers{user: tt.user, err: tt.userErr}
			h, verifier := newTestHandler(t, &stubservice{}, users)
			srv := httptest.NewServer(h)
			defer srv.Close()

			conn, resp, err := dial(t, srv, tt.token(t, verifier))
			if err == nil {
				conn.Close()
				t.Fatal("Expected the handshake to fail")
			}
			if resp == nil || resp.StatusCode != tt.wantStatus {
				t.Errorf("Got response %v, want status %d", resp, tt.wantStatus)
			}
		})
	}
}

func TestHandler_SendMessageFlow(t *testing.T) {
	alice := chat.User{ID: "alice", Handle: "@alice", Presence: chat.PresenceOnline}
	svc := &stubservice{
		send: func(senderID string, req chat.SendRequest) (chat.Message, error) {
			if senderID != "alice" {
				return chat.Message{}, chat.ErrForbidden
			}
			if len(req.Content) > chat.MaxContentLen {
				return chat.Message{}, chat.ErrContentTooLarge
			}
			return chat.Message{ID: "m1", ChatID: req.ChatID, Content: req.Content}, nil
		},
	}

	h, verifier := newTestHandler(t, svc, &testusers{user: alice})
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn, _, err := dial(t, srv, signFor(t, verifier, "alice"))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	// An oversized message is the one rejection echoed back.
	sendIntent(t, conn, intentSendMessage, sendMessageData{
		ChatID:  "c1",
		Content: strings.Repeat("x", chat.MaxContentLen+1),
	})
	ev := readEvent(t, conn)
	if ev.Type != chat.EventError {
		t.Fatalf("Got event %q, want error", ev.Type)
	}
}

func TestHandler_SilentDropProducesNoEvent(t *testing.T) {
	alice := chat.User{ID: "alice", Handle: "@alice", Presence: chat.PresenceOnline}
	svc := &stubservice{
		send: func(senderID string, req chat.SendRequest) (chat.Message, error) {
			return chat.Message{}, chat.ErrForbidden
		},
	}

	h, verifier := newTestHandler(t, svc, &testusers{user: alice})
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn, _, err := dial(t, srv, signFor(t, verifier, "alice"))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	sendIntent(t, conn, intentSendMessage, sendMessageData{ChatID: "c1", Content: "hi"})

	for {
		_ = conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			// Timed out with nothing but presence noise: the drop was silent.
			return
		}
		var ev chat.Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			t.Fatalf("Could not decode event: %v", err)
		}
		if ev.Type != chat.EventPresenceUpdate {
			t.Fatalf("Unauthorized send produced event %q", ev.Type)
		}
	}
}

func TestHandler_GetMyChats(t *testing.T) {
	alice := chat.User{ID: "alice", Handle: "@alice", Presence: chat.PresenceOnline}
	svc := &stubservice{
		chatList: func(userID string) ([]chat.ChatSummary, error) {
			return []chat.ChatSummary{{Chat: chat.Chat{ID: "c1", Kind: chat.KindGroup}}}, nil
		},
	}

	h, verifier := newTestHandler(t, svc, &testusers{user: alice})
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn, _, err := dial(t, srv, signFor(t, verifier, "alice"))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	sendIntent(t, conn, intentGetMyChats, struct{}{})
	ev := readEvent(t, conn)
	if ev.Type != chat.EventMyChats {
		t.Fatalf("Got event %q, want my_chats", ev.Type)
	}
}

type nopPresence struct{}

func (nopPresence) UpdateUserPresence(context.Context, string, chat.Presence, time.Time) error {
	return nil
}

type testusers struct {
	user chat.User
	err  error
}

func (u *testusers) FindUserByID(context.Context, string) (chat.User, error) {
	return u.user, u.err
}

// stubservice answers the transport with canned behavior. Unset operations
// succeed and do nothing.
type stubservice struct {
	send     func(senderID string, req chat.SendRequest) (chat.Message, error)
	chatList func(userID string) ([]chat.ChatSummary, error)
}

func (s *stubservice) AutoJoin(context.Context, string, string) error { return nil }

func (s *stubservice) Join(context.Context, string, string, string) error { return nil }

func (s *stubservice) ResolvePrivate(context.Context, string, string) (chat.ChatSummary, error) {
	return chat.ChatSummary{}, nil
}

func (s *stubservice) Send(_ context.Context, senderID string, req chat.SendRequest) (chat.Message, error) {
	if s.send == nil {
		return chat.Message{}, nil
	}
	return s.send(senderID, req)
}

func (s *stubservice) ToggleReaction(context.Context, string, string, string) ([]chat.Reaction, error) {
	return nil, nil
}

func (s *stubservice) StartTyping(context.Context, string, string) error { return nil }

func (s *stubservice) StopTyping(context.Context, string, string) error { return nil }

func (s *stubservice) ClearChat(context.Context, string, string) error { return nil }

func (s *stubservice) ChatList(_ context.Context, userID string) ([]chat.ChatSummary, error) {
	if s.chatList == nil {
		return nil, nil
	}
	return s.chatList(userID)
}

func (s *stubservice) History(context.Context, string, string) ([]chat.Message, error) {
	return nil, nil
}

func (s *stubservice) UpdateProfile(context.Context, string, string, string) (chat.User, error) {
	return chat.User{}, nil
}

func (s *stubservice) Disconnected(string) {}
