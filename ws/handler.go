// Package ws exposes the connection-oriented transport: it upgrades
// authenticated HTTP requests to websockets, registers the session, and
// bridges typed intents and events between the connection and the chat
// coordinator.
package ws

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/actogram/server/auth"
	"github.com/actogram/server/chat"
	"github.com/actogram/server/hub"
)

// Service is what the transport needs from the chat coordinator.
type Service interface {
	AutoJoin(ctx context.Context, connID, userID string) error
	Join(ctx context.Context, connID, userID, chatID string) error
	ResolvePrivate(ctx context.Context, requesterID, otherID string) (chat.ChatSummary, error)
	Send(ctx context.Context, senderID string, req chat.SendRequest) (chat.Message, error)
	ToggleReaction(ctx context.Context, userID, messageID, emoji string) ([]chat.Reaction, error)
	StartTyping(ctx context.Context, chatID, userID string) error
	StopTyping(ctx context.Context, chatID, userID string) error
	ClearChat(ctx context.Context, userID, chatID string) error
	ChatList(ctx context.Context, userID string) ([]chat.ChatSummary, error)
	History(ctx context.Context, userID, chatID string) ([]chat.Message, error)
	UpdateProfile(ctx context.Context, userID, displayName, bio string) (chat.User, error)
	Disconnected(userID string)
}

// UserLoader resolves a verified identity to a full user record.
type UserLoader interface {
	FindUserByID(ctx context.Context, id string) (chat.User, error)
}

// Handler upgrades requests on the websocket endpoint.
type Handler struct {
	Logger   *slog.Logger
	Hub      *hub.Hub
	Service  Service
	Verifier auth.Verifier
	Users    UserLoader

	// CheckOrigin overrides the upgrader's origin policy. Nil allows all,
	// which suits same-binary deployments behind a proxy.
	CheckOrigin func(r *http.Request) bool

	once     sync.Once
	upgrader websocket.Upgrader
}

func (h *Handler) init() {
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.CheckOrigin,
	}
	if h.upgrader.CheckOrigin == nil {
		h.upgrader.CheckOrigin = func(*http.Request) bool { return true }
	}
}

// bearerToken pulls the credential from the query string or the
// Authorization header.
func bearerToken(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return token
	}
	return ""
}

func newConnID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// ServeHTTP authenticates the handshake, upgrades the connection, registers
// the session, auto-joins the user's rooms, and runs the pumps. It returns
// when the connection drops.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.once.Do(h.init)
	ctx := r.Context()

	identity, err := h.Verifier.Verify(ctx, bearerToken(r))
	if err != nil {
		h.Logger.Info("Handshake rejected", "error", err.Error())
		http.Error(w, "invalid or missing token", http.StatusUnauthorized)
		return
	}

	user, err := h.Users.FindUserByID(ctx, identity.UserID)
	if err != nil {
		h.Logger.Error("Handshake user lookup failed", "user_id", identity.UserID, "error", err.Error())
		http.Error(w, "unknown user", http.StatusUnauthorized)
		return
	}
	if user.Presence == chat.PresenceBanned {
		h.Logger.Info("Handshake rejected for banned user", "user_id", user.ID)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Logger.Error("Upgrade failed", "error", err.Error())
		return
	}

	c := newClient(newConnID(), user, conn, &handlerDeps{hub: h.Hub, svc: h.Service}, h.Logger)
	h.Hub.Register(ctx, c.id, user, c)
	if err := h.Service.AutoJoin(ctx, c.id, user.ID); err != nil {
		c.log.Error("Auto-join failed", "error", err.Error())
	}

	go c.writePump()
	c.readPump(ctx)
}
