// Package hub tracks live connections: which user owns each connection,
// which rooms each connection is subscribed to, and how events fan out to
// them. It is the single place room membership lives; everything above it
// works with snapshots.
package hub

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/actogram/server/chat"
)

// A Conn is the hub's handle on one live connection. Enqueue must not block:
// it reports false when the connection's buffer is full or closed. Kick
// force-closes the underlying connection, which eventually unregisters it.
type Conn interface {
	Enqueue(ev chat.Event) bool
	Kick()
}

// A PresenceStore persists presence transitions. Writes are best effort;
// presence is soft state. The store treats banned as terminal, so the
// offline write for a kicked banned user's last session does not lift
// the ban.
type PresenceStore interface {
	UpdateUserPresence(ctx context.Context, id string, presence chat.Presence, lastSeen time.Time) error
}

type session struct {
	id     string
	userID string
	handle string
	conn   Conn
	rooms  map[string]struct{}
}

// Hub is the session registry and room membership manager. All maps are
// guarded by one RWMutex; fan-out snapshots the target set and releases the
// lock before any send.
type Hub struct {
	log      *slog.Logger
	presence PresenceStore

	mu    sync.RWMutex
	conns map[string]*session            // connID -> session
	users map[string]map[string]*session // userID -> connID -> session
	rooms map[string]map[string]*session // chatID -> connID -> session
}

// New returns an empty hub.
func New(log *slog.Logger, presence PresenceStore) *Hub {
	return &Hub{
		log:      log,
		presence: presence,
		conns:    make(map[string]*session),
		users:    make(map[string]map[string]*session),
		rooms:    make(map[string]map[string]*session),
	}
}

// Register adds a connection for a verified user. The first session of a
// user transitions their presence to online and announces it process-wide.
func (h *Hub) Register(ctx context.Context, connID string, user chat.User, conn Conn) {
	s := &session{
		id:     connID,
		userID: user.ID,
		handle: user.Handle,
		conn:   conn,
		rooms:  make(map[string]struct{}),
	}

	h.mu.Lock()
	h.conns[connID] = s
	if h.users[user.ID] == nil {
		h.users[user.ID] = make(map[string]*session)
	}
	h.users[user.ID][connID] = s
	first := len(h.users[user.ID]) == 1
	total := len(h.conns)
	h.mu.Unlock()

	h.log.Info("Connection registered", "conn_id", connID, "user_id", user.ID, "total", total)
	if first {
		h.setPresence(ctx, user.ID, user.Handle, chat.PresenceOnline)
	}
}

// Unregister removes a connection and returns the user's remaining session
// count. The last session of a user transitions their presence to offline.
// Calling it again for the same connection is a no-op.
func (h *Hub) Unregister(ctx context.Context, connID string) int {
	h.mu.Lock()
	s, ok := h.conns[connID]
	if !ok {
		h.mu.Unlock()
		return 0
	}
	delete(h.conns, connID)
	for chatID := range s.rooms {
		if room := h.rooms[chatID]; room != nil {
			delete(room, connID)
			if len(room) == 0 {
				delete(h.rooms, chatID)
			}
		}
	}
	delete(h.users[s.userID], connID)
	remaining := len(h.users[s.userID])
	if remaining == 0 {
		delete(h.users, s.userID)
	}
	h.mu.Unlock()

	h.log.Info("Connection unregistered", "conn_id", connID, "user_id", s.userID, "remaining", remaining)
	if remaining == 0 {
		h.setPresence(ctx, s.userID, s.handle, chat.PresenceOffline)
	}
	return remaining
}

func (h *Hub) setPresence(ctx context.Context, userID, handle string, p chat.Presence) {
	now := time.Now()
	if err := h.presence.UpdateUserPresence(ctx, userID, p, now); err != nil {
		h.log.Error("Presence write failed", "user_id", userID, "presence", p, "error", err.Error())
	}
	h.ToAll(chat.Event{Type: chat.EventPresenceUpdate, Data: chat.PresenceUpdate{
		UserID:   userID,
		Handle:   handle,
		Presence: p,
		LastSeen: now,
	}})
}

// SubscribeConn subscribes a single connection to a chat room. Unknown
// connections are ignored: the subscribe may race a disconnect.
func (h *Hub) SubscribeConn(chatID, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.conns[connID]
	if !ok {
		return
	}
	if h.rooms[chatID] == nil {
		h.rooms[chatID] = make(map[string]*session)
	}
	h.rooms[chatID][connID] = s
	s.rooms[chatID] = struct{}{}
}

// SubscribeUser subscribes every live session of the user to a chat room.
func (h *Hub) SubscribeUser(chatID, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for connID, s := range h.users[userID] {
		if h.rooms[chatID] == nil {
			h.rooms[chatID] = make(map[string]*session)
		}
		h.rooms[chatID][connID] = s
		s.rooms[chatID] = struct{}{}
	}
}

// snapshotRoom copies the room's sessions so sends happen outside the lock.
func (h *Hub) snapshotRoom(chatID string) []*session {
	h.mu.RLock()
	defer h.mu.RUnlock()

	room := h.rooms[chatID]
	out := make([]*session, 0, len(room))
	for _, s := range room {
		out = append(out, s)
	}
	return out
}

// ToChat delivers the event to every connection subscribed to the chat.
func (h *Hub) ToChat(chatID string, ev chat.Event) {
	for _, s := range h.snapshotRoom(chatID) {
		h.deliver(s, ev)
	}
}

// ToChatExcept delivers to the chat's connections, skipping every session of
// the excluded user.
func (h *Hub) ToChatExcept(chatID, exceptUserID string, ev chat.Event) {
	for _, s := range h.snapshotRoom(chatID) {
		if s.userID == exceptUserID {
			continue
		}
		h.deliver(s, ev)
	}
}

// ToUser delivers to all of the user's live sessions.
func (h *Hub) ToUser(userID string, ev chat.Event) {
	h.mu.RLock()
	sessions := make([]*session, 0, len(h.users[userID]))
	for _, s := range h.users[userID] {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()

	for _, s := range sessions {
		h.deliver(s, ev)
	}
}

// ToAll delivers to every live connection.
func (h *Hub) ToAll(ev chat.Event) {
	h.mu.RLock()
	sessions := make([]*session, 0, len(h.conns))
	for _, s := range h.conns {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()

	for _, s := range sessions {
		h.deliver(s, ev)
	}
}

// deliver enqueues the event and kicks connections that cannot keep up. The
// kicked connection's pump performs the actual unregister.
func (h *Hub) deliver(s *session, ev chat.Event) {
	if s.conn.Enqueue(ev) {
		return
	}
	h.log.Warn("Dropping slow connection", "conn_id", s.id, "user_id", s.userID)
	s.conn.Kick()
}

// DisconnectUser force-closes every session of the user and returns how many
// were closed.
func (h *Hub) DisconnectUser(userID string) int {
	h.mu.RLock()
	sessions := make([]*session, 0, len(h.users[userID]))
	for _, s := range h.users[userID] {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()

	for _, s := range sessions {
		s.conn.Kick()
	}
	return len(sessions)
}

// Sessions returns the number of live connections.
func (h *Hub) Sessions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}
