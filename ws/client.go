package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/actogram/server/chat"
	"github.com/actogram/server/hub"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxFrameSize   = 16 << 10
	sendBufferSize = 256
)

// client is one live websocket connection bound to a verified user. The read
// pump handles inbound intents sequentially; the write pump drains the send
// buffer. The hub talks to it through Enqueue and Kick.
type client struct {
	id   string
	user chat.User
	conn *websocket.Conn
	send chan []byte
	h    *handlerDeps
	log  *slog.Logger

	closeOnce   sync.Once
	cleanupOnce sync.Once
}

// handlerDeps bundles what a client needs from its handler.
type handlerDeps struct {
	hub *hub.Hub
	svc Service
}

func newClient(id string, user chat.User, conn *websocket.Conn, deps *handlerDeps, log *slog.Logger) *client {
	conn.SetReadLimit(maxFrameSize)
	return &client{
		id:   id,
		user: user,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		h:    deps,
		log:  log.With("conn_id", id, "user_id", user.ID),
	}
}

// Enqueue implements hub.Conn. It never blocks: a full buffer reports false
// and lets the hub decide to kick.
func (c *client) Enqueue(ev chat.Event) bool {
	payload, err := json.Marshal(ev)
	if err != nil {
		c.log.Error("Could not encode event", "type", ev.Type, "error", err.Error())
		return true
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// Kick implements hub.Conn by force-closing the underlying connection, which
// unwinds the read pump and triggers cleanup.
func (c *client) Kick() {
	c.closeOnce.Do(func() {
		_ = c.conn.Close()
	})
}

// cleanup runs exactly once per connection, no matter whether the drop came
// from the client, a kick, or a write failure.
func (c *client) cleanup() {
	c.cleanupOnce.Do(func() {
		ctx := context.Background()
		c.h.hub.Unregister(ctx, c.id)
		c.h.svc.Disconnected(c.user.ID)
		c.Kick()
	})
}

func (c *client) readPump(ctx context.Context) {
	defer c.cleanup()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Info("Connection dropped", "error", err.Error())
			}
			return
		}

		var in intent
		if err := json.Unmarshal(raw, &in); err != nil {
			c.log.Info("Discarding malformed frame", "error", err.Error())
			continue
		}
		c.dispatch(ctx, in)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.cleanup()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch routes one inbound intent. Unauthorized intents fail closed: they
// are logged and produce no event back, so a caller cannot probe for chats
// it does not belong to.
func (c *client) dispatch(ctx context.Context, in intent) {
	switch in.Type {
	case intentJoinChat:
		var data joinChatData
		if !c.decode(in, &data) {
			return
		}
		if err := c.h.svc.Join(ctx, c.id, c.user.ID, data.ChatID); err != nil {
			c.drop(in.Type, err)
		}

	case intentSendMessage:
		var data sendMessageData
		if !c.decode(in, &data) {
			return
		}
		_, err := c.h.svc.Send(ctx, c.user.ID, chat.SendRequest{
			ChatID:       data.ChatID,
			Content:      data.Content,
			Kind:         chat.MessageKind(data.Kind),
			Encoded:      data.Encoded,
			FileURL:      data.FileURL,
			FileName:     data.FileName,
			FileSize:     data.FileSize,
			ReplyTo:      data.ReplyTo,
			ReplySnippet: data.ReplySnippet,
		})
		switch {
		case err == nil:
		case errors.Is(err, chat.ErrContentTooLarge):
			// The only validation failure reported back to the sender.
			c.Enqueue(chat.Event{Type: chat.EventError, Data: chat.ErrorData{Message: "Message is too long"}})
		case errors.Is(err, chat.ErrForbidden), errors.Is(err, chat.ErrInvalidArgument), errors.Is(err, chat.ErrNotFound):
			c.drop(in.Type, err)
		default:
			// Persistence failed: the message was not written, nothing was
			// broadcast, and the sender needs to know delivery failed.
			c.log.Error("Message delivery failed", "error", err.Error())
			c.Enqueue(chat.Event{Type: chat.EventError, Data: chat.ErrorData{Message: "Could not deliver message"}})
		}

	case intentTyping:
		var data typingData
		if !c.decode(in, &data) {
			return
		}
		if err := c.h.svc.StartTyping(ctx, data.ChatID, c.user.ID); err != nil {
			c.drop(in.Type, err)
		}

	case intentStopTyping:
		var data typingData
		if !c.decode(in, &data) {
			return
		}
		if err := c.h.svc.StopTyping(ctx, data.ChatID, c.user.ID); err != nil {
			c.drop(in.Type, err)
		}

	case intentAddReaction:
		var data addReactionData
		if !c.decode(in, &data) {
			return
		}
		if _, err := c.h.svc.ToggleReaction(ctx, c.user.ID, data.MessageID, data.Emoji); err != nil {
			c.drop(in.Type, err)
		}

	case intentGetMyChats:
		chats, err := c.h.svc.ChatList(ctx, c.user.ID)
		if err != nil {
			c.log.Error("Could not list chats", "error", err.Error())
			return
		}
		c.Enqueue(chat.Event{Type: chat.EventMyChats, Data: chats})

	case intentGetMessages:
		var data getMessagesData
		if !c.decode(in, &data) {
			return
		}
		msgs, err := c.h.svc.History(ctx, c.user.ID, data.ChatID)
		if err != nil {
			c.drop(in.Type, err)
			return
		}
		c.Enqueue(chat.Event{Type: chat.EventChatMessages, Data: chat.ChatMessages{ChatID: data.ChatID, Messages: msgs}})

	case intentCreatePrivate:
		var data createPrivateData
		if !c.decode(in, &data) {
			return
		}
		if _, err := c.h.svc.ResolvePrivate(ctx, c.user.ID, data.UserID); err != nil {
			c.drop(in.Type, err)
		}

	case intentClearChat:
		var data clearChatData
		if !c.decode(in, &data) {
			return
		}
		if err := c.h.svc.ClearChat(ctx, c.user.ID, data.ChatID); err != nil {
			c.drop(in.Type, err)
		}

	case intentUpdateProfile:
		var data updateProfileData
		if !c.decode(in, &data) {
			return
		}
		if _, err := c.h.svc.UpdateProfile(ctx, c.user.ID, data.DisplayName, data.Bio); err != nil {
			c.log.Error("Profile update failed", "error", err.Error())
		}

	default:
		c.log.Info("Discarding unknown intent", "type", in.Type)
	}
}

func (c *client) decode(in intent, v any) bool {
	if err := json.Unmarshal(in.Data, v); err != nil {
		c.log.Info("Discarding malformed intent", "type", in.Type, "error", err.Error())
		return false
	}
	return true
}

// drop logs a silently discarded intent.
func (c *client) drop(intentType string, err error) {
	c.log.Info("Intent dropped", "type", intentType, "reason", err.Error())
}
