package redis

import (
	"time"

	"github.com/actogram/server/chat"
)

// A message holds the scalar fields of a cached message. Reactions and the
// read-by set are not cached: the cache only feeds chat listings, which show
// the latest message line.
type message struct {
	ID        string    `redis:"id"`
	ChatID    string    `redis:"chat_id"`
	SenderID  string    `redis:"sender_id"`
	Content   string    `redis:"content"`
	Kind      string    `redis:"kind"`
	Encoded   bool      `redis:"encoded"`
	CreatedAt time.Time `redis:"created_at"`
}

func (m message) domain() chat.Message {
	return chat.Message{
		ID:        m.ID,
		ChatID:    m.ChatID,
		SenderID:  m.SenderID,
		Content:   m.Content,
		Kind:      chat.MessageKind(m.Kind),
		Encoded:   m.Encoded,
		Reactions: []chat.Reaction{},
		ReadBy:    []string{},
		CreatedAt: m.CreatedAt,
	}
}

func messageFrom(msg chat.Message) *message {
	return &message{
		ID:        msg.ID,
		ChatID:    msg.ChatID,
		SenderID:  msg.SenderID,
		Content:   msg.Content,
		Kind:      string(msg.Kind),
		Encoded:   msg.Encoded,
		CreatedAt: msg.CreatedAt,
	}
}
