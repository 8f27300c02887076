package postgres

import (
	"time"

	"github.com/actogram/server/chat"
)

// A user row. Accounts are created by the auth service; this gateway only
// reads profiles and writes presence and profile fields.
type user struct {
	ID          string    `bun:",pk,type:uuid,default:uuid_generate_v4()"`
	Handle      string    `bun:",notnull,unique"`
	DisplayName string    `bun:"display_name"`
	Bio         string    `bun:"bio"`
	Avatar      string    `bun:"avatar"`
	Verified    bool      `bun:"verified"`
	Presence    string    `bun:"presence,notnull,default:'offline'"`
	LastSeen    time.Time `bun:"last_seen,nullzero"`
	CreatedAt   time.Time `bun:",nullzero,default:now()"`
}

// A chat row. The id is the deterministic private key or a generated
// group/channel key, so it is a plain text primary key rather than a uuid.
type chatRow struct {
	ID           string    `bun:"id,pk"`
	Name         string    `bun:"name,notnull"`
	Description  string    `bun:"description"`
	Kind         string    `bun:"kind,notnull"`
	Participants []string  `bun:"participants,array"`
	CreatedBy    string    `bun:"created_by,notnull"`
	CreatedAt    time.Time `bun:",nullzero,default:now()"`
	Encrypted    bool      `bun:"encrypted"`
	Theme        string    `bun:"theme"`
	Pinned       bool      `bun:"pinned"`
	Muted        bool      `bun:"muted"`
}

// A message row. Reactions and the read-by set are embedded as jsonb; the
// reaction toggle overwrites the whole list, which matches the jsonb update.
type message struct {
	ID           string          `bun:",pk,type:uuid,default:uuid_generate_v4()"`
	ChatID       string          `bun:"chat_id,notnull"`
	SenderID     string          `bun:"sender_id,notnull"`
	Content      string          `bun:"content,notnull"`
	Kind         string          `bun:"kind,notnull,default:'text'"`
	FileURL      string          `bun:"file_url"`
	FileName     string          `bun:"file_name"`
	FileSize     int64           `bun:"file_size"`
	Encoded      bool            `bun:"encoded"`
	ReplyTo      string          `bun:"reply_to"`
	ReplySnippet string          `bun:"reply_snippet"`
	Reactions    []chat.Reaction `bun:"reactions,type:jsonb"`
	ReadBy       []string        `bun:"read_by,type:jsonb"`
	Edited       bool            `bun:"edited"`
	CreatedAt    time.Time       `bun:",nullzero,default:now()"`
}

func (u user) domain() chat.User {
	return chat.User{
		ID:          u.ID,
		Handle:      u.Handle,
		DisplayName: u.DisplayName,
		Bio:         u.Bio,
		Avatar:      u.Avatar,
		Verified:    u.Verified,
		Presence:    chat.Presence(u.Presence),
		LastSeen:    u.LastSeen,
		CreatedAt:   u.CreatedAt,
	}
}

func (c chatRow) domain() chat.Chat {
	return chat.Chat{
		ID:           c.ID,
		Name:         c.Name,
		Description:  c.Description,
		Kind:         chat.ChatKind(c.Kind),
		Participants: c.Participants,
		CreatedBy:    c.CreatedBy,
		CreatedAt:    c.CreatedAt,
		Encrypted:    c.Encrypted,
		Theme:        c.Theme,
		Pinned:       c.Pinned,
		Muted:        c.Muted,
	}
}

func chatRowFrom(c chat.Chat) *chatRow {
	return &chatRow{
		ID:           c.ID,
		Name:         c.Name,
		Description:  c.Description,
		Kind:         string(c.Kind),
		Participants: c.Participants,
		CreatedBy:    c.CreatedBy,
		CreatedAt:    c.CreatedAt,
		Encrypted:    c.Encrypted,
		Theme:        c.Theme,
		Pinned:       c.Pinned,
		Muted:        c.Muted,
	}
}

func (m message) domain() chat.Message {
	reactions := m.Reactions
	if reactions == nil {
		reactions = []chat.Reaction{}
	}
	readBy := m.ReadBy
	if readBy == nil {
		readBy = []string{}
	}
	return chat.Message{
		ID:           m.ID,
		ChatID:       m.ChatID,
		SenderID:     m.SenderID,
		Content:      m.Content,
		Kind:         chat.MessageKind(m.Kind),
		FileURL:      m.FileURL,
		FileName:     m.FileName,
		FileSize:     m.FileSize,
		Encoded:      m.Encoded,
		ReplyTo:      m.ReplyTo,
		ReplySnippet: m.ReplySnippet,
		Reactions:    reactions,
		ReadBy:       readBy,
		Edited:       m.Edited,
		CreatedAt:    m.CreatedAt,
	}
}

func messageFrom(msg chat.Message) *message {
	return &message{
		ChatID:       msg.ChatID,
		SenderID:     msg.SenderID,
		Content:      msg.Content,
		Kind:         string(msg.Kind),
		FileURL:      msg.FileURL,
		FileName:     msg.FileName,
		FileSize:     msg.FileSize,
		Encoded:      msg.Encoded,
		ReplyTo:      msg.ReplyTo,
		ReplySnippet: msg.ReplySnippet,
		Reactions:    msg.Reactions,
		ReadBy:       msg.ReadBy,
		Edited:       msg.Edited,
	}
}
