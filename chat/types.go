// Package chat implements the coordination core of the messenger: chat
// resolution, the message pipeline, reaction toggling, typing state and the
// presence model shared by the transport and HTTP layers.
package chat

import "time"

// Presence is a user's coarse connectivity status. It is soft state: writes
// are best effort and readers must tolerate staleness.
type Presence string

const (
	PresenceOnline  Presence = "online"
	PresenceAway    Presence = "away"
	PresenceBusy    Presence = "busy"
	PresenceOffline Presence = "offline"
	PresenceBanned  Presence = "banned"
)

// A User represents a registered account. Accounts are created by the auth
// service, never by this core; banning only flips Presence.
type User struct {
	ID          string    `json:"id"`
	Handle      string    `json:"handle"`
	DisplayName string    `json:"display_name"`
	Bio         string    `json:"bio,omitempty"`
	Avatar      string    `json:"avatar,omitempty"`
	Verified    bool      `json:"verified"`
	Presence    Presence  `json:"presence"`
	LastSeen    time.Time `json:"last_seen"`
	CreatedAt   time.Time `json:"created_at"`
}

// ChatKind distinguishes the three room flavors.
type ChatKind string

const (
	KindPrivate ChatKind = "private"
	KindGroup   ChatKind = "group"
	KindChannel ChatKind = "channel"
)

// A Chat is a room with a participant set. Private chat IDs are derived from
// the participant pair (see PrivateChatID); group and channel IDs are
// generated.
type Chat struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	Kind         ChatKind  `json:"kind"`
	Participants []string  `json:"participants"`
	CreatedBy    string    `json:"created_by"`
	CreatedAt    time.Time `json:"created_at"`
	Encrypted    bool      `json:"encrypted"`
	Theme        string    `json:"theme"`
	Pinned       bool      `json:"pinned"`
	Muted        bool      `json:"muted"`
}

// HasParticipant reports whether id is in the chat's participant set.
func (c Chat) HasParticipant(id string) bool {
	for _, p := range c.Participants {
		if p == id {
			return true
		}
	}
	return false
}

// MessageKind is the payload type of a message.
type MessageKind string

const (
	MessageText  MessageKind = "text"
	MessageImage MessageKind = "image"
	MessageFile  MessageKind = "file"
	MessageAudio MessageKind = "audio"
	MessageVideo MessageKind = "video"
)

// A Reaction is a single (emoji, user) pair on a message. A user holds at
// most one reaction per emoji.
type Reaction struct {
	Emoji  string `json:"emoji"`
	UserID string `json:"user_id"`
}

// A Message represents a persisted message. Content is stored exactly as
// sent; when Encoded is set it is decoded through the codec at delivery time
// only.
type Message struct {
	ID           string      `json:"id"`
	ChatID       string      `json:"chat_id"`
	SenderID     string      `json:"sender_id"`
	SenderName   string      `json:"sender_name,omitempty"`
	Content      string      `json:"content"`
	Kind         MessageKind `json:"kind"`
	FileURL      string      `json:"file_url,omitempty"`
	FileName     string      `json:"file_name,omitempty"`
	FileSize     int64       `json:"file_size,omitempty"`
	Encoded      bool        `json:"encoded"`
	ReplyTo      string      `json:"reply_to,omitempty"`
	ReplySnippet string      `json:"reply_snippet,omitempty"`
	Reactions    []Reaction  `json:"reactions"`
	ReadBy       []string    `json:"read_by"`
	Edited       bool        `json:"edited"`
	CreatedAt    time.Time   `json:"created_at"`
}

// A ChatSummary is a chat hydrated for listings: participant profiles, the
// most recent message and the total message count.
type ChatSummary struct {
	Chat
	Members      []User   `json:"members"`
	LastMessage  *Message `json:"last_message"`
	MessageCount int      `json:"message_count"`
}

// MaxContentLen bounds message content length in characters.
const MaxContentLen = 1000

// allowedReactions is the fixed emoji set accepted by the reaction toggle.
var allowedReactions = map[string]struct{}{
	"❤️": {}, "👍": {}, "👎": {}, "😂": {}, "😮": {},
	"😢": {}, "😡": {}, "🔥": {}, "👏": {}, "🎉": {},
}

// AllowedReaction reports whether emoji is in the fixed reaction set.
func AllowedReaction(emoji string) bool {
	_, ok := allowedReactions[emoji]
	return ok
}
