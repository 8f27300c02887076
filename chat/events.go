package chat

import "time"

// Event types pushed to live connections.
const (
	EventNewMessage      = "new_message"
	EventMessageReaction = "message_reaction"
	EventUserTyping      = "user_typing"
	EventUserStopTyping  = "user_stop_typing"
	EventPresenceUpdate  = "presence_update"
	EventNewChat         = "new_chat"
	EventChatCleared     = "chat_cleared"
	EventMyChats         = "my_chats"
	EventChatMessages    = "chat_messages"
	EventError           = "error"
)

// An Event is a typed payload delivered to a live connection. The transport
// layer owns the encoding; everything above it works with typed data.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ReactionUpdate carries the full reaction list of a message after a toggle.
// Clients replace their local view wholesale, which sidesteps ordering races
// between concurrent togglers.
type ReactionUpdate struct {
	MessageID string     `json:"message_id"`
	Reactions []Reaction `json:"reactions"`
}

// TypingUpdate identifies who is (or stopped) typing in which chat.
type TypingUpdate struct {
	ChatID string `json:"chat_id"`
	UserID string `json:"user_id"`
	Handle string `json:"handle,omitempty"`
}

// PresenceUpdate announces a user's presence transition.
type PresenceUpdate struct {
	UserID   string    `json:"user_id"`
	Handle   string    `json:"handle,omitempty"`
	Presence Presence  `json:"presence"`
	LastSeen time.Time `json:"last_seen"`
}

// ChatCleared announces that all messages of a chat were deleted.
type ChatCleared struct {
	ChatID string `json:"chat_id"`
}

// ChatMessages is the reply to a message history request.
type ChatMessages struct {
	ChatID   string    `json:"chat_id"`
	Messages []Message `json:"messages"`
}

// ErrorData is the payload of an error event delivered to a single sender.
type ErrorData struct {
	Message string `json:"message"`
}
