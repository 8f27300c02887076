package ws

import "encoding/json"

// Intent types accepted from clients.
const (
	intentJoinChat      = "join_chat"
	intentSendMessage   = "send_message"
	intentTyping        = "typing"
	intentStopTyping    = "stop_typing"
	intentAddReaction   = "add_reaction"
	intentGetMyChats    = "get_my_chats"
	intentGetMessages   = "get_messages"
	intentCreatePrivate = "create_private_chat"
	intentClearChat     = "clear_chat"
	intentUpdateProfile = "update_profile"
)

// intent is the envelope every inbound frame must carry.
type intent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type joinChatData struct {
	ChatID string `json:"chat_id"`
}

type sendMessageData struct {
	ChatID       string `json:"chat_id"`
	Content      string `json:"content"`
	Kind         string `json:"kind"`
	Encoded      bool   `json:"encoded"`
	FileURL      string `json:"file_url"`
	FileName     string `json:"file_name"`
	FileSize     int64  `json:"file_size"`
	ReplyTo      string `json:"reply_to"`
	ReplySnippet string `json:"reply_snippet"`
}

type typingData struct {
	ChatID string `json:"chat_id"`
}

type addReactionData struct {
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
}

type getMessagesData struct {
	ChatID string `json:"chat_id"`
}

type createPrivateData struct {
	UserID string `json:"user_id"`
}

type clearChatData struct {
	ChatID string `json:"chat_id"`
}

type updateProfileData struct {
	DisplayName string `json:"display_name"`
	Bio         string `json:"bio"`
}
