package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"
	"unicode/utf8"
)

// A DB provides the persistence gateway over users, chats and messages.
type DB interface {
	FindUserByID(ctx context.Context, id string) (User, error)
	FindUsersByID(ctx context.Context, ids ...string) ([]User, error)
	FindUserByHandle(ctx context.Context, handle string) (User, error)
	// UpdateUserPresence writes the user's presence and last-seen timestamp.
	// Banned is terminal: implementations must ignore a non-banned write to a
	// banned user, so session teardown cannot lift a ban.
	UpdateUserPresence(ctx context.Context, id string, presence Presence, lastSeen time.Time) error
	UpdateUserProfile(ctx context.Context, id, displayName, bio string) error

	FindChatByID(ctx context.Context, id string) (Chat, error)
	FindChatsByParticipant(ctx context.Context, userID string) ([]Chat, error)
	// CreateChatIfAbsent atomically inserts the chat unless a chat with the
	// same id already exists, in which case the existing chat is returned.
	// The boolean reports whether an insert happened.
	CreateChatIfAbsent(ctx context.Context, c Chat) (Chat, bool, error)

	CreateMessage(ctx context.Context, msg Message) (Message, error)
	FindMessageByID(ctx context.Context, id string) (Message, error)
	FindMessagesByChat(ctx context.Context, chatID string) ([]Message, error)
	LastMessageByChat(ctx context.Context, chatID string) (Message, error)
	CountMessagesByChat(ctx context.Context, chatID string) (int, error)
	UpdateMessageReactions(ctx context.Context, messageID string, reactions []Reaction) error
	DeleteMessagesByChat(ctx context.Context, chatID string) error
}

// A Cache provides a best-effort storage layer for recent messages. Cache
// failures are logged, never surfaced.
type Cache interface {
	InsertMessage(ctx context.Context, msg Message) error
	LastMessage(ctx context.Context, chatID string) (Message, bool, error)
	DropChat(ctx context.Context, chatID string) error
}

// Rooms is the live-connection side of the coordinator: room membership and
// event fan-out. Implemented by the hub.
type Rooms interface {
	// ToChat delivers the event to every connection subscribed to the chat.
	ToChat(chatID string, ev Event)
	// ToChatExcept delivers to the chat's connections, skipping every session
	// held by the excluded user.
	ToChatExcept(chatID, exceptUserID string, ev Event)
	// ToUser delivers to all of the user's live sessions, if any.
	ToUser(userID string, ev Event)
	// ToAll delivers to every live connection.
	ToAll(ev Event)
	// SubscribeConn subscribes a single connection to a chat room.
	SubscribeConn(chatID, connID string)
	// SubscribeUser subscribes all of a user's live sessions to a chat room.
	SubscribeUser(chatID, userID string)
	// DisconnectUser force-closes every session of the user and returns how
	// many were closed.
	DisconnectUser(userID string) int
}

// Options tune a Service.
type Options struct {
	// Codec transforms content between stored and delivered forms. Defaults
	// to Base64Codec.
	Codec Codec
	// TypingTTL is the typing entry lifetime. Defaults to DefaultTypingTTL.
	TypingTTL time.Duration
	// BotHandle is the system identity that authors broadcast messages.
	BotHandle string
}

// Service coordinates chats, messages, reactions and typing state between the
// persistence gateway and the live connections.
type Service struct {
	log       *slog.Logger
	db        DB
	cache     Cache
	rooms     Rooms
	codec     Codec
	typing    *TypingTracker
	botHandle string
}

// NewService wires a Service. All dependencies are required except the
// options.
func NewService(log *slog.Logger, db DB, cache Cache, rooms Rooms, opts Options) *Service {
	if opts.Codec == nil {
		opts.Codec = Base64Codec{}
	}
	s := &Service{
		log:       log,
		db:        db,
		cache:     cache,
		rooms:     rooms,
		codec:     opts.Codec,
		botHandle: opts.BotHandle,
	}
	s.typing = NewTypingTracker(opts.TypingTTL, func(chatID, userID string) {
		s.log.Info("Typing entry expired", "chat_id", chatID, "user_id", userID)
		rooms.ToChatExcept(chatID, userID, Event{
			Type: EventUserStopTyping,
			Data: TypingUpdate{ChatID: chatID, UserID: userID},
		})
	})
	return s
}

// NewChatID allocates a fresh unique id for a group or channel chat.
func NewChatID(kind ChatKind) string {
	return fmt.Sprintf("%s_%d_%09d", kind, time.Now().UnixMilli(), rand.Int64N(1_000_000_000))
}

// ResolvePrivate resolves or creates the private chat between the requester
// and the other user. Creation is idempotent: concurrent calls from both
// participants converge on the same resource. Every live session of both
// participants is subscribed to the room and receives a new_chat event.
func (s *Service) ResolvePrivate(ctx context.Context, requesterID, otherID string) (ChatSummary, error) {
	if otherID == "" || otherID == requesterID {
		return ChatSummary{}, fmt.Errorf("%w: cannot open a private chat with %q", ErrInvalidArgument, otherID)
	}

	requester, err := s.db.FindUserByID(ctx, requesterID)
	if err != nil {
		return ChatSummary{}, fmt.Errorf("find requester: %w", err)
	}

	name := requester.DisplayName
	if name == "" {
		name = requester.Handle
	}
	chatID := PrivateChatID(requesterID, otherID)
	c, created, err := s.db.CreateChatIfAbsent(ctx, Chat{
		ID:           chatID,
		Name:         name,
		Description:  "Private chat with " + name,
		Kind:         KindPrivate,
		Participants: []string{requesterID, otherID},
		CreatedBy:    requesterID,
		CreatedAt:    time.Now(),
		Encrypted:    true,
		Theme:        "default",
	})
	if err != nil {
		return ChatSummary{}, fmt.Errorf("resolve private chat: %w", err)
	}
	if created {
		s.log.Info("Private chat created", "chat_id", c.ID, "created_by", requesterID)
	}

	summary, err := s.summarize(ctx, c)
	if err != nil {
		return ChatSummary{}, err
	}

	s.rooms.SubscribeUser(c.ID, requesterID)
	s.rooms.SubscribeUser(c.ID, otherID)
	ev := Event{Type: EventNewChat, Data: summary}
	s.rooms.ToUser(requesterID, ev)
	s.rooms.ToUser(otherID, ev)
	return summary, nil
}

// CreateGroup creates a group or channel chat. The creator is always a
// participant. No idempotency applies here: every call allocates a new chat.
func (s *Service) CreateGroup(ctx context.Context, creatorID, name string, kind ChatKind, description string, memberIDs []string) (ChatSummary, error) {
	if kind != KindGroup && kind != KindChannel {
		return ChatSummary{}, fmt.Errorf("%w: chat kind %q", ErrInvalidArgument, kind)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return ChatSummary{}, fmt.Errorf("%w: chat name is required", ErrInvalidArgument)
	}

	members := []string{creatorID}
	seen := map[string]struct{}{creatorID: {}}
	for _, id := range memberIDs {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		members = append(members, id)
	}

	c, _, err := s.db.CreateChatIfAbsent(ctx, Chat{
		ID:           NewChatID(kind),
		Name:         name,
		Description:  description,
		Kind:         kind,
		Participants: members,
		CreatedBy:    creatorID,
		CreatedAt:    time.Now(),
		Encrypted:    true,
		Theme:        "default",
	})
	if err != nil {
		return ChatSummary{}, fmt.Errorf("create %s: %w", kind, err)
	}
	s.log.Info("Chat created", "chat_id", c.ID, "kind", kind, "members", len(members))

	summary, err := s.summarize(ctx, c)
	if err != nil {
		return ChatSummary{}, err
	}
	ev := Event{Type: EventNewChat, Data: summary}
	for _, id := range members {
		s.rooms.SubscribeUser(c.ID, id)
		s.rooms.ToUser(id, ev)
	}
	return summary, nil
}

// SendRequest is the message pipeline input.
type SendRequest struct {
	ChatID       string
	Content      string
	Kind         MessageKind
	Encoded      bool
	FileURL      string
	FileName     string
	FileSize     int64
	ReplyTo      string
	ReplySnippet string
}

// Send validates, persists and fans out a message. The persisted write is the
// serialization point: nothing is broadcast until the write is acknowledged,
// and a failed write broadcasts nothing.
func (s *Service) Send(ctx context.Context, senderID string, req SendRequest) (Message, error) {
	c, err := s.db.FindChatByID(ctx, req.ChatID)
	if errors.Is(err, ErrNotFound) && IsPrivateChatID(req.ChatID) {
		// A valid private key for a missing chat materializes the chat from
		// the key, mirroring ResolvePrivate's creation contract.
		c, err = s.materializePrivate(ctx, senderID, req.ChatID)
	}
	if err != nil {
		return Message{}, fmt.Errorf("send: %w", err)
	}
	if !c.HasParticipant(senderID) {
		return Message{}, fmt.Errorf("%w: %s is not a participant of %s", ErrForbidden, senderID, c.ID)
	}
	if strings.TrimSpace(req.Content) == "" {
		return Message{}, fmt.Errorf("%w: empty message content", ErrInvalidArgument)
	}
	if utf8.RuneCountInString(req.Content) > MaxContentLen {
		return Message{}, fmt.Errorf("%w: content exceeds %d characters", ErrContentTooLarge, MaxContentLen)
	}

	kind := req.Kind
	if kind == "" {
		kind = MessageText
	}
	msg, err := s.db.CreateMessage(ctx, Message{
		ChatID:       c.ID,
		SenderID:     senderID,
		Content:      req.Content,
		Kind:         kind,
		FileURL:      req.FileURL,
		FileName:     req.FileName,
		FileSize:     req.FileSize,
		Encoded:      req.Encoded,
		ReplyTo:      req.ReplyTo,
		ReplySnippet: req.ReplySnippet,
		Reactions:    []Reaction{},
		ReadBy:       []string{senderID},
		CreatedAt:    time.Now(),
	})
	if err != nil {
		return Message{}, fmt.Errorf("persist message: %w", err)
	}

	if err := s.cache.InsertMessage(ctx, msg); err != nil {
		s.log.Error("Could not cache message", "message_id", msg.ID, "error", err.Error())
	}

	out := s.deliverable(msg)
	if sender, err := s.db.FindUserByID(ctx, senderID); err == nil {
		out.SenderName = sender.DisplayName
		if out.SenderName == "" {
			out.SenderName = sender.Handle
		}
	}

	s.rooms.ToChat(c.ID, Event{Type: EventNewMessage, Data: out})
	s.log.Info("Message delivered", "chat_id", c.ID, "message_id", msg.ID, "sender_id", senderID)
	return out, nil
}

func (s *Service) materializePrivate(ctx context.Context, senderID, chatID string) (Chat, error) {
	a, b, err := ParsePrivateChatID(chatID)
	if err != nil {
		return Chat{}, err
	}
	c, created, err := s.db.CreateChatIfAbsent(ctx, Chat{
		ID:           chatID,
		Name:         "Private chat",
		Kind:         KindPrivate,
		Participants: []string{a, b},
		CreatedBy:    senderID,
		CreatedAt:    time.Now(),
		Encrypted:    true,
		Theme:        "default",
	})
	if err != nil {
		return Chat{}, err
	}
	if created {
		s.log.Info("Private chat materialized from key", "chat_id", chatID, "sender_id", senderID)
	}
	return c, nil
}

// deliverable returns the outbound copy of a message: encoded content is
// decoded for delivery while the stored record keeps the form it was sent in.
func (s *Service) deliverable(msg Message) Message {
	if msg.Encoded {
		msg.Content = s.codec.Decode(msg.Content)
	}
	return msg
}

// ToggleReaction flips the (user, emoji) reaction on a message: present
// entries are removed, absent ones appended. The full updated list is
// persisted and re-broadcast to the message's room.
func (s *Service) ToggleReaction(ctx context.Context, userID, messageID, emoji string) ([]Reaction, error) {
	if !AllowedReaction(emoji) {
		return nil, fmt.Errorf("%w: reaction %q is not allowed", ErrInvalidArgument, emoji)
	}
	msg, err := s.db.FindMessageByID(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("toggle reaction: %w", err)
	}
	c, err := s.db.FindChatByID(ctx, msg.ChatID)
	if err != nil {
		return nil, fmt.Errorf("toggle reaction: %w", err)
	}
	if !c.HasParticipant(userID) {
		return nil, fmt.Errorf("%w: %s is not a participant of %s", ErrForbidden, userID, c.ID)
	}

	reactions := make([]Reaction, 0, len(msg.Reactions)+1)
	removed := false
	for _, r := range msg.Reactions {
		if r.UserID == userID && r.Emoji == emoji {
			removed = true
			continue
		}
		reactions = append(reactions, r)
	}
	if !removed {
		reactions = append(reactions, Reaction{Emoji: emoji, UserID: userID})
	}

	if err := s.db.UpdateMessageReactions(ctx, messageID, reactions); err != nil {
		return nil, fmt.Errorf("update reactions: %w", err)
	}

	s.rooms.ToChat(msg.ChatID, Event{
		Type: EventMessageReaction,
		Data: ReactionUpdate{MessageID: messageID, Reactions: reactions},
	})
	return reactions, nil
}

// StartTyping records the user as typing in the chat and notifies the other
// participants. The entry expires on its own unless refreshed or stopped.
func (s *Service) StartTyping(ctx context.Context, chatID, userID string) error {
	c, err := s.db.FindChatByID(ctx, chatID)
	if err != nil {
		return fmt.Errorf("typing: %w", err)
	}
	if !c.HasParticipant(userID) {
		return fmt.Errorf("%w: %s is not a participant of %s", ErrForbidden, userID, chatID)
	}

	s.typing.Start(chatID, userID)

	update := TypingUpdate{ChatID: chatID, UserID: userID}
	if u, err := s.db.FindUserByID(ctx, userID); err == nil {
		update.Handle = u.Handle
	}
	s.rooms.ToChatExcept(chatID, userID, Event{Type: EventUserTyping, Data: update})
	return nil
}

// StopTyping clears the user's typing entry for the chat and broadcasts the
// stop to the other participants.
func (s *Service) StopTyping(ctx context.Context, chatID, userID string) error {
	c, err := s.db.FindChatByID(ctx, chatID)
	if err != nil {
		return fmt.Errorf("stop typing: %w", err)
	}
	if !c.HasParticipant(userID) {
		return fmt.Errorf("%w: %s is not a participant of %s", ErrForbidden, userID, chatID)
	}

	s.typing.Stop(chatID, userID)
	s.rooms.ToChatExcept(chatID, userID, Event{
		Type: EventUserStopTyping,
		Data: TypingUpdate{ChatID: chatID, UserID: userID},
	})
	return nil
}

// Disconnected clears every typing entry the user holds and broadcasts the
// corresponding stop events. Safe to call more than once; a user with no
// entries is a no-op.
func (s *Service) Disconnected(userID string) {
	for _, chatID := range s.typing.ClearUser(userID) {
		s.rooms.ToChatExcept(chatID, userID, Event{
			Type: EventUserStopTyping,
			Data: TypingUpdate{ChatID: chatID, UserID: userID},
		})
	}
}

// Join subscribes one connection to a chat room after verifying the user is a
// participant and not banned.
func (s *Service) Join(ctx context.Context, connID, userID, chatID string) error {
	u, err := s.db.FindUserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("join: %w", err)
	}
	if u.Presence == PresenceBanned {
		return fmt.Errorf("%w: user %s is banned", ErrForbidden, userID)
	}
	c, err := s.db.FindChatByID(ctx, chatID)
	if err != nil {
		return fmt.Errorf("join: %w", err)
	}
	if !c.HasParticipant(userID) {
		return fmt.Errorf("%w: %s is not a participant of %s", ErrForbidden, userID, chatID)
	}
	s.rooms.SubscribeConn(chatID, connID)
	return nil
}

// AutoJoin subscribes a fresh connection to every chat the user belongs to.
func (s *Service) AutoJoin(ctx context.Context, connID, userID string) error {
	chats, err := s.db.FindChatsByParticipant(ctx, userID)
	if err != nil {
		return fmt.Errorf("auto join: %w", err)
	}
	for _, c := range chats {
		s.rooms.SubscribeConn(c.ID, connID)
	}
	return nil
}

// History returns the chat's messages in persisted order, decoded for
// delivery. Non-participants get ErrForbidden.
func (s *Service) History(ctx context.Context, userID, chatID string) ([]Message, error) {
	c, err := s.db.FindChatByID(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	if !c.HasParticipant(userID) {
		return nil, fmt.Errorf("%w: %s is not a participant of %s", ErrForbidden, userID, chatID)
	}
	msgs, err := s.db.FindMessagesByChat(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = s.deliverable(m)
	}
	return out, nil
}

// ChatList returns the user's chats hydrated with participant profiles, last
// message and message count.
func (s *Service) ChatList(ctx context.Context, userID string) ([]ChatSummary, error) {
	chats, err := s.db.FindChatsByParticipant(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("chat list: %w", err)
	}
	out := make([]ChatSummary, 0, len(chats))
	for _, c := range chats {
		summary, err := s.summarize(ctx, c)
		if err != nil {
			return nil, err
		}
		out = append(out, summary)
	}
	return out, nil
}

func (s *Service) summarize(ctx context.Context, c Chat) (ChatSummary, error) {
	members, err := s.db.FindUsersByID(ctx, c.Participants...)
	if err != nil {
		return ChatSummary{}, fmt.Errorf("hydrate participants: %w", err)
	}

	summary := ChatSummary{Chat: c, Members: members}

	last, ok, err := s.cache.LastMessage(ctx, c.ID)
	if err != nil {
		s.log.Error("Last-message cache read failed", "chat_id", c.ID, "error", err.Error())
		ok = false
	}
	if !ok {
		last, err = s.db.LastMessageByChat(ctx, c.ID)
		switch {
		case errors.Is(err, ErrNotFound):
			// Chat has no messages yet.
		case err != nil:
			return ChatSummary{}, fmt.Errorf("last message: %w", err)
		default:
			ok = true
		}
	}
	if ok {
		m := s.deliverable(last)
		summary.LastMessage = &m
	}

	count, err := s.db.CountMessagesByChat(ctx, c.ID)
	if err != nil {
		return ChatSummary{}, fmt.Errorf("count messages: %w", err)
	}
	summary.MessageCount = count
	return summary, nil
}

// ClearChat deletes every message in the chat. Only participants and the chat
// creator may clear it.
func (s *Service) ClearChat(ctx context.Context, userID, chatID string) error {
	c, err := s.db.FindChatByID(ctx, chatID)
	if err != nil {
		return fmt.Errorf("clear chat: %w", err)
	}
	if !c.HasParticipant(userID) && c.CreatedBy != userID {
		return fmt.Errorf("%w: %s may not clear %s", ErrForbidden, userID, chatID)
	}
	if err := s.db.DeleteMessagesByChat(ctx, chatID); err != nil {
		return fmt.Errorf("clear chat: %w", err)
	}
	if err := s.cache.DropChat(ctx, chatID); err != nil {
		s.log.Error("Could not drop chat cache", "chat_id", chatID, "error", err.Error())
	}
	s.rooms.ToChat(chatID, Event{Type: EventChatCleared, Data: ChatCleared{ChatID: chatID}})
	s.log.Info("Chat cleared", "chat_id", chatID, "user_id", userID)
	return nil
}

// BroadcastSystem writes one message authored by the bot identity into every
// private chat the bot participates in and fans each out to its room. A
// failed chat is skipped, not fatal: the returned count is the number of
// chats actually written to.
func (s *Service) BroadcastSystem(ctx context.Context, text string) (int, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, fmt.Errorf("%w: broadcast text is required", ErrInvalidArgument)
	}
	bot, err := s.db.FindUserByHandle(ctx, s.botHandle)
	if err != nil {
		return 0, fmt.Errorf("find bot identity: %w", err)
	}
	chats, err := s.db.FindChatsByParticipant(ctx, bot.ID)
	if err != nil {
		return 0, fmt.Errorf("list bot chats: %w", err)
	}

	delivered := 0
	for _, c := range chats {
		if c.Kind != KindPrivate {
			continue
		}
		msg, err := s.db.CreateMessage(ctx, Message{
			ChatID:    c.ID,
			SenderID:  bot.ID,
			Content:   text,
			Kind:      MessageText,
			Reactions: []Reaction{},
			ReadBy:    []string{bot.ID},
			CreatedAt: time.Now(),
		})
		if err != nil {
			s.log.Error("System broadcast skipped chat", "chat_id", c.ID, "error", err.Error())
			continue
		}
		msg.SenderName = bot.DisplayName
		s.rooms.ToChat(c.ID, Event{Type: EventNewMessage, Data: msg})
		delivered++
	}
	s.log.Info("System broadcast delivered", "chats", delivered)
	return delivered, nil
}

// Ban marks the user's presence as banned and force-disconnects every live
// session. The banned presence is a standing authorization failure for all
// future handshakes and joins.
func (s *Service) Ban(ctx context.Context, userID string) error {
	if err := s.db.UpdateUserPresence(ctx, userID, PresenceBanned, time.Now()); err != nil {
		return fmt.Errorf("ban: %w", err)
	}
	kicked := s.rooms.DisconnectUser(userID)
	s.log.Info("User banned", "user_id", userID, "sessions_kicked", kicked)
	return nil
}

// BanByHandle resolves the handle and bans the matching user.
func (s *Service) BanByHandle(ctx context.Context, handle string) error {
	u, err := s.db.FindUserByHandle(ctx, handle)
	if err != nil {
		return fmt.Errorf("ban by handle: %w", err)
	}
	return s.Ban(ctx, u.ID)
}

// UpdateProfile mutates the bounded profile fields and announces the change.
func (s *Service) UpdateProfile(ctx context.Context, userID, displayName, bio string) (User, error) {
	displayName = clamp(strings.TrimSpace(displayName), 50)
	bio = clamp(strings.TrimSpace(bio), 200)
	if err := s.db.UpdateUserProfile(ctx, userID, displayName, bio); err != nil {
		return User{}, fmt.Errorf("update profile: %w", err)
	}
	u, err := s.db.FindUserByID(ctx, userID)
	if err != nil {
		return User{}, fmt.Errorf("update profile: %w", err)
	}
	s.rooms.ToAll(Event{Type: EventPresenceUpdate, Data: PresenceUpdate{
		UserID:   u.ID,
		Handle:   u.Handle,
		Presence: u.Presence,
		LastSeen: u.LastSeen,
	}})
	return u, nil
}

func clamp(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}
