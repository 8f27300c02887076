package chat

import (
	"sync"
	"time"
)

// DefaultTypingTTL is how long a typing entry lives without a refresh.
const DefaultTypingTTL = 3 * time.Second

type typingKey struct {
	chatID string
	userID string
}

type typingEntry struct {
	timer *time.Timer
	gen   uint64
}

// TypingTracker holds the ephemeral per-chat typing state. Entries expire on
// the server side, so a crashed client cannot leave a stale indicator. The
// tracker never touches storage.
type TypingTracker struct {
	ttl     time.Duration
	expired func(chatID, userID string)

	mu      sync.Mutex
	entries map[typingKey]*typingEntry
	gen     uint64
}

// NewTypingTracker returns a tracker with the given entry lifetime. The
// expired callback runs (on a timer goroutine) whenever an entry lapses
// without a refresh or explicit stop; it is not called for explicit stops or
// ClearUser.
func NewTypingTracker(ttl time.Duration, expired func(chatID, userID string)) *TypingTracker {
	if ttl <= 0 {
		ttl = DefaultTypingTTL
	}
	return &TypingTracker{
		ttl:     ttl,
		expired: expired,
		entries: make(map[typingKey]*typingEntry),
	}
}

// Start inserts or refreshes the typing entry for (chatID, userID). It
// returns true when the entry is new, false on a refresh.
func (t *TypingTracker) Start(chatID, userID string) bool {
	key := typingKey{chatID, userID}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.gen++
	gen := t.gen

	if e, ok := t.entries[key]; ok {
		e.gen = gen
		e.timer.Reset(t.ttl)
		return false
	}

	e := &typingEntry{gen: gen}
	e.timer = time.AfterFunc(t.ttl, func() { t.expire(key, gen) })
	t.entries[key] = e
	return true
}

// expire removes the entry if it still belongs to the firing timer's
// generation. A refresh between the timer firing and the lock being taken
// bumps the generation and wins.
func (t *TypingTracker) expire(key typingKey, gen uint64) {
	t.mu.Lock()
	e, ok := t.entries[key]
	if !ok || e.gen != gen {
		t.mu.Unlock()
		return
	}
	delete(t.entries, key)
	t.mu.Unlock()

	if t.expired != nil {
		t.expired(key.chatID, key.userID)
	}
}

// Stop removes the entry immediately and reports whether it existed.
func (t *TypingTracker) Stop(chatID, userID string) bool {
	key := typingKey{chatID, userID}

	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[key]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(t.entries, key)
	return true
}

// ClearUser drops every typing entry the user holds and returns the affected
// chat ids, so the caller can broadcast stop events. Used on disconnect.
func (t *TypingTracker) ClearUser(userID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var chats []string
	for key, e := range t.entries {
		if key.userID != userID {
			continue
		}
		e.timer.Stop()
		delete(t.entries, key)
		chats = append(chats, key.chatID)
	}
	return chats
}

// Typing returns the ids of users currently typing in the chat.
func (t *TypingTracker) Typing(chatID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var users []string
	for key := range t.entries {
		if key.chatID == chatID {
			users = append(users, key.userID)
		}
	}
	return users
}
