package chat

import (
	"sort"
	"sync"
	"testing"
	"time"
)

func TestTypingTracker_Expiry(t *testing.T) {
	var (
		mu      sync.Mutex
		expired []string
	)
	done := make(chan struct{})
	tr := NewTypingTracker(20*time.Millisecond, func(chatID, userID string) {
		mu.Lock()
		expired = append(expired, chatID+"/"+userID)
		mu.Unlock()
		close(done)
	})

	if isNew := tr.Start("c1", "alice"); !isNew {
		t.Error("First Start should report a new entry")
	}
	if isNew := tr.Start("c1", "alice"); isNew {
		t.Error("Second Start should report a refresh")
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Entry never expired")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(expired) != 1 || expired[0] != "c1/alice" {
		t.Errorf("Got expirations %v, want [c1/alice]", expired)
	}
	if users := tr.Typing("c1"); len(users) != 0 {
		t.Errorf("Got typing users %v after expiry, want none", users)
	}
}

func TestTypingTracker_StopSuppressesExpiry(t *testing.T) {
	fired := make(chan struct{}, 1)
	tr := NewTypingTracker(20*time.Millisecond, func(chatID, userID string) {
		fired <- struct{}{}
	})

	tr.Start("c1", "alice")
	if stopped := tr.Stop("c1", "alice"); !stopped {
		t.Error("Stop should report the entry existed")
	}
	if stopped := tr.Stop("c1", "alice"); stopped {
		t.Error("Second Stop should be a no-op")
	}

	select {
	case <-fired:
		t.Error("Expiry callback ran after an explicit stop")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTypingTracker_ClearUser(t *testing.T) {
	tr := NewTypingTracker(time.Minute, nil)

	tr.Start("c1", "alice")
	tr.Start("c2", "alice")
	tr.Start("c1", "bob")

	chats := tr.ClearUser("alice")
	sort.Strings(chats)
	if len(chats) != 2 || chats[0] != "c1" || chats[1] != "c2" {
		t.Errorf("Got cleared chats %v, want [c1 c2]", chats)
	}
	if chats := tr.ClearUser("alice"); chats != nil {
		t.Errorf("Second ClearUser returned %v, want nil", chats)
	}
	if users := tr.Typing("c1"); len(users) != 1 || users[0] != "bob" {
		t.Errorf("Got typing users %v, want [bob]", users)
	}
}

func TestTypingTracker_RefreshOutlivesOriginalTTL(t *testing.T) {
	fired := make(chan struct{}, 1)
	tr := NewTypingTracker(50*time.Millisecond, func(chatID, userID string) {
		fired <- struct{}{}
	})

	tr.Start("c1", "alice")
	time.Sleep(30 * time.Millisecond)
	tr.Start("c1", "alice")

	// The refresh moved the deadline past the original one.
	select {
	case <-fired:
		t.Fatal("Entry expired despite the refresh")
	case <-time.After(40 * time.Millisecond):
	}

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("Refreshed entry never expired")
	}
}
