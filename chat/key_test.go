package chat

import (
	"errors"
	"testing"
)

func TestPrivateChatID(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want string
	}{
		{
			name: "Ordered",
			a:    "alice",
			b:    "bob",
			want: "private_alice_bob",
		},
		{
			name: "Reversed",
			a:    "bob",
			b:    "alice",
			want: "private_alice_bob",
		},
		{
			name: "Numeric IDs",
			a:    "42",
			b:    "7",
			want: "private_42_7",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PrivateChatID(tt.a, tt.b); got != tt.want {
				t.Errorf("Got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParsePrivateChatID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantA   string
		wantB   string
		wantErr bool
	}{
		{
			name:  "OK",
			id:    "private_alice_bob",
			wantA: "alice",
			wantB: "bob",
		},
		{
			name:    "WrongPrefix",
			id:      "group_alice_bob",
			wantErr: true,
		},
		{
			name:    "MissingParticipant",
			id:      "private_alice",
			wantErr: true,
		},
		{
			name:    "EmptyParticipant",
			id:      "private_alice_",
			wantErr: true,
		},
		{
			name:    "SameParticipant",
			id:      "private_alice_alice",
			wantErr: true,
		},
		{
			name:    "UnderscoreInID",
			id:      "private_al_ice_bob",
			wantErr: true,
		},
		{
			name:    "Empty",
			id:      "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, b, err := ParsePrivateChatID(tt.id)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidArgument) {
					t.Errorf("Got error %v, want ErrInvalidArgument", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if a != tt.wantA || b != tt.wantB {
				t.Errorf("Got (%q, %q), want (%q, %q)", a, b, tt.wantA, tt.wantB)
			}
		})
	}
}

func TestParsePrivateChatID_Roundtrip(t *testing.T) {
	id := PrivateChatID("u2", "u1")
	a, b, err := ParsePrivateChatID(id)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if PrivateChatID(a, b) != id {
		t.Errorf("Roundtrip lost the key: %q vs %q", PrivateChatID(a, b), id)
	}
}

func TestIsPrivateChatID(t *testing.T) {
	if !IsPrivateChatID("private_a_b") {
		t.Error("Expected private_a_b to be a private chat id")
	}
	if IsPrivateChatID("group_1704067200000_000000001") {
		t.Error("Expected group id to not be a private chat id")
	}
}
