package chat

import (
	"fmt"
	"strings"
)

// privatePrefix starts every deterministic private chat id.
const privatePrefix = "private_"

// PrivateChatID derives the deterministic id for the private chat between two
// users. The pair is sorted, so both participants converge on the same id
// regardless of who computes it; this is what makes private chat creation
// idempotent. User ids must not contain an underscore (they are uuids), or
// the key stops being parseable by ParsePrivateChatID.
func PrivateChatID(userA, userB string) string {
	if userB < userA {
		userA, userB = userB, userA
	}
	return privatePrefix + userA + "_" + userB
}

// ParsePrivateChatID recovers the participant pair from a deterministic
// private chat id. It is the validated inverse of PrivateChatID; anything
// that does not decode to exactly two distinct non-empty ids is rejected
// with ErrInvalidArgument.
func ParsePrivateChatID(chatID string) (userA, userB string, err error) {
	rest, ok := strings.CutPrefix(chatID, privatePrefix)
	if !ok {
		return "", "", fmt.Errorf("%w: chat id %q is not a private key", ErrInvalidArgument, chatID)
	}
	parts := strings.Split(rest, "_")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" || parts[0] == parts[1] {
		return "", "", fmt.Errorf("%w: malformed private chat key %q", ErrInvalidArgument, chatID)
	}
	return parts[0], parts[1], nil
}

// IsPrivateChatID reports whether chatID has the deterministic private key
// shape.
func IsPrivateChatID(chatID string) bool {
	_, _, err := ParsePrivateChatID(chatID)
	return err == nil
}
