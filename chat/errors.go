package chat

import "errors"

// The error taxonomy shared by the transport and HTTP layers. Real-time
// intents drop Forbidden silently; the HTTP layer maps each kind to a status
// code.
var (
	// ErrUnauthenticated means the caller presented no usable identity.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrForbidden means the caller is authenticated but not allowed to touch
	// the target chat or message, or is banned.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidArgument means the payload is malformed (empty content,
	// unknown emoji, bad chat key, bad chat kind).
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrContentTooLarge means message content exceeded MaxContentLen. Unlike
	// the other real-time failures this one is reported back to the sender.
	ErrContentTooLarge = errors.New("content too large")

	// ErrNotFound means the chat or message id does not resolve.
	ErrNotFound = errors.New("not found")

	// ErrUnavailable means a backing store could not be reached.
	ErrUnavailable = errors.New("unavailable")
)
