package service

import "errors"

// Sentinel errors shared across the chat services. Handlers map these onto
// transport status codes; the gateway maps them onto error replies that go
// to the requesting connection only.
var (
	// ErrInvalidRequest covers malformed domain requests, such as a user
	// opening a chat with themselves.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrValidation indicates a message payload that fails shape rules.
	ErrValidation = errors.New("message failed validation")

	// ErrForbidden indicates the caller is not a participant of the room.
	ErrForbidden = errors.New("not a participant of this room")

	// ErrNotMessageSender indicates a deletion attempt on someone else's
	// message.
	ErrNotMessageSender = errors.New("message belongs to another sender")

	// ErrNotFound indicates the room or message does not exist (or is not
	// visible to the caller).
	ErrNotFound = errors.New("not found")

	// ErrRateLimited indicates the sender exceeded the message window.
	ErrRateLimited = errors.New("message rate limit exceeded")
)
