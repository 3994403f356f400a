package chatsync

import "errors"

var (
	// ErrChatNotFound is returned when an operation references an unknown chat id.
	ErrChatNotFound = errors.New("chat not found")
	// ErrNotConnected is returned by Send while the connection is not established.
	ErrNotConnected = errors.New("not connected")
	// ErrMalformedPayload marks inbound frames that could not be parsed.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrStorageFailure wraps any durable store read or write failure.
	ErrStorageFailure = errors.New("storage failure")
	// ErrKeyNotFound is returned by a Backend when the key is absent.
	ErrKeyNotFound = errors.New("key not found")
	// ErrInvalidFile is returned when an upload fails validation.
	ErrInvalidFile = errors.New("invalid file")
	// ErrNoActiveChat is returned when an operation needs a selected chat and none is.
	ErrNoActiveChat = errors.New("no active chat")
)
