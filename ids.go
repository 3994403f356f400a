package chatsync

import "github.com/google/uuid"

// newID returns a time-ordered 128-bit identifier (UUIDv7). Falls back to a
// random v4 if the clock-based generator fails.
func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
