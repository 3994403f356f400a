package chatsync

import (
	"time"
)

// ============================================================================
// Chat Model
// ============================================================================

// MessageType distinguishes normal content from local error annunciations
// and system notices.
type MessageType string

const (
	TypeMessage MessageType = "message"
	TypeError   MessageType = "error"
	TypeSystem  MessageType = "system"
)

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	switch t {
	case TypeMessage, TypeError, TypeSystem:
		return true
	}
	return false
}

// DefaultTitle is the title of a chat that has not received a message yet.
const DefaultTitle = "New Chat"

// TitleMaxRunes is the length of the prefix of the first message used as title.
const TitleMaxRunes = 30

// FileRef describes an uploaded file. The binary itself belongs to the upload
// subsystem; messages only hold this descriptor.
type FileRef struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MIMEType string `json:"type"`
	Preview  string `json:"preview,omitempty"`
}

// Message is one unit of conversation content.
type Message struct {
	ID        string      `json:"id"`
	Text      string      `json:"text"`
	IsUser    bool        `json:"isUser"`
	Timestamp time.Time   `json:"timestamp"`
	Type      MessageType `json:"type"`
	File      *FileRef    `json:"file,omitempty"`
}

// Chat is one conversation thread. Messages are kept in append order.
type Chat struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Messages     []Message `json:"messages"`
	IsPinned     bool      `json:"isPinned"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
}

// Draft is the caller-supplied part of a message. ID and timestamp are
// assigned when the draft is appended.
type Draft struct {
	Text   string
	IsUser bool
	Type   MessageType
	File   *FileRef
}

func (c *Chat) clone() Chat {
	out := *c
	out.Messages = make([]Message, len(c.Messages))
	for i, m := range c.Messages {
		if m.File != nil {
			f := *m.File
			m.File = &f
		}
		out.Messages[i] = m
	}
	return out
}

func cloneChats(chats []*Chat) []Chat {
	out := make([]Chat, 0, len(chats))
	for _, c := range chats {
		out = append(out, c.clone())
	}
	return out
}
