package chatsync

import (
	"encoding/json"
	"fmt"
)

// ============================================================================
// Wire Frames
// ============================================================================

// OutboundText is the frame sent for a user-authored message.
// ClientID carries the local message id so a server may echo it back.
type OutboundText struct {
	Text     string      `json:"text"`
	IsUser   bool        `json:"isUser"`
	Type     MessageType `json:"type,omitempty"`
	ClientID string      `json:"clientId,omitempty"`
}

// FilePayload is the data section of a file frame. FileData is base64.
type FilePayload struct {
	FileName string `json:"fileName"`
	FileType string `json:"fileType"`
	FileData string `json:"fileData"`
}

// OutboundFile is the out-of-band frame announcing an uploaded file.
type OutboundFile struct {
	Type     string      `json:"type"`
	Data     FilePayload `json:"data"`
	ClientID string      `json:"clientId,omitempty"`
}

// InboundData is the data section of an inbound frame.
type InboundData struct {
	ID        string          `json:"id,omitempty"`
	Text      *string         `json:"text"`
	IsUser    bool            `json:"isUser"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
	Type      MessageType     `json:"type,omitempty"`
}

// InboundFrame is the envelope of every frame received from the remote side.
// Message is only used by error replies that carry no data section.
type InboundFrame struct {
	Type    MessageType  `json:"type"`
	Data    *InboundData `json:"data,omitempty"`
	Message string       `json:"message,omitempty"`
}

// InboundEvent is what subscribers receive for each inbound frame.
// Err is set, wrapping ErrMalformedPayload, when the frame could not be parsed;
// such events always have Type TypeError.
type InboundEvent struct {
	Type     MessageType
	Text     string
	RemoteID string
	Err      error
	Raw      []byte
}

// Malformed reports whether the event stands in for an unparseable frame.
func (e InboundEvent) Malformed() bool {
	return e.Err != nil
}

// ParseInbound decodes a raw frame. It never fails: frames that are not valid
// JSON, carry an unknown type, or lack text are converted to error events.
func ParseInbound(raw []byte) InboundEvent {
	var frame InboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return malformedEvent(raw, fmt.Sprintf("invalid JSON: %v", err))
	}
	if !frame.Type.Valid() {
		return malformedEvent(raw, fmt.Sprintf("unknown frame type %q", frame.Type))
	}
	if frame.Data == nil {
		if frame.Type == TypeError && frame.Message != "" {
			return InboundEvent{Type: TypeError, Text: frame.Message, Raw: raw}
		}
		return malformedEvent(raw, "missing data")
	}
	if frame.Data.Text == nil {
		return malformedEvent(raw, "missing text")
	}
	return InboundEvent{
		Type:     frame.Type,
		Text:     *frame.Data.Text,
		RemoteID: frame.Data.ID,
		Raw:      raw,
	}
}

func malformedEvent(raw []byte, reason string) InboundEvent {
	return InboundEvent{
		Type: TypeError,
		Text: "Received a malformed message from the server: " + reason,
		Err:  fmt.Errorf("%w: %s", ErrMalformedPayload, reason),
		Raw:  raw,
	}
}
