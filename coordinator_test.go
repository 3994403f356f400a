package chatsync

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport records sent frames and lets tests inject inbound events.
type fakeTransport struct {
	mu       sync.Mutex
	sent     []any
	err      error
	handlers registry[InboundHandler]
}

func (f *fakeTransport) Send(_ context.Context, frame any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, frame)
	return nil
}

func (f *fakeTransport) Subscribe(h InboundHandler) func() {
	return f.handlers.add(h)
}

func (f *fakeTransport) emit(ev InboundEvent) {
	for _, h := range f.handlers.snapshot() {
		h(ev)
	}
}

func (f *fakeTransport) frames() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]any(nil), f.sent...)
}

func newTestCoordinator(t *testing.T, metrics *Metrics) (*Coordinator, *SessionStore, *fakeTransport) {
	t.Helper()
	sessions := newTestSessions(t, nil, WithSessionMetrics(metrics))
	transport := &fakeTransport{}
	c := NewCoordinator(sessions, transport, testLogger(), metrics)
	c.Start()
	t.Cleanup(c.Stop)
	return c, sessions, transport
}

func messages(t *testing.T, s *SessionStore, chatID string) []Message {
	t.Helper()
	c, err := s.Get(chatID)
	require.NoError(t, err)
	return c.Messages
}

// ============================================================================
// Sending
// ============================================================================

func TestCoordinatorSendText(t *testing.T) {
	ctx := testContext(t)

	t.Run("connected", func(t *testing.T) {
		c, sessions, transport := newTestCoordinator(t, nil)
		chatID := sessions.CreateChat(ctx)

		id, err := c.SendText(ctx, chatID, "hi")
		require.NoError(t, err)

		msgs := messages(t, sessions, chatID)
		require.Len(t, msgs, 1)
		assert.Equal(t, id, msgs[0].ID)
		assert.True(t, msgs[0].IsUser)
		assert.Equal(t, "hi", msgs[0].Text)

		require.Len(t, transport.frames(), 1)
		assert.Equal(t, OutboundText{Text: "hi", IsUser: true, Type: TypeMessage, ClientID: id}, transport.frames()[0])
	})

	t.Run("not connected", func(t *testing.T) {
		c, sessions, transport := newTestCoordinator(t, nil)
		transport.err = ErrNotConnected
		chatID := sessions.CreateChat(ctx)

		id, err := c.SendText(ctx, chatID, "hi")
		assert.ErrorIs(t, err, ErrNotConnected)
		assert.NotEmpty(t, id)

		msgs := messages(t, sessions, chatID)
		require.Len(t, msgs, 2)
		assert.Equal(t, "hi", msgs[0].Text)
		assert.True(t, msgs[0].IsUser)
		assert.Equal(t, TypeError, msgs[1].Type)
		assert.False(t, msgs[1].IsUser)
		assert.Equal(t, "Message could not be sent: not connected to the server", msgs[1].Text)
	})

	t.Run("write failure", func(t *testing.T) {
		c, sessions, transport := newTestCoordinator(t, nil)
		transport.err = errors.New("websocket write: broken pipe")
		chatID := sessions.CreateChat(ctx)

		_, err := c.SendText(ctx, chatID, "hi")
		require.Error(t, err)
		msgs := messages(t, sessions, chatID)
		require.Len(t, msgs, 2)
		assert.Contains(t, msgs[1].Text, "broken pipe")
	})

	t.Run("unknown chat sends nothing", func(t *testing.T) {
		c, _, transport := newTestCoordinator(t, nil)
		_, err := c.SendText(ctx, "missing", "hi")
		assert.ErrorIs(t, err, ErrChatNotFound)
		assert.Empty(t, transport.frames())
	})

	t.Run("to active chat", func(t *testing.T) {
		c, sessions, _ := newTestCoordinator(t, nil)
		_, err := c.SendToActive(ctx, "hi")
		assert.ErrorIs(t, err, ErrNoActiveChat)

		chatID := sessions.CreateChat(ctx)
		_, err = c.SendToActive(ctx, "hi")
		require.NoError(t, err)
		assert.Len(t, messages(t, sessions, chatID), 1)
	})
}

// ============================================================================
// Inbound routing
// ============================================================================

func TestCoordinatorInbound(t *testing.T) {
	ctx := testContext(t)

	t.Run("appended to the active chat", func(t *testing.T) {
		_, sessions, transport := newTestCoordinator(t, nil)
		other := sessions.CreateChat(ctx)
		active := sessions.CreateChat(ctx)

		transport.emit(InboundEvent{Type: TypeMessage, Text: "hi"})

		assert.Empty(t, messages(t, sessions, other))
		msgs := messages(t, sessions, active)
		require.Len(t, msgs, 1)
		assert.Equal(t, "hi", msgs[0].Text)
		assert.False(t, msgs[0].IsUser)
		assert.Equal(t, TypeMessage, msgs[0].Type)
		assert.Equal(t, "hi", sessions.List()[0].Title)
	})

	t.Run("selection at event time decides the chat", func(t *testing.T) {
		_, sessions, transport := newTestCoordinator(t, nil)
		a := sessions.CreateChat(ctx)
		b := sessions.CreateChat(ctx)

		sessions.SetActive(a)
		transport.emit(InboundEvent{Type: TypeMessage, Text: "for a"})
		sessions.SetActive(b)
		transport.emit(InboundEvent{Type: TypeSystem, Text: "for b"})

		assert.Equal(t, "for a", messages(t, sessions, a)[0].Text)
		msgs := messages(t, sessions, b)
		require.Len(t, msgs, 1)
		assert.Equal(t, TypeSystem, msgs[0].Type)
	})

	t.Run("events keep arrival order", func(t *testing.T) {
		_, sessions, transport := newTestCoordinator(t, nil)
		chatID := sessions.CreateChat(ctx)
		for _, text := range []string{"1", "2", "3", "4"} {
			transport.emit(InboundEvent{Type: TypeMessage, Text: text})
		}
		var got []string
		for _, m := range messages(t, sessions, chatID) {
			got = append(got, m.Text)
		}
		assert.Equal(t, []string{"1", "2", "3", "4"}, got)
	})

	t.Run("malformed frames surface as errors", func(t *testing.T) {
		_, sessions, transport := newTestCoordinator(t, nil)
		chatID := sessions.CreateChat(ctx)
		transport.emit(ParseInbound([]byte("not json")))

		msgs := messages(t, sessions, chatID)
		require.Len(t, msgs, 1)
		assert.Equal(t, TypeError, msgs[0].Type)
	})

	t.Run("dropped without an active chat", func(t *testing.T) {
		metrics := NewMetrics(nil)
		_, sessions, transport := newTestCoordinator(t, metrics)
		transport.emit(InboundEvent{Type: TypeMessage, Text: "lost"})

		assert.Empty(t, sessions.List())
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.InboundDropped))
	})

	t.Run("stopped coordinator ignores events", func(t *testing.T) {
		c, sessions, transport := newTestCoordinator(t, nil)
		chatID := sessions.CreateChat(ctx)
		c.Stop()
		transport.emit(InboundEvent{Type: TypeMessage, Text: "ignored"})
		assert.Empty(t, messages(t, sessions, chatID))

		c.Start()
		c.Start()
		transport.emit(InboundEvent{Type: TypeMessage, Text: "seen"})
		assert.Len(t, messages(t, sessions, chatID), 1)
	})
}

// ============================================================================
// Uploads
// ============================================================================

func TestCoordinatorUploadFile(t *testing.T) {
	ctx := testContext(t)
	valid := FileUpload{Name: "notes.txt", MIMEType: "text/plain", Data: []byte("hello")}

	t.Run("valid file", func(t *testing.T) {
		c, sessions, transport := newTestCoordinator(t, nil)
		chatID := sessions.CreateChat(ctx)

		id, err := c.UploadFile(ctx, chatID, valid)
		require.NoError(t, err)

		msgs := messages(t, sessions, chatID)
		require.Len(t, msgs, 1)
		assert.Equal(t, id, msgs[0].ID)
		assert.Equal(t, "Uploaded file: notes.txt", msgs[0].Text)
		require.NotNil(t, msgs[0].File)
		assert.Equal(t, FileRef{Name: "notes.txt", Size: 5, MIMEType: "text/plain", Preview: "/icons/txt.svg"}, *msgs[0].File)

		require.Len(t, transport.frames(), 1)
		frame, ok := transport.frames()[0].(OutboundFile)
		require.True(t, ok)
		assert.Equal(t, id, frame.ClientID)
		data, err := base64.StdEncoding.DecodeString(frame.Data.FileData)
		require.NoError(t, err)
		assert.Equal(t, "hello", string(data))
	})

	t.Run("invalid type", func(t *testing.T) {
		c, sessions, transport := newTestCoordinator(t, nil)
		chatID := sessions.CreateChat(ctx)

		bad := FileUpload{Name: "a.zip", MIMEType: "application/zip", Data: []byte("PK")}
		_, err := c.UploadFile(ctx, chatID, bad)
		assert.ErrorIs(t, err, ErrInvalidFile)

		msgs := messages(t, sessions, chatID)
		require.Len(t, msgs, 1)
		assert.Equal(t, TypeError, msgs[0].Type)
		assert.Contains(t, msgs[0].Text, "File upload failed: invalid file type")
		assert.Empty(t, transport.frames())
	})

	t.Run("send failure keeps the confirmation", func(t *testing.T) {
		c, sessions, transport := newTestCoordinator(t, nil)
		transport.err = ErrNotConnected
		chatID := sessions.CreateChat(ctx)

		_, err := c.UploadFile(ctx, chatID, valid)
		assert.ErrorIs(t, err, ErrNotConnected)
		msgs := messages(t, sessions, chatID)
		require.Len(t, msgs, 2)
		assert.NotNil(t, msgs[0].File)
		assert.Equal(t, "File could not be sent: not connected to the server", msgs[1].Text)
	})

	t.Run("unknown chat", func(t *testing.T) {
		c, _, _ := newTestCoordinator(t, nil)
		_, err := c.UploadFile(ctx, "missing", valid)
		assert.ErrorIs(t, err, ErrChatNotFound)
	})
}
