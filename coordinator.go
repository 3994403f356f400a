package chatsync

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Transport is the part of ConnectionManager the Coordinator depends on.
type Transport interface {
	Send(ctx context.Context, frame any) error
	Subscribe(h InboundHandler) (unsubscribe func())
}

// Coordinator binds user sends to the transport and inbound events to the
// SessionStore. Local messages are appended before anything is sent; a failed
// send leaves them in place and adds an error message to the same chat.
type Coordinator struct {
	sessions  *SessionStore
	transport Transport
	log       logrus.FieldLogger
	metrics   *Metrics

	// inboundTimeout bounds the persistence triggered by one inbound event.
	inboundTimeout time.Duration

	mu    sync.Mutex
	unsub func()
}

// NewCoordinator creates a stopped coordinator. log and metrics may be nil.
func NewCoordinator(sessions *SessionStore, transport Transport, log logrus.FieldLogger, metrics *Metrics) *Coordinator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Coordinator{
		sessions:       sessions,
		transport:      transport,
		log:            log.WithField("component", "coordinator"),
		metrics:        metrics,
		inboundTimeout: 10 * time.Second,
	}
}

// Start subscribes to inbound events. It is a no-op when already started.
func (c *Coordinator) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.unsub == nil {
		c.unsub = c.transport.Subscribe(c.handleInbound)
	}
}

// Stop unsubscribes from inbound events.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	unsub := c.unsub
	c.unsub = nil
	c.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// SendText appends text as a user message and sends it. The returned id is
// the local message id, which is also the frame's clientId. On a send failure
// the id is still returned along with the error.
func (c *Coordinator) SendText(ctx context.Context, chatID, text string) (string, error) {
	id, err := c.sessions.AppendMessage(ctx, chatID, Draft{Text: text, IsUser: true, Type: TypeMessage})
	if err != nil {
		return "", err
	}

	err = c.transport.Send(ctx, OutboundText{Text: text, IsUser: true, Type: TypeMessage, ClientID: id})
	if err != nil {
		c.log.WithError(err).WithField("chat", chatID).Warn("Send failed")
		c.appendError(ctx, chatID, "Message could not be sent: "+describeSendError(err))
		return id, err
	}
	return id, nil
}

// SendToActive is SendText against the selected chat.
func (c *Coordinator) SendToActive(ctx context.Context, text string) (string, error) {
	chatID := c.sessions.ActiveID()
	if chatID == "" {
		return "", ErrNoActiveChat
	}
	return c.SendText(ctx, chatID, text)
}

// UploadFile validates f, appends a confirmation message carrying its
// descriptor, then sends the file frame. Validation and send failures add an
// error message to the chat.
func (c *Coordinator) UploadFile(ctx context.Context, chatID string, f FileUpload) (string, error) {
	if _, err := c.sessions.Get(chatID); err != nil {
		return "", err
	}
	if err := f.Validate(); err != nil {
		c.appendError(ctx, chatID, "File upload failed: "+errorDetail(err, ErrInvalidFile))
		return "", err
	}

	ref := f.Ref()
	id, err := c.sessions.AppendMessage(ctx, chatID, Draft{
		Text:   "Uploaded file: " + f.Name,
		IsUser: true,
		Type:   TypeMessage,
		File:   &ref,
	})
	if err != nil {
		return "", err
	}

	if err := c.transport.Send(ctx, f.Frame(id)); err != nil {
		c.log.WithError(err).WithField("file", f.Name).Warn("File send failed")
		c.appendError(ctx, chatID, "File could not be sent: "+describeSendError(err))
		return id, err
	}
	return id, nil
}

func (c *Coordinator) appendError(ctx context.Context, chatID, text string) {
	if _, err := c.sessions.AppendMessage(ctx, chatID, Draft{Text: text, Type: TypeError}); err != nil {
		c.log.WithError(err).Debug("Could not record error message")
	}
}

func describeSendError(err error) string {
	if errors.Is(err, ErrNotConnected) {
		return "not connected to the server"
	}
	return err.Error()
}

// errorDetail strips the sentinel prefix from a wrapped error message.
func errorDetail(err, sentinel error) string {
	return strings.TrimPrefix(err.Error(), sentinel.Error()+": ")
}

// handleInbound routes one event to the chat that is active at this moment.
func (c *Coordinator) handleInbound(ev InboundEvent) {
	chatID := c.sessions.ActiveID()
	if chatID == "" {
		c.metrics.inboundDropped()
		c.log.WithField("type", ev.Type).Debug("Dropping inbound event, no active chat")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.inboundTimeout)
	defer cancel()
	_, err := c.sessions.AppendMessage(ctx, chatID, Draft{Text: ev.Text, IsUser: false, Type: ev.Type})
	if err != nil {
		c.metrics.inboundDropped()
		c.log.WithError(err).Debugf("Dropping inbound %s event", ev.Type)
	}
}
