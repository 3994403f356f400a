package chatsync

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ============================================================================
// Configuration
// ============================================================================

// EngineConfig configures an Engine.
type EngineConfig struct {
	// URL of the websocket endpoint.
	URL string
	// Storage selects the durable backend. Ignored when Backend is set.
	Storage StorageConfig
	Backend Backend

	AutoReconnect     bool
	Reconnect         ReconnectPolicy
	HeartbeatInterval time.Duration
	DialTimeout       time.Duration
	HTTPHeader        http.Header
}

func (c *EngineConfig) defaults() {
	c.Reconnect.defaults()
}

// EngineOption configures an Engine.
type EngineOption func(*engineOptions)

type engineOptions struct {
	log         logrus.FieldLogger
	metrics     *Metrics
	sessionOpts []SessionOption
}

// WithLogger sets the logger shared by every component.
func WithLogger(l logrus.FieldLogger) EngineOption {
	return func(o *engineOptions) { o.log = l }
}

// WithMetrics sets the metrics sink shared by every component.
func WithMetrics(m *Metrics) EngineOption {
	return func(o *engineOptions) { o.metrics = m }
}

// WithSessionOptions passes options through to the SessionStore.
func WithSessionOptions(opts ...SessionOption) EngineOption {
	return func(o *engineOptions) { o.sessionOpts = append(o.sessionOpts, opts...) }
}

// ============================================================================
// Engine
// ============================================================================

// Engine owns one set of components: durable store, connection, optional
// reconnect supervisor, session store and coordinator. Independent engines
// share nothing.
type Engine struct {
	config      EngineConfig
	log         logrus.FieldLogger
	durable     *DurableStore
	conn        *ConnectionManager
	reconnector *Reconnector
	sessions    *SessionStore
	coordinator *Coordinator

	mu      sync.Mutex
	started bool
	closed  bool
}

// NewEngine opens the configured backend and wires the components. Nothing is
// connected until Start.
func NewEngine(ctx context.Context, config EngineConfig, opts ...EngineOption) (*Engine, error) {
	config.defaults()
	o := engineOptions{log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(&o)
	}

	backend := config.Backend
	if backend == nil {
		var err error
		backend, err = OpenBackend(ctx, config.Storage)
		if err != nil {
			return nil, fmt.Errorf("opening storage: %w", err)
		}
	}

	durable := NewDurableStore(backend, o.log, o.metrics)
	conn := NewConnectionManager(ConnectionConfig{
		URL:               config.URL,
		HeartbeatInterval: config.HeartbeatInterval,
		DialTimeout:       config.DialTimeout,
		HTTPHeader:        config.HTTPHeader,
	}, WithConnectionLogger(o.log), WithConnectionMetrics(o.metrics))
	sessionOpts := append([]SessionOption{WithSessionLogger(o.log), WithSessionMetrics(o.metrics)}, o.sessionOpts...)
	sessions := NewSessionStore(durable, sessionOpts...)

	e := &Engine{
		config:      config,
		log:         o.log.WithField("component", "engine"),
		durable:     durable,
		conn:        conn,
		sessions:    sessions,
		coordinator: NewCoordinator(sessions, conn, o.log, o.metrics),
	}
	if config.AutoReconnect {
		e.reconnector = NewReconnector(conn, config.Reconnect, o.log, o.metrics)
	}
	return e, nil
}

// Start restores persisted sessions, begins routing inbound events and
// connects. A failed connect is logged, not returned; with AutoReconnect the
// supervisor keeps retrying.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return fmt.Errorf("engine closed")
	}
	if e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = true
	e.mu.Unlock()

	e.sessions.Restore(ctx)
	e.coordinator.Start()
	if e.reconnector != nil {
		e.reconnector.Start()
	}
	if e.config.URL == "" {
		e.log.Info("No server URL configured, running offline")
		return nil
	}
	if err := e.conn.Connect(ctx); err != nil {
		e.log.WithError(err).Warn("Initial connect failed")
	}
	return nil
}

// Close stops reconnecting, disconnects and releases the backend.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	if e.reconnector != nil {
		e.reconnector.Stop()
	}
	e.conn.Disconnect()
	e.coordinator.Stop()
	return e.durable.Close()
}

// Sessions returns the session store.
func (e *Engine) Sessions() *SessionStore { return e.sessions }

// Connection returns the connection manager.
func (e *Engine) Connection() *ConnectionManager { return e.conn }

// Coordinator returns the coordinator.
func (e *Engine) Coordinator() *Coordinator { return e.coordinator }

// ── Collaborator surface ────────────────────────────────

// List returns all chats, most recently created first.
func (e *Engine) List() []Chat { return e.sessions.List() }

// Search filters chats by title or message text.
func (e *Engine) Search(query string) []Chat { return e.sessions.Search(query) }

func (e *Engine) SetActive(chatID string) bool { return e.sessions.SetActive(chatID) }

func (e *Engine) Subscribe(fn func()) func() { return e.sessions.Subscribe(fn) }

func (e *Engine) State() ConnState { return e.conn.State() }

func (e *Engine) CreateChat(ctx context.Context) string { return e.sessions.CreateChat(ctx) }

func (e *Engine) ClearAll(ctx context.Context) { e.sessions.ClearAll(ctx) }

func (e *Engine) DarkMode() bool { return e.sessions.DarkMode() }

func (e *Engine) ToggleDarkMode(ctx context.Context) bool { return e.sessions.ToggleDarkMode(ctx) }

func (e *Engine) AppendMessage(ctx context.Context, chatID string, draft Draft) (string, error) {
	return e.sessions.AppendMessage(ctx, chatID, draft)
}

func (e *Engine) TogglePin(ctx context.Context, chatID string) error {
	return e.sessions.TogglePin(ctx, chatID)
}

func (e *Engine) SendText(ctx context.Context, chatID, text string) (string, error) {
	return e.coordinator.SendText(ctx, chatID, text)
}

func (e *Engine) UploadFile(ctx context.Context, chatID string, f FileUpload) (string, error) {
	return e.coordinator.UploadFile(ctx, chatID, f)
}

// ============================================================================
// Starter examples
// ============================================================================

// Example is a starter prompt offered on an empty session.
type Example struct {
	Title  string
	Prompt string
}

// Examples are the built-in starter prompts.
var Examples = []Example{
	{Title: "Explain a code snippet", Prompt: "Explain how this code works:"},
	{Title: "Debug an issue", Prompt: "I'm getting this error:"},
	{Title: "Generate code", Prompt: "Create a"},
	{Title: "Optimize code", Prompt: "How can I optimize this code:"},
	{Title: "Learn concepts", Prompt: "Explain"},
	{Title: "Review code", Prompt: "Review this code:"},
}

// StartFromExample creates a chat seeded with the example prompt and a canned
// assistant reply. Nothing is sent to the server.
func (e *Engine) StartFromExample(ctx context.Context, ex Example) (string, error) {
	chatID := e.sessions.CreateChat(ctx)
	if _, err := e.sessions.AppendMessage(ctx, chatID, Draft{Text: ex.Prompt, IsUser: true}); err != nil {
		return chatID, err
	}
	reply := fmt.Sprintf("I'll help you %s. Please provide the details you'd like me to work with.", strings.ToLower(ex.Title))
	if _, err := e.sessions.AppendMessage(ctx, chatID, Draft{Text: reply}); err != nil {
		return chatID, err
	}
	return chatID, nil
}
