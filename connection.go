package chatsync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"nhooyr.io/websocket"
)

// ============================================================================
// Configuration
// ============================================================================

// ConnectionConfig configures a ConnectionManager.
type ConnectionConfig struct {
	// URL of the websocket endpoint. http(s) schemes are rewritten to ws(s).
	URL string
	// HeartbeatInterval between pings. Zero means 25s, negative disables.
	HeartbeatInterval time.Duration
	DialTimeout       time.Duration
	// ReadLimit is the largest inbound frame accepted, in bytes.
	ReadLimit  int64
	HTTPClient *http.Client
	HTTPHeader http.Header
}

func (c *ConnectionConfig) defaults() {
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.ReadLimit == 0 {
		c.ReadLimit = 16 << 20
	}
}

// ConnState represents the connection state.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
)

// InboundHandler receives inbound events.
type InboundHandler func(InboundEvent)

// StateHandler receives state transitions. err is the cause of a transition to
// StateDisconnected, nil when the close was requested through Disconnect.
type StateHandler func(state ConnState, err error)

// ConnectionOption configures a ConnectionManager.
type ConnectionOption func(*ConnectionManager)

// WithConnectionLogger sets the logger.
func WithConnectionLogger(l logrus.FieldLogger) ConnectionOption {
	return func(m *ConnectionManager) { m.log = l }
}

// WithConnectionMetrics sets the metrics sink.
func WithConnectionMetrics(metrics *Metrics) ConnectionOption {
	return func(m *ConnectionManager) { m.metrics = metrics }
}

// ============================================================================
// Subscriber registry
// ============================================================================

type registry[T any] struct {
	mu     sync.Mutex
	nextID uint64
	items  []registryItem[T]
}

type registryItem[T any] struct {
	id uint64
	fn T
}

func (r *registry[T]) add(fn T) func() {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.items = append(r.items, registryItem[T]{id: id, fn: fn})
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			for i, it := range r.items {
				if it.id == id {
					r.items = append(r.items[:i:i], r.items[i+1:]...)
					return
				}
			}
		})
	}
}

// snapshot returns the handlers in registration order.
func (r *registry[T]) snapshot() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]T, len(r.items))
	for i, it := range r.items {
		out[i] = it.fn
	}
	return out
}

// ============================================================================
// ConnectionManager
// ============================================================================

// ConnectionManager owns one logical websocket connection. It does not
// reconnect by itself; see Reconnector.
//
// Inbound events are delivered on the read goroutine, one at a time, to every
// subscriber in registration order. Handlers must not call Disconnect
// synchronously; start a goroutine instead.
type ConnectionManager struct {
	url     string
	config  ConnectionConfig
	log     logrus.FieldLogger
	metrics *Metrics

	mu       sync.Mutex
	state    ConnState
	conn     *websocket.Conn
	cancelFn context.CancelFunc
	gen      uint64
	// held is set by Disconnect and cleared by Connect. Reconnector attempts
	// are refused while it is set.
	held bool

	// deliverMu is read-held for every delivery; Disconnect write-locks it to
	// set closed so no delivery starts after it returns.
	deliverMu sync.RWMutex
	closed    bool

	inbound registry[InboundHandler]
	states  registry[StateHandler]
}

// NewConnectionManager creates a manager in the disconnected state.
func NewConnectionManager(config ConnectionConfig, opts ...ConnectionOption) *ConnectionManager {
	config.defaults()
	m := &ConnectionManager{
		url:    websocketURL(config.URL),
		config: config,
		state:  StateDisconnected,
		log:    logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.WithField("component", "connection")
	m.metrics.setState(StateDisconnected)
	return m
}

func websocketURL(u string) string {
	u = strings.Replace(u, "https://", "wss://", 1)
	return strings.Replace(u, "http://", "ws://", 1)
}

// URL returns the websocket endpoint.
func (m *ConnectionManager) URL() string { return m.url }

// State returns the current connection state.
func (m *ConnectionManager) State() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe registers an inbound handler and returns a function removing it.
func (m *ConnectionManager) Subscribe(h InboundHandler) (unsubscribe func()) {
	return m.inbound.add(h)
}

// OnStateChange registers a state handler and returns a function removing it.
// Handlers run synchronously on the goroutine causing the transition.
func (m *ConnectionManager) OnStateChange(h StateHandler) (unsubscribe func()) {
	return m.states.add(h)
}

// Connect dials the endpoint. It is a no-op while connecting or connected.
// ctx bounds the dial only; the connection lives until Disconnect or a drop.
func (m *ConnectionManager) Connect(ctx context.Context) error {
	_, err := m.connect(ctx, false)
	return err
}

// resume connects on behalf of the Reconnector. It reports false without
// dialing when Disconnect was called since the last explicit Connect.
func (m *ConnectionManager) resume(ctx context.Context) (bool, error) {
	return m.connect(ctx, true)
}

func (m *ConnectionManager) connect(ctx context.Context, auto bool) (bool, error) {
	m.mu.Lock()
	if auto && m.held {
		m.mu.Unlock()
		return false, nil
	}
	m.held = false
	if m.state == StateConnected || m.state == StateConnecting {
		m.mu.Unlock()
		return true, nil
	}
	m.state = StateConnecting
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	m.deliverMu.Lock()
	m.closed = false
	m.deliverMu.Unlock()

	m.transition(StateConnecting, nil)

	dialCtx, cancel := context.WithTimeout(ctx, m.config.DialTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, m.url, &websocket.DialOptions{
		HTTPClient: m.config.HTTPClient,
		HTTPHeader: m.config.HTTPHeader,
	})
	if err != nil {
		err = fmt.Errorf("websocket dial: %w", err)
		m.mu.Lock()
		current := m.gen == gen
		if current {
			m.state = StateDisconnected
		}
		m.mu.Unlock()
		if current {
			m.log.WithError(err).WithField("url", m.url).Warn("Connect failed")
			m.transition(StateDisconnected, err)
		}
		return true, err
	}
	conn.SetReadLimit(m.config.ReadLimit)

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "client disconnect")
		return true, fmt.Errorf("%w: disconnected while connecting", ErrNotConnected)
	}
	connCtx, cancelConn := context.WithCancel(context.Background())
	m.conn = conn
	m.cancelFn = cancelConn
	m.state = StateConnected
	m.mu.Unlock()

	m.log.WithField("url", m.url).Info("Connected")
	m.transition(StateConnected, nil)

	go m.readLoop(connCtx, conn, gen)
	if m.config.HeartbeatInterval > 0 {
		go m.heartbeatLoop(connCtx, conn, gen)
	}
	return true, nil
}

// Disconnect closes the connection. It is safe to call at any time, any number
// of times, including while a Reconnector is backing off. No inbound delivery
// starts after it returns and no reconnect happens until the next Connect.
func (m *ConnectionManager) Disconnect() error {
	m.deliverMu.Lock()
	m.closed = true
	m.deliverMu.Unlock()

	m.mu.Lock()
	prev := m.state
	m.held = true
	m.gen++
	conn, cancel := m.conn, m.cancelFn
	m.conn, m.cancelFn = nil, nil
	m.state = StateDisconnected
	m.mu.Unlock()

	if conn != nil {
		if err := conn.Close(websocket.StatusNormalClosure, "client disconnect"); err != nil {
			m.log.WithError(err).Debug("Close handshake did not complete")
		}
	}
	if cancel != nil {
		cancel()
	}
	if prev != StateDisconnected {
		m.log.Info("Disconnected")
		m.transition(StateDisconnected, nil)
	}
	return nil
}

// Send encodes frame as JSON and writes it. It fails with ErrNotConnected
// unless the state is StateConnected; nothing is queued.
func (m *ConnectionManager) Send(ctx context.Context, frame any) error {
	m.mu.Lock()
	conn, state := m.conn, m.state
	m.mu.Unlock()

	if conn == nil || state != StateConnected {
		m.metrics.sendFailed()
		return ErrNotConnected
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encoding frame: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		m.metrics.sendFailed()
		return fmt.Errorf("websocket write: %w", err)
	}
	m.metrics.frameSent(frameKind(frame))
	return nil
}

func frameKind(frame any) string {
	switch frame.(type) {
	case OutboundText, *OutboundText:
		return "text"
	case OutboundFile, *OutboundFile:
		return "file"
	}
	return "other"
}

func (m *ConnectionManager) readLoop(ctx context.Context, conn *websocket.Conn, gen uint64) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			m.dropped(gen, err)
			return
		}

		ev := ParseInbound(data)
		m.metrics.frameReceived(ev)
		if ev.Malformed() {
			m.log.WithError(ev.Err).Warn("Malformed inbound frame")
		}
		m.deliver(gen, ev)
	}
}

func (m *ConnectionManager) deliver(gen uint64, ev InboundEvent) {
	m.deliverMu.RLock()
	defer m.deliverMu.RUnlock()
	if m.closed {
		return
	}
	m.mu.Lock()
	stale := m.gen != gen
	m.mu.Unlock()
	if stale {
		return
	}
	for _, h := range m.inbound.snapshot() {
		m.callInbound(h, ev)
	}
}

func (m *ConnectionManager) callInbound(h InboundHandler, ev InboundEvent) {
	defer func() {
		if r := recover(); r != nil {
			m.log.WithField("panic", r).Error("Inbound handler panicked")
		}
	}()
	h(ev)
}

// dropped handles the end of a connection that was not closed through Disconnect.
func (m *ConnectionManager) dropped(gen uint64, cause error) {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return
	}
	m.gen++
	cancel := m.cancelFn
	m.conn, m.cancelFn = nil, nil
	m.state = StateDisconnected
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	err := fmt.Errorf("connection lost: %w", cause)
	m.log.WithError(cause).Warn("Connection lost")
	m.transition(StateDisconnected, err)
}

func (m *ConnectionManager) transition(state ConnState, err error) {
	m.metrics.setState(state)
	for _, h := range m.states.snapshot() {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.log.WithField("panic", r).Error("State handler panicked")
				}
			}()
			h(state, err)
		}()
	}
}

func (m *ConnectionManager) heartbeatLoop(ctx context.Context, conn *websocket.Conn, gen uint64) {
	ticker := time.NewTicker(m.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.Lock()
			current := m.gen == gen && m.state == StateConnected
			m.mu.Unlock()
			if !current {
				return
			}

			pingCtx, cancel := context.WithTimeout(ctx, m.config.HeartbeatInterval)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				// The read loop observes the close and reports the drop.
				m.log.WithError(err).Warn("Heartbeat failed, closing connection")
				conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
				return
			}
		}
	}
}
