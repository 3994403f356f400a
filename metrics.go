package chatsync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's prometheus collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	FramesSent      *prometheus.CounterVec
	FramesReceived  *prometheus.CounterVec
	MalformedFrames prometheus.Counter
	SendFailures    prometheus.Counter
	InboundDropped  prometheus.Counter
	ReconnectTries  prometheus.Counter
	ConnectionState *prometheus.GaugeVec
	StorageFailures *prometheus.CounterVec
	MessagesAdded   *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered, which is convenient in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		FramesSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "frames_sent_total",
			Help:      "Outbound frames written to the connection, by frame kind.",
		}, []string{"kind"}),
		FramesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "frames_received_total",
			Help:      "Inbound frames read from the connection, by message type.",
		}, []string{"type"}),
		MalformedFrames: f.NewCounter(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "frames_malformed_total",
			Help:      "Inbound frames that could not be parsed.",
		}),
		SendFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "send_failures_total",
			Help:      "Outbound sends that failed, including sends while disconnected.",
		}),
		InboundDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "inbound_dropped_total",
			Help:      "Inbound events dropped because no chat was active.",
		}),
		ReconnectTries: f.NewCounter(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "reconnect_attempts_total",
			Help:      "Reconnect attempts made by the reconnect supervisor.",
		}),
		ConnectionState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "chatsync",
			Name:      "connection_state",
			Help:      "1 for the current connection state, 0 otherwise.",
		}, []string{"state"}),
		StorageFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "storage_failures_total",
			Help:      "Durable store failures, by operation.",
		}, []string{"op"}),
		MessagesAdded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "messages_appended_total",
			Help:      "Messages appended to chats, by origin.",
		}, []string{"origin"}),
	}
}

func (m *Metrics) frameSent(kind string) {
	if m == nil {
		return
	}
	m.FramesSent.WithLabelValues(kind).Inc()
}

func (m *Metrics) frameReceived(ev InboundEvent) {
	if m == nil {
		return
	}
	if ev.Malformed() {
		m.MalformedFrames.Inc()
		return
	}
	m.FramesReceived.WithLabelValues(string(ev.Type)).Inc()
}

func (m *Metrics) sendFailed() {
	if m == nil {
		return
	}
	m.SendFailures.Inc()
}

func (m *Metrics) inboundDropped() {
	if m == nil {
		return
	}
	m.InboundDropped.Inc()
}

func (m *Metrics) reconnectAttempt() {
	if m == nil {
		return
	}
	m.ReconnectTries.Inc()
}

func (m *Metrics) setState(s ConnState) {
	if m == nil {
		return
	}
	for _, st := range []ConnState{StateDisconnected, StateConnecting, StateConnected} {
		v := 0.0
		if st == s {
			v = 1
		}
		m.ConnectionState.WithLabelValues(string(st)).Set(v)
	}
}

func (m *Metrics) storageFailed(op string) {
	if m == nil {
		return
	}
	m.StorageFailures.WithLabelValues(op).Inc()
}

func (m *Metrics) messageAdded(isUser bool) {
	if m == nil {
		return
	}
	origin := "remote"
	if isUser {
		origin = "local"
	}
	m.MessagesAdded.WithLabelValues(origin).Inc()
}
