// Package echoserver is a reference endpoint for the chatsync wire protocol.
// It answers every text frame with "Received: <text>" and every file frame
// with "Received file: <name>".
package echoserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const maxFrameSize = 16 << 20

// Server is the echo endpoint. It implements http.Handler.
type Server struct {
	log      logrus.FieldLogger
	upgrader websocket.Upgrader
	router   chi.Router
	now      func() time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithClock sets the source of reply timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// New builds the router: GET /ws upgrades to a websocket, GET /healthz returns 200.
func New(log logrus.FieldLogger, opts ...Option) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Server{
		log: log.WithField("component", "echoserver"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/ws", s.handleWebSocket)
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type inboundFrame struct {
	Type string  `json:"type"`
	Text *string `json:"text"`
	Data *struct {
		FileName string `json:"fileName"`
		FileType string `json:"fileType"`
	} `json:"data"`
}

// ReplyData is the message carried by a successful reply.
type ReplyData struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	IsUser    bool      `json:"isUser"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
}

// ReplyFrame is one outbound frame. Error replies carry Message and no Data.
type ReplyFrame struct {
	Type    string     `json:"type"`
	Data    *ReplyData `json:"data,omitempty"`
	Message string     `json:"message,omitempty"`
}

// ErrorReply answers frames that cannot be decoded.
var ErrorReply = ReplyFrame{Type: "error", Message: "Error processing message"}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("Upgrade failed")
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxFrameSize)

	log := s.log.WithField("remote", r.RemoteAddr)
	log.Info("Client connected")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.WithError(err).Warn("Read failed")
			} else {
				log.Info("Client disconnected")
			}
			return
		}

		reply := s.Reply(data)
		if err := conn.WriteJSON(reply); err != nil {
			log.WithError(err).Warn("Write failed")
			return
		}
	}
}

// Reply returns the frame answering one inbound frame.
func (s *Server) Reply(raw []byte) ReplyFrame {
	var in inboundFrame
	if err := json.Unmarshal(raw, &in); err != nil {
		s.log.WithError(err).Debug("Undecodable frame")
		return ErrorReply
	}

	var text string
	switch {
	case in.Type == "file" && in.Data != nil:
		text = "Received file: " + in.Data.FileName
	case in.Text != nil:
		text = "Received: " + *in.Text
	default:
		return ErrorReply
	}

	return ReplyFrame{
		Type: "message",
		Data: &ReplyData{
			ID:        uuid.NewString(),
			Text:      text,
			IsUser:    false,
			Timestamp: s.now().UTC(),
			Type:      "message",
		},
	}
}
