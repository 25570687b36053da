package api

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/punchamoorthee/transferval/internal/logging"
	"github.com/punchamoorthee/transferval/internal/transport"
)

const (
	maxMessageSize = 64 << 10
	sendBuffer     = 64
)

var (
	errSessionClosed = errors.New("session closed")
	errSendQueueFull = errors.New("send queue full")
)

// wsSession is one upgraded connection. Writes go through a buffered queue
// drained by writePump so the hub never blocks on a slow peer.
type wsSession struct {
	id     string
	rol    string
	nombre string

	conn   *websocket.Conn
	logger *logging.Logger

	readTimeout  time.Duration
	writeTimeout time.Duration

	send      chan transport.Message
	done      chan struct{}
	closeOnce sync.Once
}

func newWSSession(conn *websocket.Conn, rol, nombre string, readTimeout, writeTimeout time.Duration, logger *logging.Logger) *wsSession {
	id := uuid.NewString()
	return &wsSession{
		id:           id,
		rol:          rol,
		nombre:       nombre,
		conn:         conn,
		logger:       logger.With(zap.String("session", id), zap.String("rol", rol), zap.String("nombre", nombre)),
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
		send:         make(chan transport.Message, sendBuffer),
		done:         make(chan struct{}),
	}
}

func (s *wsSession) ID() string     { return s.id }
func (s *wsSession) Rol() string    { return s.rol }
func (s *wsSession) Nombre() string { return s.nombre }

func (s *wsSession) Send(msg transport.Message) error {
	select {
	case <-s.done:
		return errSessionClosed
	default:
	}
	select {
	case s.send <- msg:
		return nil
	case <-s.done:
		return errSessionClosed
	default:
		return errSendQueueFull
	}
}

// close stops writePump and unblocks readPump. WriteControl is safe to call
// concurrently with the pumps.
func (s *wsSession) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"),
			time.Now().Add(time.Second))
		_ = s.conn.Close()
	})
}

// readPump feeds inbound frames to handle until the connection fails.
func (s *wsSession) readPump(ctx context.Context, handle func(context.Context, transport.Message)) {
	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("connection lost", zap.Error(err))
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(s.readTimeout))

		var msg transport.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn("dropping malformed frame", zap.Error(err))
			continue
		}
		handle(ctx, msg)
	}
}

// writePump drains the send queue and keeps the peer alive with pings.
func (s *wsSession) writePump() {
	ticker := time.NewTicker(s.readTimeout * 9 / 10)
	defer ticker.Stop()

	for {
		select {
		case msg := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := s.conn.WriteJSON(msg); err != nil {
				s.logger.Debug("write failed", zap.String("event", msg.Event), zap.Error(err))
				s.close()
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.writeTimeout)); err != nil {
				s.close()
				return
			}
		case <-s.done:
			return
		}
	}
}
