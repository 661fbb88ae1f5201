package network

import (
	"context"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/rs/zerolog"
)

const (
	// maxMessageSize is the maximum size in bytes of a single inbound frame.
	// Role content travels over REST, not the socket, so frames stay small.
	maxMessageSize = 65536

	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second
)

// Session bridges one WebSocket connection to the topology. Each session
// runs two goroutines; the read pump owns registration and teardown.
type Session struct {
	topology *Topology
	router   *Router
	conn     *websocket.Conn
	clientID string
	send     chan []byte
	closing  sync.Once
	log      zerolog.Logger
}

// NewSession wraps an upgraded connection for the given client id. The
// caller has already validated the id.
func NewSession(topology *Topology, router *Router, conn *websocket.Conn, clientID string, logger zerolog.Logger) *Session {
	return &Session{
		topology: topology,
		router:   router,
		conn:     conn,
		clientID: clientID,
		send:     make(chan []byte, 256),
		log: logger.With().Str("component", "session").
			Str("client_id", clientID).Logger(),
	}
}

// Run registers the client and pumps frames until the peer goes away. It
// blocks until the connection is closed.
func (s *Session) Run() {
	s.topology.AddClient(s.clientID, s)
	go s.writePump()
	s.readPump()
}

// readPump reads inbound frames and dispatches them through the router. A
// normal or going-away close removes the client cleanly; any other exit
// marks the client broken first so the project lifecycle can react.
func (s *Session) readPump() {
	broken := false
	defer func() {
		if broken {
			s.topology.SetBrokenClient(s.clientID, s)
		}
		s.topology.RemoveClient(s.clientID, s)
		s.closeSend()
		_ = s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)

	for {
		kind, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug().Err(err).Msg("WebSocket read error")
				broken = true
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), storageTimeout)
		s.router.Dispatch(ctx, s.clientID, message)
		cancel()
	}
}

// writePump writes queued payloads to the connection. It exits when the send
// channel closes.
func (s *Session) writePump() {
	defer func() { _ = s.conn.Close() }()

	for msg := range s.send {
		_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			s.log.Debug().Err(err).Msg("WebSocket write error")
			return
		}
	}
}

// Send implements ClientHandle. A full send buffer closes the connection so
// one stalled peer cannot back up the topology.
func (s *Session) Send(payload []byte) {
	select {
	case s.send <- payload:
	default:
		s.log.Warn().Msg("Client send buffer full, closing connection")
		s.Close()
	}
}

// Close implements ClientHandle. It initiates a server-side close; the read
// pump performs the actual teardown.
func (s *Session) Close() {
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "")
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	_ = s.conn.Close()
}

// closeSend closes the send channel exactly once.
func (s *Session) closeSend() {
	s.closing.Do(func() { close(s.send) })
}
