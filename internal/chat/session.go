package chat

import (
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait       = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod     = (pongWait * 9) / 10 // Send pings to peer with this period. Must be less than pongWait.
	maxMessageSize = 128 * 1024          // Maximum frame size allowed from peer (text + media descriptors).

	sendBufferSize = 256
)

// Session is one live transport connection of an authenticated user. A user
// may hold many sessions at once (phone + browser tabs); each gets its own
// id so broadcasts can target or exclude a single device.
type Session struct {
	ID       string
	UserID   int64
	Username string

	conn *websocket.Conn
	send chan []byte
	gw   *Gateway
}

// trySend enqueues a frame without blocking. Returns false when the buffer
// is full, which the hub treats as a slow consumer.
func (s *Session) trySend(frame []byte) bool {
	select {
	case s.send <- frame:
		return true
	default:
		return false
	}
}

func (s *Session) closeConn() {
	if s.conn != nil {
		s.conn.Close()
	}
}

// readPump pumps frames from the websocket connection into the gateway
// dispatcher. One goroutine per connection; events of one connection are
// handled strictly in arrival order.
func (s *Session) readPump() {
	defer func() {
		s.gw.disconnect(s)
		s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.gw.log.Debug().Err(err).Str("session", s.ID).Msg("websocket read error")
			}
			break
		}
		s.gw.dispatch(s, message)
	}
}

// writePump pumps frames from the send channel to the websocket connection
// and keeps the connection alive with pings.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

			// Drain anything already queued while we hold the writer.
			n := len(s.send)
			for i := 0; i < n; i++ {
				if err := s.conn.WriteMessage(websocket.TextMessage, <-s.send); err != nil {
					return
				}
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
