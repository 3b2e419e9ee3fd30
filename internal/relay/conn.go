package relay

import (
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/peerline/peerline/internal/protocol"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. SDP blobs fit comfortably.
	maxMessageSize = 64 * 1024
)

// Conn wraps a single websocket connection. The ID is unique per
// connection attempt and doubles as the participant identity in the relay
// protocol. roomID and opponent are owned by the server's Run goroutine.
type Conn struct {
	server *Server
	ws     *websocket.Conn

	ID       string
	roomID   string
	opponent *Conn

	// send carries outbound messages to the write pump. The server closes
	// it on unregister.
	send chan *protocol.Message
}

// Accept registers a fresh websocket connection with the server and starts
// its pumps. The client immediately receives its assigned identity.
func (s *Server) Accept(ws *websocket.Conn) {
	conn := &Conn{
		server: s,
		ws:     ws,
		ID:     uuid.NewString(),
		send:   make(chan *protocol.Message, 64),
	}

	s.register <- conn

	go conn.writePump()
	go conn.readPump()
}

// enqueue queues a message for the write pump, dropping it if the client
// cannot keep up. Signaling traffic is latest-wins; a stalled client is
// about to be unregistered anyway.
func (c *Conn) enqueue(msg *protocol.Message) {
	select {
	case c.send <- msg:
	default:
		c.server.logger.Warn("dropping message for slow client", "client", c.ID, "type", msg.Type)
	}
}

// readPump pumps messages from the websocket to the server. There is at
// most one reader per connection.
func (c *Conn) readPump() {
	defer func() {
		c.server.unregister <- c
		c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg protocol.Message
		if err := c.ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.server.logger.Debug("read error", "client", c.ID, "error", err)
			}
			return
		}
		c.server.messages <- inbound{conn: c, msg: &msg}
	}
}

// writePump pumps messages from the server to the websocket and keeps the
// connection alive with pings. There is at most one writer per connection.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The server closed the channel.
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteJSON(msg); err != nil {
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
