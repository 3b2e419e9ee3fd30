package signaling

import (
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/peerline/peerline/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// RelayTransport is the websocket connection to the relay server. The
// server assigns a client identity on connect and forwards signal payloads
// to the matched opponent.
type RelayTransport struct {
	conn      *websocket.Conn
	serverURL string
	logger    *slog.Logger
	incoming  chan *protocol.Message
	outgoing  chan *protocol.Message
	done      chan struct{}
	closeOnce sync.Once
}

// NewRelayTransport creates a transport for the given websocket URL. Call
// Connect before using it.
func NewRelayTransport(serverURL string, logger *slog.Logger) *RelayTransport {
	return &RelayTransport{
		serverURL: serverURL,
		logger:    logger,
		incoming:  make(chan *protocol.Message, 32),
		outgoing:  make(chan *protocol.Message, 32),
		done:      make(chan struct{}),
	}
}

// Connect dials the relay server and starts the read and write pumps.
func (t *RelayTransport) Connect() error {
	u, err := url.Parse(t.serverURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	t.conn = conn
	t.conn.SetReadLimit(maxMessageSize)
	t.conn.SetPongHandler(func(string) error {
		t.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go t.readPump()
	go t.writePump()

	return nil
}

// readPump reads messages from the websocket until it fails or closes.
func (t *RelayTransport) readPump() {
	defer func() {
		t.conn.Close()
		close(t.incoming)
	}()

	t.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		var msg protocol.Message
		if err := t.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				t.logger.Debug("relay connection lost", "error", err)
			}
			return
		}
		t.incoming <- &msg
	}
}

// writePump writes queued messages and sends periodic pings.
func (t *RelayTransport) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		t.conn.Close()
	}()

	for {
		select {
		case msg := <-t.outgoing:
			t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := t.conn.WriteJSON(msg); err != nil {
				return
			}

		case <-ticker.C:
			t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := t.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-t.done:
			t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			t.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// Send implements Transport.
func (t *RelayTransport) Send(msg *protocol.Message) error {
	select {
	case <-t.done:
		return fmt.Errorf("transport closed")
	default:
	}

	select {
	case t.outgoing <- msg:
		return nil
	case <-t.done:
		return fmt.Errorf("transport closed")
	}
}

// Incoming implements Transport.
func (t *RelayTransport) Incoming() <-chan *protocol.Message {
	return t.incoming
}

// Close implements Transport.
func (t *RelayTransport) Close() {
	t.closeOnce.Do(func() {
		close(t.done)
	})
}
