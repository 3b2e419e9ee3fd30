package server

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/peerline/peerline/internal/relay"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,

	// The relay authenticates nobody, so there is no origin to enforce.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ServeWs returns an http.HandlerFunc that upgrades requests to websockets
// and hands them to the relay server.
func ServeWs(s *relay.Server, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("failed to upgrade connection", "error", err)
			return
		}
		s.Accept(conn)
	}
}
