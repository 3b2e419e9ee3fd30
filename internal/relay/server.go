// Package relay implements the rendezvous server. It pairs the first two
// clients that ask for a match and thereafter forwards their signaling
// payloads verbatim; it never interprets SDP or candidate contents. All
// state lives in one Server instance, so tests can construct as many
// isolated servers as they like.
package relay

import (
	"log/slog"

	"github.com/google/uuid"

	"github.com/peerline/peerline/internal/protocol"
)

// Config carries the server's matchmaking parameters.
type Config struct {
	// ICEServers is handed to both peers in the match-found message.
	ICEServers []protocol.ICEServer
}

// inbound pairs a parsed message with the connection it arrived on.
type inbound struct {
	conn *Conn
	msg  *protocol.Message
}

// Server owns the connection table and the single waiting slot. One
// goroutine (Run) processes every register, unregister and message event,
// so pairing is serialized by construction and needs no further
// synchronization.
type Server struct {
	logger     *slog.Logger
	iceServers []protocol.ICEServer

	register   chan *Conn
	unregister chan *Conn
	messages   chan inbound

	// conns maps client identity to connection. waiting is the single
	// globally waiting connection, or nil. Only the Run goroutine touches
	// either.
	conns   map[string]*Conn
	waiting *Conn

	done chan struct{}
}

// New creates a relay server. Call Run in a goroutine before accepting
// connections.
func New(cfg Config, logger *slog.Logger) *Server {
	return &Server{
		logger:     logger,
		iceServers: cfg.ICEServers,
		register:   make(chan *Conn),
		unregister: make(chan *Conn),
		messages:   make(chan inbound),
		conns:      make(map[string]*Conn),
		done:       make(chan struct{}),
	}
}

// Run processes server events until Stop is called.
func (s *Server) Run() {
	for {
		select {
		case conn := <-s.register:
			s.handleRegister(conn)

		case conn := <-s.unregister:
			s.handleUnregister(conn)

		case in := <-s.messages:
			s.handleMessage(in.conn, in.msg)

		case <-s.done:
			return
		}
	}
}

// Stop terminates the Run loop.
func (s *Server) Stop() {
	close(s.done)
}

func (s *Server) handleRegister(conn *Conn) {
	s.conns[conn.ID] = conn
	s.logger.Info("client connected", "client", conn.ID)

	conn.enqueue(&protocol.Message{
		Type:     protocol.MessageTypeClientID,
		ClientID: conn.ID,
	})
}

func (s *Server) handleUnregister(conn *Conn) {
	if _, ok := s.conns[conn.ID]; !ok {
		return
	}
	delete(s.conns, conn.ID)
	s.logger.Info("client disconnected", "client", conn.ID)

	if s.waiting == conn {
		s.waiting = nil
	}

	if opponent := conn.opponent; opponent != nil {
		opponent.opponent = nil
		opponent.roomID = ""
		opponent.enqueue(&protocol.Message{Type: protocol.MessageTypePeerDisconnected})
	}

	close(conn.send)
}

func (s *Server) handleMessage(conn *Conn, msg *protocol.Message) {
	switch msg.Type {
	case protocol.MessageTypeFindMatch:
		s.handleFindMatch(conn)

	case protocol.MessageTypeSignal:
		s.handleSignal(conn, msg)

	default:
		s.logger.Warn("unknown message type", "type", msg.Type, "client", conn.ID)
	}
}

// handleFindMatch pairs the caller with the waiting connection, or records
// the caller as waiting. Arrival order fixes the roles: the connection
// that waited becomes the initiator.
func (s *Server) handleFindMatch(conn *Conn) {
	if s.waiting == nil || s.waiting == conn {
		s.waiting = conn
		conn.enqueue(&protocol.Message{Type: protocol.MessageTypeWaiting})
		s.logger.Info("client waiting for match", "client", conn.ID)
		return
	}

	initiator := s.waiting
	s.waiting = nil

	roomID := uuid.NewString()
	initiator.roomID = roomID
	initiator.opponent = conn
	conn.roomID = roomID
	conn.opponent = initiator

	s.logger.Info("match found",
		"room", roomID,
		"initiator", initiator.ID,
		"responder", conn.ID,
	)

	initiator.enqueue(&protocol.Message{
		Type:        protocol.MessageTypeMatchFound,
		RoomID:      roomID,
		Role:        protocol.RoleInitiator,
		OpponentID:  conn.ID,
		IsInitiator: true,
		ICEServers:  s.iceServers,
	})
	conn.enqueue(&protocol.Message{
		Type:       protocol.MessageTypeMatchFound,
		RoomID:     roomID,
		Role:       protocol.RoleResponder,
		OpponentID: initiator.ID,
		ICEServers: s.iceServers,
	})
}

// handleSignal forwards the payload to the sender's recorded opponent. A
// signal from a client with no opponent is dropped without error: the peer
// may have disconnected a moment ago.
func (s *Server) handleSignal(conn *Conn, msg *protocol.Message) {
	opponent := conn.opponent
	if opponent == nil {
		s.logger.Debug("dropping signal with no opponent", "client", conn.ID)
		return
	}

	opponent.enqueue(&protocol.Message{
		Type: protocol.MessageTypeSignal,
		From: conn.ID,
		Data: msg.Data,
	})
}
