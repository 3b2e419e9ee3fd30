package matchmaking

import (
	"context"
	"log/slog"
	"sync"

	"github.com/peerline/peerline/internal/protocol"
	"github.com/peerline/peerline/internal/signaling"
)

// RelayMatcher finds a match through the relay server. The server holds a
// single waiting slot and pairs arrivals in order, so no election is
// needed: the first participant becomes the initiator.
type RelayMatcher struct {
	transport signaling.Transport
	logger    *slog.Logger

	inbox chan *protocol.Message

	mu       sync.Mutex
	clientID string
	done     bool
}

// NewRelayMatcher creates a matcher on top of a connected relay transport.
func NewRelayMatcher(transport signaling.Transport, logger *slog.Logger) *RelayMatcher {
	return &RelayMatcher{
		transport: transport,
		logger:    logger,
		inbox:     make(chan *protocol.Message, 16),
	}
}

// ClientID returns the identity the relay server assigned, or empty if the
// client-id message has not arrived yet.
func (m *RelayMatcher) ClientID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clientID
}

// Deliver implements Matcher.
func (m *RelayMatcher) Deliver(msg *protocol.Message) {
	m.mu.Lock()
	finished := m.done
	if msg.Type == protocol.MessageTypeClientID {
		m.clientID = msg.ClientID
	}
	m.mu.Unlock()

	if finished {
		return
	}
	select {
	case m.inbox <- msg:
	default:
		m.logger.Warn("matchmaking inbox full, dropping message", "type", msg.Type)
	}
}

// FindMatch implements Matcher. It asks the server for a match and waits
// for the match-found reply.
func (m *RelayMatcher) FindMatch(ctx context.Context) (*Result, error) {
	if err := m.transport.Send(&protocol.Message{Type: protocol.MessageTypeFindMatch}); err != nil {
		return nil, err
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case msg := <-m.inbox:
			switch msg.Type {
			case protocol.MessageTypeWaiting:
				m.logger.Info("waiting for an opponent")

			case protocol.MessageTypeMatchFound:
				m.mu.Lock()
				m.done = true
				m.mu.Unlock()
				return &Result{
					RoomID:     msg.RoomID,
					Role:       msg.Role,
					OpponentID: msg.OpponentID,
					ICEServers: msg.ICEServers,
				}, nil

			default:
				// client-id and anything else: already recorded or not
				// matchmaking's concern.
			}
		}
	}
}
