// Package peer is the consumer-facing composition: it wires a signaling
// transport, a matcher and a negotiation session together and surfaces the
// lifecycle as typed callbacks. The game layer talks only to this package.
package peer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/peerline/peerline/internal/matchmaking"
	"github.com/peerline/peerline/internal/protocol"
	"github.com/peerline/peerline/internal/session"
	"github.com/peerline/peerline/internal/signaling"
)

// Peer runs one participant through matchmaking and session negotiation.
// A Peer serves a single match; create a new one to match again.
type Peer struct {
	transport  signaling.Transport
	matcher    matchmaking.Matcher
	sessionCfg session.Config
	logger     *slog.Logger

	mu       sync.Mutex
	selfID   string
	opponent string
	sess     *session.Session

	// pendingSignals buffers handshake payloads that race ahead of
	// session construction: the responder can receive the offer moments
	// after match-found, before Connect has built the session.
	pendingSignals []*protocol.SignalData
	closed         bool
	lostFired      bool

	onMatchFound            func(matchmaking.Result)
	onConnectionEstablished func()
	onConnectionLost        func()
	onChannelOpen           func()
	onData                  func(payload []byte, channel session.Channel)
}

// New creates a peer. selfID is this participant's identity: the
// broadcast-medium identity, or empty for the relay variant where the
// server assigns one.
func New(transport signaling.Transport, matcher matchmaking.Matcher, selfID string, sessionCfg session.Config, logger *slog.Logger) *Peer {
	p := &Peer{
		transport:  transport,
		matcher:    matcher,
		sessionCfg: sessionCfg,
		selfID:     selfID,
		logger:     logger,
	}
	go p.dispatch()
	return p
}

// OnMatchFound registers the matchmaking completion callback.
func (p *Peer) OnMatchFound(f func(matchmaking.Result)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onMatchFound = f
}

// OnConnectionEstablished registers the transport-level connectivity
// callback.
func (p *Peer) OnConnectionEstablished(f func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onConnectionEstablished = f
}

// OnConnectionLost registers the connectivity-lost callback. It covers
// both transport failure and the opponent disconnecting from the relay.
func (p *Peer) OnConnectionLost(f func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onConnectionLost = f
}

// OnChannelOpen registers the ready callback: the reliable channel is open
// and game data can flow.
func (p *Peer) OnChannelOpen(f func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onChannelOpen = f
}

// OnData registers the inbound payload callback.
func (p *Peer) OnData(f func(payload []byte, channel session.Channel)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onData = f
}

// Connect finds a match and starts session negotiation. It returns once
// the handshake is underway; completion arrives through OnChannelOpen.
// Cancelling ctx abandons matchmaking but not an already-started session.
func (p *Peer) Connect(ctx context.Context) (*matchmaking.Result, error) {
	result, err := p.matcher.FindMatch(ctx)
	if err != nil {
		return nil, fmt.Errorf("find match: %w", err)
	}

	p.mu.Lock()
	callback := p.onMatchFound
	p.opponent = result.OpponentID
	p.mu.Unlock()
	if callback != nil {
		callback(*result)
	}

	cfg := p.sessionCfg
	if len(result.ICEServers) > 0 {
		cfg.ICEServers = result.ICEServers
	}

	sess, err := session.New(cfg, signalerFunc(p.sendSignal), p.logger)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	sess.OnConnected(func() { p.emit(func() func() { return p.onConnectionEstablished }) })
	sess.OnDisconnected(p.emitConnectionLost)
	sess.OnChannelOpen(func() { p.emit(func() func() { return p.onChannelOpen }) })
	sess.OnData(func(payload []byte, channel session.Channel) {
		p.mu.Lock()
		callback := p.onData
		p.mu.Unlock()
		if callback != nil {
			callback(payload, channel)
		}
	})

	p.installSession(sess)

	if result.IsInitiator() {
		if err := sess.StartOffer(); err != nil {
			// The opponent is still healthy; negotiation has merely
			// stalled. Report and let the caller decide on a retry.
			return result, fmt.Errorf("start offer: %w", err)
		}
	} else {
		sess.AwaitOffer()
	}

	return result, nil
}

// Send transmits a raw payload to the opponent on the selected channel.
func (p *Peer) Send(payload []byte, reliable bool) bool {
	p.mu.Lock()
	sess := p.sess
	p.mu.Unlock()
	if sess == nil {
		return false
	}
	return sess.Send(payload, reliable)
}

// SendMessage transmits a framed game message to the opponent.
func (p *Peer) SendMessage(msg session.Message, reliable bool) bool {
	p.mu.Lock()
	sess := p.sess
	p.mu.Unlock()
	if sess == nil {
		return false
	}
	return sess.SendMessage(msg, reliable)
}

// Session returns the negotiation session, or nil before a match is found.
func (p *Peer) Session() *session.Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sess
}

// Close tears down the session and the transport. Idempotent.
func (p *Peer) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	sess := p.sess
	p.mu.Unlock()

	if sess != nil {
		sess.Close()
	}
	p.transport.Close()
}

// dispatch routes every incoming transport message to its consumer:
// matchmaking traffic to the matcher, handshake payloads to the session,
// peer-disconnected to the lost callback. It exits when the transport
// closes, which also signals connection loss if a match was in flight.
func (p *Peer) dispatch() {
	for msg := range p.transport.Incoming() {
		switch msg.Type {
		case protocol.MessageTypeSignal:
			if msg.Data == nil {
				p.logger.Warn("signal message without payload")
				continue
			}
			p.deliverSignal(msg.Data)

		case protocol.MessageTypePeerDisconnected:
			p.emitConnectionLost()

		default:
			p.matcher.Deliver(msg)
		}
	}

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if !closed {
		p.emitConnectionLost()
	}
}

// emitConnectionLost fires the lost callback at most once per peer, no
// matter how many layers observe the same loss.
func (p *Peer) emitConnectionLost() {
	p.mu.Lock()
	if p.lostFired {
		p.mu.Unlock()
		return
	}
	p.lostFired = true
	callback := p.onConnectionLost
	p.mu.Unlock()
	if callback != nil {
		callback()
	}
}

// deliverSignal hands a handshake payload to the session, buffering it if
// the session does not exist yet.
func (p *Peer) deliverSignal(data *protocol.SignalData) {
	p.mu.Lock()
	sess := p.sess
	if sess == nil {
		p.pendingSignals = append(p.pendingSignals, data)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	sess.HandleSignal(data)
}

// installSession publishes the session and replays any handshake payloads
// that arrived before it existed.
func (p *Peer) installSession(sess *session.Session) {
	p.mu.Lock()
	p.sess = sess
	pending := p.pendingSignals
	p.pendingSignals = nil
	p.mu.Unlock()

	for _, data := range pending {
		sess.HandleSignal(data)
	}
}

// sendSignal implements the session's Signaler on the peer's transport,
// addressing the payload to the matched opponent.
func (p *Peer) sendSignal(data *protocol.SignalData) error {
	p.mu.Lock()
	from, to := p.selfID, p.opponent
	p.mu.Unlock()

	data.From = from
	data.To = to

	return p.transport.Send(&protocol.Message{
		Type: protocol.MessageTypeSignal,
		From: from,
		To:   to,
		Data: data,
	})
}

// emit invokes a callback registered on the peer, if any. The getter
// indirection keeps the lock scope to the field read.
func (p *Peer) emit(get func() func()) {
	p.mu.Lock()
	callback := get()
	p.mu.Unlock()
	if callback != nil {
		callback()
	}
}

// signalerFunc adapts a function to the session.Signaler interface.
type signalerFunc func(data *protocol.SignalData) error

func (f signalerFunc) SendSignal(data *protocol.SignalData) error {
	return f(data)
}
