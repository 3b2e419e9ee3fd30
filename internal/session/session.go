// Package session drives a single WebRTC peer connection from matched
// opponent to open data channels. The initiator creates the two well-known
// channels and produces the offer; the responder answers and captures the
// channels by label. Negotiation errors never escape as panics or returned
// errors mid-handshake: they are logged and the session stalls in its
// current state, leaving retry policy to the consumer.
package session

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/peerline/peerline/internal/protocol"
)

// Channel identifies which data channel a payload travels on.
type Channel string

// Well-known channel labels, fixed so the responder can capture them.
const (
	// ChannelReliable is ordered and fully retransmitted. Its open event
	// is the authoritative "ready to exchange game data" signal.
	ChannelReliable Channel = "reliable"

	// ChannelUnreliable is unordered with zero retransmits, for state
	// updates where the next packet supersedes a lost one.
	ChannelUnreliable Channel = "unreliable"
)

// State is the negotiation lifecycle. A session only moves forward; a
// session is never reused after Close.
type State int

const (
	StateUninitialized State = iota
	StateOfferSent
	StateAwaitingOffer
	StateDescriptionExchanged
	StateICEGathering
	StateConnected
	StateDisconnected
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateOfferSent:
		return "offer-sent"
	case StateAwaitingOffer:
		return "awaiting-offer"
	case StateDescriptionExchanged:
		return "description-exchanged"
	case StateICEGathering:
		return "ice-gathering"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Signaler delivers an outbound handshake payload to the opponent. The
// peer facade implements it on top of whichever transport matched them.
type Signaler interface {
	SendSignal(data *protocol.SignalData) error
}

// Config carries the session's WebRTC parameters.
type Config struct {
	// ICEServers for candidate gathering. STUN-only in practice.
	ICEServers []protocol.ICEServer

	// IncludeLoopback admits loopback ICE candidates, for same-machine
	// sessions and hermetic tests.
	IncludeLoopback bool
}

// Session owns one PeerConnection and its two data channels.
type Session struct {
	logger   *slog.Logger
	signaler Signaler
	pc       *webrtc.PeerConnection

	mu         sync.Mutex
	state      State
	reliable   *webrtc.DataChannel
	unreliable *webrtc.DataChannel
	queue      candidateQueue
	closed     bool

	onConnected    func()
	onDisconnected func()
	onChannelOpen  func()
	onData         func(payload []byte, channel Channel)
}

// New creates a session toward the matched opponent. The initiator must
// follow up with StartOffer; the responder just feeds HandleSignal.
func New(cfg Config, signaler Signaler, logger *slog.Logger) (*Session, error) {
	s := &Session{
		logger:   logger,
		signaler: signaler,
		state:    StateUninitialized,
	}

	settings := webrtc.SettingEngine{}
	if cfg.IncludeLoopback {
		settings.SetIncludeLoopbackCandidate(true)
	}
	api := webrtc.NewAPI(webrtc.WithSettingEngine(settings))

	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: protocol.ToWebRTC(cfg.ICEServers),
	})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}
	s.pc = pc

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			// Gathering complete; nothing more to send.
			return
		}
		init := candidate.ToJSON()
		err := s.signaler.SendSignal(&protocol.SignalData{
			Type:      protocol.SignalTypeICECandidate,
			Candidate: &init,
		})
		if err != nil {
			s.logger.Warn("failed to send ICE candidate", "error", err)
		}
	})

	pc.OnICEGatheringStateChange(func(state webrtc.ICEGatheringState) {
		if state == webrtc.ICEGatheringStateGathering {
			s.advance(StateICEGathering)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.handleConnectionState(state)
	})

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		s.adoptChannel(dc)
	})

	return s, nil
}

// OnConnected registers the transport-level connectivity callback. This is
// not the ready signal: wait for OnChannelOpen before sending game data.
func (s *Session) OnConnected(f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onConnected = f
}

// OnDisconnected registers the connectivity-lost callback. It fires at
// most once, whether the transport failed or the session was closed.
func (s *Session) OnDisconnected(f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDisconnected = f
}

// OnChannelOpen registers the ready callback, fired when the reliable
// channel opens.
func (s *Session) OnChannelOpen(f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChannelOpen = f
}

// OnData registers the inbound payload callback.
func (s *Session) OnData(f func(payload []byte, channel Channel)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onData = f
}

// State returns the current negotiation state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// StartOffer runs the initiator path: create both channels before the
// offer so their descriptions ride along in the SDP, then send the offer.
func (s *Session) StartOffer() error {
	ordered := true
	reliable, err := s.pc.CreateDataChannel(string(ChannelReliable), &webrtc.DataChannelInit{
		Ordered: &ordered,
	})
	if err != nil {
		return fmt.Errorf("create reliable channel: %w", err)
	}
	s.bindChannel(reliable, ChannelReliable)

	unordered := false
	maxRetransmits := uint16(0)
	unreliable, err := s.pc.CreateDataChannel(string(ChannelUnreliable), &webrtc.DataChannelInit{
		Ordered:        &unordered,
		MaxRetransmits: &maxRetransmits,
	})
	if err != nil {
		return fmt.Errorf("create unreliable channel: %w", err)
	}
	s.bindChannel(unreliable, ChannelUnreliable)

	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}

	s.advance(StateOfferSent)

	return s.signaler.SendSignal(&protocol.SignalData{
		Type: protocol.SignalTypeOffer,
		SDP:  offer.SDP,
	})
}

// AwaitOffer marks the responder side as waiting for the remote offer.
func (s *Session) AwaitOffer() {
	s.advance(StateAwaitingOffer)
}

// HandleSignal applies one handshake payload from the opponent. Failures
// are logged and otherwise swallowed: the session stalls rather than
// crashing, and this layer never retries.
func (s *Session) HandleSignal(data *protocol.SignalData) {
	switch data.Type {
	case protocol.SignalTypeOffer:
		s.handleOffer(data)

	case protocol.SignalTypeAnswer:
		s.handleAnswer(data)

	case protocol.SignalTypeICECandidate:
		s.handleCandidate(data)

	default:
		s.logger.Warn("unexpected signal type", "type", data.Type)
	}
}

// handleOffer runs the responder path: install the remote offer, drain any
// buffered candidates, produce and send the answer.
func (s *Session) handleOffer(data *protocol.SignalData) {
	err := s.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  data.SDP,
	})
	if err != nil {
		s.logger.Error("set remote offer", "error", err)
		return
	}
	s.advance(StateDescriptionExchanged)
	s.flushCandidates()

	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		s.logger.Error("create answer", "error", err)
		return
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		s.logger.Error("set local description", "error", err)
		return
	}

	err = s.signaler.SendSignal(&protocol.SignalData{
		Type: protocol.SignalTypeAnswer,
		SDP:  answer.SDP,
	})
	if err != nil {
		s.logger.Error("send answer", "error", err)
	}
}

func (s *Session) handleAnswer(data *protocol.SignalData) {
	err := s.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  data.SDP,
	})
	if err != nil {
		s.logger.Error("set remote answer", "error", err)
		return
	}
	s.advance(StateDescriptionExchanged)
	s.flushCandidates()
}

// handleCandidate applies a remote candidate, or buffers it when no remote
// description exists yet to attach it to.
func (s *Session) handleCandidate(data *protocol.SignalData) {
	if data.Candidate == nil {
		return
	}

	s.mu.Lock()
	buffered := s.queue.buffer(*data.Candidate)
	s.mu.Unlock()
	if buffered {
		return
	}

	if err := s.pc.AddICECandidate(*data.Candidate); err != nil {
		s.logger.Warn("add ICE candidate", "error", err)
	}
}

// flushCandidates drains the pending queue in arrival order, exactly once,
// immediately after the remote description is set.
func (s *Session) flushCandidates() {
	s.mu.Lock()
	pending := s.queue.drain()
	s.mu.Unlock()

	for _, candidate := range pending {
		if err := s.pc.AddICECandidate(candidate); err != nil {
			s.logger.Warn("add buffered ICE candidate", "error", err)
		}
	}
}

// Send transmits a payload on the selected channel. It reports false, with
// no buffering and no error, when that channel is not open.
func (s *Session) Send(payload []byte, reliable bool) bool {
	s.mu.Lock()
	dc := s.reliable
	if !reliable {
		dc = s.unreliable
	}
	s.mu.Unlock()

	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return false
	}
	return dc.Send(payload) == nil
}

// Close tears down both channels and the peer connection. Idempotent: a
// second Close is a no-op and produces no further events.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.state = StateClosed
	reliable, unreliable := s.reliable, s.unreliable
	s.mu.Unlock()

	if reliable != nil {
		reliable.Close()
	}
	if unreliable != nil {
		unreliable.Close()
	}
	return s.pc.Close()
}

// adoptChannel captures a responder-side channel by its well-known label.
func (s *Session) adoptChannel(dc *webrtc.DataChannel) {
	switch Channel(dc.Label()) {
	case ChannelReliable:
		s.bindChannel(dc, ChannelReliable)
	case ChannelUnreliable:
		s.bindChannel(dc, ChannelUnreliable)
	default:
		s.logger.Warn("ignoring unexpected data channel", "label", dc.Label())
	}
}

func (s *Session) bindChannel(dc *webrtc.DataChannel, channel Channel) {
	s.mu.Lock()
	if channel == ChannelReliable {
		s.reliable = dc
	} else {
		s.unreliable = dc
	}
	s.mu.Unlock()

	dc.OnOpen(func() {
		s.logger.Debug("data channel open", "channel", channel)
		if channel != ChannelReliable {
			return
		}
		s.mu.Lock()
		callback := s.onChannelOpen
		s.mu.Unlock()
		if callback != nil {
			callback()
		}
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		s.mu.Lock()
		callback := s.onData
		s.mu.Unlock()
		if callback != nil {
			callback(msg.Data, channel)
		}
	})
}

func (s *Session) handleConnectionState(state webrtc.PeerConnectionState) {
	s.logger.Debug("connection state change", "state", state.String())

	switch state {
	case webrtc.PeerConnectionStateConnected:
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		s.state = StateConnected
		callback := s.onConnected
		s.mu.Unlock()
		if callback != nil {
			callback()
		}

	case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
		s.mu.Lock()
		if s.closed {
			// Teardown we initiated; Close already settled the state.
			s.mu.Unlock()
			return
		}
		alreadyDown := s.state == StateDisconnected || s.state == StateFailed
		if state == webrtc.PeerConnectionStateFailed {
			s.state = StateFailed
		} else {
			s.state = StateDisconnected
		}
		callback := s.onDisconnected
		s.mu.Unlock()
		if callback != nil && !alreadyDown {
			callback()
		}
	}
}

// advance moves the state machine forward, never backward and never out of
// a terminal state.
func (s *Session) advance(next State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.state >= StateConnected || next <= s.state {
		return
	}
	s.state = next
}
