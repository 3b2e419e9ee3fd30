package session

import (
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/peerline/peerline/internal/protocol"
)

var protocolCandidate = webrtc.ICECandidateInit{
	Candidate: "candidate:1 1 UDP 2130706431 127.0.0.1 54321 typ host",
}

// pipeSignaler forwards handshake payloads to the other session through a
// dispatcher goroutine, preserving arrival order the way a transport
// would.
type pipeSignaler struct {
	out chan *protocol.SignalData
}

func (p *pipeSignaler) SendSignal(data *protocol.SignalData) error {
	p.out <- data
	return nil
}

// sessionPair wires two loopback sessions together and runs the
// initiator/responder handshake.
type sessionPair struct {
	initiator *Session
	responder *Session
	stop      func()
}

func newSessionPair(t *testing.T) *sessionPair {
	t.Helper()
	logger := slog.Default()
	cfg := Config{IncludeLoopback: true}

	toResponder := &pipeSignaler{out: make(chan *protocol.SignalData, 64)}
	toInitiator := &pipeSignaler{out: make(chan *protocol.SignalData, 64)}

	initiator, err := New(cfg, toResponder, logger)
	if err != nil {
		t.Fatalf("New initiator: %v", err)
	}
	responder, err := New(cfg, toInitiator, logger)
	if err != nil {
		t.Fatalf("New responder: %v", err)
	}

	done := make(chan struct{})
	var once sync.Once
	go func() {
		for {
			select {
			case data := <-toResponder.out:
				responder.HandleSignal(data)
			case data := <-toInitiator.out:
				initiator.HandleSignal(data)
			case <-done:
				return
			}
		}
	}()

	pair := &sessionPair{
		initiator: initiator,
		responder: responder,
		stop: func() {
			once.Do(func() { close(done) })
			initiator.Close()
			responder.Close()
		},
	}
	t.Cleanup(pair.stop)
	return pair
}

func TestSessionHandshakeOpensChannels(t *testing.T) {
	pair := newSessionPair(t)

	initiatorOpen := make(chan struct{})
	responderOpen := make(chan struct{})
	pair.initiator.OnChannelOpen(func() { close(initiatorOpen) })
	pair.responder.OnChannelOpen(func() { close(responderOpen) })

	pair.responder.AwaitOffer()
	if got := pair.responder.State(); got != StateAwaitingOffer {
		t.Fatalf("responder state = %s, want %s", got, StateAwaitingOffer)
	}

	if err := pair.initiator.StartOffer(); err != nil {
		t.Fatalf("StartOffer: %v", err)
	}

	for name, ch := range map[string]chan struct{}{
		"initiator": initiatorOpen,
		"responder": responderOpen,
	} {
		select {
		case <-ch:
		case <-time.After(10 * time.Second):
			t.Fatalf("timed out waiting for %s reliable channel to open", name)
		}
	}

	if got := pair.initiator.State(); got != StateConnected {
		t.Errorf("initiator state = %s, want %s", got, StateConnected)
	}
	if got := pair.responder.State(); got != StateConnected {
		t.Errorf("responder state = %s, want %s", got, StateConnected)
	}
}

func TestSessionDataFlowsBothChannels(t *testing.T) {
	pair := newSessionPair(t)

	type received struct {
		payload string
		channel Channel
	}
	got := make(chan received, 4)
	pair.responder.OnData(func(payload []byte, channel Channel) {
		got <- received{payload: string(payload), channel: channel}
	})

	open := make(chan struct{})
	pair.initiator.OnChannelOpen(func() { close(open) })

	pair.responder.AwaitOffer()
	if err := pair.initiator.StartOffer(); err != nil {
		t.Fatalf("StartOffer: %v", err)
	}

	select {
	case <-open:
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for channel open")
	}

	if !pair.initiator.Send([]byte("move"), true) {
		t.Fatal("Send on reliable channel reported failure")
	}

	select {
	case r := <-got:
		if r.payload != "move" || r.channel != ChannelReliable {
			t.Fatalf("received %q on %s, want move on %s", r.payload, r.channel, ChannelReliable)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for reliable payload")
	}

	// The unreliable channel may open slightly after the reliable one.
	deadline := time.Now().Add(10 * time.Second)
	for !pair.initiator.Send([]byte("state"), false) {
		if time.Now().After(deadline) {
			t.Fatal("unreliable channel never became sendable")
		}
		time.Sleep(20 * time.Millisecond)
	}

	select {
	case r := <-got:
		if r.payload != "state" || r.channel != ChannelUnreliable {
			t.Fatalf("received %q on %s, want state on %s", r.payload, r.channel, ChannelUnreliable)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for unreliable payload")
	}
}

func TestSessionSendFailsFastBeforeOpen(t *testing.T) {
	pair := newSessionPair(t)

	if pair.initiator.Send([]byte("early"), true) {
		t.Fatal("Send succeeded before any channel existed")
	}
	if pair.initiator.Send([]byte("early"), false) {
		t.Fatal("Send succeeded before any channel existed")
	}
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	pair := newSessionPair(t)

	var disconnects int
	var mu sync.Mutex
	pair.initiator.OnDisconnected(func() {
		mu.Lock()
		disconnects++
		mu.Unlock()
	})

	if err := pair.initiator.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := pair.initiator.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if got := pair.initiator.State(); got != StateClosed {
		t.Fatalf("state after Close = %s, want %s", got, StateClosed)
	}

	// Close never reports as a disconnect.
	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if disconnects != 0 {
		t.Fatalf("OnDisconnected fired %d times after local Close", disconnects)
	}
}

func TestSessionBuffersEarlyCandidates(t *testing.T) {
	logger := slog.Default()
	sink := &pipeSignaler{out: make(chan *protocol.SignalData, 64)}
	s, err := New(Config{IncludeLoopback: true}, sink, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	// A candidate before any remote description must be buffered, not
	// rejected.
	s.HandleSignal(&protocol.SignalData{
		Type:      protocol.SignalTypeICECandidate,
		Candidate: &protocolCandidate,
	})

	s.mu.Lock()
	pending := len(s.queue.pending)
	s.mu.Unlock()
	if pending != 1 {
		t.Fatalf("pending candidates = %d, want 1", pending)
	}
}

func TestSessionLateCandidateLeavesOpenChannelUndisturbed(t *testing.T) {
	pair := newSessionPair(t)

	received := make(chan string, 1)
	pair.responder.OnData(func(payload []byte, channel Channel) {
		if channel == ChannelReliable {
			received <- string(payload)
		}
	})

	open := make(chan struct{})
	pair.initiator.OnChannelOpen(func() { close(open) })

	pair.responder.AwaitOffer()
	if err := pair.initiator.StartOffer(); err != nil {
		t.Fatalf("StartOffer: %v", err)
	}
	select {
	case <-open:
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for channel open")
	}

	// A candidate arriving this late applies directly instead of being
	// buffered, and the established channel keeps working.
	pair.initiator.HandleSignal(&protocol.SignalData{
		Type:      protocol.SignalTypeICECandidate,
		Candidate: &protocolCandidate,
	})

	pair.initiator.mu.Lock()
	pending := len(pair.initiator.queue.pending)
	pair.initiator.mu.Unlock()
	if pending != 0 {
		t.Fatalf("late candidate was buffered, pending = %d", pending)
	}

	if !pair.initiator.Send([]byte("still here"), true) {
		t.Fatal("Send failed after late candidate")
	}
	select {
	case got := <-received:
		if got != "still here" {
			t.Fatalf("received %q, want still here", got)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("payload never arrived after late candidate")
	}
}

func TestSessionIgnoresNilCandidate(t *testing.T) {
	logger := slog.Default()
	sink := &pipeSignaler{out: make(chan *protocol.SignalData, 64)}
	s, err := New(Config{IncludeLoopback: true}, sink, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	s.HandleSignal(&protocol.SignalData{Type: protocol.SignalTypeICECandidate})

	s.mu.Lock()
	pending := len(s.queue.pending)
	s.mu.Unlock()
	if pending != 0 {
		t.Fatalf("pending candidates = %d, want 0", pending)
	}
}

func TestStateStringCoversAllStates(t *testing.T) {
	states := []State{
		StateUninitialized, StateOfferSent, StateAwaitingOffer,
		StateDescriptionExchanged, StateICEGathering, StateConnected,
		StateDisconnected, StateFailed, StateClosed,
	}
	for _, s := range states {
		if s.String() == "unknown" {
			t.Errorf("state %d has no name", int(s))
		}
	}
}
