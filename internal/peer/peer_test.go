package peer

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/peerline/peerline/internal/kvstore"
	"github.com/peerline/peerline/internal/matchmaking"
	"github.com/peerline/peerline/internal/protocol"
	"github.com/peerline/peerline/internal/session"
	"github.com/peerline/peerline/internal/signaling"
)

var testMatchConfig = matchmaking.Config{
	LivenessWindow: 5 * time.Second,
	VerifyDelay:    20 * time.Millisecond,
	PollInterval:   20 * time.Millisecond,
}

// newBroadcastPeer assembles a peer on the shared store, the way the local
// variant wires one up.
func newBroadcastPeer(t *testing.T, store kvstore.Store, id string) *Peer {
	t.Helper()
	logger := slog.Default().With("peer", id)
	transport := signaling.NewBroadcastTransport(store, id, logger)
	matcher := matchmaking.NewBroadcastMatcher(store, transport, id, testMatchConfig, logger)
	p := New(transport, matcher, id, session.Config{IncludeLoopback: true}, logger)
	t.Cleanup(p.Close)
	return p
}

func connectPeer(t *testing.T, p *Peer, results chan<- *matchmaking.Result, errs chan<- error) {
	t.Helper()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		result, err := p.Connect(ctx)
		if err != nil {
			errs <- err
			return
		}
		results <- result
	}()
}

func TestPeerEndToEndOverBroadcast(t *testing.T) {
	store := kvstore.NewMemoryStore()
	alpha := newBroadcastPeer(t, store, "alpha")
	beta := newBroadcastPeer(t, store, "beta")

	alphaOpen := make(chan struct{})
	betaOpen := make(chan struct{})
	alpha.OnChannelOpen(func() { close(alphaOpen) })
	beta.OnChannelOpen(func() { close(betaOpen) })

	received := make(chan string, 1)
	beta.OnData(func(payload []byte, channel session.Channel) {
		if channel != session.ChannelReliable {
			return
		}
		msg, err := session.ParseMessage(payload)
		if err != nil {
			t.Errorf("ParseMessage: %v", err)
			return
		}
		var text string
		if err := msg.DecodePayload(&text); err != nil {
			t.Errorf("DecodePayload: %v", err)
			return
		}
		received <- text
	})

	var matchEvents atomic.Int32
	alpha.OnMatchFound(func(matchmaking.Result) { matchEvents.Add(1) })
	beta.OnMatchFound(func(matchmaking.Result) { matchEvents.Add(1) })

	results := make(chan *matchmaking.Result, 2)
	errs := make(chan error, 2)
	connectPeer(t, alpha, results, errs)
	time.Sleep(50 * time.Millisecond)
	connectPeer(t, beta, results, errs)

	byRole := map[string]*matchmaking.Result{}
	for i := 0; i < 2; i++ {
		select {
		case result := <-results:
			byRole[result.Role] = result
		case err := <-errs:
			t.Fatalf("Connect: %v", err)
		case <-time.After(20 * time.Second):
			t.Fatal("timed out waiting for both peers to connect")
		}
	}
	if byRole[protocol.RoleInitiator] == nil || byRole[protocol.RoleResponder] == nil {
		t.Fatalf("roles are not complementary: %v", byRole)
	}
	if got := matchEvents.Load(); got != 2 {
		t.Errorf("OnMatchFound fired %d times, want 2", got)
	}

	for name, ch := range map[string]chan struct{}{"alpha": alphaOpen, "beta": betaOpen} {
		select {
		case <-ch:
		case <-time.After(20 * time.Second):
			t.Fatalf("timed out waiting for %s channel open", name)
		}
	}

	msg, err := session.NewMessage("chat", "gg")
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	if !alpha.SendMessage(msg, true) {
		t.Fatal("SendMessage reported failure on an open channel")
	}

	select {
	case text := <-received:
		if text != "gg" {
			t.Fatalf("received %q, want gg", text)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("payload never arrived")
	}
}

func TestPeerSendBeforeMatch(t *testing.T) {
	store := kvstore.NewMemoryStore()
	p := newBroadcastPeer(t, store, "solo")

	if p.Send([]byte("early"), true) {
		t.Fatal("Send succeeded before any session existed")
	}
	if p.Session() != nil {
		t.Fatal("Session is non-nil before a match")
	}
}

func TestPeerConnectionLostFiresOnce(t *testing.T) {
	store := kvstore.NewMemoryStore()
	alpha := newBroadcastPeer(t, store, "alpha")
	beta := newBroadcastPeer(t, store, "beta")

	alphaOpen := make(chan struct{})
	alpha.OnChannelOpen(func() { close(alphaOpen) })

	var lost atomic.Int32
	lostOnce := make(chan struct{}, 4)
	alpha.OnConnectionLost(func() {
		lost.Add(1)
		lostOnce <- struct{}{}
	})

	results := make(chan *matchmaking.Result, 2)
	errs := make(chan error, 2)
	connectPeer(t, alpha, results, errs)
	time.Sleep(50 * time.Millisecond)
	connectPeer(t, beta, results, errs)
	for i := 0; i < 2; i++ {
		select {
		case <-results:
		case err := <-errs:
			t.Fatalf("Connect: %v", err)
		case <-time.After(20 * time.Second):
			t.Fatal("timed out waiting for connect")
		}
	}

	select {
	case <-alphaOpen:
	case <-time.After(20 * time.Second):
		t.Fatal("timed out waiting for channel open")
	}

	// Tearing beta down makes alpha observe the loss through its session
	// and through the transport; the callback still fires once.
	beta.Close()

	select {
	case <-lostOnce:
	case <-time.After(30 * time.Second):
		t.Fatal("OnConnectionLost never fired")
	}

	// Give any duplicate event paths a moment to misfire.
	time.Sleep(200 * time.Millisecond)
	if got := lost.Load(); got != 1 {
		t.Fatalf("OnConnectionLost fired %d times, want 1", got)
	}

	// A closed peer's Close stays idempotent.
	alpha.Close()
	alpha.Close()
}

func TestPeerBuffersSignalsBeforeSession(t *testing.T) {
	store := kvstore.NewMemoryStore()
	logger := slog.Default()
	transport := signaling.NewBroadcastTransport(store, "late", logger)
	matcher := matchmaking.NewBroadcastMatcher(store, transport, "late", testMatchConfig, logger)
	p := New(transport, matcher, "late", session.Config{IncludeLoopback: true}, logger)
	t.Cleanup(p.Close)

	// A handshake payload that races ahead of Connect is buffered, not
	// dropped.
	other := signaling.NewBroadcastTransport(store, "early", logger)
	t.Cleanup(other.Close)
	err := other.Send(&protocol.Message{
		Type: protocol.MessageTypeSignal,
		From: "early",
		To:   "late",
		Data: &protocol.SignalData{Type: protocol.SignalTypeOffer, SDP: "v=0 early"},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		p.mu.Lock()
		buffered := len(p.pendingSignals)
		p.mu.Unlock()
		if buffered == 1 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("pending signals = %d, want 1", buffered)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
