// Package matchmaking pairs exactly two participants into a room and
// assigns one the initiator role and the other the responder role. Two
// variants exist: RelayMatcher defers pairing to the relay server, which
// serializes arrivals; BroadcastMatcher runs a race-tolerant election over
// the shared store, where simultaneous initiator claims are resolved by
// registration timestamp.
package matchmaking

import (
	"context"
	"time"

	"github.com/peerline/peerline/internal/protocol"
)

// Defaults for the timing knobs. All three are injectable so tests can
// converge quickly and deterministically.
const (
	DefaultLivenessWindow = 10 * time.Second
	DefaultVerifyDelay    = 100 * time.Millisecond
	DefaultPollInterval   = 200 * time.Millisecond
)

// Config carries matchmaking parameters.
type Config struct {
	// LivenessWindow bounds how stale a registry entry may be before the
	// participant is dropped from consideration.
	LivenessWindow time.Duration

	// VerifyDelay is how long a fresh initiator waits before re-reading
	// the registry to detect a simultaneous initiator claim.
	VerifyDelay time.Duration

	// PollInterval is how often a confirmed initiator re-checks for a
	// late-arriving earlier initiator, and how often liveness is
	// refreshed.
	PollInterval time.Duration

	// ICEServers is attached to broadcast-medium match results. Relay
	// results carry the server's list instead.
	ICEServers []protocol.ICEServer
}

func (c Config) withDefaults() Config {
	if c.LivenessWindow == 0 {
		c.LivenessWindow = DefaultLivenessWindow
	}
	if c.VerifyDelay == 0 {
		c.VerifyDelay = DefaultVerifyDelay
	}
	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
	return c
}

// Result is emitted exactly once per successful pairing.
type Result struct {
	RoomID     string
	Role       string
	OpponentID string
	ICEServers []protocol.ICEServer
}

// IsInitiator reports whether this side produces the offer.
func (r Result) IsInitiator() bool {
	return r.Role == protocol.RoleInitiator
}

// Matcher is implemented by both variants. FindMatch blocks until a match
// is found or ctx is cancelled; it imposes no timeout of its own, so a
// participant whose peer never arrives simply never completes. Deliver
// feeds the matcher the signaling messages addressed to it; messages
// arriving after completion are discarded.
type Matcher interface {
	FindMatch(ctx context.Context) (*Result, error)
	Deliver(msg *protocol.Message)
}
