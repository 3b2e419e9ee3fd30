package matchmaking

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/peerline/peerline/internal/kvstore"
	"github.com/peerline/peerline/internal/protocol"
	"github.com/peerline/peerline/internal/signaling"
)

// RegistryKey is the shared store key holding the participant registry:
// a JSON object mapping participant identity to its registration entry.
const RegistryKey = "peerline:participants"

// registryAttempts bounds the compare-and-write retry loop for one
// registry mutation. Contention on the registry is limited to a handful of
// participants, so a mutation that loses this many races is a bug.
const registryAttempts = 16

// BroadcastMatcher elects roles over the shared store. Participants
// register under RegistryKey; the first to claim the initiator role wins,
// with simultaneous claims resolved by registration timestamp (and by
// identity string as the deterministic secondary key). The loser demotes
// itself and asks to join the winner, completing the pairing with a
// join-request / join-accept exchange over the broadcast transport.
type BroadcastMatcher struct {
	store     kvstore.Store
	transport signaling.Transport
	selfID    string
	cfg       Config
	logger    *slog.Logger

	// now is the clock; replaced in tests.
	now func() time.Time

	inbox chan *protocol.Message

	mu   sync.Mutex
	done bool
}

// NewBroadcastMatcher creates a matcher for one participant. The store and
// the transport must be shared with (respectively wired to) the other
// participants on this machine.
func NewBroadcastMatcher(store kvstore.Store, transport signaling.Transport, selfID string, cfg Config, logger *slog.Logger) *BroadcastMatcher {
	return &BroadcastMatcher{
		store:     store,
		transport: transport,
		selfID:    selfID,
		cfg:       cfg.withDefaults(),
		logger:    logger,
		now:       time.Now,
		inbox:     make(chan *protocol.Message, 16),
	}
}

// Deliver implements Matcher.
func (m *BroadcastMatcher) Deliver(msg *protocol.Message) {
	m.mu.Lock()
	finished := m.done
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

// FindMatch implements Matcher. It either joins an existing initiator as
// responder or claims the initiator role itself, then verifies the claim
// after VerifyDelay and keeps re-verifying every PollInterval, yielding to
// any earlier-registered initiator it discovers.
func (m *BroadcastMatcher) FindMatch(ctx context.Context) (*Result, error) {
	if host, ok := m.lookingInitiator(); ok {
		m.register(protocol.RoleResponder, false)
		m.sendJoinRequest(host)
		return m.awaitAccept(ctx, host)
	}

	m.register(protocol.RoleInitiator, true)
	m.logger.Info("claimed initiator role", "id", m.selfID)

	verify := time.NewTimer(m.cfg.VerifyDelay)
	defer verify.Stop()
	poll := time.NewTicker(m.cfg.PollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			m.withdraw()
			return nil, ctx.Err()

		case <-verify.C:
			if winner, ok := m.electionLoser(); ok {
				return m.yieldTo(ctx, winner)
			}

		case <-poll.C:
			m.refreshLiveness()
			if winner, ok := m.electionLoser(); ok {
				return m.yieldTo(ctx, winner)
			}

		case msg := <-m.inbox:
			if msg.Type != protocol.MessageTypeJoinRequest {
				continue
			}
			return m.accept(msg.From)
		}
	}
}

// accept completes matchmaking on the initiator side: record the opponent,
// stop looking, and hand the responder the room identity.
func (m *BroadcastMatcher) accept(opponentID string) (*Result, error) {
	roomID := uuid.NewString()

	m.updateRegistry(func(regs map[string]protocol.Registration) {
		entry := regs[m.selfID]
		entry.LookingForMatch = false
		entry.MatchedWith = opponentID
		regs[m.selfID] = entry
	})

	err := m.transport.Send(&protocol.Message{
		Type:   protocol.MessageTypeJoinAccept,
		RoomID: roomID,
		From:   m.selfID,
		To:     opponentID,
	})
	if err != nil {
		m.logger.Warn("failed to send join-accept", "opponent", opponentID, "error", err)
	}

	m.finish()
	m.logger.Info("match found", "room", roomID, "role", protocol.RoleInitiator, "opponent", opponentID)
	return &Result{
		RoomID:     roomID,
		Role:       protocol.RoleInitiator,
		OpponentID: opponentID,
		ICEServers: m.cfg.ICEServers,
	}, nil
}

// yieldTo demotes this participant to responder and joins the winning
// initiator instead.
func (m *BroadcastMatcher) yieldTo(ctx context.Context, winner string) (*Result, error) {
	m.logger.Info("yielding initiator role", "winner", winner)
	m.updateRegistry(func(regs map[string]protocol.Registration) {
		entry := regs[m.selfID]
		entry.Role = protocol.RoleResponder
		entry.LookingForMatch = false
		regs[m.selfID] = entry
	})
	m.sendJoinRequest(winner)
	return m.awaitAccept(ctx, winner)
}

// awaitAccept waits for the join-accept from the chosen initiator. If the
// initiator has already matched someone else, the request is ignored on
// its side and this participant simply never completes; callers bound the
// wait through ctx.
func (m *BroadcastMatcher) awaitAccept(ctx context.Context, host string) (*Result, error) {
	poll := time.NewTicker(m.cfg.PollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			m.withdraw()
			return nil, ctx.Err()

		case <-poll.C:
			m.refreshLiveness()

		case msg := <-m.inbox:
			if msg.Type != protocol.MessageTypeJoinAccept || msg.From != host {
				continue
			}

			m.updateRegistry(func(regs map[string]protocol.Registration) {
				entry := regs[m.selfID]
				entry.MatchedWith = host
				regs[m.selfID] = entry
			})

			m.finish()
			m.logger.Info("match found", "room", msg.RoomID, "role", protocol.RoleResponder, "opponent", host)
			return &Result{
				RoomID:     msg.RoomID,
				Role:       protocol.RoleResponder,
				OpponentID: host,
				ICEServers: m.cfg.ICEServers,
			}, nil
		}
	}
}

func (m *BroadcastMatcher) sendJoinRequest(host string) {
	err := m.transport.Send(&protocol.Message{
		Type: protocol.MessageTypeJoinRequest,
		From: m.selfID,
		To:   host,
	})
	if err != nil {
		m.logger.Warn("failed to send join-request", "host", host, "error", err)
	}
}

func (m *BroadcastMatcher) finish() {
	m.mu.Lock()
	m.done = true
	m.mu.Unlock()
}

// lookingInitiator returns the active initiator that is looking for a
// match, if any. When several exist (a race another participant has not
// resolved yet), the election ordering picks the same one every
// participant would.
func (m *BroadcastMatcher) lookingInitiator() (string, bool) {
	best := protocol.Registration{}
	found := false
	for _, entry := range m.activeEntries() {
		if entry.ID == m.selfID || entry.Role != protocol.RoleInitiator || !entry.LookingForMatch {
			continue
		}
		if !found || earlier(entry, best) {
			best = entry
			found = true
		}
	}
	return best.ID, found
}

// electionLoser re-reads the registry and reports whether this participant
// lost the initiator election: some other active, looking initiator has an
// earlier registration. The returned identity is the winner to join.
func (m *BroadcastMatcher) electionLoser() (string, bool) {
	self, ok := m.selfEntry()
	if !ok {
		return "", false
	}
	for _, entry := range m.activeEntries() {
		if entry.ID == m.selfID || entry.Role != protocol.RoleInitiator || !entry.LookingForMatch {
			continue
		}
		if earlier(entry, self) {
			return entry.ID, true
		}
	}
	return "", false
}

// earlier orders registrations by registration timestamp, then by identity
// string. This is the deterministic tie-break every participant applies to
// the same registry state.
func earlier(a, b protocol.Registration) bool {
	if a.Timestamp != b.Timestamp {
		return a.Timestamp < b.Timestamp
	}
	return a.ID < b.ID
}

// register writes this participant's registry entry. The timestamp is the
// registration instant and is never rewritten afterwards.
func (m *BroadcastMatcher) register(role string, looking bool) {
	now := m.now().UnixMilli()
	m.updateRegistry(func(regs map[string]protocol.Registration) {
		regs[m.selfID] = protocol.Registration{
			ID:              m.selfID,
			Active:          true,
			Timestamp:       now,
			LastSeen:        now,
			Role:            role,
			LookingForMatch: looking,
		}
	})
}

func (m *BroadcastMatcher) refreshLiveness() {
	now := m.now().UnixMilli()
	m.updateRegistry(func(regs map[string]protocol.Registration) {
		entry, ok := regs[m.selfID]
		if !ok {
			return
		}
		entry.LastSeen = now
		regs[m.selfID] = entry
	})
}

func (m *BroadcastMatcher) withdraw() {
	m.finish()
	m.updateRegistry(func(regs map[string]protocol.Registration) {
		delete(regs, m.selfID)
	})
}

func (m *BroadcastMatcher) selfEntry() (protocol.Registration, bool) {
	entry, ok := m.readRegistry()[m.selfID]
	return entry, ok
}

// activeEntries returns the registry entries within the liveness window.
// Stale participants are silently dropped from consideration.
func (m *BroadcastMatcher) activeEntries() []protocol.Registration {
	cutoff := m.now().Add(-m.cfg.LivenessWindow).UnixMilli()
	var active []protocol.Registration
	for _, entry := range m.readRegistry() {
		if !entry.Active || entry.LastSeen < cutoff {
			continue
		}
		active = append(active, entry)
	}
	return active
}

func (m *BroadcastMatcher) readRegistry() map[string]protocol.Registration {
	value, ok := m.store.Read(RegistryKey)
	if !ok || value == "" {
		return map[string]protocol.Registration{}
	}
	regs := map[string]protocol.Registration{}
	if err := json.Unmarshal([]byte(value), &regs); err != nil {
		m.logger.Warn("malformed participant registry, treating as empty", "error", err)
		return map[string]protocol.Registration{}
	}
	return regs
}

// updateRegistry applies mutate under a compare-and-write loop. The store
// offers no cross-key transactions and no locks; every read-modify-write
// must tolerate interleaving from other participants, which is exactly
// what the retry provides. Stale entries are pruned on every write.
func (m *BroadcastMatcher) updateRegistry(mutate func(map[string]protocol.Registration)) {
	cutoff := m.now().Add(-m.cfg.LivenessWindow).UnixMilli()

	for attempt := 0; attempt < registryAttempts; attempt++ {
		current, _ := m.store.Read(RegistryKey)

		regs := map[string]protocol.Registration{}
		if current != "" {
			if err := json.Unmarshal([]byte(current), &regs); err != nil {
				m.logger.Warn("malformed participant registry, resetting", "error", err)
				regs = map[string]protocol.Registration{}
			}
		}

		for id, entry := range regs {
			if entry.LastSeen < cutoff {
				delete(regs, id)
			}
		}

		mutate(regs)

		next, err := json.Marshal(regs)
		if err != nil {
			m.logger.Error("marshal participant registry", "error", err)
			return
		}
		if m.store.CompareAndWrite(RegistryKey, current, string(next)) {
			return
		}
	}
	m.logger.Warn("registry update lost too many races, giving up")
}
