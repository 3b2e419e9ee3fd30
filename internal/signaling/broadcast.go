package signaling

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/peerline/peerline/internal/kvstore"
	"github.com/peerline/peerline/internal/protocol"
)

// MessageKey is the shared store key whose value is the latest signaling
// message on the broadcast medium. Every participant subscribes to it and
// filters by the embedded recipient identity.
const MessageKey = "peerline:signal"

// defaultClearAfter is how long a written message stays in the store
// before the writer clears it. The value only needs to outlive subscriber
// delivery; clearing bounds growth of the shared key.
const defaultClearAfter = 200 * time.Millisecond

// BroadcastTransport implements Transport over a shared key-value store.
// Writers publish the latest message under MessageKey and clear it shortly
// after; readers subscribe and keep only messages addressed to them.
type BroadcastTransport struct {
	store      kvstore.Store
	selfID     string
	logger     *slog.Logger
	clearAfter time.Duration
	incoming   chan *protocol.Message
	cancel     func()
	done       chan struct{}
	closeOnce  sync.Once
}

// NewBroadcastTransport creates a transport for one participant identified
// by selfID. All participants of a match must share the same store.
func NewBroadcastTransport(store kvstore.Store, selfID string, logger *slog.Logger) *BroadcastTransport {
	t := &BroadcastTransport{
		store:      store,
		selfID:     selfID,
		logger:     logger,
		clearAfter: defaultClearAfter,
		incoming:   make(chan *protocol.Message, 32),
		done:       make(chan struct{}),
	}

	values, cancel := store.Subscribe(MessageKey)
	t.cancel = cancel
	go t.receive(values)

	return t
}

// Send implements Transport. The message must carry a To identity; every
// other participant discards it.
func (t *BroadcastTransport) Send(msg *protocol.Message) error {
	select {
	case <-t.done:
		return fmt.Errorf("transport closed")
	default:
	}

	if msg.From == "" {
		msg.From = t.selfID
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	value := string(raw)
	t.store.Write(MessageKey, value)

	// Clear the key once subscribers have had a chance to observe it, but
	// only if no later writer has already replaced it.
	time.AfterFunc(t.clearAfter, func() {
		t.store.CompareAndWrite(MessageKey, value, "")
	})

	return nil
}

// Incoming implements Transport.
func (t *BroadcastTransport) Incoming() <-chan *protocol.Message {
	return t.incoming
}

// Close implements Transport.
func (t *BroadcastTransport) Close() {
	t.closeOnce.Do(func() {
		close(t.done)
		t.cancel()
	})
}

func (t *BroadcastTransport) receive(values <-chan string) {
	defer close(t.incoming)

	for value := range values {
		if value == "" {
			// A writer cleared the key.
			continue
		}

		var msg protocol.Message
		if err := json.Unmarshal([]byte(value), &msg); err != nil {
			t.logger.Warn("dropping malformed broadcast message", "error", err)
			continue
		}

		if msg.To != t.selfID {
			continue
		}

		select {
		case t.incoming <- &msg:
		case <-t.done:
			return
		}
	}
}
