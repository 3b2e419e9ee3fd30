// Package signaling carries handshake messages between two matched peers.
// It exposes one contract, Transport, over two substrates: a websocket
// connection to the relay server (cross-machine) and a shared key-value
// broadcast medium (same-machine, cross-process). Everything above this
// package is substrate-agnostic.
package signaling

import "github.com/peerline/peerline/internal/protocol"

// Transport sends signaling messages and surfaces incoming ones. Incoming
// is closed when the transport shuts down, which is also how consumers
// learn that the substrate is gone: transport failures degrade to a closed
// channel, never a panic.
type Transport interface {
	// Send delivers a message toward the matched peer (or, on the relay
	// substrate, to the server). It returns an error only for local
	// failures such as a closed transport; delivery is best-effort.
	Send(msg *protocol.Message) error

	// Incoming returns the channel of received messages. Malformed frames
	// are logged and dropped before they reach this channel.
	Incoming() <-chan *protocol.Message

	// Close shuts the transport down. Idempotent.
	Close()
}
