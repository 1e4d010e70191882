// Package transport defines the reliable-broadcast channel the coordination
// engine requires from its environment. Implementations live in the
// subpackages: relayws (websocket relay client) and natsbus (NATS pub/sub).
package transport

import "github.com/pokersync/pokersync/internal/wire"

// Events carries the callbacks a transport invokes as the session evolves.
// Callbacks may be invoked from the transport's own goroutines; the engine
// serializes them. Any field may be nil.
type Events struct {
	// Op delivers a remote replica's store operation.
	Op func(wire.Op)
	// Presence delivers the full current liveness view after any change.
	Presence func([]wire.Presence)
	// Status reports connectivity transitions.
	Status func(connected bool)
}

// Transport is a reliable broadcast channel scoped to one session id. Writes
// are fire-and-forget: no delivery acknowledgment is surfaced to the caller.
type Transport interface {
	// Publish broadcasts a store op to all other replicas in the session.
	Publish(op wire.Op) error
	// Announce broadcasts the local participant's ephemeral liveness
	// descriptor. It is not persisted and disappears on disconnect.
	Announce(p wire.Presence) error
	// Close releases the transport. Pending publishes may be dropped.
	Close() error
}
