// Package wire defines the JSON types exchanged between replicas: replicated
// store operations, ephemeral presence descriptors, and the relay frame
// envelope.
package wire

// Version orders writes to a single record field. Clock is a Lamport clock;
// concurrent writes with equal clocks are resolved by comparing actor ids, so
// every replica picks the same winner.
type Version struct {
	Clock uint64 `json:"clock"`
	Actor string `json:"actor"`
}

// Newer reports whether v wins over other under last-writer-wins.
func (v Version) Newer(other Version) bool {
	if v.Clock != other.Clock {
		return v.Clock > other.Clock
	}
	return v.Actor > other.Actor
}

// Op is one replicated mutation: the changed fields of a single record in a
// named map, each tagged with the version it was written at. Ops are
// broadcast fire-and-forget and merged field-wise on receipt.
type Op struct {
	Map      string             `json:"map"`
	Key      string             `json:"key"`
	Fields   map[string]any     `json:"fields"`
	Versions map[string]Version `json:"versions"`
	Actor    string             `json:"actor"`
}

// Presence is the ephemeral liveness descriptor a participant announces while
// connected. It is never written to the durable maps and vanishes when the
// participant disconnects.
type Presence struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
}

// Relay frame types.
const (
	FrameOp       = "op"       // replicated store op, client <-> relay
	FrameAnnounce = "announce" // presence announcement, client -> relay
	FramePresence = "presence" // full liveness view, relay -> client
)

// Envelope is the frame exchanged with the relay server over a websocket.
type Envelope struct {
	Type     string     `json:"type"`
	Op       *Op        `json:"op,omitempty"`
	Announce *Presence  `json:"announce,omitempty"`
	Presence []Presence `json:"presence,omitempty"`
}
