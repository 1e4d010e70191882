// Package presence tracks which participants are currently live, derived
// from the transport's ephemeral liveness broadcasts.
package presence

import "github.com/pokersync/pokersync/internal/wire"

// Tracker holds the latest liveness view. The transport delivers the full
// current view on every change, not an incremental diff, so each update
// replaces the previous set wholesale.
//
// The tracked set is a local projection: it is never written to the durable
// Users map on behalf of a peer. Tracker is not safe for concurrent use; the
// engine serializes access.
type Tracker struct {
	live  map[string]wire.Presence
	names map[string]string
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		live:  make(map[string]wire.Presence),
		names: make(map[string]string),
	}
}

// SetView replaces the liveness view with the given descriptors and reports
// whether the set of live participants changed. Display names carried by the
// descriptors are remembered for participants whose durable record has not
// arrived yet.
func (t *Tracker) SetView(view []wire.Presence) bool {
	next := make(map[string]wire.Presence, len(view))
	for _, p := range view {
		if p.UserID == "" {
			continue
		}
		next[p.UserID] = p
		if p.Name != "" {
			t.names[p.UserID] = p.Name
		}
	}

	changed := len(next) != len(t.live)
	if !changed {
		for id := range next {
			if _, ok := t.live[id]; !ok {
				changed = true
				break
			}
		}
	}
	t.live = next
	return changed
}

// Online reports whether the participant is in the current liveness view.
func (t *Tracker) Online(id string) bool {
	_, ok := t.live[id]
	return ok
}

// LiveSet returns the ids currently live, as a set.
func (t *Tracker) LiveSet() map[string]bool {
	set := make(map[string]bool, len(t.live))
	for id := range t.live {
		set[id] = true
	}
	return set
}

// Name returns the last display name announced for a participant, or "".
func (t *Tracker) Name(id string) string { return t.names[id] }
