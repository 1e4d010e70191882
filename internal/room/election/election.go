// Package election selects the coordinating participant for a session.
package election

import "github.com/pokersync/pokersync/internal/room/state"

// Leader picks the coordinating participant: the online user with the
// smallest JoinedAt, ties broken by lexicographic id. When no user is online
// (startup grace, total disconnect) the same ordering runs over all known
// users so a leader is still designated. Returns "" only for an empty user
// set.
//
// The function is pure and independent of input ordering, so every replica
// derives the same leader from the same state.
func Leader(users map[string]state.User, online map[string]bool) string {
	best := pick(users, func(u state.User) bool { return online[u.ID] })
	if best == "" {
		best = pick(users, func(state.User) bool { return true })
	}
	return best
}

func pick(users map[string]state.User, include func(state.User) bool) string {
	var best state.User
	found := false
	for _, u := range users {
		if !include(u) {
			continue
		}
		if !found || earlier(u, best) {
			best = u
			found = true
		}
	}
	if !found {
		return ""
	}
	return best.ID
}

func earlier(a, b state.User) bool {
	if a.JoinedAt != b.JoinedAt {
		return a.JoinedAt < b.JoinedAt
	}
	return a.ID < b.ID
}
