package room

import (
	"sort"

	"github.com/pokersync/pokersync/internal/room/state"
)

// Snapshot is the read model exposed to the presentation layer. It is built
// in one pass under the engine lock, so cross-entity references are always
// consistent: CurrentRound is never a dangling pointer and Votes always
// belong to it.
type Snapshot struct {
	SessionID string
	SelfID    string

	// Connected is false while the transport is down; presence then
	// degrades to last-known state for everyone but the local participant.
	Connected bool

	LeaderID string
	IsLeader bool

	Users       []state.User // every participant ever seen, join order
	OnlineUsers []state.User

	Rounds       []state.Round // session history, oldest first
	CurrentRound *state.Round
	Votes        []state.Vote // votes for the current round only
	OwnVote      *state.Vote

	// Tally groups non-empty revealed vote values; nil until the current
	// round is revealed.
	Tally map[string]int
}

func (r *Room) snapshotLocked() Snapshot {
	users := r.usersLocked()
	online := r.onlineLocked(users)
	leaderID := r.metaLocked(state.MetaLeaderID)

	snap := Snapshot{
		SessionID: r.cfg.SessionID,
		SelfID:    r.cfg.UserID,
		Connected: r.connected,
		LeaderID:  leaderID,
		IsLeader:  leaderID != "" && leaderID == r.cfg.UserID,
	}

	for id, u := range users {
		u.IsOnline = online[id]
		u.IsLeader = id == leaderID
		snap.Users = append(snap.Users, u)
		if u.IsOnline {
			snap.OnlineUsers = append(snap.OnlineUsers, u)
		}
	}
	sortUsers(snap.Users)
	sortUsers(snap.OnlineUsers)

	for _, key := range r.doc.Keys(state.MapRounds) {
		fields, ok := r.doc.Get(state.MapRounds, key)
		if !ok {
			continue
		}
		round, err := state.RoundFromFields(fields)
		if err != nil {
			continue
		}
		if round.ID == "" {
			round.ID = key
		}
		snap.Rounds = append(snap.Rounds, round)
	}
	sort.Slice(snap.Rounds, func(i, j int) bool {
		if snap.Rounds[i].CreatedAt != snap.Rounds[j].CreatedAt {
			return snap.Rounds[i].CreatedAt < snap.Rounds[j].CreatedAt
		}
		return snap.Rounds[i].ID < snap.Rounds[j].ID
	})

	cur, ok := r.currentRoundLocked()
	if !ok {
		return snap
	}
	snap.CurrentRound = &cur

	for _, key := range r.doc.Keys(state.MapVotes) {
		if !state.VoteKeyMatches(key, cur.ID) {
			continue
		}
		fields, ok := r.doc.Get(state.MapVotes, key)
		if !ok {
			continue
		}
		vote, err := state.VoteFromFields(fields)
		if err != nil {
			continue
		}
		snap.Votes = append(snap.Votes, vote)
		if vote.UserID == r.cfg.UserID {
			own := vote
			snap.OwnVote = &own
		}
	}
	sort.Slice(snap.Votes, func(i, j int) bool { return snap.Votes[i].UserID < snap.Votes[j].UserID })

	if cur.VotesRevealed {
		snap.Tally = make(map[string]int)
		for _, vote := range snap.Votes {
			if vote.Value != "" {
				snap.Tally[vote.Value]++
			}
		}
	}
	return snap
}

func sortUsers(users []state.User) {
	sort.Slice(users, func(i, j int) bool {
		if users[i].JoinedAt != users[j].JoinedAt {
			return users[i].JoinedAt < users[j].JoinedAt
		}
		return users[i].ID < users[j].ID
	})
}
