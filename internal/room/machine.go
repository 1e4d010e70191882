package room

import (
	"github.com/google/uuid"

	"github.com/pokersync/pokersync/internal/room/state"
)

// The round lifecycle is Idle -> Voting -> Revealed -> Idle. Every guard
// violation below is a silent no-op: the presentation layer disables invalid
// actions, but a stale replica's view of leadership may still race a call in,
// and that must never corrupt state or surface an error.

// StartRound closes any active round and opens a fresh one in the Voting
// state. Leader only.
func (r *Room) StartRound() {
	r.mu.Lock()
	if r.closed || !r.isLeaderLocked() {
		r.mu.Unlock()
		return
	}

	now := r.clock.Now().UnixMilli()
	if cur, ok := r.currentRoundLocked(); ok && cur.IsActive {
		r.publishLocked(r.doc.Put(state.MapRounds, cur.ID, map[string]any{
			"isActive":    false,
			"completedAt": now,
		}))
	}

	round := state.Round{
		ID:        uuid.NewString(),
		IsActive:  true,
		CreatedAt: now,
	}
	r.publishLocked(r.doc.Put(state.MapRounds, round.ID, round.Fields()))
	r.publishLocked(r.doc.Put(state.MapMeta, state.MetaCurrentRoundID, map[string]any{"value": round.ID}))
	r.unlockAndNotify()

	r.log.Info().Str("round_id", round.ID).Msg("round started")
}

// CastVote records or overwrites the caller's vote for the current round.
// Any participant may vote; re-voting replaces the prior value under the
// same key. Votes cast after reveal are accepted (the guard checks only for
// a current round).
func (r *Room) CastVote(value string) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	roundID := r.metaLocked(state.MetaCurrentRoundID)
	if roundID == "" {
		r.mu.Unlock()
		return
	}

	vote := state.Vote{
		UserID:  r.cfg.UserID,
		Value:   value,
		VotedAt: r.clock.Now().UnixMilli(),
	}
	r.publishLocked(r.doc.Put(state.MapVotes, state.VoteKey(roundID, r.cfg.UserID), vote.Fields()))
	r.unlockAndNotify()
}

// RevealVotes marks the active round's votes as revealed. Leader only.
// Reveal does not wait for every participant to vote; absent voters simply
// have no vote.
func (r *Room) RevealVotes() {
	r.mu.Lock()
	if r.closed || !r.isLeaderLocked() {
		r.mu.Unlock()
		return
	}
	cur, ok := r.currentRoundLocked()
	if !ok || !cur.IsActive || cur.VotesRevealed {
		r.mu.Unlock()
		return
	}

	r.publishLocked(r.doc.Put(state.MapRounds, cur.ID, map[string]any{"votesRevealed": true}))
	r.unlockAndNotify()

	r.log.Info().Str("round_id", cur.ID).Msg("votes revealed")
}

// EndRound completes the revealed round and returns the session to Idle.
// Leader only.
func (r *Room) EndRound() {
	r.mu.Lock()
	if r.closed || !r.isLeaderLocked() {
		r.mu.Unlock()
		return
	}
	cur, ok := r.currentRoundLocked()
	if !ok || !cur.IsActive || !cur.VotesRevealed {
		r.mu.Unlock()
		return
	}

	r.publishLocked(r.doc.Put(state.MapRounds, cur.ID, map[string]any{
		"isActive":    false,
		"completedAt": r.clock.Now().UnixMilli(),
	}))
	r.publishLocked(r.doc.Put(state.MapMeta, state.MetaCurrentRoundID, map[string]any{"value": ""}))
	r.unlockAndNotify()

	r.log.Info().Str("round_id", cur.ID).Msg("round ended")
}

func (r *Room) isLeaderLocked() bool {
	leaderID := r.metaLocked(state.MetaLeaderID)
	return leaderID != "" && leaderID == r.cfg.UserID
}

// currentRoundLocked resolves the round meta points at. A dangling pointer
// (round record not yet replicated) reads as absent.
func (r *Room) currentRoundLocked() (state.Round, bool) {
	roundID := r.metaLocked(state.MetaCurrentRoundID)
	if roundID == "" {
		return state.Round{}, false
	}
	fields, ok := r.doc.Get(state.MapRounds, roundID)
	if !ok {
		return state.Round{}, false
	}
	round, err := state.RoundFromFields(fields)
	if err != nil {
		r.log.Warn().Err(err).Str("round_id", roundID).Msg("dropping malformed round record")
		return state.Round{}, false
	}
	if round.ID == "" {
		round.ID = roundID
	}
	return round, true
}
