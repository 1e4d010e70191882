// Package state defines the typed records held in the replicated store and
// the converters that validate raw field maps at the store boundary.
package state

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Map names within a session document.
const (
	MapUsers  = "users"
	MapRounds = "rounds"
	MapVotes  = "votes"
	MapMeta   = "meta"
)

// Meta map keys. Both are derived values maintained by the engine, not
// independently authored.
const (
	MetaLeaderID       = "leaderId"
	MetaCurrentRoundID = "currentRoundId"
)

// Deck is the default set of castable vote values.
var Deck = []string{"0", "1", "2", "3", "5", "8", "13", "21", "34", "55", "89", "?", "☕"}

// User is one participant's durable record. Records are created on first join
// and never deleted; departed participants persist as offline.
type User struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	IsOnline bool   `json:"isOnline"`
	IsLeader bool   `json:"isLeader"`
	JoinedAt int64  `json:"joinedAt"` // unix milliseconds
}

// Round is one voting cycle. At most one round has IsActive=true at a time.
type Round struct {
	ID            string `json:"id"`
	IsActive      bool   `json:"isActive"`
	VotesRevealed bool   `json:"votesRevealed"`
	CreatedAt     int64  `json:"createdAt"`
	CompletedAt   int64  `json:"completedAt"` // zero until the round ends
}

// Vote is one participant's value for a round, keyed by VoteKey.
type Vote struct {
	UserID  string `json:"userId"`
	Value   string `json:"value"`
	VotedAt int64  `json:"votedAt"`
}

// VoteKey builds the composite store key for a vote.
func VoteKey(roundID, userID string) string {
	return roundID + "_" + userID
}

// VoteKeyMatches reports whether a vote key belongs to the round. Keys are
// matched by prefix because user ids may themselves contain the separator.
func VoteKeyMatches(key, roundID string) bool {
	return strings.HasPrefix(key, roundID+"_")
}

// Fields flattens a User for the store.
func (u User) Fields() map[string]any {
	return map[string]any{
		"id":       u.ID,
		"name":     u.Name,
		"isOnline": u.IsOnline,
		"isLeader": u.IsLeader,
		"joinedAt": u.JoinedAt,
	}
}

// UserFromFields validates and decodes a stored user record.
func UserFromFields(m map[string]any) (User, error) {
	var u User
	var err error
	if u.ID, err = fieldString(m, "id"); err != nil {
		return User{}, err
	}
	if u.Name, err = fieldString(m, "name"); err != nil {
		return User{}, err
	}
	if u.IsOnline, err = fieldBool(m, "isOnline"); err != nil {
		return User{}, err
	}
	if u.IsLeader, err = fieldBool(m, "isLeader"); err != nil {
		return User{}, err
	}
	if u.JoinedAt, err = fieldInt64(m, "joinedAt"); err != nil {
		return User{}, err
	}
	return u, nil
}

// Fields flattens a Round for the store.
func (r Round) Fields() map[string]any {
	return map[string]any{
		"id":            r.ID,
		"isActive":      r.IsActive,
		"votesRevealed": r.VotesRevealed,
		"createdAt":     r.CreatedAt,
		"completedAt":   r.CompletedAt,
	}
}

// RoundFromFields validates and decodes a stored round record.
func RoundFromFields(m map[string]any) (Round, error) {
	var r Round
	var err error
	if r.ID, err = fieldString(m, "id"); err != nil {
		return Round{}, err
	}
	if r.IsActive, err = fieldBool(m, "isActive"); err != nil {
		return Round{}, err
	}
	if r.VotesRevealed, err = fieldBool(m, "votesRevealed"); err != nil {
		return Round{}, err
	}
	if r.CreatedAt, err = fieldInt64(m, "createdAt"); err != nil {
		return Round{}, err
	}
	if r.CompletedAt, err = fieldInt64(m, "completedAt"); err != nil {
		return Round{}, err
	}
	return r, nil
}

// Fields flattens a Vote for the store.
func (v Vote) Fields() map[string]any {
	return map[string]any{
		"userId":  v.UserID,
		"value":   v.Value,
		"votedAt": v.VotedAt,
	}
}

// VoteFromFields validates and decodes a stored vote record.
func VoteFromFields(m map[string]any) (Vote, error) {
	var v Vote
	var err error
	if v.UserID, err = fieldString(m, "userId"); err != nil {
		return Vote{}, err
	}
	if v.Value, err = fieldString(m, "value"); err != nil {
		return Vote{}, err
	}
	if v.VotedAt, err = fieldInt64(m, "votedAt"); err != nil {
		return Vote{}, err
	}
	return v, nil
}

// Remote field values arrive through JSON, so numbers decode as float64 and
// occasionally json.Number. Local writes carry native Go types. The helpers
// below accept both shapes.

func fieldString(m map[string]any, name string) (string, error) {
	v, ok := m[name]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("field %q: expected string, got %T", name, v)
	}
	return s, nil
}

func fieldBool(m map[string]any, name string) (bool, error) {
	v, ok := m[name]
	if !ok || v == nil {
		return false, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("field %q: expected bool, got %T", name, v)
	}
	return b, nil
}

func fieldInt64(m map[string]any, name string) (int64, error) {
	v, ok := m[name]
	if !ok || v == nil {
		return 0, nil
	}
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, fmt.Errorf("field %q: %w", name, err)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("field %q: expected number, got %T", name, v)
	}
}
