// Package room implements the session coordination engine: it composes the
// replicated store, presence tracking and leader election behind the
// operations and read model exposed to the presentation layer.
package room

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pokersync/pokersync/internal/room/election"
	"github.com/pokersync/pokersync/internal/room/presence"
	"github.com/pokersync/pokersync/internal/room/state"
	"github.com/pokersync/pokersync/internal/room/store"
	"github.com/pokersync/pokersync/internal/transport"
	"github.com/pokersync/pokersync/internal/wire"
)

// DefaultJoinGrace is how long a joining replica waits for the initial state
// sync before writing its own user record and triggering election. Without
// the delay, concurrently joining participants would each self-declare
// leadership before observing one another.
const DefaultJoinGrace = 200 * time.Millisecond

// Dialer opens a transport for the session, wired to the engine's event
// callbacks.
type Dialer func(events transport.Events) (transport.Transport, error)

// Config configures a session context.
type Config struct {
	SessionID   string
	UserID      string
	DisplayName string

	// JoinGrace overrides DefaultJoinGrace when positive.
	JoinGrace time.Duration
	// Clock defaults to the real clock.
	Clock clockwork.Clock
	// Logger defaults to the global zerolog logger.
	Logger *zerolog.Logger
}

// Observer receives a consistent snapshot after every state change.
type Observer func(Snapshot)

// Room is one participant's replica of a session: the per-session
// coordination context. All state access is serialized through a single
// mutex; transport callbacks and local operations never interleave.
type Room struct {
	cfg   Config
	clock clockwork.Clock
	log   zerolog.Logger

	mu        sync.Mutex
	doc       *store.Doc
	pres      *presence.Tracker
	tr        transport.Transport
	connected bool
	joined    bool
	closed    bool
	grace     clockwork.Timer

	observers map[int]Observer
	nextObs   int
}

// Open joins a session: it dials the transport, announces presence, and
// schedules the join grace window after which the local user record is
// written and election runs.
func Open(cfg Config, dial Dialer) (*Room, error) {
	if cfg.SessionID == "" {
		return nil, errors.New("room: session id is required")
	}
	if cfg.UserID == "" {
		return nil, errors.New("room: user id is required")
	}
	if cfg.JoinGrace <= 0 {
		cfg.JoinGrace = DefaultJoinGrace
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	r := &Room{
		cfg:       cfg,
		clock:     cfg.Clock,
		log:       logger.With().Str("session_id", cfg.SessionID).Str("user_id", cfg.UserID).Logger(),
		doc:       store.NewDoc(cfg.UserID),
		pres:      presence.NewTracker(),
		observers: make(map[int]Observer),
	}

	tr, err := dial(transport.Events{
		Op:       r.onOp,
		Presence: r.onPresence,
		Status:   r.onStatus,
	})
	if err != nil {
		return nil, fmt.Errorf("room: dial transport: %w", err)
	}

	// Events may already have fired while the dial was in flight; any
	// writes they produced were held back, so rebroadcast the document
	// now that the transport exists.
	r.mu.Lock()
	r.tr = tr
	r.syncLocked()
	r.grace = r.clock.AfterFunc(cfg.JoinGrace, r.join)
	r.mu.Unlock()

	if err := tr.Announce(wire.Presence{UserID: cfg.UserID, Name: cfg.DisplayName}); err != nil {
		r.log.Warn().Err(err).Msg("initial presence announce failed")
	}

	r.log.Info().Dur("join_grace", cfg.JoinGrace).Msg("session opened")
	return r, nil
}

// Close leaves the session. The local user is marked offline in the durable
// map before transport resources are released, so peers observe the
// departure without waiting for a liveness timeout. A pending join grace
// timer is cancelled.
func (r *Room) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	if r.grace != nil {
		r.grace.Stop()
	}
	if r.joined {
		op := r.doc.Put(state.MapUsers, r.cfg.UserID, map[string]any{"isOnline": false})
		r.publishLocked(op)
	}
	r.mu.Unlock()

	err := r.tr.Close()
	r.log.Info().Msg("session closed")
	return err
}

// Subscribe registers an observer, delivers the current snapshot to it
// immediately, and returns a function that removes it.
func (r *Room) Subscribe(fn Observer) func() {
	r.mu.Lock()
	id := r.nextObs
	r.nextObs++
	r.observers[id] = fn
	snap := r.snapshotLocked()
	r.mu.Unlock()

	fn(snap)
	return func() {
		r.mu.Lock()
		delete(r.observers, id)
		r.mu.Unlock()
	}
}

// Snapshot returns a consistent view of the session state.
func (r *Room) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// join writes the local user record once the grace window has elapsed.
// Rejoining a session keeps the original joinedAt, so leadership priority
// follows first join order.
func (r *Room) join() {
	r.mu.Lock()
	if r.closed || r.joined {
		r.mu.Unlock()
		return
	}
	r.joined = true

	fields := map[string]any{
		"id":       r.cfg.UserID,
		"name":     r.cfg.DisplayName,
		"isOnline": true,
	}
	if _, ok := r.doc.Get(state.MapUsers, r.cfg.UserID); !ok {
		fields["isLeader"] = false
		fields["joinedAt"] = r.clock.Now().UnixMilli()
	}
	r.publishLocked(r.doc.Put(state.MapUsers, r.cfg.UserID, fields))
	r.electLocked()
	r.unlockAndNotify()

	r.log.Debug().Msg("joined session")
}

// SetDisplayName updates the local participant's name in both the durable
// record and the ephemeral presence descriptor.
func (r *Room) SetDisplayName(name string) {
	if name == "" {
		return
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.cfg.DisplayName = name
	if r.joined {
		r.publishLocked(r.doc.Put(state.MapUsers, r.cfg.UserID, map[string]any{"name": name}))
	}
	r.unlockAndNotify()

	if err := r.tr.Announce(wire.Presence{UserID: r.cfg.UserID, Name: name}); err != nil {
		r.log.Warn().Err(err).Msg("presence announce failed")
	}
}

// onOp merges a remote replica's mutation and recomputes derived views.
func (r *Room) onOp(op wire.Op) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	if !r.doc.Apply(op) {
		r.mu.Unlock()
		return
	}
	r.electLocked()
	r.unlockAndNotify()
}

// onPresence replaces the liveness view and reconciles online status and
// leadership. A peer appearing for the first time gets the local document
// state broadcast at it, so late joiners catch up on writes they missed;
// the merge is idempotent, so several replicas answering at once is fine.
func (r *Room) onPresence(view []wire.Presence) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	before := r.pres.LiveSet()
	if !r.pres.SetView(view) {
		r.mu.Unlock()
		return
	}
	for id := range r.pres.LiveSet() {
		if id != r.cfg.UserID && !before[id] {
			r.syncLocked()
			break
		}
	}
	r.electLocked()
	r.unlockAndNotify()
}

// onStatus reflects transport connectivity. On reconnect the local replica
// marks itself online again; peers never write the flag on its behalf.
func (r *Room) onStatus(connected bool) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.connected = connected
	if connected && r.joined {
		r.publishLocked(r.doc.Put(state.MapUsers, r.cfg.UserID, map[string]any{"isOnline": true}))
	}
	if connected {
		// Writes made while disconnected never reached the peers.
		r.syncLocked()
	}
	r.electLocked()
	r.unlockAndNotify()

	r.log.Debug().Bool("connected", connected).Msg("connectivity changed")
}

// electLocked recomputes the leader from current state and, when the result
// differs from the cached meta pointer, rewrites the pointer and each
// affected user's isLeader flag. The election function is pure and
// deterministic, so concurrent re-derivation on other replicas converges to
// the same writes.
func (r *Room) electLocked() {
	users := r.usersLocked()
	if len(users) == 0 {
		return
	}
	leaderID := election.Leader(users, r.onlineLocked(users))

	if r.metaLocked(state.MetaLeaderID) != leaderID {
		r.publishLocked(r.doc.Put(state.MapMeta, state.MetaLeaderID, map[string]any{"value": leaderID}))
	}
	for id, u := range users {
		if isLeader := id == leaderID; u.IsLeader != isLeader {
			r.publishLocked(r.doc.Put(state.MapUsers, id, map[string]any{"isLeader": isLeader}))
		}
	}
}

// onlineLocked projects the current online set. While connected it is
// exactly the liveness view (plus self once joined); when the transport is
// down entirely, presence degrades to "self online, others last-known
// durable state" and the Connected flag surfaces the distinction.
func (r *Room) onlineLocked(users map[string]state.User) map[string]bool {
	var set map[string]bool
	if r.connected {
		set = r.pres.LiveSet()
	} else {
		set = make(map[string]bool, len(users))
		for id, u := range users {
			if u.IsOnline {
				set[id] = true
			}
		}
	}
	if r.joined {
		set[r.cfg.UserID] = true
	} else if !r.connected {
		delete(set, r.cfg.UserID)
	}
	return set
}

func (r *Room) usersLocked() map[string]state.User {
	users := make(map[string]state.User)
	for _, key := range r.doc.Keys(state.MapUsers) {
		fields, ok := r.doc.Get(state.MapUsers, key)
		if !ok {
			continue
		}
		u, err := state.UserFromFields(fields)
		if err != nil {
			r.log.Warn().Err(err).Str("key", key).Msg("dropping malformed user record")
			continue
		}
		if u.ID == "" {
			u.ID = key
		}
		users[key] = u
	}
	return users
}

func (r *Room) metaLocked(key string) string {
	fields, ok := r.doc.Get(state.MapMeta, key)
	if !ok {
		return ""
	}
	s, _ := fields["value"].(string)
	return s
}

// syncLocked broadcasts the full local document. Receivers merge field-wise,
// so a sync never clobbers newer state they already hold.
func (r *Room) syncLocked() {
	for _, op := range r.doc.Export() {
		r.publishLocked(op)
	}
}

// publishLocked broadcasts a local op fire-and-forget. Empty ops (no field
// changed) are skipped.
func (r *Room) publishLocked(op wire.Op) {
	if len(op.Fields) == 0 {
		return
	}
	if r.tr == nil {
		// Dial still in flight; Open rebroadcasts the document once the
		// transport is assigned.
		return
	}
	if err := r.tr.Publish(op); err != nil {
		r.log.Warn().Err(err).Str("map", op.Map).Str("key", op.Key).Msg("publish failed")
	}
}

// unlockAndNotify snapshots state and observers under the lock, releases it,
// and pushes the snapshot to every observer. Observers run without the
// engine mutex held, so they may call back into the room.
func (r *Room) unlockAndNotify() {
	snap := r.snapshotLocked()
	obs := make([]Observer, 0, len(r.observers))
	for _, fn := range r.observers {
		obs = append(obs, fn)
	}
	r.mu.Unlock()

	for _, fn := range obs {
		fn(snap)
	}
}

