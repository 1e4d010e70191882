// Package natsbus implements the session transport over NATS pub/sub: store
// ops on one subject per session, presence as periodic heartbeats on
// another. Liveness is reconstructed locally by expiring heartbeats, so a
// crashed participant disappears from the view without an explicit
// retraction.
package natsbus

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/pokersync/pokersync/internal/transport"
	"github.com/pokersync/pokersync/internal/wire"
)

// Config configures the NATS transport.
type Config struct {
	URL       string
	SessionID string
	// ActorID filters out this replica's own op echoes.
	ActorID string

	HeartbeatInterval time.Duration
	MaxReconnects     int
	ReconnectWait     time.Duration

	// Clock defaults to the real clock.
	Clock clockwork.Clock
}

func (c *Config) applyDefaults() {
	if c.URL == "" {
		c.URL = nats.DefaultURL
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 2 * time.Second
	}
	if c.MaxReconnects == 0 {
		c.MaxReconnects = -1
	}
	if c.ReconnectWait <= 0 {
		c.ReconnectWait = 2 * time.Second
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
}

type heartbeat struct {
	presence wire.Presence
	seen     time.Time
}

// Bus is a Transport backed by NATS core pub/sub.
type Bus struct {
	cfg    Config
	events transport.Events
	nc     *nats.Conn
	clock  clockwork.Clock

	mu           sync.Mutex
	lastAnnounce *wire.Presence
	live         map[string]heartbeat
	lastView     []string
	closed       bool
	done         chan struct{}
}

var _ transport.Transport = (*Bus)(nil)

// Connect dials NATS and subscribes to the session's op and presence
// subjects.
func Connect(cfg Config, events transport.Events) (*Bus, error) {
	cfg.applyDefaults()
	b := &Bus{
		cfg:    cfg,
		events: events,
		clock:  cfg.Clock,
		live:   make(map[string]heartbeat),
		done:   make(chan struct{}),
	}

	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
			b.setStatus(false)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
			b.setStatus(true)
			b.reannounce()
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("natsbus: connect to NATS: %w", err)
	}
	b.nc = nc

	if _, err := nc.Subscribe(b.opsSubject(), b.onOpMsg); err != nil {
		nc.Close()
		return nil, fmt.Errorf("natsbus: subscribe ops: %w", err)
	}
	if _, err := nc.Subscribe(b.presenceSubject(), b.onPresenceMsg); err != nil {
		nc.Close()
		return nil, fmt.Errorf("natsbus: subscribe presence: %w", err)
	}

	go b.heartbeatLoop()
	b.setStatus(true)
	return b, nil
}

func (b *Bus) opsSubject() string      { return "poker.room." + b.cfg.SessionID + ".ops" }
func (b *Bus) presenceSubject() string { return "poker.room." + b.cfg.SessionID + ".presence" }

// Publish broadcasts a store op, fire-and-forget.
func (b *Bus) Publish(op wire.Op) error {
	payload, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("natsbus: marshal op: %w", err)
	}
	return b.nc.Publish(b.opsSubject(), payload)
}

// Announce sets the liveness descriptor heart-beaten for this participant
// and sends the first beat immediately.
func (b *Bus) Announce(p wire.Presence) error {
	b.mu.Lock()
	b.lastAnnounce = &p
	b.mu.Unlock()
	return b.beat(p)
}

// Close stops the heartbeat and drains the connection.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.done)
	b.mu.Unlock()

	b.nc.Close()
	return nil
}

func (b *Bus) beat(p wire.Presence) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("natsbus: marshal presence: %w", err)
	}
	return b.nc.Publish(b.presenceSubject(), payload)
}

func (b *Bus) onOpMsg(msg *nats.Msg) {
	var op wire.Op
	if err := json.Unmarshal(msg.Data, &op); err != nil {
		log.Warn().Err(err).Msg("dropping malformed op message")
		return
	}
	if op.Actor == b.cfg.ActorID {
		return
	}
	if b.events.Op != nil {
		b.events.Op(op)
	}
}

func (b *Bus) onPresenceMsg(msg *nats.Msg) {
	var p wire.Presence
	if err := json.Unmarshal(msg.Data, &p); err != nil {
		log.Warn().Err(err).Msg("dropping malformed presence message")
		return
	}
	if p.UserID == "" {
		return
	}

	b.mu.Lock()
	_, known := b.live[p.UserID]
	b.live[p.UserID] = heartbeat{presence: p, seen: b.clock.Now()}
	b.mu.Unlock()

	if !known {
		b.emitView()
	}
}

// heartbeatLoop re-beats the local descriptor and expires peers that have
// stopped beating (three missed intervals).
func (b *Bus) heartbeatLoop() {
	ticker := b.clock.NewTicker(b.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.done:
			return
		case <-ticker.Chan():
		}

		b.mu.Lock()
		last := b.lastAnnounce
		cutoff := b.clock.Now().Add(-3 * b.cfg.HeartbeatInterval)
		expired := false
		for id, hb := range b.live {
			if hb.seen.Before(cutoff) {
				delete(b.live, id)
				expired = true
			}
		}
		b.mu.Unlock()

		if last != nil {
			if err := b.beat(*last); err != nil {
				log.Warn().Err(err).Msg("presence heartbeat failed")
			}
		}
		if expired {
			b.emitView()
		}
	}
}

// emitView delivers the full liveness view when its membership changed.
func (b *Bus) emitView() {
	b.mu.Lock()
	view := make([]wire.Presence, 0, len(b.live))
	ids := make([]string, 0, len(b.live))
	for id, hb := range b.live {
		view = append(view, hb.presence)
		ids = append(ids, id)
	}
	sort.Strings(ids)
	same := len(ids) == len(b.lastView)
	if same {
		for i := range ids {
			if ids[i] != b.lastView[i] {
				same = false
				break
			}
		}
	}
	b.lastView = ids
	b.mu.Unlock()

	if same {
		return
	}
	if b.events.Presence != nil {
		b.events.Presence(view)
	}
}

func (b *Bus) setStatus(connected bool) {
	if b.events.Status != nil {
		b.events.Status(connected)
	}
}

func (b *Bus) reannounce() {
	b.mu.Lock()
	last := b.lastAnnounce
	b.mu.Unlock()
	if last == nil {
		return
	}
	if err := b.beat(*last); err != nil {
		log.Warn().Err(err).Msg("presence re-announce failed")
	}
}
