// Package relay implements the broadcast relay the websocket transport
// connects to: it fans each participant's store ops out to the rest of the
// session and maintains the ephemeral liveness view from announce frames and
// disconnects.
package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/pokersync/pokersync/internal/wire"
)

// ConnConfig holds per-connection websocket settings.
type ConnConfig struct {
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	PingInterval    time.Duration `yaml:"ping_interval"`
	MaxMessageSize  int64         `yaml:"max_message_size"`
	ReadBufferSize  int           `yaml:"read_buffer_size"`
	WriteBufferSize int           `yaml:"write_buffer_size"`
}

// DefaultConnConfig returns the default websocket settings.
func DefaultConnConfig() ConnConfig {
	return ConnConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  64 * 1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
}

// Hub manages the websocket connections of all sessions hosted by this
// relay, one pool per session id.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*conn]bool

	upgrader    websocket.Upgrader
	config      ConnConfig
	broadcastCh chan outbound
}

type conn struct {
	id      string
	session string
	ws      *websocket.Conn
	send    chan []byte
	hub     *Hub

	mu       sync.Mutex
	announce *wire.Presence
}

// outbound is one frame to deliver to a session's pool, optionally skipping
// the originating connection.
type outbound struct {
	session string
	skip    *conn
	payload []byte
}

// NewHub creates a hub with the given connection settings.
func NewHub(config ConnConfig) *Hub {
	return &Hub{
		rooms: make(map[string]map[*conn]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		config:      config,
		broadcastCh: make(chan outbound, 1024),
	}
}

// Run processes queued broadcasts until the context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	log.Info().Msg("relay hub started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("relay hub shutting down")
			return
		case out := <-h.broadcastCh:
			h.deliver(out)
		}
	}
}

// Serve upgrades the request to a websocket and runs the connection until it
// drops. Blocks for the lifetime of the connection.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, session string) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &conn{
		id:      uuid.NewString(),
		session: session,
		ws:      ws,
		send:    make(chan []byte, 256),
		hub:     h,
	}
	h.register(c)
	log.Info().Str("conn_id", c.id).Str("session_id", session).Msg("connection established")

	go c.writePump()
	// Let the newcomer see the current liveness view before it announces.
	h.broadcastPresence(session)
	c.readPump()
}

func (h *Hub) register(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[c.session] == nil {
		h.rooms[c.session] = make(map[*conn]bool)
	}
	h.rooms[c.session][c] = true
}

func (h *Hub) unregister(c *conn) {
	h.mu.Lock()
	pool, ok := h.rooms[c.session]
	if ok {
		if _, ok = pool[c]; ok {
			delete(pool, c)
			close(c.send)
			if len(pool) == 0 {
				delete(h.rooms, c.session)
			}
		}
	}
	h.mu.Unlock()

	if ok {
		log.Info().Str("conn_id", c.id).Str("session_id", c.session).Msg("connection closed")
		h.broadcastPresence(c.session)
	}
}

// broadcastOp fans an op frame out to every other member of the session.
func (h *Hub) broadcastOp(c *conn, op *wire.Op) {
	payload, err := json.Marshal(wire.Envelope{Type: wire.FrameOp, Op: op})
	if err != nil {
		log.Error().Err(err).Msg("marshal op frame")
		return
	}
	h.enqueue(outbound{session: c.session, skip: c, payload: payload})
}

// broadcastPresence pushes the session's full liveness view to every member.
func (h *Hub) broadcastPresence(session string) {
	h.mu.RLock()
	var view []wire.Presence
	for c := range h.rooms[session] {
		c.mu.Lock()
		if c.announce != nil {
			view = append(view, *c.announce)
		}
		c.mu.Unlock()
	}
	h.mu.RUnlock()

	payload, err := json.Marshal(wire.Envelope{Type: wire.FramePresence, Presence: view})
	if err != nil {
		log.Error().Err(err).Msg("marshal presence frame")
		return
	}
	h.enqueue(outbound{session: session, payload: payload})
}

func (h *Hub) enqueue(out outbound) {
	select {
	case h.broadcastCh <- out:
	default:
		log.Warn().Str("session_id", out.session).Msg("broadcast channel full, dropping frame")
	}
}

func (h *Hub) deliver(out outbound) {
	h.mu.RLock()
	var targets []*conn
	for c := range h.rooms[out.session] {
		if c != out.skip {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.send <- out.payload:
		default:
			// Slow consumer; drop the connection rather than the session.
			log.Warn().Str("conn_id", c.id).Msg("send buffer full, closing connection")
			h.unregister(c)
			c.ws.Close()
		}
	}
}

// Stats summarizes the hub's current connections per session.
func (h *Hub) Stats() map[string]any {
	h.mu.RLock()
	defer h.mu.RUnlock()

	total := 0
	sessions := make(map[string]int, len(h.rooms))
	for id, pool := range h.rooms {
		sessions[id] = len(pool)
		total += len(pool)
	}
	return map[string]any{
		"total_connections": total,
		"active_sessions":   len(h.rooms),
		"sessions":          sessions,
	}
}

func (c *conn) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.ws.Close()
	}()

	c.ws.SetReadLimit(c.hub.config.MaxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
		return nil
	})

	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Error().Err(err).Str("conn_id", c.id).Msg("unexpected websocket close")
			}
			return
		}
		c.handleFrame(payload)
		c.ws.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
	}
}

func (c *conn) handleFrame(payload []byte) {
	var env wire.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		log.Warn().Err(err).Str("conn_id", c.id).Msg("dropping malformed frame")
		return
	}

	switch env.Type {
	case wire.FrameOp:
		if env.Op != nil {
			c.hub.broadcastOp(c, env.Op)
		}
	case wire.FrameAnnounce:
		if env.Announce != nil {
			c.mu.Lock()
			c.announce = env.Announce
			c.mu.Unlock()
			c.hub.broadcastPresence(c.session)
		}
	default:
		log.Debug().Str("conn_id", c.id).Str("type", env.Type).Msg("ignoring unknown frame type")
	}
}

func (c *conn) writePump() {
	ticker := time.NewTicker(c.hub.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
		c.hub.unregister(c)
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				log.Error().Err(err).Str("conn_id", c.id).Msg("websocket write failed")
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
