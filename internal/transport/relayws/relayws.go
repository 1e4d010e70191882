// Package relayws implements the session transport over a websocket
// connection to a relay server.
package relayws

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/pokersync/pokersync/internal/transport"
	"github.com/pokersync/pokersync/internal/wire"
)

// Config configures the relay client.
type Config struct {
	// URL is the relay base URL, e.g. "ws://localhost:4444".
	URL       string
	SessionID string

	// ReconnectWait is the delay between reconnect attempts.
	ReconnectWait time.Duration
	// WriteTimeout bounds each frame write.
	WriteTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.ReconnectWait <= 0 {
		c.ReconnectWait = 2 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
}

// Client is a Transport backed by a relay websocket. It reconnects on its
// own and reflects connectivity through the Status callback; the engine only
// observes the flag.
type Client struct {
	cfg    Config
	events transport.Events

	mu           sync.Mutex
	ws           *websocket.Conn
	lastAnnounce *wire.Presence
	closed       bool
	done         chan struct{}
}

var _ transport.Transport = (*Client)(nil)

// Dial connects to the relay. The first connection attempt is synchronous so
// a bad address fails fast; later drops are retried in the background.
func Dial(cfg Config, events transport.Events) (*Client, error) {
	cfg.applyDefaults()
	c := &Client{
		cfg:    cfg,
		events: events,
		done:   make(chan struct{}),
	}

	ws, err := c.connect()
	if err != nil {
		return nil, fmt.Errorf("relayws: dial %s: %w", cfg.URL, err)
	}
	c.setConn(ws)
	c.setStatus(true)

	go c.run(ws)
	return c, nil
}

// Publish sends a store op frame, fire-and-forget.
func (c *Client) Publish(op wire.Op) error {
	return c.write(wire.Envelope{Type: wire.FrameOp, Op: &op})
}

// Announce sends the ephemeral liveness descriptor. The most recent
// descriptor is re-sent automatically after every reconnect.
func (c *Client) Announce(p wire.Presence) error {
	c.mu.Lock()
	c.lastAnnounce = &p
	c.mu.Unlock()
	return c.write(wire.Envelope{Type: wire.FrameAnnounce, Announce: &p})
}

// Close tears the connection down and stops reconnecting.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	ws := c.ws
	c.ws = nil
	close(c.done)
	c.mu.Unlock()

	if ws != nil {
		ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		return ws.Close()
	}
	return nil
}

func (c *Client) endpoint() (string, error) {
	base, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", err
	}
	return base.JoinPath("rooms", c.cfg.SessionID, "ws").String(), nil
}

func (c *Client) connect() (*websocket.Conn, error) {
	endpoint, err := c.endpoint()
	if err != nil {
		return nil, err
	}
	ws, _, err := websocket.DefaultDialer.Dial(endpoint, nil)
	return ws, err
}

// run reads frames until the connection drops, then reconnects until Close.
func (c *Client) run(ws *websocket.Conn) {
	for {
		c.readLoop(ws)
		c.setStatus(false)

		for {
			select {
			case <-c.done:
				return
			case <-time.After(c.cfg.ReconnectWait):
			}

			next, err := c.connect()
			if err != nil {
				log.Warn().Err(err).Str("session_id", c.cfg.SessionID).Msg("relay reconnect failed")
				continue
			}
			c.setConn(next)
			c.setStatus(true)
			c.reannounce()
			ws = next
			break
		}
	}
}

func (c *Client) readLoop(ws *websocket.Conn) {
	for {
		_, payload, err := ws.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if !closed {
				log.Warn().Err(err).Str("session_id", c.cfg.SessionID).Msg("relay connection lost")
			}
			return
		}

		var env wire.Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			log.Warn().Err(err).Msg("dropping malformed relay frame")
			continue
		}
		switch env.Type {
		case wire.FrameOp:
			if env.Op != nil && c.events.Op != nil {
				c.events.Op(*env.Op)
			}
		case wire.FramePresence:
			if c.events.Presence != nil {
				c.events.Presence(env.Presence)
			}
		}
	}
}

func (c *Client) write(env wire.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("relayws: client closed")
	}
	if c.ws == nil {
		return fmt.Errorf("relayws: not connected")
	}
	c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.ws.WriteJSON(env)
}

func (c *Client) setConn(ws *websocket.Conn) {
	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()
}

func (c *Client) setStatus(connected bool) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed && connected {
		return
	}
	if c.events.Status != nil {
		c.events.Status(connected)
	}
}

func (c *Client) reannounce() {
	c.mu.Lock()
	last := c.lastAnnounce
	c.mu.Unlock()
	if last == nil {
		return
	}
	if err := c.write(wire.Envelope{Type: wire.FrameAnnounce, Announce: last}); err != nil {
		log.Warn().Err(err).Msg("presence re-announce failed")
	}
}
