package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	// HandshakeTimeout bounds the websocket upgrade.
	HandshakeTimeout = 10 * time.Second
	// eventBuffer absorbs short bursts so the read loop never stalls the
	// gateway's TCP window during normal operation.
	eventBuffer = 8
)

// identifyFrame is the first client frame on a new connection.
type identifyFrame struct {
	Op           string       `json:"op"`
	Token        string       `json:"token"`
	Capabilities []Capability `json:"capabilities"`
}

// serverFrame is the envelope for frames the gateway sends.
type serverFrame struct {
	Op        string `json:"op"`
	SessionID string `json:"session_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// WebsocketDialer dials the gateway over a websocket and speaks the identify
// handshake. It implements Dialer.
type WebsocketDialer struct {
	url    string
	dialer *websocket.Dialer
}

// NewWebsocketDialer creates a dialer for the given gateway URL.
func NewWebsocketDialer(url string) *WebsocketDialer {
	return &WebsocketDialer{
		url: url,
		dialer: &websocket.Dialer{
			HandshakeTimeout: HandshakeTimeout,
		},
	}
}

// Dial validates the credential shape, connects, and sends the identify frame
// scoped to the given capability set. Remote acceptance arrives later as the
// first event on the returned Conn.
func (d *WebsocketDialer) Dial(ctx context.Context, credential string, caps []Capability) (Conn, error) {
	if err := ValidateCredential(credential); err != nil {
		return nil, err
	}

	ws, _, err := d.dialer.DialContext(ctx, d.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial gateway: %w", err)
	}

	payload, err := json.Marshal(identifyFrame{
		Op:           "identify",
		Token:        credential,
		Capabilities: caps,
	})
	if err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("encode identify: %w", err)
	}
	if err := ws.WriteMessage(websocket.TextMessage, payload); err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("send identify: %w", err)
	}

	conn := &wsConn{
		ws:     ws,
		events: make(chan Event, eventBuffer),
	}
	go conn.readLoop()
	return conn, nil
}

// wsConn is a live websocket gateway connection.
type wsConn struct {
	ws        *websocket.Conn
	events    chan Event
	closeOnce sync.Once
	closeErr  error
}

func (c *wsConn) Events() <-chan Event {
	return c.events
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

// readLoop decodes server frames into lifecycle events until the socket dies.
// The events channel is closed on return; consumers must drain it.
func (c *wsConn) readLoop() {
	defer close(c.events)

	settled := false
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if settled {
				c.events <- Event{Type: EventClosed, Reason: err.Error()}
			} else {
				// The socket died before the gateway answered the
				// identify; that is a failed attempt, not a clean close.
				c.events <- Event{Type: EventError, Reason: err.Error()}
			}
			return
		}

		var frame serverFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Warn().Err(err).Msg("Undecodable gateway frame, skipping")
			continue
		}

		switch frame.Op {
		case "ready":
			settled = true
			c.events <- Event{Type: EventReady, SessionID: frame.SessionID}
		case "rejected", "error":
			settled = true
			c.events <- Event{Type: EventError, Reason: frame.Reason}
		case "closed":
			settled = true
			c.events <- Event{Type: EventClosed, Reason: frame.Reason}
			_ = c.Close()
			return
		default:
			// Heartbeats and payload traffic are not lifecycle events.
		}
	}
}
