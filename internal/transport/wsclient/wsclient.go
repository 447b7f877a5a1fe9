// Package wsclient is a gorilla/websocket-based Transport implementation
// that dials a control endpoint standing in for the real game-coordinator
// RPC link (spec §1 Non-goal a treats the actual protocol as a black box).
// Its dial plumbing is grounded in the gateway connection handling this
// project's core borrows its idiom from, but it carries opaque inspect
// frames instead of a specific game's opcodes. It sends no heartbeats and
// does not reconnect by itself; a dropped connection is reported as a
// disconnect event.
package wsclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/cs2inspect/gateway/internal/transport"
)

// frame is the minimal envelope exchanged with the control endpoint: a
// login ack, an inspect request/response pair, or an async notification.
type frame struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"d,omitempty"`
}

const (
	opLogin           = "login"
	opLoginAck        = "login_ack"
	opInspect         = "inspect"
	opInspectResult   = "inspect_result"
	opDisconnect      = "disconnect"
	opError           = "error"
)

// Client dials a single control endpoint on behalf of one bot account.
type Client struct {
	endpoint string

	mu     sync.Mutex
	conn   *websocket.Conn
	events chan transport.Event

	pending   chan json.RawMessage
	closeOnce sync.Once
}

// New creates a client that will dial endpoint on Login.
func New(endpoint string) *Client {
	return &Client{
		endpoint: endpoint,
		events:   make(chan transport.Event, 8),
		pending:  make(chan json.RawMessage, 1),
	}
}

// Login implements transport.Transport: dials the endpoint, optionally via
// proxyURL, and exchanges a login frame for an ack.
func (c *Client) Login(ctx context.Context, cred transport.Credential, proxyURL string) (transport.ErrorReason, error) {
	dialer := websocket.DefaultDialer
	if proxyURL != "" {
		proxy, err := url.Parse(proxyURL)
		if err != nil {
			return transport.ReasonUnknown, fmt.Errorf("invalid proxy url: %w", err)
		}
		dialer = &websocket.Dialer{Proxy: http.ProxyURL(proxy)}
	}

	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return transport.ReasonUnknown, err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	loginData, _ := json.Marshal(map[string]string{
		"username": cred.Username,
		"password": cred.Password,
	})
	if err := conn.WriteJSON(frame{Op: opLogin, Data: loginData}); err != nil {
		return transport.ReasonUnknown, err
	}

	var ack frame
	if err := conn.ReadJSON(&ack); err != nil {
		return transport.ReasonUnknown, err
	}

	switch ack.Op {
	case opLoginAck:
		go c.listen(conn)
		return "", nil
	case opError:
		var reason struct {
			Reason string `json:"reason"`
		}
		_ = json.Unmarshal(ack.Data, &reason)
		return transport.ErrorReason(reason.Reason), errors.New("login rejected: " + reason.Reason)
	default:
		return transport.ReasonUnknown, fmt.Errorf("unexpected op during login: %s", ack.Op)
	}
}

// listen reads frames off the connection until it errors, forwarding
// inspect results to pending and everything else to the events channel.
func (c *Client) listen(conn *websocket.Conn) {
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			c.mu.Lock()
			same := c.conn == conn
			c.mu.Unlock()
			if same {
				c.emit(transport.Event{Kind: transport.EventDisconnected})
			}
			return
		}

		switch f.Op {
		case opInspectResult:
			select {
			case c.pending <- f.Data:
			default:
			}
		case opDisconnect:
			c.emit(transport.Event{Kind: transport.EventDisconnected})
		case opError:
			var reason struct {
				Reason string `json:"reason"`
			}
			_ = json.Unmarshal(f.Data, &reason)
			c.emit(transport.Event{Kind: transport.EventError, Reason: transport.ErrorReason(reason.Reason)})
		}
	}
}

func (c *Client) emit(e transport.Event) {
	select {
	case c.events <- e:
	default:
	}
}

// Inspect implements transport.Transport.
func (c *Client) Inspect(ctx context.Context, owner, assetID, proof, marketID uint64) (transport.InspectResult, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return transport.InspectResult{}, errors.New("not connected")
	}

	req, _ := json.Marshal(map[string]uint64{
		"owner": owner, "asset_id": assetID, "proof": proof, "market_id": marketID,
	})
	if err := conn.WriteJSON(frame{Op: opInspect, Data: req}); err != nil {
		return transport.InspectResult{}, err
	}

	select {
	case raw := <-c.pending:
		var fields map[string]any
		if err := json.Unmarshal(raw, &fields); err != nil {
			return transport.InspectResult{}, err
		}
		return transport.InspectResult{Fields: fields}, nil
	case <-ctx.Done():
		return transport.InspectResult{}, ctx.Err()
	}
}

// Events implements transport.Transport.
func (c *Client) Events() <-chan transport.Event {
	return c.events
}

// Close implements transport.Transport.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.conn != nil {
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			err = c.conn.Close()
		}
		close(c.events)
	})
	return err
}
