// Package relaytransport maintains a single persistent websocket connection
// to one relay, reconnecting with exponential backoff, and routes inbound
// NIP-01 frames (EVENT/EOSE/CLOSED/NOTICE/OK) to the dispatcher while
// resubscribing every active filter after each reconnect.
package relaytransport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"nwcprovider/internal/metrics"
	"nwcprovider/internal/nostrevent"
)

const (
	minBackoff    = 1 * time.Second
	maxBackoff    = 120 * time.Second
	stableUptime  = 120 * time.Second
	pingInterval  = 30 * time.Second
	writeDeadline = 10 * time.Second
)

// Filter is a NIP-01 REQ filter. Tag filters (e.g. #p, #e) go in Tags keyed
// without the leading '#'.
type Filter struct {
	IDs     []string
	Authors []string
	Kinds   []int
	Tags    map[string][]string
	Since   *int64
	Until   *int64
	Limit   int
}

func (f Filter) MarshalJSON() ([]byte, error) {
	m := make(map[string]interface{}, 8)
	if len(f.IDs) > 0 {
		m["ids"] = f.IDs
	}
	if len(f.Authors) > 0 {
		m["authors"] = f.Authors
	}
	if len(f.Kinds) > 0 {
		m["kinds"] = f.Kinds
	}
	for k, v := range f.Tags {
		m["#"+k] = v
	}
	if f.Since != nil {
		m["since"] = *f.Since
	}
	if f.Until != nil {
		m["until"] = *f.Until
	}
	if f.Limit > 0 {
		m["limit"] = f.Limit
	}
	return json.Marshal(m)
}

// EventMsg is an EVENT frame delivered for one of our active subscriptions.
type EventMsg struct {
	SubID string
	Event *nostrevent.Event
}

// OKMsg is the relay's acknowledgement of a published event.
type OKMsg struct {
	EventID string
	Saved   bool
	Message string
}

// Client owns a single relay connection and resubscribes on reconnect.
type Client struct {
	URL string

	log *slog.Logger

	mu            sync.Mutex
	conn          *websocket.Conn
	connSignal    chan struct{}
	writeMu       sync.Mutex
	subscriptions map[string]Filter
	connectedAt   time.Time

	Events chan EventMsg
	EOSE   chan string
	Closed chan string
	Notice    chan string
	OK        chan OKMsg
	Connected chan struct{}
}

// New creates a client for relayURL. Call Run to establish and hold the
// connection; Subscribe/Publish may be called at any time, before or after
// the connection exists, and will apply once it does.
func New(relayURL string, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		URL:           relayURL,
		log:           log,
		subscriptions: make(map[string]Filter),
		connSignal:    make(chan struct{}),
		Events:        make(chan EventMsg, 256),
		EOSE:          make(chan string, 16),
		Closed:        make(chan string, 16),
		Notice:        make(chan string, 16),
		OK:            make(chan OKMsg, 64),
		Connected:     make(chan struct{}, 1),
	}
}

// Run holds the connection open until ctx is cancelled, reconnecting with
// exponential backoff (1s doubling to a 120s ceiling, reset once a
// connection has stayed up for 120s) on every disconnect.
func (c *Client) Run(ctx context.Context) error {
	backoff := minBackoff
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		connectedAt := time.Now()
		err := c.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if time.Since(connectedAt) >= stableUptime {
			backoff = minBackoff
		}
		wait := backoff
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}

		metrics.IncRelayReconnects()
		c.log.Warn("relay disconnected, reconnecting", "relay", c.URL, "error", err, "backoff", wait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (c *Client) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.URL, nil)
	if err != nil {
		return fmt.Errorf("relaytransport: dial %s: %w", c.URL, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connectedAt = time.Now()
	close(c.connSignal)
	subsSnapshot := make(map[string]Filter, len(c.subscriptions))
	for id, f := range c.subscriptions {
		subsSnapshot[id] = f
	}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.connSignal = make(chan struct{})
		c.mu.Unlock()
	}()

	c.log.Info("relay connected", "relay", c.URL)

	for subID, filter := range subsSnapshot {
		if err := c.sendREQ(ctx, subID, filter); err != nil {
			c.log.Warn("relay resubscribe failed", "relay", c.URL, "sub", subID, "error", err)
		}
	}

	select {
	case c.Connected <- struct{}{}:
	default:
	}

	stop := make(chan struct{})
	go c.pingLoop(ctx, conn, stop)
	defer close(stop)

	for {
		var raw []json.RawMessage
		if err := conn.ReadJSON(&raw); err != nil {
			conn.Close()
			return err
		}
		if ctx.Err() != nil {
			conn.Close()
			return ctx.Err()
		}
		c.handleFrame(raw)
	}
}

func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn, stop chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (c *Client) handleFrame(raw []json.RawMessage) {
	if len(raw) < 1 {
		return
	}
	var frameType string
	if err := json.Unmarshal(raw[0], &frameType); err != nil {
		return
	}

	switch frameType {
	case "EVENT":
		if len(raw) < 3 {
			return
		}
		var subID string
		if err := json.Unmarshal(raw[1], &subID); err != nil {
			return
		}
		var evt nostrevent.Event
		if err := json.Unmarshal(raw[2], &evt); err != nil {
			c.log.Warn("relay sent unparsable event", "relay", c.URL, "error", err)
			return
		}
		select {
		case c.Events <- EventMsg{SubID: subID, Event: &evt}:
		default:
			metrics.IncEventsDropped()
			c.log.Warn("relay event dropped, consumer too slow", "relay", c.URL, "sub", subID)
		}

	case "EOSE":
		if len(raw) < 2 {
			return
		}
		var subID string
		json.Unmarshal(raw[1], &subID)
		select {
		case c.EOSE <- subID:
		default:
		}

	case "CLOSED":
		if len(raw) < 2 {
			return
		}
		var subID string
		json.Unmarshal(raw[1], &subID)
		c.mu.Lock()
		delete(c.subscriptions, subID)
		c.mu.Unlock()
		select {
		case c.Closed <- subID:
		default:
		}

	case "OK":
		if len(raw) < 3 {
			return
		}
		var eventID string
		var saved bool
		var message string
		json.Unmarshal(raw[1], &eventID)
		json.Unmarshal(raw[2], &saved)
		if len(raw) >= 4 {
			json.Unmarshal(raw[3], &message)
		}
		select {
		case c.OK <- OKMsg{EventID: eventID, Saved: saved, Message: message}:
		default:
		}

	case "NOTICE":
		if len(raw) < 2 {
			return
		}
		var msg string
		json.Unmarshal(raw[1], &msg)
		select {
		case c.Notice <- msg:
		default:
		}
	}
}

// Subscribe registers subID/filter and sends the REQ, blocking until the
// connection is up if it currently isn't; the filter is replayed
// automatically on every future reconnect.
func (c *Client) Subscribe(ctx context.Context, subID string, filter Filter) error {
	c.mu.Lock()
	c.subscriptions[subID] = filter
	c.mu.Unlock()
	return c.sendREQ(ctx, subID, filter)
}

func (c *Client) sendREQ(ctx context.Context, subID string, filter Filter) error {
	return c.writeJSON(ctx, []interface{}{"REQ", subID, filter})
}

// Unsubscribe sends CLOSE and stops replaying the filter on reconnect.
func (c *Client) Unsubscribe(ctx context.Context, subID string) error {
	c.mu.Lock()
	delete(c.subscriptions, subID)
	c.mu.Unlock()
	return c.writeJSON(ctx, []interface{}{"CLOSE", subID})
}

// Publish sends an EVENT frame, blocking until connected per §4.3: a
// response dispatched mid-reconnect waits for the next connection rather
// than failing (and being dropped) immediately.
func (c *Client) Publish(ctx context.Context, evt *nostrevent.Event) error {
	return c.writeJSON(ctx, []interface{}{"EVENT", evt})
}

// writeJSON blocks until a connection is available, then writes v. If ctx
// is done (e.g. shutdown requested) while waiting, it returns ctx.Err()
// instead of blocking forever.
func (c *Client) writeJSON(ctx context.Context, v interface{}) error {
	for {
		c.mu.Lock()
		conn := c.conn
		signal := c.connSignal
		c.mu.Unlock()

		if conn == nil {
			select {
			case <-signal:
				continue
			case <-ctx.Done():
				return fmt.Errorf("relaytransport: %w waiting for connection", ctx.Err())
			}
		}

		c.writeMu.Lock()
		conn.SetWriteDeadline(time.Now().Add(writeDeadline))
		err := conn.WriteJSON(v)
		conn.SetWriteDeadline(time.Time{})
		c.writeMu.Unlock()
		return err
	}
}
