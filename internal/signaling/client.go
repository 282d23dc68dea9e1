package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/BioHazard786/meshcall/internal/dns"
	"github.com/BioHazard786/meshcall/internal/version"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024

	eventBuffer    = 256
	outgoingBuffer = 64
)

// Options configures Dial.
type Options struct {
	Logger *slog.Logger

	// Dialer overrides the websocket dialer. Its NetDialContext defaults to
	// dns.DialContext when unset.
	Dialer *websocket.Dialer
}

// Client manages the websocket connection to the relay. Inbound traffic is
// decoded into Events; the last event delivered is always EventTransportLost.
type Client struct {
	conn      *websocket.Conn
	serverURL string
	logger    *slog.Logger

	events   chan Event
	outgoing chan *Message
	done     chan struct{}
	assigned chan struct{}

	mu    sync.Mutex
	id    string
	open  bool
	cause error

	closeOnce sync.Once
}

// Dial connects to the relay websocket endpoint and starts the read and
// write pumps.
func Dial(ctx context.Context, serverURL string, opts Options) (*Client, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("invalid server URL scheme %q", u.Scheme)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var dialer websocket.Dialer
	if opts.Dialer != nil {
		dialer = *opts.Dialer
	} else {
		dialer = *websocket.DefaultDialer
	}
	if dialer.NetDialContext == nil && dialer.NetDial == nil {
		dialer.NetDialContext = dns.DialContext
	}

	header := http.Header{}
	header.Set("User-Agent", version.UserAgent())

	conn, _, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	c := &Client{
		conn:      conn,
		serverURL: u.String(),
		logger:    logger.With("component", "signaling"),
		events:    make(chan Event, eventBuffer),
		outgoing:  make(chan *Message, outgoingBuffer),
		done:      make(chan struct{}),
		assigned:  make(chan struct{}),
		open:      true,
	}

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.readPump()
	go c.writePump()

	c.logger.Debug("connected to relay", "url", c.serverURL)
	return c, nil
}

// Connect dials the relay, waits for the assigned identity and joins room.
func Connect(ctx context.Context, serverURL, room string, opts Options) (*Client, error) {
	c, err := Dial(ctx, serverURL, opts)
	if err != nil {
		return nil, err
	}

	if _, err := c.WaitForID(ctx); err != nil {
		c.Close()
		return nil, err
	}
	if err := c.Join(room); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// WaitForID blocks until the relay assigned this connection an identity.
func (c *Client) WaitForID(ctx context.Context) (string, error) {
	select {
	case <-c.assigned:
		return c.ID(), nil
	case <-c.done:
		return "", ErrTransportLost
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Join asks the relay to add this connection to room.
func (c *Client) Join(room string) error {
	if c.ID() == "" {
		return ErrNoIdentity
	}
	c.logger.Info("joining room", "room", room, "id", c.ID())
	return c.Send(NewJoin(room))
}

// ID returns the relay-assigned identity, or "" before assignment.
func (c *Client) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// Events returns the channel of decoded inbound events.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Err returns why the connection ended, or nil while it is open.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cause
}

// Send queues msg for the relay. It fails with ErrNotConnected once the
// connection is closed or lost.
func (c *Client) Send(msg *Message) error {
	c.mu.Lock()
	open := c.open
	c.mu.Unlock()
	if !open {
		return ErrNotConnected
	}

	select {
	case c.outgoing <- msg:
		return nil
	case <-c.done:
		return ErrNotConnected
	}
}

// Close shuts the connection down. It is safe to call more than once.
func (c *Client) Close() {
	c.shutdown(ErrClosed)
}

func (c *Client) shutdown(cause error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.open = false
		c.cause = cause
		c.mu.Unlock()
		close(c.done)
	})
}

// readPump reads messages from the websocket connection.
func (c *Client) readPump() {
	var readErr error
	defer func() {
		c.shutdown(fmt.Errorf("%w: %v", ErrTransportLost, readErr))
		c.conn.Close()
		c.finish()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			readErr = err
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("dropping malformed relay message", "error", err)
			continue
		}

		ev, ok, err := c.route(&msg)
		if err != nil {
			c.logger.Warn("dropping relay message", "type", msg.Type, "error", err)
			continue
		}
		if !ok {
			continue
		}

		select {
		case c.events <- ev:
		case <-c.done:
			return
		}
	}
}

// finish delivers the terminal event and closes Events.
func (c *Client) finish() {
	lost := Event{Type: EventTransportLost, Err: c.Err()}
	select {
	case c.events <- lost:
	case <-time.After(writeWait):
		c.logger.Warn("event consumer stalled, transport loss not delivered")
	}
	close(c.events)
	c.logger.Debug("relay connection ended", "cause", lost.Err)
}

// writePump writes messages to the websocket connection and sends periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.outgoing:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(message); err != nil {
				c.logger.Debug("relay write failed", "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
