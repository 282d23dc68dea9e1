package relay

import (
	"context"
	"log/slog"

	"github.com/BioHazard786/meshcall/internal/signaling"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Hub is the single goroutine that owns every room and client. Clients talk
// to it only through its channels.
type Hub struct {
	rooms   map[string]*Room
	clients map[string]*Client

	register   chan *Client
	unregister chan *Client
	inbound    chan inbound
	done       chan struct{}

	newID  func() string
	logger *slog.Logger
}

// HubOption customizes a Hub.
type HubOption func(*Hub)

// WithIDs replaces the UUID generator used for client identities.
func WithIDs(next func() string) HubOption {
	return func(h *Hub) {
		h.newID = next
	}
}

// NewHub creates a Hub. Call Run to start it.
func NewHub(logger *slog.Logger, opts ...HubOption) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		rooms:      make(map[string]*Room),
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inbound),
		done:       make(chan struct{}),
		newID:      uuid.NewString,
		logger:     logger.With("component", "relay"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// NewClient wraps conn with a fresh identity. Start it with Attach.
func (h *Hub) NewClient(conn *websocket.Conn) *Client {
	return &Client{
		hub:  h,
		conn: conn,
		ID:   h.newID(),
		send: make(chan *signaling.Message, sendBuffer),
	}
}

// Attach registers c and starts its pumps. It returns false if the hub has
// stopped, in which case the connection is closed.
func (h *Hub) Attach(c *Client) bool {
	select {
	case h.register <- c:
	case <-h.done:
		c.conn.Close()
		return false
	}
	go c.WritePump()
	go c.ReadPump()
	return true
}

func (h *Hub) submit(in inbound) bool {
	select {
	case h.inbound <- in:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Run processes registrations and messages until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		for _, c := range h.clients {
			close(c.send)
		}
		h.clients = nil
		h.rooms = nil
		h.logger.Info("relay hub stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.clients[c.ID] = c
			h.logger.Info("client connected", "client", c.ID, "addr", c.conn.RemoteAddr().String())
			h.deliver(c, &signaling.Message{Type: signaling.MessageTypeID, ID: c.ID})

		case c := <-h.unregister:
			if _, ok := h.clients[c.ID]; !ok {
				continue
			}
			h.logger.Info("client disconnected", "client", c.ID)
			h.drop(c)

		case in := <-h.inbound:
			if _, ok := h.clients[in.client.ID]; !ok {
				continue
			}
			h.handle(in.client, in.msg)
		}
	}
}

func (h *Hub) handle(c *Client, msg *signaling.Message) {
	switch {
	case msg.Type == signaling.MessageTypeJoin:
		h.join(c, msg.Room)

	case msg.Directed():
		h.relay(c, msg)

	default:
		h.logger.Debug("unknown message type", "client", c.ID, "type", msg.Type)
	}
}

func (h *Hub) join(c *Client, roomID string) {
	if roomID == "" {
		h.logger.Debug("join without room", "client", c.ID)
		return
	}
	if c.room != "" && c.room != roomID {
		h.removeFromRoom(c)
	}

	room, ok := h.rooms[roomID]
	if !ok {
		room = newRoom(roomID)
		h.rooms[roomID] = room
		h.logger.Info("room created", "room", roomID)
	}
	room.members[c.ID] = c
	c.room = roomID

	h.logger.Info("client joined room", "client", c.ID, "room", roomID, "members", len(room.members))

	// Only the newcomer learns the membership on join, so it alone offers.
	// Existing members meet it through its offers.
	h.deliver(c, &signaling.Message{Type: signaling.MessageTypePeers, Peers: room.IDs()})
}

// relay forwards a directed message to its target in the sender's room.
func (h *Hub) relay(c *Client, msg *signaling.Message) {
	if c.room == "" {
		h.logger.Debug("signal before join", "client", c.ID, "type", msg.Type)
		return
	}
	target, ok := h.clients[msg.To]
	if !ok || target.room != c.room {
		h.logger.Debug("signal to unknown peer", "client", c.ID, "to", msg.To, "type", msg.Type)
		return
	}

	msg.From = c.ID
	h.deliver(target, msg)
}

func (h *Hub) removeFromRoom(c *Client) {
	room, ok := h.rooms[c.room]
	c.room = ""
	if !ok {
		return
	}
	delete(room.members, c.ID)
	if room.empty() {
		delete(h.rooms, room.ID)
		h.logger.Info("room deleted", "room", room.ID)
		return
	}
	h.broadcastPeers(room)
}

func (h *Hub) broadcastPeers(room *Room) {
	peers := room.IDs()
	for _, member := range room.members {
		h.deliver(member, &signaling.Message{Type: signaling.MessageTypePeers, Peers: peers})
	}
}

// deliver queues msg for c. A client whose buffer is full is dropped.
func (h *Hub) deliver(c *Client, msg *signaling.Message) {
	select {
	case c.send <- msg:
	default:
		h.logger.Warn("client too slow, disconnecting", "client", c.ID)
		h.drop(c)
	}
}

func (h *Hub) drop(c *Client) {
	if _, ok := h.clients[c.ID]; !ok {
		return
	}
	delete(h.clients, c.ID)
	if c.room != "" {
		h.removeFromRoom(c)
	}
	close(c.send)
}
