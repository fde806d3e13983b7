package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const defaultSendBuffer = 64

// Client is one live connection. Frames queued on it are written by a single
// writer goroutine.
type Client struct {
	ID     string
	UserID string
	send   chan []byte
	rooms  map[string]struct{}
	once   sync.Once
}

func NewClient(userID string, buffer int) *Client {
	if buffer <= 0 {
		buffer = defaultSendBuffer
	}
	return &Client{
		ID:     uuid.NewString(),
		UserID: userID,
		send:   make(chan []byte, buffer),
		rooms:  make(map[string]struct{}),
	}
}

// Send returns the channel of frames queued for the client. It is closed when
// the hub unregisters the client.
func (c *Client) Send() <-chan []byte {
	return c.send
}

func (c *Client) close() {
	c.once.Do(func() { close(c.send) })
}

// BusMessage is an emitted frame as exchanged between processes.
type BusMessage struct {
	Origin  string `json:"origin"`
	Room    string `json:"room,omitempty"`
	ConnID  string `json:"connId,omitempty"`
	Global  bool   `json:"global,omitempty"`
	Payload []byte `json:"payload"`
}

// Publisher forwards emitted frames to other processes.
type Publisher interface {
	Publish(ctx context.Context, msg BusMessage) error
}

type Hub struct {
	mu        sync.RWMutex
	clients   map[string]*Client
	rooms     map[string]map[string]*Client
	presence  Presence
	publisher Publisher
	nodeID    string
	timeout   time.Duration
}

type HubOption func(*Hub)

// WithPublisher forwards every emission to other processes.
func WithPublisher(p Publisher) HubOption {
	return func(h *Hub) {
		h.publisher = p
	}
}

func NewHub(presence Presence, opts ...HubOption) *Hub {
	if presence == nil {
		presence = NewMemoryPresence()
	}
	h := &Hub{
		clients:  make(map[string]*Client),
		rooms:    make(map[string]map[string]*Client),
		presence: presence,
		nodeID:   uuid.NewString(),
		timeout:  5 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// NodeID identifies this process on the bus.
func (h *Hub) NodeID() string {
	return h.nodeID
}

// Register records the client as online and pushes the presence list.
func (h *Hub) Register(ctx context.Context, c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	h.mu.Unlock()

	if err := h.presence.Add(ctx, c.UserID, c.ID); err != nil {
		log.WithError(err).WithField("user_id", c.UserID).Warn("presence add failed")
	}
	h.broadcastOnline(ctx)
}

// Unregister leaves every room the client joined, closes its send channel and
// pushes the presence list.
func (h *Hub) Unregister(ctx context.Context, c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.ID)
	left := make([]string, 0, len(c.rooms))
	for room := range c.rooms {
		h.removeFromRoomLocked(room, c)
		left = append(left, room)
	}
	h.mu.Unlock()
	c.close()

	for _, room := range left {
		h.EmitToRoom(room, EventUserLeft, RoomMember{UserID: c.UserID, BoardID: boardFromRoom(room)})
	}
	if err := h.presence.Remove(ctx, c.UserID, c.ID); err != nil {
		log.WithError(err).WithField("user_id", c.UserID).Warn("presence remove failed")
	}
	h.broadcastOnline(ctx)
}

// Join adds the client to the board's room. Membership of the board is not
// checked here; the REST layer decides what data reaches a room.
func (h *Hub) Join(ctx context.Context, c *Client, boardID string) {
	if boardID == "" {
		return
	}
	room := RoomForBoard(boardID)
	h.mu.Lock()
	if _, ok := h.clients[c.ID]; !ok {
		h.mu.Unlock()
		return
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]*Client)
		h.rooms[room] = members
	}
	members[c.ID] = c
	c.rooms[room] = struct{}{}
	h.mu.Unlock()

	h.EmitToRoom(room, EventUserJoined, RoomMember{UserID: c.UserID, BoardID: boardID})
	h.broadcastOnline(ctx)
}

func (h *Hub) Leave(ctx context.Context, c *Client, boardID string) {
	room := RoomForBoard(boardID)
	h.mu.Lock()
	if _, ok := c.rooms[room]; !ok {
		h.mu.Unlock()
		return
	}
	h.removeFromRoomLocked(room, c)
	h.mu.Unlock()

	h.EmitToRoom(room, EventUserLeft, RoomMember{UserID: c.UserID, BoardID: boardID})
	h.broadcastOnline(ctx)
}

func (h *Hub) removeFromRoomLocked(room string, c *Client) {
	delete(c.rooms, room)
	if members, ok := h.rooms[room]; ok {
		delete(members, c.ID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// RoomSize returns the number of local connections in room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Online returns the current presence list.
func (h *Hub) Online(ctx context.Context) ([]string, error) {
	return h.presence.Online(ctx)
}

func (h *Hub) EmitToRoom(room, event string, data any) {
	payload, ok := h.encode(event, data)
	if !ok {
		return
	}
	h.deliverRoom(room, payload)
	h.publish(BusMessage{Room: room, Payload: payload})
}

// EmitToUser delivers to the user's latest connection only.
func (h *Hub) EmitToUser(userID, event string, data any) {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	connID, ok, err := h.presence.Latest(ctx, userID)
	if err != nil {
		log.WithError(err).WithField("user_id", userID).Warn("presence lookup failed")
		return
	}
	if !ok {
		return
	}
	payload, ok := h.encode(event, data)
	if !ok {
		return
	}
	if h.deliverConn(connID, payload) {
		return
	}
	h.publish(BusMessage{ConnID: connID, Payload: payload})
}

func (h *Hub) EmitGlobal(event string, data any) {
	payload, ok := h.encode(event, data)
	if !ok {
		return
	}
	h.deliverAll(payload)
	h.publish(BusMessage{Global: true, Payload: payload})
}

// Deliver hands a frame received from another process to local connections.
// Frames this process published itself are ignored.
func (h *Hub) Deliver(msg BusMessage) {
	if msg.Origin == h.nodeID {
		return
	}
	switch {
	case msg.Global:
		h.deliverAll(msg.Payload)
	case msg.ConnID != "":
		h.deliverConn(msg.ConnID, msg.Payload)
	case msg.Room != "":
		h.deliverRoom(msg.Room, msg.Payload)
	}
}

// Close disconnects every local client without touching shared presence.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		c.close()
		delete(h.clients, id)
	}
	h.rooms = make(map[string]map[string]*Client)
}

func (h *Hub) broadcastOnline(ctx context.Context) {
	users, err := h.presence.Online(ctx)
	if err != nil {
		log.WithError(err).Warn("presence list failed")
		return
	}
	h.EmitGlobal(EventOnlineUsers, users)
}

func (h *Hub) encode(event string, data any) ([]byte, bool) {
	payload, err := encode(event, data)
	if err != nil {
		log.WithError(err).WithField("event", event).Error("encode realtime event")
		return nil, false
	}
	return payload, true
}

func (h *Hub) deliverRoom(room string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.rooms[room] {
		trySend(c, payload)
	}
}

func (h *Hub) deliverConn(connID string, payload []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[connID]
	if !ok {
		return false
	}
	trySend(c, payload)
	return true
}

func (h *Hub) deliverAll(payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		trySend(c, payload)
	}
}

func (h *Hub) publish(msg BusMessage) {
	if h.publisher == nil {
		return
	}
	msg.Origin = h.nodeID
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	if err := h.publisher.Publish(ctx, msg); err != nil {
		log.WithError(err).Warn("realtime publish failed")
	}
}

// trySend must be called with the hub lock held so the channel cannot be
// closed concurrently.
func trySend(c *Client, payload []byte) {
	select {
	case c.send <- payload:
	default:
		log.WithFields(log.Fields{
			"conn_id": c.ID,
			"user_id": c.UserID,
		}).Warn("dropped realtime event for slow client")
	}
}

func boardFromRoom(room string) string {
	const prefix = "board:"
	if len(room) > len(prefix) && room[:len(prefix)] == prefix {
		return room[len(prefix):]
	}
	return room
}
