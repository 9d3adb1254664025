package game

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
)

// Room names. Every game broadcast targets one of these; RPS lobbies
// additionally get their own room via LobbyRoom.
const (
	RoomDice  = "dice-room"
	RoomCrash = "crash-room"
	RoomRPS   = "rps-room"
	RoomChat  = "chat-room"
)

func LobbyRoom(lobbyID string) string {
	return "rps-lobby-" + lobbyID
}

// Envelope is the wire frame of every websocket message, inbound and
// outbound: a type tag plus a JSON payload.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Client is one live websocket connection with its session identity.
type Client struct {
	ID             string
	UserID         string
	Username       string
	ProfilePicture string

	conn   *websocket.Conn
	send   chan []byte
	mu     sync.Mutex
	closed bool
}

// SetIdentity records who this connection belongs to (user-connect).
func (c *Client) SetIdentity(userID, username, profilePicture string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.UserID = userID
	c.Username = username
	c.ProfilePicture = profilePicture
}

func (c *Client) Identity() (userID, username, profilePicture string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.UserID, c.Username, c.ProfilePicture
}

// Send marshals an event envelope and queues it for this connection only.
func (c *Client) Send(event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[WS] Send marshal error for %s: %v", event, err)
		return
	}
	frame, err := json.Marshal(Envelope{Type: event, Data: data})
	if err != nil {
		log.Printf("[WS] Send marshal error for %s: %v", event, err)
		return
	}
	c.enqueue(frame)
}

// enqueue hands a frame to the write pump without blocking. A full queue
// means the client is not keeping up; the frame is dropped.
func (c *Client) enqueue(frame []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- frame:
	default:
		log.Printf("[WS] Slow client %s, dropping frame", c.ID)
	}
}

func (c *Client) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// writePump is the single writer of the connection; it drains the send
// queue in order so every client sees room events in publish order.
func (c *Client) writePump() {
	for frame := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			log.Printf("[WS] Write error for client %s: %v", c.ID, err)
			return
		}
	}
}

type roomEvent struct {
	room    string
	event   string
	payload interface{}
}

// Hub tracks live connections and their room subscriptions and fans
// room events out from a single loop, so broadcasts within a room keep
// their publish order.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client            // conn id -> client
	rooms   map[string]map[string]*Client // room -> conn id -> client

	broadcast chan roomEvent
	stop      chan struct{}
	stopOnce  sync.Once
}

func NewHub() *Hub {
	return &Hub{
		clients:   make(map[string]*Client),
		rooms:     make(map[string]map[string]*Client),
		broadcast: make(chan roomEvent, 256),
		stop:      make(chan struct{}),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case ev := <-h.broadcast:
			h.fanOut(ev)
		case <-h.stop:
			return
		}
	}
}

func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// Register wraps a fresh websocket connection and starts its write pump.
func (h *Hub) Register(conn *websocket.Conn) *Client {
	client := &Client{
		ID:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, 64),
	}
	h.mu.Lock()
	h.clients[client.ID] = client
	total := len(h.clients)
	h.mu.Unlock()

	go client.writePump()
	log.Printf("[WS] Client connected: %s (Total: %d)", client.ID, total)
	return client
}

// Unregister removes the client from every room and stops its pump. The
// underlying connection is closed by the websocket handler.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	delete(h.clients, client.ID)
	for room, members := range h.rooms {
		if _, ok := members[client.ID]; ok {
			delete(members, client.ID)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	total := len(h.clients)
	h.mu.Unlock()

	client.shutdown()
	log.Printf("[WS] Client disconnected: %s (Total: %d)", client.ID, total)
}

func (h *Hub) Join(client *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]*Client)
		h.rooms[room] = members
	}
	members[client.ID] = client
}

func (h *Hub) Leave(client *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.rooms[room]; ok {
		delete(members, client.ID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// Publish queues an event for every member of a room. Non-blocking; a
// full hub queue drops the event rather than stalling a game loop.
func (h *Hub) Publish(room, event string, payload interface{}) {
	select {
	case h.broadcast <- roomEvent{room: room, event: event, payload: payload}:
	default:
		log.Printf("[WS] Broadcast channel full, dropping %s for %s", event, room)
	}
}

func (h *Hub) fanOut(ev roomEvent) {
	data, err := json.Marshal(ev.payload)
	if err != nil {
		log.Printf("[WS] Marshal error for %s: %v", ev.event, err)
		return
	}
	frame, err := json.Marshal(Envelope{Type: ev.event, Data: data})
	if err != nil {
		log.Printf("[WS] Marshal error for %s: %v", ev.event, err)
		return
	}

	h.mu.RLock()
	members := h.rooms[ev.room]
	targets := make([]*Client, 0, len(members))
	for _, client := range members {
		targets = append(targets, client)
	}
	h.mu.RUnlock()

	for _, client := range targets {
		client.enqueue(frame)
	}
}

func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) RoomCount(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}
