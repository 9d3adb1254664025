package game

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	chatHistoryKey   = "chat:messages"
	chatHistoryKeep  = 100 // retained
	chatHistoryServe = 50  // sent to a joining client
	chatMaxLength    = 500
)

// ChatRelay fans chat messages out to the chat room and keeps a bounded
// history in redis. Without redis it degrades to an in-memory ring, so
// chat keeps working when the cache is down.
type ChatRelay struct {
	hub *Hub
	rdb *redis.Client
	ctx context.Context

	mu       sync.Mutex
	fallback []ChatMessage
	online   map[string]map[string]struct{} // user id -> conn ids
}

func NewChatRelay(hub *Hub, rdb *redis.Client) *ChatRelay {
	return &ChatRelay{
		hub:    hub,
		rdb:    rdb,
		ctx:    context.Background(),
		online: make(map[string]map[string]struct{}),
	}
}

// Join subscribes a client to the chat room, sends it the recent
// history and broadcasts the new presence count.
func (c *ChatRelay) Join(client *Client) {
	c.hub.Join(client, RoomChat)

	userID, _, _ := client.Identity()
	if userID != "" {
		c.mu.Lock()
		conns, ok := c.online[userID]
		if !ok {
			conns = make(map[string]struct{})
			c.online[userID] = conns
		}
		conns[client.ID] = struct{}{}
		c.mu.Unlock()
	}

	client.Send("chat-history", c.History())
	c.broadcastPresence()
}

// Leave drops the connection from presence tracking. A user stays
// online while any of their connections remains.
func (c *ChatRelay) Leave(client *Client) {
	c.hub.Leave(client, RoomChat)

	userID, _, _ := client.Identity()
	if userID == "" {
		c.broadcastPresence()
		return
	}

	c.mu.Lock()
	if conns, ok := c.online[userID]; ok {
		delete(conns, client.ID)
		if len(conns) == 0 {
			delete(c.online, userID)
		}
	}
	c.mu.Unlock()
	c.broadcastPresence()
}

func (c *ChatRelay) OnlineCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.online)
}

// Send validates, stores and broadcasts one chat message.
func (c *ChatRelay) Send(client *Client, text string) {
	userID, username, profilePicture := client.Identity()
	if userID == "" {
		client.Send("chat-error", map[string]string{"message": "Connect before chatting"})
		return
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if len(text) > chatMaxLength {
		// Cut on a rune boundary so the broadcast stays valid UTF-8.
		cut := chatMaxLength
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}

	msg := ChatMessage{
		ID:             uuid.NewString(),
		UserID:         userID,
		Username:       username,
		Message:        text,
		ProfilePicture: profilePicture,
		Timestamp:      time.Now(),
	}

	c.store(msg)
	c.hub.Publish(RoomChat, "new-message", msg)
}

// History returns the most recent messages, oldest first.
func (c *ChatRelay) History() []ChatMessage {
	if c.rdb == nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		start := 0
		if len(c.fallback) > chatHistoryServe {
			start = len(c.fallback) - chatHistoryServe
		}
		out := make([]ChatMessage, len(c.fallback)-start)
		copy(out, c.fallback[start:])
		return out
	}

	raw, err := c.rdb.LRange(c.ctx, chatHistoryKey, int64(-chatHistoryServe), -1).Result()
	if err != nil {
		log.Printf("[CHAT] History read failed: %v", err)
		return []ChatMessage{}
	}
	out := make([]ChatMessage, 0, len(raw))
	for _, item := range raw {
		var msg ChatMessage
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			continue
		}
		out = append(out, msg)
	}
	return out
}

func (c *ChatRelay) store(msg ChatMessage) {
	if c.rdb == nil {
		c.mu.Lock()
		c.fallback = append(c.fallback, msg)
		if len(c.fallback) > chatHistoryKeep {
			c.fallback = c.fallback[len(c.fallback)-chatHistoryKeep:]
		}
		c.mu.Unlock()
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	pipe := c.rdb.Pipeline()
	pipe.RPush(c.ctx, chatHistoryKey, data)
	pipe.LTrim(c.ctx, chatHistoryKey, int64(-chatHistoryKeep), -1)
	if _, err := pipe.Exec(c.ctx); err != nil {
		log.Printf("[CHAT] History write failed: %v", err)
	}
}

func (c *ChatRelay) broadcastPresence() {
	c.hub.Publish(RoomChat, "online-users-count", map[string]int{"count": c.OnlineCount()})
}
