package main

import (
	"context"
	"encoding/json"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kritsw/chat-session/pkg/localid"
	"github.com/kritsw/chat-session/pkg/model"
)

const (
	historyCap = 100
	typingTTL  = 5 * time.Second
)

type room struct {
	id      string
	clients map[*client]bool
	members map[string]model.RoomMember
	history []model.Message
}

type Hub struct {
	mu    sync.RWMutex
	rooms map[string]*room
	redis *redis.Client
	ids   *localid.Node
}

func NewHub(redisAddr string) *Hub {
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	node, err := localid.NewNode(1)
	if err != nil {
		log.Fatalf("failed to initialize id node: %v", err)
	}
	return &Hub{
		rooms: make(map[string]*room),
		redis: rdb,
		ids:   node,
	}
}

// room returns the named room, creating it on first use.
func (h *Hub) getRoom(id string) *room {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[id]
	if !ok {
		r = &room{
			id:      id,
			clients: make(map[*client]bool),
			members: make(map[string]model.RoomMember),
		}
		h.rooms[id] = r
	}
	return r
}

func (h *Hub) isMember(roomID, userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.rooms[roomID]
	if !ok {
		return false
	}
	_, ok = r.members[userID]
	return ok
}

func (h *Hub) addMember(roomID string, m model.RoomMember) {
	r := h.getRoom(roomID)
	h.mu.Lock()
	r.members[m.ID] = m
	h.mu.Unlock()
}

func (h *Hub) membersPage(roomID string, page, limit int) ([]model.RoomMember, int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.rooms[roomID]
	if !ok {
		return nil, 0
	}
	all := make([]model.RoomMember, 0, len(r.members))
	for _, m := range r.members {
		all = append(all, m)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	start := (page - 1) * limit
	if start >= len(all) {
		return []model.RoomMember{}, len(all)
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], len(all)
}

func (h *Hub) register(roomID string, c *client) {
	r := h.getRoom(roomID)
	h.mu.Lock()
	r.clients[c] = true
	history := append([]model.Message(nil), r.history...)
	h.mu.Unlock()

	if err := h.redis.SAdd(context.Background(), "room:"+roomID+":users", c.userID).Err(); err != nil {
		log.Printf("failed to set presence for %s: %v", c.userID, err)
	}
	log.Printf("client registered: %s in room %s", c.userID, roomID)

	// Replay retained history to the newcomer, then announce them.
	if len(history) > 0 {
		raw, err := json.Marshal(map[string]any{"eventType": "history", "payload": history})
		if err == nil {
			c.trySend(raw)
		}
	}
	h.broadcast(roomID, h.eventFrame("join", c.author()))
}

func (h *Hub) unregister(roomID string, c *client) {
	present := false
	h.mu.Lock()
	if r, ok := h.rooms[roomID]; ok {
		if _, ok := r.clients[c]; ok {
			delete(r.clients, c)
			close(c.send)
			present = true
		}
	}
	h.mu.Unlock()
	if !present {
		return
	}

	if err := h.redis.SRem(context.Background(), "room:"+roomID+":users", c.userID).Err(); err != nil {
		log.Printf("failed to delete presence for %s: %v", c.userID, err)
	}
	log.Printf("client unregistered: %s from room %s", c.userID, roomID)
	h.broadcast(roomID, h.eventFrame("leave", c.author()))
}

func (h *Hub) broadcast(roomID string, raw []byte) {
	if raw == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[roomID]
	if !ok {
		return
	}
	for c := range r.clients {
		select {
		case c.send <- raw:
		default:
			close(c.send)
			delete(r.clients, c)
		}
	}
}

// handleInbound interprets one frame from a client: typing relays,
// "/unsend" and "/reply" commands, and plain messages.
func (h *Hub) handleInbound(roomID string, c *client, raw []byte) {
	var env struct {
		Type    string `json:"type"`
		Payload struct {
			Message string `json:"message"`
		} `json:"payload"`
	}
	text := string(raw)
	if err := json.Unmarshal(raw, &env); err == nil && env.Type != "" {
		if env.Type == "typing" {
			h.relayTyping(roomID, c)
			return
		}
		text = env.Payload.Message
	}
	if text == "" {
		return
	}

	switch {
	case strings.HasPrefix(text, "/unsend "):
		h.handleUnsend(roomID, strings.TrimSpace(strings.TrimPrefix(text, "/unsend ")))
	case strings.HasPrefix(text, "/reply "):
		h.handleReply(roomID, c, strings.TrimPrefix(text, "/reply "))
	default:
		h.appendAndBroadcast(roomID, h.newMessage(c, text, nil))
	}
}

func (h *Hub) relayTyping(roomID string, c *client) {
	key := "room:" + roomID + ":typing:" + c.userID
	if err := h.redis.Set(context.Background(), key, "1", typingTTL).Err(); err != nil {
		log.Printf("failed to set typing key for %s: %v", c.userID, err)
	}
	raw, err := json.Marshal(map[string]any{
		"type":    "typing",
		"payload": map[string]any{"user": c.author()},
	})
	if err != nil {
		return
	}
	h.broadcast(roomID, raw)
}

func (h *Hub) handleUnsend(roomID, id string) {
	if id == "" {
		return
	}
	h.mu.Lock()
	if r, ok := h.rooms[roomID]; ok {
		for i := range r.history {
			if r.history[i].ID == id {
				r.history[i].Deleted = true
				break
			}
		}
	}
	h.mu.Unlock()

	raw, err := json.Marshal(map[string]any{
		"eventType": "unsend",
		"payload":   map[string]any{"messageId": id},
	})
	if err != nil {
		return
	}
	h.broadcast(roomID, raw)
}

func (h *Hub) handleReply(roomID string, c *client, rest string) {
	targetID, body, ok := strings.Cut(rest, " ")
	if !ok || strings.TrimSpace(body) == "" {
		return
	}
	var replyTo map[string]any
	h.mu.RLock()
	if r, ok := h.rooms[roomID]; ok {
		for i := range r.history {
			if r.history[i].ID == targetID {
				replyTo = map[string]any{
					"id":      r.history[i].ID,
					"message": r.history[i].Body,
					"user":    r.history[i].Author,
				}
				break
			}
		}
	}
	h.mu.RUnlock()
	if replyTo == nil {
		replyTo = map[string]any{"id": targetID}
	}
	h.appendAndBroadcast(roomID, h.newMessage(c, strings.TrimSpace(body), replyTo))
}

type outbound struct {
	msg   model.Message
	extra map[string]any
}

func (h *Hub) newMessage(c *client, body string, replyTo map[string]any) outbound {
	msg := model.Message{
		ID:        h.ids.Next(),
		Kind:      model.KindText,
		Author:    c.author(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Body:      body,
	}
	extra := map[string]any{}
	if replyTo != nil {
		extra["replyTo"] = replyTo
	}
	return outbound{msg: msg, extra: extra}
}

func (h *Hub) appendAndBroadcast(roomID string, out outbound) {
	h.mu.Lock()
	if r, ok := h.rooms[roomID]; ok {
		r.history = append(r.history, out.msg)
		if len(r.history) > historyCap {
			r.history = r.history[len(r.history)-historyCap:]
		}
	}
	h.mu.Unlock()

	payload := map[string]any{
		"id":        out.msg.ID,
		"timestamp": out.msg.Timestamp,
		"message":   out.msg.Body,
		"user": map[string]any{
			"_id":       out.msg.Author.ID,
			"firstname": out.msg.Author.FirstName,
			"lastname":  out.msg.Author.LastName,
			"username":  out.msg.Author.Username,
		},
	}
	for k, v := range out.extra {
		payload[k] = v
	}
	raw, err := json.Marshal(map[string]any{"type": "message", "payload": payload})
	if err != nil {
		log.Printf("failed to marshal message: %v", err)
		return
	}
	h.broadcast(roomID, raw)
}

func (h *Hub) eventFrame(event string, user model.Author) []byte {
	raw, err := json.Marshal(map[string]any{
		"type": event,
		"payload": map[string]any{
			"id":        h.ids.Next(),
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"user": map[string]any{
				"_id":       user.ID,
				"firstname": user.FirstName,
				"lastname":  user.LastName,
				"username":  user.Username,
			},
		},
	})
	if err != nil {
		return nil
	}
	return raw
}
