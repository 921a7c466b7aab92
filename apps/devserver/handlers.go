package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/kritsw/chat-session/pkg/auth"
	"github.com/kritsw/chat-session/pkg/model"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096

	tokenTTL = 24 * time.Hour
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // dev harness, all origins welcome
	},
}

type contextKey string

const userKey contextKey = "user"

type LoginRequest struct {
	UserID    string `json:"user_id"`
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
}

type LoginResponse struct {
	Token string `json:"token"`
}

func LoginHandler(secret []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if req.UserID == "" {
			http.Error(w, "user_id is required", http.StatusBadRequest)
			return
		}
		token, err := auth.Mint(req.UserID, secret, tokenTTL)
		if err != nil {
			http.Error(w, "Failed to generate token", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(LoginResponse{Token: token})
	}
}

func AuthMiddleware(secret []byte) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := r.Header.Get("Authorization")
			if tokenString == "" {
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}
			if len(tokenString) > 7 && tokenString[:7] == "Bearer " {
				tokenString = tokenString[7:]
			}
			claims, err := auth.Verify(tokenString, secret)
			if err != nil {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, claims)))
		})
	}
}

func claimsFrom(r *http.Request) (*auth.Claims, bool) {
	claims, ok := r.Context().Value(userKey).(*auth.Claims)
	return claims, ok
}

// RoomHandler reports room metadata plus the caller's membership flag.
func (h *Hub) RoomHandler(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	roomID := mux.Vars(r)["id"]
	resp := map[string]any{
		"data": map[string]any{
			"id":       roomID,
			"name":     roomID,
			"isMember": h.isMember(roomID, claims.UserID),
		},
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// JoinHandler adds the caller to the room's member list.
func (h *Hub) JoinHandler(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	roomID := mux.Vars(r)["id"]
	h.addMember(roomID, model.RoomMember{ID: claims.UserID, Username: claims.UserID})
	resp := map[string]any{
		"success": true,
		"room":    map[string]any{"id": roomID, "name": roomID, "isMember": true},
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// MembersHandler serves one page of the room member list.
func (h *Hub) MembersHandler(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["id"]
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 25
	}
	items, total := h.membersPage(roomID, page, limit)
	resp := map[string]any{
		"members": items,
		"total":   total,
		"page":    page,
		"limit":   limit,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// client is a middleman between one websocket connection and the hub.
type client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	userID string
	roomID string
}

func (c *client) author() model.Author {
	return model.Author{ID: c.userID, Username: c.userID}
}

func (c *client) trySend(raw []byte) {
	select {
	case c.send <- raw:
	default:
	}
}

// readPump pumps frames from the websocket connection into the hub.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister(c.roomID, c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("error: %v", err)
			}
			break
		}
		c.hub.handleInbound(c.roomID, c, raw)
	}
}

// writePump pumps frames from the hub to the websocket connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case raw, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWS upgrades a connection for /chat/ws/{room}/?token=...
func (h *Hub) ServeWS(secret []byte, w http.ResponseWriter, r *http.Request) {
	tokenString := r.URL.Query().Get("token")
	if tokenString == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	claims, err := auth.Verify(tokenString, secret)
	if err != nil {
		log.Printf("unauthorized: invalid token: %v", err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	roomID := mux.Vars(r)["room"]
	if roomID == "" {
		http.Error(w, "room required", http.StatusBadRequest)
		return
	}
	if !h.isMember(roomID, claims.UserID) {
		http.Error(w, "Not a member of this room", http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println(err)
		return
	}

	c := &client{hub: h, conn: conn, send: make(chan []byte, 256), userID: claims.UserID, roomID: roomID}
	go c.writePump()
	h.register(roomID, c)
	go c.readPump()
}
