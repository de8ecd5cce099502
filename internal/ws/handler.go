package ws

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in development
	},
}

// Client represents a connected WebSocket client
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID string
	send   chan []byte
}

// Hub maintains the set of active clients and their tournament rooms.
// One client per user; a reconnect replaces the previous connection.
type Hub struct {
	clients map[string]*Client            // userID -> Client
	rooms   map[string]map[string]*Client // tournamentID -> userID -> Client
	mu      sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		rooms:   make(map[string]map[string]*Client),
	}
}

// ServeWS upgrades the request and runs the connection until it drops.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WS] Upgrade failed for user %s: %v", userID, err)
		return
	}

	client := &Client{
		hub:    h,
		conn:   conn,
		userID: userID,
		send:   make(chan []byte, 64),
	}
	h.register(client)

	go client.writePump()
	client.readPump()
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	old, exists := h.clients[c.userID]
	h.clients[c.userID] = c
	h.mu.Unlock()

	if exists {
		close(old.send)
	}
	log.Printf("[WS] User %s connected", c.userID)
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	// Only drop the mapping if it still points at this connection
	if h.clients[c.userID] == c {
		delete(h.clients, c.userID)
		for id, room := range h.rooms {
			delete(room, c.userID)
			if len(room) == 0 {
				delete(h.rooms, id)
			}
		}
	}
	h.mu.Unlock()
	log.Printf("[WS] User %s disconnected", c.userID)
}

// joinRoom subscribes the client to a tournament's event stream.
func (h *Hub) joinRoom(c *Client, tournamentID string) {
	h.mu.Lock()
	room, ok := h.rooms[tournamentID]
	if !ok {
		room = make(map[string]*Client)
		h.rooms[tournamentID] = room
	}
	room[c.userID] = c
	h.mu.Unlock()
	log.Printf("[WS] User %s watching tournament %s", c.userID, tournamentID)
}

func (h *Hub) leaveRoom(c *Client, tournamentID string) {
	h.mu.Lock()
	if room, ok := h.rooms[tournamentID]; ok {
		delete(room, c.userID)
		if len(room) == 0 {
			delete(h.rooms, tournamentID)
		}
	}
	h.mu.Unlock()
}

// BroadcastToTournament sends a message to every client watching the
// tournament.
func (h *Hub) BroadcastToTournament(tournamentID string, message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		log.Printf("[WS] Error marshaling message: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if room, exists := h.rooms[tournamentID]; exists {
		for _, client := range room {
			select {
			case client.send <- data:
			default:
				log.Printf("[WS] Send buffer full for user %s in tournament %s, dropping message",
					client.userID, tournamentID)
			}
		}
	}
}

// SendToUser sends a message to a specific connected user.
func (h *Hub) SendToUser(userID string, message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		log.Printf("[WS] Error marshaling message: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if client, exists := h.clients[userID]; exists {
		select {
		case client.send <- data:
		default:
			log.Printf("[WS] SendToUser dropped message for user %s (buffer full)", userID)
		}
	}
}

// WSMessage is the client-to-server envelope.
type WSMessage struct {
	Type         string `json:"type"`
	TournamentID string `json:"tournament_id,omitempty"`
}

// readPump consumes subscribe/unsubscribe commands until the
// connection drops.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[WS] Read error for user %s: %v", c.userID, err)
			}
			return
		}

		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendError("invalid message")
			continue
		}

		switch msg.Type {
		case "subscribe":
			if msg.TournamentID != "" {
				c.hub.joinRoom(c, msg.TournamentID)
			}
		case "unsubscribe":
			if msg.TournamentID != "" {
				c.hub.leaveRoom(c, msg.TournamentID)
			}
		case "ping":
			c.hub.SendToUser(c.userID, map[string]string{"type": "pong"})
		default:
			c.sendError("unknown message type")
		}
	}
}

// writePump writes messages to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				// Channel closed: connection replaced or cleaned up
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("[WS] Write error for user %s: %v", c.userID, err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) sendError(message string) {
	data, _ := json.Marshal(map[string]interface{}{
		"type":    "error",
		"message": message,
	})
	select {
	case c.send <- data:
	default:
	}
}
