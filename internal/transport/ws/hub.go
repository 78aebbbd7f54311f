package ws

import (
	"encoding/json"
	"log"
	"sync"

	"flipfocus/internal/model"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	MsgSessionUpdated MessageType = "session_updated"
	MsgSessionRemoved MessageType = "session_removed"
	MsgError          MessageType = "error"
)

// Message is the WebSocket envelope format
type Message struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Hub manages WebSocket connections subscribed to live sessions
type Hub struct {
	// Session -> subscribed connections
	conns map[string]map[*Connection]bool

	mu sync.RWMutex

	// Channels for coordination
	register   chan *Connection
	unregister chan *Connection
	broadcast  chan *BroadcastMessage
}

// Connection represents one subscribed WebSocket client
type Connection struct {
	SessionID string
	UserID    string
	Send      chan []byte
	Hub       *Hub
}

// BroadcastMessage is a message to fan out to a session's subscribers
type BroadcastMessage struct {
	SessionID string
	Message   *Message
}

// NewHub creates a new WebSocket hub
func NewHub() *Hub {
	h := &Hub{
		conns:      make(map[string]map[*Connection]bool),
		register:   make(chan *Connection),
		unregister: make(chan *Connection),
		broadcast:  make(chan *BroadcastMessage, 256),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			if h.conns[conn.SessionID] == nil {
				h.conns[conn.SessionID] = make(map[*Connection]bool)
			}
			h.conns[conn.SessionID][conn] = true
			h.mu.Unlock()
			log.Printf("user %s subscribed to session %s", conn.UserID, conn.SessionID)

		case conn := <-h.unregister:
			h.mu.Lock()
			if subs, ok := h.conns[conn.SessionID]; ok {
				if subs[conn] {
					delete(subs, conn)
					close(conn.Send)
					if len(subs) == 0 {
						delete(h.conns, conn.SessionID)
					}
					log.Printf("user %s unsubscribed from session %s", conn.UserID, conn.SessionID)
				}
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.RLock()
			data, _ := json.Marshal(msg.Message)
			for conn := range h.conns[msg.SessionID] {
				select {
				case conn.Send <- data:
				default:
					// Drop message if buffer full
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Register adds a connection
func (h *Hub) Register(conn *Connection) {
	h.register <- conn
}

// Unregister removes a connection
func (h *Hub) Unregister(conn *Connection) {
	h.unregister <- conn
}

// SessionUpdated fans a fresh snapshot out to the session's subscribers
// (implements service.Broadcaster)
func (h *Hub) SessionUpdated(session *model.LiveSession) {
	data, _ := json.Marshal(session)
	h.broadcast <- &BroadcastMessage{
		SessionID: session.ID,
		Message: &Message{
			Type:    MsgSessionUpdated,
			Payload: data,
		},
	}
}

// SessionRemoved tells subscribers the session is gone (implements
// service.Broadcaster)
func (h *Hub) SessionRemoved(sessionID string) {
	data, _ := json.Marshal(map[string]string{"sessionId": sessionID})
	h.broadcast <- &BroadcastMessage{
		SessionID: sessionID,
		Message: &Message{
			Type:    MsgSessionRemoved,
			Payload: data,
		},
	}
}
