// Package relay implements the authoritative canvas broadcaster: it accepts
// websocket clients, keeps per-room canonical state, answers handshakes with
// a full snapshot, and fans every accepted mutation back out to the room.
package relay

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Hub manages the websocket connections of all rooms.
type Hub struct {
	rooms map[string]map[*Connection]bool
	mu    sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig

	broadcastCh chan broadcast

	// onMessage receives every raw frame a client sends.
	onMessage func(conn *Connection, data []byte)
}

// Connection is one websocket client in one room.
type Connection struct {
	ID       string
	ClientID string
	Room     string
	Conn     *websocket.Conn
	Send     chan []byte
	hub      *Hub

	ConnectedAt time.Time
}

// ConnectionConfig holds websocket tuning for the hub.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

type broadcast struct {
	room   string
	data   []byte
	except *Connection
}

// DefaultConnectionConfig returns the default websocket tuning.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1 << 20, // strokes with many points need room
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

// NewHub creates a hub. onMessage is invoked from each connection's read
// goroutine with the raw inbound frame.
func NewHub(config ConnectionConfig, onMessage func(*Connection, []byte)) *Hub {
	return &Hub{
		rooms: make(map[string]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan broadcast, 1000),
		onMessage:   onMessage,
	}
}

// Start processes queued broadcasts until ctx is cancelled.
func (h *Hub) Start(ctx context.Context) {
	log.Info().Msg("relay hub started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("relay hub shutting down")
			return
		case b := <-h.broadcastCh:
			h.deliver(b)
		}
	}
}

// Upgrade turns an HTTP request into a registered room connection.
func (h *Hub) Upgrade(w http.ResponseWriter, r *http.Request, room, clientID string) (*Connection, error) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	conn := &Connection{
		ID:          uuid.New().String(),
		ClientID:    clientID,
		Room:        room,
		Conn:        ws,
		Send:        make(chan []byte, 256),
		hub:         h,
		ConnectedAt: time.Now(),
	}
	h.register(conn)

	go conn.writePump()
	go conn.readPump()

	log.Info().
		Str("connection_id", conn.ID).
		Str("client_id", clientID).
		Str("room", room).
		Msg("websocket connection established")
	return conn, nil
}

func (h *Hub) register(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[conn.Room] == nil {
		h.rooms[conn.Room] = make(map[*Connection]bool)
	}
	h.rooms[conn.Room][conn] = true
}

func (h *Hub) unregister(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.rooms[conn.Room]
	if !ok {
		return
	}
	if _, ok := conns[conn]; !ok {
		return
	}
	delete(conns, conn)
	close(conn.Send)
	if len(conns) == 0 {
		delete(h.rooms, conn.Room)
	}
	log.Info().
		Str("connection_id", conn.ID).
		Str("room", conn.Room).
		Msg("connection unregistered")
}

// Broadcast queues data for every connection in the room. If except is
// non-nil that connection is skipped.
func (h *Hub) Broadcast(room string, data []byte, except *Connection) {
	select {
	case h.broadcastCh <- broadcast{room: room, data: data, except: except}:
	default:
		log.Warn().Str("room", room).Msg("broadcast channel full, dropping message")
	}
}

func (h *Hub) deliver(b broadcast) {
	h.mu.RLock()
	conns := h.rooms[b.room]
	targets := make([]*Connection, 0, len(conns))
	for conn := range conns {
		if conn == b.except {
			continue
		}
		targets = append(targets, conn)
	}
	h.mu.RUnlock()

	for _, conn := range targets {
		select {
		case conn.Send <- b.data:
		default:
			// Slow or dead consumer; drop it rather than stall the room.
			log.Warn().
				Str("connection_id", conn.ID).
				Str("room", conn.Room).
				Msg("send buffer full, closing connection")
			h.unregister(conn)
			conn.Conn.Close()
		}
	}
}

// Stats returns connection counts per room.
func (h *Hub) Stats() (total int, rooms map[string]int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rooms = make(map[string]int, len(h.rooms))
	for room, conns := range h.rooms {
		rooms[room] = len(conns)
		total += len(conns)
	}
	return total, rooms
}

// SendDirect queues data for one connection only.
func (c *Connection) SendDirect(data []byte) {
	select {
	case c.Send <- data:
	default:
		log.Warn().Str("connection_id", c.ID).Msg("direct send buffer full, dropping message")
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(c.hub.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.hub.unregister(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to write message")
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Connection) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.hub.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("unexpected websocket close")
			}
			break
		}
		if c.hub.onMessage != nil {
			c.hub.onMessage(c, message)
		}
		c.Conn.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
	}
}
