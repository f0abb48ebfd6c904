package events

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 50 * time.Second
	sendBuffer   = 8
)

// Message tells a browser that its view changed and should be refreshed.
type Message struct {
	Type   string    `json:"type"`
	UserID string    `json:"user_id"`
	At     time.Time `json:"at"`
}

type client struct {
	id     string
	userID string
	conn   *websocket.Conn
	send   chan []byte
}

// Hub keeps the websocket connections of signed-in users and pushes a
// message to every connection of a user whose view changed. The client set
// is owned by the Run goroutine.
type Hub struct {
	upgrader   websocket.Upgrader
	register   chan *client
	unregister chan *client
	publish    chan string
	done       chan struct{}
	connected  atomic.Int64
	logger     *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		register:   make(chan *client),
		unregister: make(chan *client),
		publish:    make(chan string, 64),
		done:       make(chan struct{}),
		logger:     logger.Named("events"),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	clients := make(map[*client]struct{})

	for {
		select {
		case c := <-h.register:
			clients[c] = struct{}{}
			h.connected.Add(1)
			h.logger.Debug("websocket client connected",
				zap.String("client_id", c.id),
				zap.String("user_id", c.userID),
				zap.Int("total", len(clients)))

		case c := <-h.unregister:
			if _, ok := clients[c]; ok {
				delete(clients, c)
				close(c.send)
				h.connected.Add(-1)
				h.logger.Debug("websocket client disconnected",
					zap.String("client_id", c.id),
					zap.Int("total", len(clients)))
			}

		case userID := <-h.publish:
			msg, err := json.Marshal(Message{Type: "state", UserID: userID, At: time.Now().UTC()})
			if err != nil {
				h.logger.Error("failed to marshal event", zap.Error(err))
				continue
			}
			for c := range clients {
				if c.userID != userID {
					continue
				}
				select {
				case c.send <- msg:
				default:
					h.logger.Warn("websocket client too slow, dropping it", zap.String("client_id", c.id))
					delete(clients, c)
					close(c.send)
					h.connected.Add(-1)
				}
			}

		case <-ctx.Done():
			for c := range clients {
				close(c.send)
			}
			h.connected.Store(0)
			return
		}
	}
}

// Publish notifies the user's connections. It never blocks; if the hub is
// saturated the event is dropped and the next change will carry the state.
func (h *Hub) Publish(userID string) {
	select {
	case h.publish <- userID:
	default:
		h.logger.Warn("event channel full, dropping event", zap.String("user_id", userID))
	}
}

// Connected returns the number of open connections.
func (h *Hub) Connected() int {
	return int(h.connected.Load())
}

// Serve upgrades the request and attaches the connection to userID.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, userID string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	c := &client{
		id:     uuid.NewString(),
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return nil
	}

	go h.writePump(c)
	go h.readPump(c)
	return nil
}

func (h *Hub) readPump(c *client) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read error", zap.String("client_id", c.id), zap.Error(err))
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.logger.Debug("websocket write error", zap.String("client_id", c.id), zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
