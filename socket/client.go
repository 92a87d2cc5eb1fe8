package socket

import (
	"net/http"
	"time"

	"kanban/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	sendBuffer   = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Any origin may subscribe, matching the CORS policy of the REST API.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Client struct {
	ID        string
	Hub       *Hub
	Conn      *websocket.Conn
	ProjectID string
	Send      chan []byte

	currentVersion func() (int64, error)
	// lastVersion is the newest version sent; owned by the hub loop.
	lastVersion int64
}

// ServeWs upgrades the request and subscribes the connection to a project's version changes.
// currentVersion is called by the hub once the client is in its room.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request, projectID string, currentVersion func() (int64, error)) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Sugar.Errorf("WebSocket upgrade failed for project %s: %v", projectID, err)
		return
	}

	client := &Client{
		ID:             uuid.NewString(),
		Hub:            hub,
		Conn:           conn,
		ProjectID:      projectID,
		Send:           make(chan []byte, sendBuffer),
		currentVersion: currentVersion,
	}

	select {
	case hub.Register <- client:
	case <-hub.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump only drains control frames; subscribers never send data.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.Hub.Unregister <- c:
		case <-c.Hub.done:
		}
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(512)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Sugar.Errorf("error: %v", err)
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
