package ws

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = 25 * time.Second

	sendTimeout = 2 * time.Second
	// replaceWait bounds how long a new connection waits for the one it
	// replaces to finish its cleanup writes.
	replaceWait = 2 * time.Second
)

type Client struct {
	ID          string
	Participant string
	Conn        *websocket.Conn
	Send        chan []byte
	Hub         *Hub
	Done        chan struct{}

	player *Player
	log    *slog.Logger
}

func NewClient(participant string, conn *websocket.Conn, hub *Hub) *Client {
	id := uuid.NewString()
	return &Client{
		ID:          id,
		Participant: participant,
		Conn:        conn,
		Send:        make(chan []byte, 256),
		Hub:         hub,
		Done:        make(chan struct{}),
		log:         hub.log.With("participant", participant, "conn", id),
	}
}

func (c *Client) Run() {
	go c.writePump()

	c.send(Message{Type: MsgReady, Payload: ReadyPayload{Participant: c.Participant, ConnectionID: c.ID}})

	if old := c.Hub.Attach(c); old != nil {
		select {
		case <-old.Done:
		case <-time.After(replaceWait):
			c.log.Warn("replaced connection still closing")
		}
	}

	c.player = newPlayer(c)
	if err := c.player.Start(); err != nil {
		c.log.Error("start player failed", "error", err)
		c.send(Message{Type: MsgError, Payload: ErrorPayload{Message: err.Error()}})
		c.player.Close()
		c.Hub.Detach(c)
		_ = c.Conn.Close()
		close(c.Done)
		return
	}
	c.log.Info("participant connected")

	go c.readPump()
	<-c.Done
}

func (c *Client) readPump() {
	defer func() {
		c.disconnect()
		close(c.Done)
	}()

	c.Conn.SetReadLimit(4096)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	// a close frame means the page is going away; withdraw presence before
	// the orderly cleanup
	c.Conn.SetCloseHandler(func(code int, _ string) error {
		c.player.Terminate()
		msg := websocket.FormatCloseMessage(code, "")
		_ = c.Conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		return nil
	})

	for {
		_, msg, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("read error", "error", err)
			}
			break
		}
		c.player.HandleMessage(msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case <-c.Done:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case msg := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log.Debug("write error", "error", err)
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

// send queues msg for the write pump, dropping it if the connection is
// gone or stays backed up.
func (c *Client) send(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.log.Error("marshal message failed", "type", msg.Type, "error", err)
		return
	}

	select {
	case c.Send <- data:
	case <-c.Done:
	case <-time.After(sendTimeout):
		c.log.Warn("send timed out", "type", msg.Type)
	}
}

func (c *Client) disconnect() {
	c.player.Close()
	c.Hub.Detach(c)
	_ = c.Conn.Close()
	c.log.Info("participant disconnected")
}
