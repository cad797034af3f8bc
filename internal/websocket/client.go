package websocket

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/muskiagrwal/Real-time-Messaging-App/internal/chat"
	"github.com/muskiagrwal/Real-time-Messaging-App/internal/models"
	"github.com/muskiagrwal/Real-time-Messaging-App/pkg/logger"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = 54 * time.Second

	// Maximum inbound frame size. Attachments carry metadata only, so
	// frames stay small.
	maxFrameSize = 8192

	// Consecutive undecodable frames tolerated before the connection
	// is dropped.
	maxDecodeErrors = 3
)

// Client ties one WebSocket to its chat session. The read pump parses
// inbound frames and hands them to the gateway; the write pump drains
// the session's outbound queues onto the wire.
type Client struct {
	gateway *Gateway
	conn    *websocket.Conn
	session *chat.Connection
	user    *models.User

	limiter    *rate.Limiter
	decodeErrs int
}

func newClient(gateway *Gateway, conn *websocket.Conn, session *chat.Connection, user *models.User) *Client {
	limit := rate.Limit(gateway.cfg.Chat.FramesPerSecond)
	return &Client{
		gateway: gateway,
		conn:    conn,
		session: session,
		user:    user,
		limiter: rate.NewLimiter(limit, gateway.cfg.Chat.FrameBurst),
	}
}

func (c *Client) ReadPump() {
	// The write pump owns the transport close so frames queued before
	// disconnect still reach the peer.
	defer c.gateway.disconnect(c)

	// Set read deadline and pong handler for connection health
	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Error("WebSocket error: %v", err)
			}
			return
		}

		if !c.limiter.Allow() {
			c.sendError(0, models.ErrCodeRateLimited, "inbound frame rate exceeded")
			logger.Warn("Closing session %s: frame rate exceeded", c.session.SessionID)
			return
		}

		if err := c.gateway.handleFrame(c, data); err != nil {
			logger.Warn("Closing session %s: %v", c.session.SessionID, err)
			return
		}
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.session.Done():
			c.flushPending()
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case payload := <-c.session.Outbound():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				logger.Error("Write error: %v", err)
				return
			}

		case payload := <-c.session.Ephemeral():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
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

// flushPending drains frames queued before the session closed, so a
// final error frame still reaches the peer. No new enqueue can land
// once Done has fired, which bounds the loop.
func (c *Client) flushPending() {
	for {
		select {
		case payload := <-c.session.Outbound():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if c.conn.WriteMessage(websocket.TextMessage, payload) != nil {
				return
			}
		case payload := <-c.session.Ephemeral():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if c.conn.WriteMessage(websocket.TextMessage, payload) != nil {
				return
			}
		default:
			return
		}
	}
}

// send marshals a frame and queues it on the reliable lane for this
// client alone. Used for acks, history replay and error reports.
func (c *Client) send(frame *models.ServerFrame) {
	payload, err := json.Marshal(frame)
	if err != nil {
		logger.Error("Error marshaling %s frame: %v", frame.Type, err)
		return
	}
	if err := c.session.Enqueue(chat.Event{Class: chat.ClassReliable, Payload: payload}); err != nil {
		logger.Debug("Dropping %s frame for session %s: %v", frame.Type, c.session.SessionID, err)
	}
}

func (c *Client) sendError(roomID int, code, message string) {
	c.send(&models.ServerFrame{
		Type:   models.EventError,
		RoomID: roomID,
		Error:  &models.ErrorInfo{Code: code, Message: message},
	})
}
