package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/muskiagrwal/Real-time-Messaging-App/internal/chat"
	"github.com/muskiagrwal/Real-time-Messaging-App/internal/config"
	"github.com/muskiagrwal/Real-time-Messaging-App/internal/membership"
	"github.com/muskiagrwal/Real-time-Messaging-App/internal/models"
	"github.com/muskiagrwal/Real-time-Messaging-App/pkg/logger"
)

// Authenticator resolves the JWT handed over in the query string.
type Authenticator interface {
	GetUserFromToken(ctx context.Context, tokenStr string) (*models.User, error)
}

// MessageStore persists messages before fan-out and serves history replay.
type MessageStore interface {
	SaveMessage(ctx context.Context, msg *models.Message) (*models.Message, error)
	LoadRecentMessages(ctx context.Context, roomID int, limit int) ([]*models.Message, error)
}

// SessionStore mirrors live connections into the active_sessions table
// so the REST API can report who is in a room.
type SessionStore interface {
	CreateActiveSession(ctx context.Context, userID, roomID int, sessionID string) error
	RemoveActiveSession(ctx context.Context, userID, roomID int, sessionID string) error
	UpdateSessionActivity(ctx context.Context, userID, roomID int, sessionID string) error
	ClearSession(ctx context.Context, sessionID string) error
}

// Gateway terminates WebSocket connections, validates inbound frames
// and translates them into router calls. It is the only component that
// talks to both the transport and the chat core.
type Gateway struct {
	auth     Authenticator
	checker  membership.Checker
	messages MessageStore
	sessions SessionStore
	router   *chat.Router
	cfg      *config.Config
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*Client]struct{}
}

func NewGateway(auth Authenticator, checker membership.Checker, messages MessageStore, sessions SessionStore, router *chat.Router, cfg *config.Config) *Gateway {
	return &Gateway{
		auth:     auth,
		checker:  checker,
		messages: messages,
		sessions: sessions,
		router:   router,
		cfg:      cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true }, // Configure for production
		},
		clients: make(map[*Client]struct{}),
	}
}

// ServeWS authenticates the request, upgrades it and starts the pumps.
// Rooms are not joined here: the client subscribes after connect by
// sending join_room frames.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}

	user, err := g.auth.GetUserFromToken(r.Context(), tokenStr)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Upgrade error: %v", err)
		return
	}

	session := chat.NewConnection(uuid.NewString(), user.ID, user.Username)
	session.MarkAuthenticated()

	client := newClient(g, conn, session, user)
	g.track(client)
	g.router.Connect(session)

	go client.WritePump()
	go client.ReadPump()
}

// handleFrame dispatches one inbound frame. A non-nil return tells the
// read pump to drop the connection.
func (g *Gateway) handleFrame(c *Client, data []byte) error {
	var frame models.ClientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.decodeErrs++
		if c.decodeErrs >= maxDecodeErrors {
			return fmt.Errorf("%d undecodable frames in a row", c.decodeErrs)
		}
		c.sendError(0, models.ErrCodeInvalidPayload, "malformed frame")
		return nil
	}
	c.decodeErrs = 0

	switch frame.Type {
	case models.EventJoinRoom:
		g.handleJoin(c, frame.Payload)
	case models.EventLeaveRoom:
		g.handleLeave(c, frame.Payload)
	case models.EventSendMessage:
		g.handleSend(c, frame.Payload)
	case models.EventTyping:
		g.handleTyping(c, frame.Payload)
	default:
		c.sendError(0, models.ErrCodeUnknownType, fmt.Sprintf("unknown event type %q", frame.Type))
	}
	return nil
}

func (g *Gateway) handleJoin(c *Client, payload json.RawMessage) {
	var req models.JoinRoomPayload
	if err := json.Unmarshal(payload, &req); err != nil || req.RoomID <= 0 {
		c.sendError(0, models.ErrCodeInvalidPayload, "join_room requires a room_id")
		return
	}

	ctx := context.Background()
	ok, err := g.checker.CanAccess(ctx, c.user.ID, req.RoomID)
	if err != nil {
		logger.Error("Error checking room access for user %d room %d: %v", c.user.ID, req.RoomID, err)
		c.sendError(req.RoomID, models.ErrCodeNotMember, "unable to verify membership")
		return
	}
	if !ok {
		c.sendError(req.RoomID, models.ErrCodeNotMember, "not a member of this room")
		return
	}

	if err := g.router.Join(c.session, req.RoomID); err != nil {
		return
	}

	if err := g.sessions.CreateActiveSession(ctx, c.user.ID, req.RoomID, c.session.SessionID); err != nil {
		logger.Error("Error creating active session: %v", err)
	}

	history, err := g.messages.LoadRecentMessages(ctx, req.RoomID, g.cfg.Chat.HistoryLimit)
	if err != nil {
		logger.Error("Error loading recent messages: %v", err)
		history = nil
	}

	c.send(&models.ServerFrame{
		Type:    models.EventRoomJoined,
		RoomID:  req.RoomID,
		History: history,
	})
}

func (g *Gateway) handleLeave(c *Client, payload json.RawMessage) {
	var req models.LeaveRoomPayload
	if err := json.Unmarshal(payload, &req); err != nil || req.RoomID <= 0 {
		c.sendError(0, models.ErrCodeInvalidPayload, "leave_room requires a room_id")
		return
	}

	if err := g.router.Leave(c.session, req.RoomID); err != nil {
		return
	}

	ctx := context.Background()
	if err := g.sessions.RemoveActiveSession(ctx, c.user.ID, req.RoomID, c.session.SessionID); err != nil {
		logger.Error("Error removing active session: %v", err)
	}

	c.send(&models.ServerFrame{Type: models.EventRoomLeft, RoomID: req.RoomID})
}

func (g *Gateway) handleSend(c *Client, payload json.RawMessage) {
	var req models.SendMessagePayload
	if err := json.Unmarshal(payload, &req); err != nil || req.RoomID <= 0 {
		c.sendError(0, models.ErrCodeInvalidPayload, "send_message requires a room_id")
		return
	}
	if req.Content == "" && len(req.Attachments) == 0 {
		c.sendError(req.RoomID, models.ErrCodeInvalidPayload, "message has no content")
		return
	}
	if len(req.Content) > g.cfg.Chat.MaxMessageLength {
		c.sendError(req.RoomID, models.ErrCodeInvalidPayload,
			fmt.Sprintf("message exceeds %d bytes", g.cfg.Chat.MaxMessageLength))
		return
	}
	if req.MessageType == "" {
		req.MessageType = "text"
	}

	// The router re-checks subscription, but checking here avoids
	// persisting a message that will never fan out.
	if !c.session.Subscribed(req.RoomID) {
		c.sendError(req.RoomID, models.ErrCodeNotMember, "join the room before sending")
		return
	}

	msg := &models.Message{
		UserID:      c.user.ID,
		Username:    c.user.Username,
		RoomID:      req.RoomID,
		Content:     req.Content,
		MessageType: req.MessageType,
		Attachments: req.Attachments,
	}

	if err := g.sessions.UpdateSessionActivity(context.Background(), c.user.ID, req.RoomID, c.session.SessionID); err != nil {
		logger.Error("Error updating session activity: %v", err)
	}

	stored, err := g.messages.SaveMessage(context.Background(), msg)
	if err != nil {
		logger.Error("Error saving message: %v", err)
		c.sendError(req.RoomID, models.ErrCodePersistenceFailed, "message could not be stored")
		return
	}

	if err := g.router.Send(c.session, stored); err != nil {
		if errors.Is(err, chat.ErrNotMember) {
			c.sendError(req.RoomID, models.ErrCodeNotMember, "join the room before sending")
		}
		return
	}
}

func (g *Gateway) handleTyping(c *Client, payload json.RawMessage) {
	var req models.TypingPayload
	if err := json.Unmarshal(payload, &req); err != nil || req.RoomID <= 0 {
		c.sendError(0, models.ErrCodeInvalidPayload, "typing requires a room_id")
		return
	}

	if err := g.router.Typing(c.session, req.RoomID, req.IsTyping); err != nil {
		if errors.Is(err, chat.ErrNotMember) {
			c.sendError(req.RoomID, models.ErrCodeNotMember, "join the room before typing")
		}
	}
}

// disconnect tears down one client: router cleanup first so no new
// events are queued, then the session mirror rows.
func (g *Gateway) disconnect(c *Client) {
	g.untrack(c)
	g.router.Disconnect(c.session)

	if err := g.sessions.ClearSession(context.Background(), c.session.SessionID); err != nil {
		logger.Error("Error clearing session rows: %v", err)
	}
}

// Shutdown force-disconnects every client. The write pumps observe the
// closed sessions and send close frames before the listener goes away.
func (g *Gateway) Shutdown() {
	g.mu.Lock()
	clients := make([]*Client, 0, len(g.clients))
	for c := range g.clients {
		clients = append(clients, c)
	}
	g.mu.Unlock()

	for _, c := range clients {
		g.router.Disconnect(c.session)
	}
}

func (g *Gateway) track(c *Client) {
	g.mu.Lock()
	g.clients[c] = struct{}{}
	g.mu.Unlock()
}

func (g *Gateway) untrack(c *Client) {
	g.mu.Lock()
	delete(g.clients, c)
	g.mu.Unlock()
}
