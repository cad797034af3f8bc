package chat

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/muskiagrwal/Real-time-Messaging-App/internal/models"
	"github.com/muskiagrwal/Real-time-Messaging-App/pkg/logger"
)

// DefaultTypingTTL matches the client's own typing timeout cadence: a
// typing indicator not refreshed within a second is gone.
const DefaultTypingTTL = time.Second

// Router is the central dispatch. Inbound events arrive one logical
// worker per connection (the gateway's read loops); the router decides
// the audience, takes a subscriber snapshot, and enqueues to each
// recipient independently. No lock is held during delivery and no
// recipient can delay another.
type Router struct {
	presence  *PresenceRegistry
	rooms     *RoomDirectory
	typing    *TypingTracker
	typingTTL time.Duration
}

func NewRouter(presence *PresenceRegistry, rooms *RoomDirectory, typing *TypingTracker, typingTTL time.Duration) *Router {
	if typingTTL <= 0 {
		typingTTL = DefaultTypingTTL
	}
	return &Router{
		presence:  presence,
		rooms:     rooms,
		typing:    typing,
		typingTTL: typingTTL,
	}
}

// Connect registers the connection's presence and makes it eligible to
// issue events. The gateway calls it once, after authentication.
func (r *Router) Connect(conn *Connection) {
	wentOnline := r.presence.Register(conn.UserID, conn)
	conn.MarkActive()
	if conn.State() >= StateClosing {
		// A disconnect may have completed before the registration
		// landed. Its unregister found nothing, so undo the entry here.
		r.presence.Unregister(conn)
		return
	}
	if wentOnline {
		logger.Info("User %d online session=%s", conn.UserID, conn.SessionID)
	} else {
		logger.Info("User %d connected session=%s", conn.UserID, conn.SessionID)
	}
}

// Join subscribes conn to roomID and tells the room when a user shows
// up for the first time. A second tab joining the same room stays
// quiet. Membership is authorized by the gateway before this call.
func (r *Router) Join(conn *Connection, roomID int) error {
	if conn.State() != StateActive {
		return ErrConnectionClosed
	}
	if conn.Subscribed(roomID) {
		return nil
	}

	first := !r.userInRoom(conn.UserID, roomID, conn)
	r.rooms.Join(roomID, conn)
	if conn.State() >= StateClosing {
		// A disconnect may have completed between the state check and
		// the insert. Its purge saw no subscription, so undo the
		// insert here.
		r.rooms.Leave(roomID, conn)
		return ErrConnectionClosed
	}
	logger.Info("User %d joined room %d session=%s", conn.UserID, roomID, conn.SessionID)

	if first {
		r.broadcast(roomID, conn, ClassReliable, &models.ServerFrame{
			Type:   models.EventUserJoined,
			RoomID: roomID,
			User:   &models.UserRef{ID: conn.UserID, Username: conn.Username},
		})
	}
	return nil
}

// Leave unsubscribes conn from roomID. Leaving a room never joined is
// a no-op.
func (r *Router) Leave(conn *Connection, roomID int) error {
	if conn.State() != StateActive {
		return ErrConnectionClosed
	}
	if !conn.Subscribed(roomID) {
		return nil
	}

	r.rooms.Leave(roomID, conn)
	logger.Info("User %d left room %d session=%s", conn.UserID, roomID, conn.SessionID)

	if !r.userInRoom(conn.UserID, roomID, conn) {
		r.broadcast(roomID, nil, ClassReliable, &models.ServerFrame{
			Type:   models.EventUserLeft,
			RoomID: roomID,
			User:   &models.UserRef{ID: conn.UserID, Username: conn.Username},
		})
	}
	return nil
}

// Send fans a persisted message out to every other subscriber of its
// room. The sender never receives its own message back; clients render
// optimistically. Per-recipient failures are absorbed.
func (r *Router) Send(conn *Connection, msg *models.Message) error {
	if conn.State() != StateActive {
		return ErrConnectionClosed
	}
	if !conn.Subscribed(msg.RoomID) {
		return ErrNotMember
	}

	r.broadcast(msg.RoomID, conn, ClassReliable, &models.ServerFrame{
		Type:    models.EventReceiveMessage,
		RoomID:  msg.RoomID,
		Message: msg,
	})
	return nil
}

// Typing records the typing state and pushes it to the room's other
// subscribers on the ephemeral lane, where stale updates may be shed.
func (r *Router) Typing(conn *Connection, roomID int, isTyping bool) error {
	if conn.State() != StateActive {
		return ErrConnectionClosed
	}
	if !conn.Subscribed(roomID) {
		return ErrNotMember
	}

	if isTyping {
		r.typing.SetTyping(roomID, conn.UserID, r.typingTTL)
	} else {
		r.typing.ClearTyping(roomID, conn.UserID)
	}

	r.broadcast(roomID, conn, ClassEphemeral, &models.ServerFrame{
		Type:   models.EventUserTyping,
		RoomID: roomID,
		Typing: &models.TypingInfo{UserID: conn.UserID, Username: conn.Username, IsTyping: isTyping},
	})
	return nil
}

// Disconnect tears a connection down: close the queues, purge every
// room subscription, drop presence, then tell the affected rooms. Safe
// to call from any path any number of times; the work runs once.
func (r *Router) Disconnect(conn *Connection) {
	conn.teardown.Do(func() {
		conn.Close()
		rooms := r.rooms.Purge(conn)
		wentOffline := r.presence.Unregister(conn)
		logger.Info("User %d disconnected session=%s rooms=%d", conn.UserID, conn.SessionID, len(rooms))

		for _, roomID := range rooms {
			if !r.userInRoom(conn.UserID, roomID, conn) {
				r.broadcast(roomID, nil, ClassReliable, &models.ServerFrame{
					Type:   models.EventUserLeft,
					RoomID: roomID,
					User:   &models.UserRef{ID: conn.UserID, Username: conn.Username},
				})
			}
			if wentOffline {
				r.broadcast(roomID, nil, ClassEphemeral, &models.ServerFrame{
					Type:     models.EventPresenceChanged,
					RoomID:   roomID,
					Presence: &models.PresenceInfo{UserID: conn.UserID, Username: conn.Username, IsOnline: false},
				})
			}
		}
	})
}

// IsOnline reports whether the user holds any live connection.
func (r *Router) IsOnline(userID int) bool {
	return r.presence.IsOnline(userID)
}

// ActiveTypists returns the users currently typing in roomID.
func (r *Router) ActiveTypists(roomID int) []int {
	return r.typing.ActiveTypists(roomID)
}

// userInRoom reports whether any of the user's connections besides
// except is subscribed to roomID.
func (r *Router) userInRoom(userID, roomID int, except *Connection) bool {
	for _, conn := range r.presence.ConnectionsFor(userID) {
		if conn == except {
			continue
		}
		if conn.Subscribed(roomID) {
			return true
		}
	}
	return false
}

// broadcast marshals the frame once and enqueues the bytes to every
// subscriber except exclude. The snapshot is taken under the room
// lock; delivery happens outside it.
func (r *Router) broadcast(roomID int, exclude *Connection, class EventClass, frame *models.ServerFrame) {
	payload, err := json.Marshal(frame)
	if err != nil {
		logger.Error("Error marshaling %s frame: %v", frame.Type, err)
		return
	}

	ev := Event{Class: class, Payload: payload}
	for _, sub := range r.rooms.Subscribers(roomID) {
		if sub == exclude {
			continue
		}
		r.deliver(sub, ev)
	}
}

// deliver enqueues one event for one recipient. Failures stay local:
// a closed connection is mid-teardown and is skipped, and a full
// reliable queue marks the recipient slow, which costs it the
// connection rather than costing the room a message.
func (r *Router) deliver(conn *Connection, ev Event) {
	err := conn.Enqueue(ev)
	switch {
	case err == nil:
	case errors.Is(err, ErrSendQueueFull):
		logger.Warn("Closing slow consumer user=%d session=%s", conn.UserID, conn.SessionID)
		r.Disconnect(conn)
	case errors.Is(err, ErrConnectionClosed):
	}
}
