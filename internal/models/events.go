package models

import "encoding/json"

// EventType tags every frame crossing the websocket. The set is closed:
// the gateway rejects inbound frames whose type is not listed here.
type EventType string

const (
	// Client to server.
	EventJoinRoom    EventType = "join_room"
	EventLeaveRoom   EventType = "leave_room"
	EventSendMessage EventType = "send_message"
	EventTyping      EventType = "typing"

	// Server to client.
	EventReceiveMessage  EventType = "receive_message"
	EventUserTyping      EventType = "user_typing"
	EventPresenceChanged EventType = "presence_changed"
	EventUserJoined      EventType = "user_joined"
	EventUserLeft        EventType = "user_left"
	EventRoomJoined      EventType = "room_joined"
	EventRoomLeft        EventType = "room_left"
	EventError           EventType = "error"
)

// Wire error codes carried in ErrorInfo.Code.
const (
	ErrCodeNotMember         = "NOT_MEMBER"
	ErrCodePersistenceFailed = "PERSISTENCE_FAILED"
	ErrCodeInvalidPayload    = "INVALID_PAYLOAD"
	ErrCodeUnknownType       = "UNKNOWN_TYPE"
	ErrCodeRateLimited       = "RATE_LIMITED"
)

// ClientFrame is one inbound frame. Payload is decoded into the payload
// struct matching Type; anything else is an INVALID_PAYLOAD.
type ClientFrame struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type JoinRoomPayload struct {
	RoomID int `json:"room_id"`
}

type LeaveRoomPayload struct {
	RoomID int `json:"room_id"`
}

type SendMessagePayload struct {
	RoomID      int          `json:"room_id"`
	Content     string       `json:"content"`
	MessageType string       `json:"message_type,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

type TypingPayload struct {
	RoomID   int  `json:"room_id"`
	IsTyping bool `json:"is_typing"`
}

// ServerFrame is one outbound frame. Exactly one of the variant fields is
// set, matching Type.
type ServerFrame struct {
	Type     EventType     `json:"type"`
	RoomID   int           `json:"room_id,omitempty"`
	Message  *Message      `json:"message,omitempty"`
	Typing   *TypingInfo   `json:"typing,omitempty"`
	Presence *PresenceInfo `json:"presence,omitempty"`
	User     *UserRef      `json:"user,omitempty"`
	History  []*Message    `json:"history,omitempty"`
	Error    *ErrorInfo    `json:"error,omitempty"`
}

type TypingInfo struct {
	UserID   int    `json:"user_id"`
	Username string `json:"username"`
	IsTyping bool   `json:"is_typing"`
}

type PresenceInfo struct {
	UserID   int    `json:"user_id"`
	Username string `json:"username"`
	IsOnline bool   `json:"is_online"`
}

type UserRef struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
}

type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
