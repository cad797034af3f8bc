package chat

import "errors"

var (
	// ErrNotMember rejects a message or typing event for a room the
	// sending connection has not joined.
	ErrNotMember = errors.New("not a member of room")

	// ErrConnectionClosed reports an event issued on, or a delivery
	// aimed at, a connection that has entered teardown.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrSendQueueFull reports a reliable outbound queue at capacity.
	// The router treats the connection as a slow consumer and closes it
	// rather than drop the message silently.
	ErrSendQueueFull = errors.New("send queue full")
)
