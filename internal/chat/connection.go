package chat

import (
	"sync"
	"sync/atomic"
)

const (
	// ReliableQueueSize bounds the per-connection queue for messages,
	// membership notices and errors. A connection that lets it fill is
	// closed as a slow consumer.
	ReliableQueueSize = 256

	// EphemeralQueueSize bounds the typing/presence lane. Overflow
	// sheds the oldest pending update; the latest state wins.
	EphemeralQueueSize = 8
)

// State tracks a connection through its lifecycle. Transitions only
// move forward.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticated
	StateActive
	StateClosing
	StateClosed
)

// EventClass selects the outbound lane an event is queued on.
type EventClass int

const (
	// ClassReliable events are never dropped for a healthy connection.
	ClassReliable EventClass = iota
	// ClassEphemeral events may be coalesced under load.
	ClassEphemeral
)

// Event is one pre-marshaled outbound frame.
type Event struct {
	Class   EventClass
	Payload []byte
}

// Connection is one client session. It owns two bounded outbound
// queues drained by the transport's write loop; everything else in the
// package references it but never outlives it.
type Connection struct {
	SessionID string
	UserID    int
	Username  string

	state int32

	// closeMu makes Close and Enqueue agree on the state flag: once
	// Close has taken the write half, no Enqueue can pass the state
	// check again, so no enqueue succeeds after Close returns.
	closeMu   sync.RWMutex
	closeOnce sync.Once
	done      chan struct{}

	reliable  chan []byte
	ephemeral chan []byte

	// teardown gates the router's registry cleanup so it runs once no
	// matter how many paths (read loop exit, slow-consumer close,
	// shutdown) reach it.
	teardown sync.Once

	mu    sync.RWMutex
	rooms map[int]struct{}
}

// NewConnection returns a connection in StateConnecting with the
// default queue capacities.
func NewConnection(sessionID string, userID int, username string) *Connection {
	return newConnection(sessionID, userID, username, ReliableQueueSize, EphemeralQueueSize)
}

func newConnection(sessionID string, userID int, username string, reliableCap, ephemeralCap int) *Connection {
	return &Connection{
		SessionID: sessionID,
		UserID:    userID,
		Username:  username,
		done:      make(chan struct{}),
		reliable:  make(chan []byte, reliableCap),
		ephemeral: make(chan []byte, ephemeralCap),
		rooms:     make(map[int]struct{}),
	}
}

func (c *Connection) State() State {
	return State(atomic.LoadInt32(&c.state))
}

// MarkAuthenticated and MarkActive advance the lifecycle. Advancing is
// monotonic, so a racing Close cannot be undone.
func (c *Connection) MarkAuthenticated() { c.advance(StateAuthenticated) }

func (c *Connection) MarkActive() { c.advance(StateActive) }

func (c *Connection) advance(to State) {
	for {
		cur := atomic.LoadInt32(&c.state)
		if cur >= int32(to) {
			return
		}
		if atomic.CompareAndSwapInt32(&c.state, cur, int32(to)) {
			return
		}
	}
}

// Enqueue places an event on the lane matching its class.
//
// Reliable events fail with ErrConnectionClosed after Close, and with
// ErrSendQueueFull when the lane is at capacity. Ephemeral events shed
// the oldest pending update instead of failing when their lane is
// full; stale typing state is worthless, the newest always wins.
func (c *Connection) Enqueue(ev Event) error {
	c.closeMu.RLock()
	defer c.closeMu.RUnlock()

	if c.State() >= StateClosing {
		return ErrConnectionClosed
	}

	if ev.Class == ClassEphemeral {
		for {
			select {
			case c.ephemeral <- ev.Payload:
				return nil
			default:
			}
			select {
			case <-c.ephemeral:
			default:
			}
		}
	}

	select {
	case c.reliable <- ev.Payload:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Close marks the connection closing and signals Done. It is
// idempotent and safe to call concurrently with Enqueue; once it
// returns, every later Enqueue fails. The outbound channels are never
// closed, so a racing producer cannot panic.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.closeMu.Lock()
		c.advance(StateClosing)
		c.closeMu.Unlock()
		close(c.done)
		c.advance(StateClosed)
	})
}

// Done is closed when the connection is torn down. The transport write
// loop selects on it to exit.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Outbound is the reliable lane for the transport write loop.
func (c *Connection) Outbound() <-chan []byte { return c.reliable }

// Ephemeral is the typing/presence lane for the transport write loop.
func (c *Connection) Ephemeral() <-chan []byte { return c.ephemeral }

// Subscribed reports whether the connection has joined roomID.
func (c *Connection) Subscribed(roomID int) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.rooms[roomID]
	return ok
}

// Rooms returns a snapshot of the joined room ids.
func (c *Connection) Rooms() []int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]int, 0, len(c.rooms))
	for id := range c.rooms {
		ids = append(ids, id)
	}
	return ids
}

func (c *Connection) trackJoin(roomID int) {
	c.mu.Lock()
	c.rooms[roomID] = struct{}{}
	c.mu.Unlock()
}

func (c *Connection) trackLeave(roomID int) {
	c.mu.Lock()
	delete(c.rooms, roomID)
	c.mu.Unlock()
}
