package chat

import "sync"

// RoomDirectory maps a room to its subscribed connections. Connections
// are referenced, never owned: the disconnect path purges a connection
// from every room it appears in, and nothing here keeps one alive.
//
// Mutation is serialized per room. The directory lock is held only to
// find or create an entry; taking a subscriber snapshot holds the room
// lock alone, so fan-out to one room never blocks joins elsewhere.
type RoomDirectory struct {
	mu    sync.RWMutex
	rooms map[int]*roomEntry
}

type roomEntry struct {
	mu   sync.RWMutex
	subs map[*Connection]struct{}
	// gone marks an entry evicted from the directory; a join that
	// raced the eviction retries against a fresh entry.
	gone bool
}

func NewRoomDirectory() *RoomDirectory {
	return &RoomDirectory{rooms: make(map[int]*roomEntry)}
}

// Join subscribes conn to roomID. Idempotent. Authorization is the
// caller's problem: the gateway checks membership before calling.
func (d *RoomDirectory) Join(roomID int, conn *Connection) {
	for {
		d.mu.Lock()
		e, ok := d.rooms[roomID]
		if !ok {
			e = &roomEntry{subs: make(map[*Connection]struct{})}
			d.rooms[roomID] = e
		}
		d.mu.Unlock()

		e.mu.Lock()
		if e.gone {
			e.mu.Unlock()
			continue
		}
		e.subs[conn] = struct{}{}
		e.mu.Unlock()

		conn.trackJoin(roomID)
		return
	}
}

// Leave unsubscribes conn from roomID. Idempotent.
func (d *RoomDirectory) Leave(roomID int, conn *Connection) {
	d.mu.RLock()
	e, ok := d.rooms[roomID]
	d.mu.RUnlock()

	conn.trackLeave(roomID)
	if !ok {
		return
	}

	e.mu.Lock()
	delete(e.subs, conn)
	empty := len(e.subs) == 0
	e.mu.Unlock()

	if empty {
		d.evict(roomID)
	}
}

// evict drops the room entry if it is still empty. Lock order is
// directory then entry, same as Join, so the re-check cannot deadlock.
func (d *RoomDirectory) evict(roomID int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.rooms[roomID]
	if !ok {
		return
	}
	e.mu.Lock()
	if len(e.subs) == 0 {
		e.gone = true
		delete(d.rooms, roomID)
	}
	e.mu.Unlock()
}

// Subscribers returns a snapshot of the room's current subscribers.
// Callers iterate the snapshot without holding any lock, so a
// concurrent join or leave never blocks behind delivery.
func (d *RoomDirectory) Subscribers(roomID int) []*Connection {
	d.mu.RLock()
	e, ok := d.rooms[roomID]
	d.mu.RUnlock()
	if !ok {
		return nil
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	conns := make([]*Connection, 0, len(e.subs))
	for conn := range e.subs {
		conns = append(conns, conn)
	}
	return conns
}

// Purge removes conn from every room it subscribed to and returns the
// ids of those rooms. Called once by the disconnect path.
func (d *RoomDirectory) Purge(conn *Connection) []int {
	rooms := conn.Rooms()
	for _, roomID := range rooms {
		d.Leave(roomID, conn)
	}
	return rooms
}
