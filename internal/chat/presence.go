package chat

import "sync"

// PresenceRegistry maps a user to the set of live connections it holds
// open. A user with several tabs or devices has one entry with several
// connections; the user is online while the set is non-empty.
type PresenceRegistry struct {
	mu    sync.RWMutex
	users map[int]map[*Connection]struct{}
}

func NewPresenceRegistry() *PresenceRegistry {
	return &PresenceRegistry{users: make(map[int]map[*Connection]struct{})}
}

// Register adds conn to its user's entry and reports whether the user
// came online with it (no prior live connection).
func (p *PresenceRegistry) Register(userID int, conn *Connection) (wentOnline bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	set, ok := p.users[userID]
	if !ok {
		set = make(map[*Connection]struct{})
		p.users[userID] = set
	}
	set[conn] = struct{}{}
	return len(set) == 1
}

// Unregister removes conn from its user's entry and reports whether
// that user went offline as a result. It is idempotent: a second call,
// or a call for a connection that was never registered, is a no-op.
func (p *PresenceRegistry) Unregister(conn *Connection) (wentOffline bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	set, ok := p.users[conn.UserID]
	if !ok {
		return false
	}
	if _, ok := set[conn]; !ok {
		return false
	}
	delete(set, conn)
	if len(set) == 0 {
		delete(p.users, conn.UserID)
		return true
	}
	return false
}

func (p *PresenceRegistry) IsOnline(userID int) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.users[userID]) > 0
}

// ConnectionsFor returns a snapshot of the user's live connections.
func (p *PresenceRegistry) ConnectionsFor(userID int) []*Connection {
	p.mu.RLock()
	defer p.mu.RUnlock()
	set := p.users[userID]
	conns := make([]*Connection, 0, len(set))
	for conn := range set {
		conns = append(conns, conn)
	}
	return conns
}
