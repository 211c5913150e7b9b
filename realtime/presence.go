package realtime

import (
	"sort"
	"sync"
	"time"

	"github.com/techagentng/skillsync/metrics"
)

// Conn is a live connection that events can be pushed to.
type Conn interface {
	ID() string
	Send(event Event) error
	Close()
}

type presenceEntry struct {
	conn         Conn
	lastActivity time.Time
}

// Presence maps user ids to their single active connection. A later Register for the same
// user replaces the earlier connection without closing it.
type Presence struct {
	mu     sync.RWMutex
	byUser map[string]*presenceEntry
	byConn map[string]string
	closed bool
	now    func() time.Time
}

func NewPresence() *Presence {
	return &Presence{
		byUser: make(map[string]*presenceEntry),
		byConn: make(map[string]string),
		now:    time.Now,
	}
}

// Register makes conn the connection of userID. It reports false once the registry is closed.
func (p *Presence) Register(userID string, conn Conn) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}

	if previous, ok := p.byConn[conn.ID()]; ok && previous != userID {
		if entry := p.byUser[previous]; entry != nil && entry.conn.ID() == conn.ID() {
			delete(p.byUser, previous)
		}
	}
	p.byUser[userID] = &presenceEntry{conn: conn, lastActivity: p.now()}
	p.byConn[conn.ID()] = userID
	metrics.OnlineUsers.Set(float64(len(p.byUser)))
	return true
}

func (p *Presence) Lookup(userID string) (Conn, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	entry, ok := p.byUser[userID]
	if !ok {
		return nil, false
	}
	return entry.conn, true
}

// Unregister removes conn. The user's entry is only removed while it still points at conn,
// so a stale disconnect cannot evict a newer connection.
func (p *Presence) Unregister(conn Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()

	userID, ok := p.byConn[conn.ID()]
	if !ok {
		return
	}
	delete(p.byConn, conn.ID())
	if entry := p.byUser[userID]; entry != nil && entry.conn.ID() == conn.ID() {
		delete(p.byUser, userID)
	}
	metrics.OnlineUsers.Set(float64(len(p.byUser)))
}

// Touch refreshes the last activity of the user conn is registered for.
func (p *Presence) Touch(conn Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	userID, ok := p.byConn[conn.ID()]
	if !ok {
		return
	}
	if entry := p.byUser[userID]; entry != nil && entry.conn.ID() == conn.ID() {
		entry.lastActivity = p.now()
	}
}

func (p *Presence) LastActivity(userID string) (time.Time, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	entry, ok := p.byUser[userID]
	if !ok {
		return time.Time{}, false
	}
	return entry.lastActivity, true
}

func (p *Presence) IsOnline(userID string) bool {
	_, ok := p.Lookup(userID)
	return ok
}

// OnlineUsers returns the ids of every registered user, sorted.
func (p *Presence) OnlineUsers() []string {
	p.mu.RLock()
	users := make([]string, 0, len(p.byUser))
	for userID := range p.byUser {
		users = append(users, userID)
	}
	p.mu.RUnlock()

	sort.Strings(users)
	return users
}

func (p *Presence) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.byUser)
}

// Disconnect closes the connection registered for userID, if any.
func (p *Presence) Disconnect(userID string) bool {
	conn, ok := p.Lookup(userID)
	if !ok {
		return false
	}
	// Close unregisters, which takes the lock again.
	conn.Close()
	return true
}

// Close empties the registry and closes every registered connection. Later calls to
// Register are refused.
func (p *Presence) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	conns := make([]Conn, 0, len(p.byUser))
	for _, entry := range p.byUser {
		conns = append(conns, entry.conn)
	}
	p.byUser = make(map[string]*presenceEntry)
	p.byConn = make(map[string]string)
	metrics.OnlineUsers.Set(0)
	p.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
}
