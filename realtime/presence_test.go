package realtime

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	id       string
	presence *Presence
	sendErr  error

	mu     sync.Mutex
	events []Event
	closed bool
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (f *fakeConn) ID() string { return f.id }

func (f *fakeConn) Send(event Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	if f.closed {
		return errors.New("closed")
	}
	f.events = append(f.events, event)
	return nil
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	if f.presence != nil {
		f.presence.Unregister(f)
	}
}

func (f *fakeConn) Events() []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Event(nil), f.events...)
}

func (f *fakeConn) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func TestPresenceLastRegistrationWins(t *testing.T) {
	p := NewPresence()
	h1 := newFakeConn("h1")
	h2 := newFakeConn("h2")

	require.True(t, p.Register("u", h1))
	require.True(t, p.Register("u", h2))

	got, ok := p.Lookup("u")
	require.True(t, ok)
	assert.Equal(t, "h2", got.ID())
	assert.False(t, h1.IsClosed(), "the replaced connection is not closed")

	p.Unregister(h1)
	got, ok = p.Lookup("u")
	require.True(t, ok, "a stale unregister must not evict the newer connection")
	assert.Equal(t, "h2", got.ID())

	p.Unregister(h2)
	_, ok = p.Lookup("u")
	assert.False(t, ok)
	assert.Equal(t, 0, p.Count())
}

func TestPresenceConnectionMovesBetweenUsers(t *testing.T) {
	p := NewPresence()
	h := newFakeConn("h")

	p.Register("u1", h)
	p.Register("u2", h)

	assert.False(t, p.IsOnline("u1"))
	assert.True(t, p.IsOnline("u2"))
}

func TestPresenceTouch(t *testing.T) {
	p := NewPresence()
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	h1 := newFakeConn("h1")
	p.Register("u", h1)

	now = now.Add(time.Minute)
	p.Touch(h1)
	last, ok := p.LastActivity("u")
	require.True(t, ok)
	assert.Equal(t, now, last)

	stale := newFakeConn("stale")
	now = now.Add(time.Minute)
	p.Touch(stale)
	last, _ = p.LastActivity("u")
	assert.Equal(t, now.Add(-time.Minute), last, "unknown connections do not refresh anyone")
}

func TestPresenceOnlineUsersSorted(t *testing.T) {
	p := NewPresence()
	p.Register("carol", newFakeConn("c"))
	p.Register("alice", newFakeConn("a"))
	p.Register("bob", newFakeConn("b"))

	assert.Equal(t, []string{"alice", "bob", "carol"}, p.OnlineUsers())
	assert.Equal(t, 3, p.Count())
}

func TestPresenceDisconnect(t *testing.T) {
	p := NewPresence()
	h := newFakeConn("h")
	h.presence = p
	p.Register("u", h)

	assert.True(t, p.Disconnect("u"))
	assert.True(t, h.IsClosed())
	assert.False(t, p.IsOnline("u"))
	assert.False(t, p.Disconnect("u"))
}

func TestPresenceClose(t *testing.T) {
	p := NewPresence()
	h1 := newFakeConn("h1")
	h2 := newFakeConn("h2")
	h1.presence = p
	h2.presence = p
	p.Register("u1", h1)
	p.Register("u2", h2)

	p.Close()

	assert.True(t, h1.IsClosed())
	assert.True(t, h2.IsClosed())
	assert.Equal(t, 0, p.Count())
	assert.False(t, p.Register("u3", newFakeConn("h3")))
	p.Close()
}

func TestPresenceConcurrentAccess(t *testing.T) {
	p := NewPresence()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h := newFakeConn(fmt.Sprintf("h%d", i))
			p.Register("u", h)
			p.Touch(h)
			p.Lookup("u")
			p.Unregister(h)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, p.Count())
}
