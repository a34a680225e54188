package engine

import (
	"net"
	"sync"
	"sync/atomic"
)

// connTracker manages active client connections with thread-safe tracking
// and counting, so shutdown can collapse every in-flight session.
type connTracker struct {
	mu          sync.Mutex
	connections map[net.Conn]struct{}
	connCount   atomic.Int64
}

// newConnTracker creates a new connection tracker.
func newConnTracker() *connTracker {
	return &connTracker{
		connections: make(map[net.Conn]struct{}),
	}
}

// add registers a connection for tracking.
func (t *connTracker) add(conn net.Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connections[conn] = struct{}{}
	t.connCount.Add(1)
}

// remove unregisters a connection. Safe to call multiple times.
func (t *connTracker) remove(conn net.Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.connections[conn]; exists {
		delete(t.connections, conn)
		t.connCount.Add(-1)
	}
}

// count returns the number of active connections.
func (t *connTracker) count() int64 {
	return t.connCount.Load()
}

// closeAll closes all tracked connections and resets the tracker state.
func (t *connTracker) closeAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for conn := range t.connections {
		conn.Close()
	}
	t.connections = make(map[net.Conn]struct{})
	t.connCount.Store(0)
}
