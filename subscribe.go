package realtime

import "sync"

// Subscription binds one (method, handler) pair to the connection of a
// source. It re-binds when the connection, the method or the handler
// changes, and never raises: without a connection or handler it stays unbound.
type Subscription struct {
	src Source

	mu          sync.Mutex
	method      string
	handler     *Handler
	conn        HubConnection
	bound       bool
	ran         bool
	closed      bool
	unsubscribe func()
	stopWatch   func()
}

// Subscribe binds handler to method on the connection of src.
func Subscribe(src Source, method string, handler *Handler) *Subscription {
	s := &Subscription{src: sourceOrEmpty(src)}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopWatch = s.src.Watch(func(snap Snapshot) { s.onSnapshot(snap) })
	s.bindLocked(s.src.Snapshot().Connection, method, handler)
	return s
}

// Update changes the method or handler. Passing the same pair is a no-op.
func (s *Subscription) Update(method string, handler *Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.bindLocked(s.conn, method, handler)
}

// Bound reports whether the handler is currently registered on a connection.
func (s *Subscription) Bound() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bound
}

// Close unbinds the handler and stops following the source.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.unbindLocked()
	stop := s.stopWatch
	s.mu.Unlock()

	stop()
}

func (s *Subscription) onSnapshot(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.bindLocked(snap.Connection, s.method, s.handler)
}

func (s *Subscription) bindLocked(conn HubConnection, method string, handler *Handler) {
	if s.ran && conn == s.conn && method == s.method && handler == s.handler {
		return
	}
	s.ran = true
	s.unbindLocked()

	s.conn, s.method, s.handler = conn, method, handler
	if conn == nil || handler == nil {
		return
	}

	conn.On(method, handler)
	s.bound = true
	s.unsubscribe = func() { conn.Off(method, handler) }
}

func (s *Subscription) unbindLocked() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.unsubscribe = nil
	s.bound = false
}
