// Package registry holds the per-process map from user identity to the single
// live connection representing that user. Both services instantiate the same
// type with their own connection handle.
package registry

import (
	"sync"

	"go.uber.org/zap"
)

// Conn is the handle the registry manages. Send on a handle whose state is no
// longer open must be a silent no-op on the handle's side; the registry checks
// Open before writing as well.
type Conn interface {
	Send(v interface{}) error
	Close()
	Open() bool
}

type Registry[C Conn] struct {
	mu    sync.RWMutex
	conns map[string]C
	log   *zap.Logger
}

func New[C Conn](log *zap.Logger) *Registry[C] {
	return &Registry[C]{
		conns: make(map[string]C),
		log:   log,
	}
}

// Add registers the connection for userID. An existing connection for the same
// user is forcefully closed first so two sockets never silently diverge.
func (r *Registry[C]) Add(userID string, conn C) {
	r.mu.Lock()
	old, replaced := r.conns[userID]
	r.conns[userID] = conn
	r.mu.Unlock()

	if replaced {
		r.log.Warn("replacing live connection", zap.String("user_id", userID))
		old.Close()
	}
}

// Remove closes and discards the user's connection if present. Removing an
// unknown user is a no-op. The connection is only dropped if it is still the
// one passed in, so a stale read loop cannot evict its replacement.
func (r *Registry[C]) Remove(userID string, conn C) {
	r.mu.Lock()
	current, ok := r.conns[userID]
	if ok && Conn(current) == Conn(conn) {
		delete(r.conns, userID)
	} else {
		ok = false
	}
	r.mu.Unlock()

	if ok {
		conn.Close()
	}
}

func (r *Registry[C]) Get(userID string) (C, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[userID]
	return conn, ok
}

func (r *Registry[C]) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Send delivers to one user; absent users and closing connections are silent
// no-ops.
func (r *Registry[C]) Send(userID string, v interface{}) {
	conn, ok := r.Get(userID)
	if !ok || !conn.Open() {
		return
	}

	if err := conn.Send(v); err != nil {
		r.log.Debug("send failed", zap.String("user_id", userID), zap.Error(err))
	}
}

// Broadcast delivers to every listed recipient; one failed delivery never
// aborts the rest.
func (r *Registry[C]) Broadcast(recipientIDs []string, v interface{}) {
	for _, id := range recipientIDs {
		r.Send(id, v)
	}
}

// CloseAll is called on shutdown.
func (r *Registry[C]) CloseAll() {
	r.mu.Lock()
	conns := make([]C, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.conns = make(map[string]C)
	r.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}
