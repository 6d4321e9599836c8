package registry

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"chatrelay/pkg/log"
)

// ErrDuplicateConnection is returned when the same transport handle is
// registered twice. Expected never to happen; the gateway logs and rejects.
var ErrDuplicateConnection = errors.New("connection handle already registered")

// ConnID identifies one registered connection for its lifetime.
type ConnID string

// Peer is the transport side of a registered connection. Deliver must not
// block; it enqueues the payload and reports false when the peer cannot
// accept it (buffer full or closing).
type Peer interface {
	Deliver(payload []byte) bool
}

// Connection associates a transport handle with its authenticated identity.
type Connection struct {
	ID       ConnID
	Identity string
	Peer     Peer
}

// Registry tracks live connections. It is safe for concurrent use; all
// mutations are quick critical sections with no I/O under the lock.
type Registry struct {
	mu     sync.RWMutex
	conns  map[ConnID]Connection
	byPeer map[Peer]ConnID
	logger log.Logger
}

// New creates an empty Registry.
func New(logger log.Logger) *Registry {
	return &Registry{
		conns:  make(map[ConnID]Connection),
		byPeer: make(map[Peer]ConnID),
		logger: logger,
	}
}

// Register assigns a fresh connection id to the peer. It fails only when the
// same peer is already registered.
func (r *Registry) Register(peer Peer, identity string) (ConnID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byPeer[peer]; exists {
		return "", ErrDuplicateConnection
	}

	id := ConnID(uuid.NewString())
	r.conns[id] = Connection{ID: id, Identity: identity, Peer: peer}
	r.byPeer[peer] = id

	r.logger.Debugf(context.Background(), "Registered connection %s for user %s (total: %d)", id, identity, len(r.conns))
	return id, nil
}

// Unregister removes the connection. Removing an unknown id is a no-op:
// teardown may race between explicit close and read-error paths.
func (r *Registry) Unregister(id ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, exists := r.conns[id]
	if !exists {
		return
	}

	delete(r.conns, id)
	delete(r.byPeer, conn.Peer)

	r.logger.Debugf(context.Background(), "Unregistered connection %s for user %s (total: %d)", id, conn.Identity, len(r.conns))
}

// Get returns the connection for id, if still registered.
func (r *Registry) Get(id ConnID) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, exists := r.conns[id]
	return conn, exists
}

// Connections returns a snapshot of all live connections.
func (r *Registry) Connections() []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Connection, 0, len(r.conns))
	for _, conn := range r.conns {
		out = append(out, conn)
	}
	return out
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.conns)
}
