package hub

import (
	"sync"

	"github.com/rs/zerolog"
)

// Registry is the process-wide map from user identity to that user's live
// connections. A connection belongs to exactly one group, determined at
// handshake and never reassigned.
type Registry struct {
	mu     sync.RWMutex
	byID   map[string]*Client
	byUser map[string]map[string]*Client
	logger zerolog.Logger
}

// New creates an empty Registry.
func New(logger zerolog.Logger) *Registry {
	return &Registry{
		byID:   make(map[string]*Client),
		byUser: make(map[string]map[string]*Client),
		logger: logger.With().Str("component", "registry").Logger(),
	}
}

// Register adds a client to its user's group. Idempotent per connection id.
func (r *Registry) Register(c *Client) {
	r.mu.Lock()
	if _, ok := r.byID[c.ID]; ok {
		r.mu.Unlock()
		return
	}
	r.byID[c.ID] = c
	group := r.byUser[c.UserID]
	if group == nil {
		group = make(map[string]*Client)
		r.byUser[c.UserID] = group
	}
	group[c.ID] = c
	count := len(group)
	r.mu.Unlock()

	r.logger.Info().
		Str("conn_id", c.ID).
		Str("user_id", c.UserID).
		Int("connections", count).
		Msg("connection registered")
}

// Unregister removes a connection and closes it. Reports whether the
// connection was present.
func (r *Registry) Unregister(connID string) bool {
	r.mu.Lock()
	c, ok := r.byID[connID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.byID, connID)
	group := r.byUser[c.UserID]
	delete(group, connID)
	count := len(group)
	if count == 0 {
		delete(r.byUser, c.UserID)
	}
	r.mu.Unlock()

	c.Close()
	r.logger.Info().
		Str("conn_id", connID).
		Str("user_id", c.UserID).
		Int("connections", count).
		Msg("connection unregistered")
	return true
}

// ConnectionsFor returns a snapshot of the user's live connections. Callers
// iterate the snapshot for broadcast; concurrent register/unregister never
// mutates it in place.
func (r *Registry) ConnectionsFor(userID string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	group := r.byUser[userID]
	conns := make([]*Client, 0, len(group))
	for _, c := range group {
		conns = append(conns, c)
	}
	return conns
}

// Has reports whether a connection id is registered.
func (r *Registry) Has(connID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byID[connID]
	return ok
}

// ClientCount returns the number of live connections.
func (r *Registry) ClientCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// UserCount returns the number of users with at least one live connection.
func (r *Registry) UserCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}
