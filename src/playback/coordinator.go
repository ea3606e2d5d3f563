// Package playback owns one logical playback session per user: the current
// master connection, the now-playing state, and the protocol for electing or
// replacing the master and resynchronizing followers.
package playback

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/beatwave/playsync/src/hub"
	"github.com/beatwave/playsync/src/types"
)

// StateRelay publishes accepted state mutations to other server instances.
// Defined here to avoid a circular import with the bridge package.
type StateRelay interface {
	PublishState(userID string, snap types.StateResponse) error
	Available() bool
}

// session is the per-user unit of mutual exclusion. All master transitions,
// field updates, and broadcast computation happen under its lock; sessions of
// different users never contend.
type session struct {
	mu         sync.Mutex
	state      types.SessionState
	masterConn string
	trackID    string
	positionMs int64
	isPlaying  bool
	revision   uint64
	updatedAt  time.Time
}

func (s *session) snapshot() types.StateResponse {
	return types.StateResponse{
		Event:      types.EventStateResponse,
		State:      s.state,
		Revision:   s.revision,
		TrackID:    s.trackID,
		PositionMs: s.positionMs,
		IsPlaying:  s.isPlaying,
	}
}

// apply mutates the session fields for one accepted master event and bumps
// the revision.
func (s *session) apply(ev types.InboundEvent, now time.Time) {
	switch ev.Event {
	case types.EventAudioPlay:
		if ev.TrackID != "" {
			s.trackID = ev.TrackID
		}
		s.positionMs = ev.PositionMs
		s.isPlaying = true
	case types.EventAudioPause:
		s.positionMs = ev.PositionMs
		s.isPlaying = false
	case types.EventAudioSeek:
		s.positionMs = ev.PositionMs
	case types.EventBeatChange:
		s.trackID = ev.TrackID
		s.positionMs = 0
	}
	s.revision++
	s.updatedAt = now
}

// Coordinator routes accepted events through each user's playback session
// state machine and fans the resulting snapshots out to followers.
type Coordinator struct {
	mu       sync.RWMutex
	sessions map[string]*session
	registry *hub.Registry
	relay    StateRelay
	logger   zerolog.Logger
	now      func() time.Time
}

// New creates a Coordinator backed by the given registry.
func New(registry *hub.Registry, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		sessions: make(map[string]*session),
		registry: registry,
		logger:   logger.With().Str("component", "playback").Logger(),
		now:      time.Now,
	}
}

// SetRelay attaches a cross-instance state relay. When set, accepted
// mutations are also published so followers on other instances stay in sync.
func (co *Coordinator) SetRelay(r StateRelay) {
	co.mu.Lock()
	defer co.mu.Unlock()
	co.relay = r
}

// SessionCount returns the number of live playback sessions.
func (co *Coordinator) SessionCount() int {
	co.mu.RLock()
	defer co.mu.RUnlock()
	return len(co.sessions)
}

// Snapshot returns the current session snapshot for a user, if one exists.
func (co *Coordinator) Snapshot(userID string) (types.StateResponse, bool) {
	co.mu.RLock()
	s, ok := co.sessions[userID]
	co.mu.RUnlock()
	if !ok {
		return types.StateResponse{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot(), true
}

// sessionFor returns the user's session, creating it lazily on first use.
func (co *Coordinator) sessionFor(userID string) *session {
	co.mu.RLock()
	s, ok := co.sessions[userID]
	co.mu.RUnlock()
	if ok {
		return s
	}
	co.mu.Lock()
	defer co.mu.Unlock()
	if s, ok = co.sessions[userID]; ok {
		return s
	}
	s = &session{state: types.StateNoMaster}
	co.sessions[userID] = s
	co.logger.Debug().Str("user_id", userID).Msg("playback session created")
	return s
}

// HandleEvent applies one rate-limit-accepted event from a connection.
// Events are applied in receipt order; the per-user session lock is the
// single point of serialization.
func (co *Coordinator) HandleEvent(c *hub.Client, ev types.InboundEvent) {
	s := co.sessionFor(c.UserID)

	switch {
	case ev.Event == types.EventRequestState:
		co.handleRequestState(s, c)
	case ev.Event == types.EventMasterClosed:
		co.handleMasterClosed(s, c)
	case ev.Event.Mutating():
		co.handleMutation(s, c, ev)
	default:
		co.logger.Debug().
			Str("conn_id", c.ID).
			Str("event", string(ev.Event)).
			Msg("ignoring unknown event")
	}
}

// handleRequestState answers with the authoritative snapshot, promoting the
// requester to master first if the session has none.
func (co *Coordinator) handleRequestState(s *session, c *hub.Client) {
	s.mu.Lock()
	if s.masterConn == "" {
		s.masterConn = c.ID
		s.state = types.StateMasterActive
		s.updatedAt = co.now()
		co.logger.Info().
			Str("conn_id", c.ID).
			Str("user_id", c.UserID).
			Msg("connection promoted to master")
	}
	snap := s.snapshot()
	s.mu.Unlock()

	co.send(c, snap)
}

// handleMasterClosed clears the master reference while retaining the last
// known track, position, and playing flag.
func (co *Coordinator) handleMasterClosed(s *session, c *hub.Client) {
	s.mu.Lock()
	if s.masterConn != c.ID {
		s.mu.Unlock()
		return
	}
	s.masterConn = ""
	s.state = types.StateMasterStale
	s.updatedAt = co.now()
	s.mu.Unlock()

	co.logger.Info().
		Str("conn_id", c.ID).
		Str("user_id", c.UserID).
		Msg("master yielded")
}

// handleMutation applies a state-changing event. Only the master mutates the
// session; a non-master's attempt is answered with the current authoritative
// snapshot instead, so two tabs cannot fight over control.
func (co *Coordinator) handleMutation(s *session, c *hub.Client, ev types.InboundEvent) {
	s.mu.Lock()
	if s.masterConn == "" {
		s.masterConn = c.ID
		s.state = types.StateMasterActive
		co.logger.Info().
			Str("conn_id", c.ID).
			Str("user_id", c.UserID).
			Str("event", string(ev.Event)).
			Msg("connection promoted to master")
	} else if s.masterConn != c.ID {
		snap := s.snapshot()
		s.mu.Unlock()
		co.logger.Debug().
			Str("conn_id", c.ID).
			Str("event", string(ev.Event)).
			Msg("non-master mutation answered with resync")
		co.send(c, snap)
		return
	}

	s.apply(ev, co.now())
	snap := s.snapshot()
	s.mu.Unlock()

	co.broadcast(c.UserID, c, snap)
	co.publish(c.UserID, snap)
}

// ConnectionClosed handles the implicit cancellation of a disconnect. Call
// after the connection is removed from the registry. If the connection was
// master, the session goes stale; if the group is now empty, the session is
// destroyed.
func (co *Coordinator) ConnectionClosed(c *hub.Client) {
	co.mu.RLock()
	s, ok := co.sessions[c.UserID]
	co.mu.RUnlock()
	if !ok {
		return
	}

	s.mu.Lock()
	if s.masterConn == c.ID {
		s.masterConn = ""
		s.state = types.StateMasterStale
		s.updatedAt = co.now()
		co.logger.Info().
			Str("conn_id", c.ID).
			Str("user_id", c.UserID).
			Msg("master disconnected, session stale")
	}
	s.mu.Unlock()

	if len(co.registry.ConnectionsFor(c.UserID)) == 0 {
		co.mu.Lock()
		delete(co.sessions, c.UserID)
		co.mu.Unlock()
		co.logger.Debug().Str("user_id", c.UserID).Msg("playback session destroyed")
	}
}

// ApplyRemote applies a snapshot relayed from another instance. Stale
// revisions are discarded; newer ones are mirrored to local connections.
func (co *Coordinator) ApplyRemote(userID string, snap types.StateResponse) {
	if len(co.registry.ConnectionsFor(userID)) == 0 {
		return
	}
	s := co.sessionFor(userID)

	s.mu.Lock()
	if snap.Revision <= s.revision {
		s.mu.Unlock()
		return
	}
	s.state = snap.State
	s.trackID = snap.TrackID
	s.positionMs = snap.PositionMs
	s.isPlaying = snap.IsPlaying
	s.revision = snap.Revision
	s.updatedAt = co.now()
	local := s.snapshot()
	s.mu.Unlock()

	co.broadcast(userID, nil, local)
}

// broadcast fans a snapshot out to every connection in the user's group
// except the origin (nil origin reaches everyone). Sends are fire-and-forget:
// a stalled or closing transport drops the message without aborting delivery
// to the rest of the group.
func (co *Coordinator) broadcast(userID string, origin *hub.Client, snap types.StateResponse) {
	for _, peer := range co.registry.ConnectionsFor(userID) {
		if origin != nil && peer.ID == origin.ID {
			continue
		}
		co.send(peer, snap)
	}
}

// send delivers one message to one connection, logging and swallowing a
// failed delivery.
func (co *Coordinator) send(c *hub.Client, v any) {
	if !c.TrySend(v) {
		co.logger.Warn().
			Str("conn_id", c.ID).
			Str("user_id", c.UserID).
			Msg("send buffer full, dropping")
	}
}

// publish forwards an accepted mutation to the relay if one is attached.
func (co *Coordinator) publish(userID string, snap types.StateResponse) {
	co.mu.RLock()
	relay := co.relay
	co.mu.RUnlock()

	if relay == nil || !relay.Available() {
		return
	}
	if err := relay.PublishState(userID, snap); err != nil {
		co.logger.Error().Err(err).Str("user_id", userID).Msg("relay publish failed")
	}
}
