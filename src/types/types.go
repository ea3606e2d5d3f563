package types

// EventKind identifies one kind of client-originated playback event.
type EventKind string

const (
	EventAudioPlay    EventKind = "audio-play"
	EventAudioPause   EventKind = "audio-pause"
	EventAudioSeek    EventKind = "audio-seek"
	EventBeatChange   EventKind = "beat-change"
	EventRequestState EventKind = "request-state"
	EventMasterClosed EventKind = "master-closed"
)

// Mutating reports whether the event changes playback session state and is
// therefore restricted to the current master connection.
func (k EventKind) Mutating() bool {
	switch k {
	case EventAudioPlay, EventAudioPause, EventAudioSeek, EventBeatChange:
		return true
	}
	return false
}

// SessionState is the master-election state of a playback session.
type SessionState string

const (
	StateNoMaster     SessionState = "NO_MASTER"
	StateMasterActive SessionState = "MASTER_ACTIVE"
	StateMasterStale  SessionState = "MASTER_STALE"
)

// Outbound event names.
const (
	EventStateResponse = "state-response"
	EventRateLimited   = "rate-limited"
)

// InboundEvent is one message received from a client connection.
type InboundEvent struct {
	Event      EventKind `json:"event"`
	TrackID    string    `json:"trackId,omitempty"`
	PositionMs int64     `json:"positionMs,omitempty"`
}

// StateResponse is the authoritative playback session snapshot. It is sent
// directly to the connection answering a request-state, and in broadcast form
// to the rest of a user's connections whenever the master mutates the session.
type StateResponse struct {
	Event      string       `json:"event"`
	State      SessionState `json:"state"`
	Revision   uint64       `json:"revision"`
	TrackID    string       `json:"trackId"`
	PositionMs int64        `json:"positionMs"`
	IsPlaying  bool         `json:"isPlaying"`
}

// RateLimitNotice acknowledges a rejected event without closing the
// connection. RetryAfterMs tells the client the earliest time to retry.
type RateLimitNotice struct {
	Event        string    `json:"event"`
	Kind         EventKind `json:"offendingEvent"`
	RetryAfterMs int64     `json:"retryAfterMs"`
}

// Claims is the decoded identity attached to a connection at handshake.
// It is derived exactly once by the token validator and trusted by all
// downstream components; it is never re-derived per event.
type Claims struct {
	UserID string
	Email  string
	Plan   string
}

// Conn abstracts a WebSocket connection for testability.
type Conn interface {
	WriteJSON(v any) error
	ReadJSON(v any) error
	Close() error
}
