package bridge

import "github.com/beatwave/playsync/src/types"

// Relay defines the interface for cross-instance state broadcasting.
// Implementations carry master state changes between server instances so a
// user's followers on another node still mirror the session.
type Relay interface {
	// PublishState sends a session snapshot to all other instances.
	PublishState(userID string, snap types.StateResponse) error

	// Start begins listening for snapshots from other instances.
	Start() error

	// Stop shuts down the relay connection.
	Stop() error

	// Available reports whether the relay is connected and operational.
	Available() bool
}

// StateSink is implemented by the playback coordinator to receive snapshots
// relayed from other instances.
type StateSink interface {
	ApplyRemote(userID string, snap types.StateResponse)
}
