package hub

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beatwave/playsync/src/types"
)

// mockConn implements types.Conn for testing without a real WebSocket.
type mockConn struct {
	mu       sync.Mutex
	written  []any
	readCh   chan []byte
	closed   bool
	closedCh chan struct{}
}

func newMockConn() *mockConn {
	return &mockConn{
		readCh:   make(chan []byte, 16),
		closedCh: make(chan struct{}),
	}
}

func (m *mockConn) WriteJSON(v any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.written = append(m.written, v)
	return nil
}

func (m *mockConn) ReadJSON(v any) error {
	select {
	case data := <-m.readCh:
		return json.Unmarshal(data, v)
	case <-m.closedCh:
		return &closeError{}
	}
}

func (m *mockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.closedCh)
	}
	return nil
}

func (m *mockConn) getWritten() []any {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]any, len(m.written))
	copy(cp, m.written)
	return cp
}

type closeError struct{}

func (e *closeError) Error() string { return "connection closed" }

func claimsFor(userID string) types.Claims {
	return types.Claims{UserID: userID, Plan: "free"}
}

func TestRegisterIdempotent(t *testing.T) {
	r := New(zerolog.Nop())
	c := NewClient("conn-1", claimsFor("user-1"), newMockConn())

	r.Register(c)
	r.Register(c)

	assert.Equal(t, 1, r.ClientCount())
	assert.Equal(t, 1, r.UserCount())
}

func TestGroupMembership(t *testing.T) {
	r := New(zerolog.Nop())
	r.Register(NewClient("conn-1", claimsFor("user-1"), newMockConn()))
	r.Register(NewClient("conn-2", claimsFor("user-1"), newMockConn()))
	r.Register(NewClient("conn-3", claimsFor("user-2"), newMockConn()))

	assert.Equal(t, 3, r.ClientCount())
	assert.Equal(t, 2, r.UserCount())
	assert.Len(t, r.ConnectionsFor("user-1"), 2)
	assert.Len(t, r.ConnectionsFor("user-2"), 1)
	assert.Empty(t, r.ConnectionsFor("user-3"))
}

func TestUnregister(t *testing.T) {
	r := New(zerolog.Nop())
	r.Register(NewClient("conn-1", claimsFor("user-1"), newMockConn()))
	r.Register(NewClient("conn-2", claimsFor("user-1"), newMockConn()))

	assert.True(t, r.Unregister("conn-1"))
	assert.False(t, r.Unregister("conn-1"), "second unregister is a no-op")
	assert.Len(t, r.ConnectionsFor("user-1"), 1)
	assert.Equal(t, 1, r.UserCount())

	assert.True(t, r.Unregister("conn-2"))
	assert.Equal(t, 0, r.UserCount(), "empty groups are removed")
	assert.False(t, r.Has("conn-2"))
}

func TestConnectionsForReturnsSnapshot(t *testing.T) {
	r := New(zerolog.Nop())
	r.Register(NewClient("conn-1", claimsFor("user-1"), newMockConn()))

	snapshot := r.ConnectionsFor("user-1")
	r.Unregister("conn-1")

	// The earlier snapshot is unaffected by the concurrent removal.
	require.Len(t, snapshot, 1)
	assert.Equal(t, "conn-1", snapshot[0].ID)
}

func TestTrySendDropsWhenBufferFull(t *testing.T) {
	c := NewClient("conn-1", claimsFor("user-1"), newMockConn())

	// No WritePump draining; fill the buffer.
	sent := 0
	for c.TrySend("msg") {
		sent++
	}
	assert.Equal(t, cap(c.Send), sent)
}

func TestTrySendAfterClose(t *testing.T) {
	c := NewClient("conn-1", claimsFor("user-1"), newMockConn())
	c.Close()
	c.Close() // safe to call twice
	assert.False(t, c.TrySend("msg"))
}

func TestWritePumpDelivers(t *testing.T) {
	conn := newMockConn()
	c := NewClient("conn-1", claimsFor("user-1"), conn)
	go c.WritePump()
	defer c.Close()

	require.True(t, c.TrySend(map[string]string{"hello": "world"}))
	time.Sleep(20 * time.Millisecond)

	assert.Len(t, conn.getWritten(), 1)
}

func TestReadPumpDispatchesUntilClose(t *testing.T) {
	conn := newMockConn()
	c := NewClient("conn-1", claimsFor("user-1"), conn)

	var mu sync.Mutex
	var frames []string
	done := make(chan struct{})
	go func() {
		c.ReadPump(func(_ *Client, raw json.RawMessage) {
			mu.Lock()
			frames = append(frames, string(raw))
			mu.Unlock()
		})
		close(done)
	}()

	conn.readCh <- []byte(`{"event":"request-state"}`)
	conn.readCh <- []byte(`{"event":"audio-seek","positionMs":4200}`)
	time.Sleep(20 * time.Millisecond)

	conn.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ReadPump did not return after close")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, frames, 2)
}
