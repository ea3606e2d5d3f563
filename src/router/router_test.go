package router

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beatwave/playsync/src/auth"
	"github.com/beatwave/playsync/src/hub"
	"github.com/beatwave/playsync/src/playback"
	"github.com/beatwave/playsync/src/ratelimit"
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
		return fmt.Errorf("connection closed")
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

type testEnv struct {
	router    *Router
	registry  *hub.Registry
	limiter   *ratelimit.Limiter
	coord     *playback.Coordinator
	validator *auth.Validator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zerolog.Nop()
	registry := hub.New(logger)
	limiter := ratelimit.New(ratelimit.Config{
		Rules: map[types.EventKind]ratelimit.Rule{
			types.EventAudioPlay:    {MaxEvents: 10, Window: 10 * time.Second},
			types.EventRequestState: {MaxEvents: 2, Window: 10 * time.Second},
		},
		Default:       ratelimit.Rule{MaxEvents: 5, Window: 10 * time.Second},
		SweepInterval: time.Minute,
	}, logger)
	limiter.SetPresenceCheck(registry.Has)
	coord := playback.New(registry, logger)
	validator := auth.NewValidator("test-secret")
	return &testEnv{
		router:    New(validator, limiter, registry, coord, logger),
		registry:  registry,
		limiter:   limiter,
		coord:     coord,
		validator: validator,
	}
}

func TestAdmit(t *testing.T) {
	env := newTestEnv(t)

	token, err := env.validator.Issue(types.Claims{UserID: "user-1", Plan: "premium"}, time.Hour)
	require.NoError(t, err)

	claims, err := env.router.Admit(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)

	_, err = env.router.Admit("")
	assert.ErrorIs(t, err, auth.ErrMissingCredential)

	_, err = env.router.Admit("garbage")
	assert.ErrorIs(t, err, auth.ErrInvalidCredential)
}

func TestConnectionLifecycle(t *testing.T) {
	env := newTestEnv(t)
	conn := newMockConn()

	done := make(chan struct{})
	go func() {
		env.router.HandleConnection(conn, types.Claims{UserID: "user-1"})
		close(done)
	}()

	conn.readCh <- []byte(`{"event":"request-state"}`)
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 1, env.registry.ClientCount())
	assert.Equal(t, 1, env.coord.SessionCount())

	written := conn.getWritten()
	require.Len(t, written, 1)
	snap, ok := written[0].(types.StateResponse)
	require.True(t, ok)
	assert.Equal(t, types.EventStateResponse, snap.Event)

	// Disconnect tears everything down.
	conn.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("HandleConnection did not return after close")
	}

	assert.Equal(t, 0, env.registry.ClientCount())
	assert.Equal(t, 0, env.coord.SessionCount())
	assert.Empty(t, env.registry.ConnectionsFor("user-1"))
}

func TestDispatchMalformedEventIgnored(t *testing.T) {
	env := newTestEnv(t)
	conn := newMockConn()
	client := hub.NewClient("c1", types.Claims{UserID: "user-1"}, conn)
	env.registry.Register(client)
	go client.WritePump()
	defer client.Close()

	env.router.dispatch(client, json.RawMessage(`{"event":42}`))
	env.router.dispatch(client, json.RawMessage(`{"positionMs":100}`))
	time.Sleep(20 * time.Millisecond)

	// Nothing sent back, no session created, connection untouched.
	assert.Empty(t, conn.getWritten())
	assert.Equal(t, 0, env.coord.SessionCount())
	assert.True(t, env.registry.Has("c1"))
}

func TestDispatchRateLimited(t *testing.T) {
	env := newTestEnv(t)
	conn := newMockConn()
	client := hub.NewClient("c1", types.Claims{UserID: "user-1"}, conn)
	env.registry.Register(client)
	go client.WritePump()
	defer client.Close()

	// request-state is limited to 2 per window in the test config.
	raw := json.RawMessage(`{"event":"request-state"}`)
	env.router.dispatch(client, raw)
	env.router.dispatch(client, raw)
	env.router.dispatch(client, raw)
	time.Sleep(30 * time.Millisecond)

	written := conn.getWritten()
	require.Len(t, written, 3)

	var notices []types.RateLimitNotice
	var snaps []types.StateResponse
	for _, v := range written {
		switch msg := v.(type) {
		case types.RateLimitNotice:
			notices = append(notices, msg)
		case types.StateResponse:
			snaps = append(snaps, msg)
		}
	}
	assert.Len(t, snaps, 2)
	require.Len(t, notices, 1)
	assert.Equal(t, types.EventRateLimited, notices[0].Event)
	assert.Equal(t, types.EventRequestState, notices[0].Kind)
	assert.Greater(t, notices[0].RetryAfterMs, int64(0))
}

func TestDispatchIsolationAcrossConnections(t *testing.T) {
	env := newTestEnv(t)

	mk := func(id string) (*hub.Client, *mockConn) {
		conn := newMockConn()
		client := hub.NewClient(id, types.Claims{UserID: "user-1"}, conn)
		env.registry.Register(client)
		go client.WritePump()
		t.Cleanup(client.Close)
		return client, conn
	}
	c1, _ := mk("c1")
	c2, conn2 := mk("c2")

	// Exhaust c1's request-state budget.
	raw := json.RawMessage(`{"event":"request-state"}`)
	env.router.dispatch(c1, raw)
	env.router.dispatch(c1, raw)
	env.router.dispatch(c1, raw)

	// c2's budget is unaffected.
	env.router.dispatch(c2, raw)
	time.Sleep(30 * time.Millisecond)

	for _, v := range conn2.getWritten() {
		_, limited := v.(types.RateLimitNotice)
		assert.False(t, limited, "sibling connection must not be rate limited")
	}
}
