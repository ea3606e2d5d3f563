// Package router is the per-connection message pipeline: authenticate once
// at handshake, rate-limit every inbound event, then forward accepted events
// to the playback coordinator.
package router

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/beatwave/playsync/src/auth"
	"github.com/beatwave/playsync/src/hub"
	"github.com/beatwave/playsync/src/playback"
	"github.com/beatwave/playsync/src/ratelimit"
	"github.com/beatwave/playsync/src/types"
)

// Router wires the validator, limiter, registry, and coordinator into one
// connection pipeline.
type Router struct {
	validator *auth.Validator
	limiter   *ratelimit.Limiter
	registry  *hub.Registry
	coord     *playback.Coordinator
	logger    zerolog.Logger
	now       func() time.Time
}

// New creates a Router.
func New(validator *auth.Validator, limiter *ratelimit.Limiter, registry *hub.Registry, coord *playback.Coordinator, logger zerolog.Logger) *Router {
	return &Router{
		validator: validator,
		limiter:   limiter,
		registry:  registry,
		coord:     coord,
		logger:    logger.With().Str("component", "router").Logger(),
		now:       time.Now,
	}
}

// Admit validates the handshake credential. A failure here terminates the
// connection attempt before any registry mutation.
func (r *Router) Admit(token string) (types.Claims, error) {
	return r.validator.Validate(token)
}

// HandleConnection runs an admitted connection until its transport closes,
// then tears down all per-connection state: registry entry, rate counters,
// and the master reference if this connection held it.
func (r *Router) HandleConnection(conn types.Conn, claims types.Claims) {
	client := hub.NewClient(uuid.New().String(), claims, conn)
	r.registry.Register(client)

	go client.WritePump()
	client.ReadPump(r.dispatch)

	r.registry.Unregister(client.ID)
	r.limiter.Remove(client.ID)
	r.coord.ConnectionClosed(client)
}

// dispatch handles one raw inbound frame: decode, rate-limit, forward.
// Malformed or unrecognized frames are ignored with a diagnostic, never
// escalated.
func (r *Router) dispatch(c *hub.Client, raw json.RawMessage) {
	var ev types.InboundEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		r.logger.Warn().
			Str("conn_id", c.ID).
			Err(err).
			Msg("malformed event ignored")
		return
	}
	if ev.Event == "" {
		r.logger.Debug().Str("conn_id", c.ID).Msg("event without kind ignored")
		return
	}

	allowed, retryAfter := r.limiter.Check(c.ID, ev.Event, r.now())
	if !allowed {
		c.TrySend(types.RateLimitNotice{
			Event:        types.EventRateLimited,
			Kind:         ev.Event,
			RetryAfterMs: retryAfter.Milliseconds(),
		})
		r.logger.Debug().
			Str("conn_id", c.ID).
			Str("event", string(ev.Event)).
			Dur("retry_after", retryAfter).
			Msg("event rate limited")
		return
	}

	r.coord.HandleEvent(c, ev)
}
