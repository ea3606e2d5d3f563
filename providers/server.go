// Package providers exposes the service over HTTP: health and info routes
// via Fiber, and the raw fasthttp WebSocket upgrade endpoint.
package providers

import (
	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"

	"github.com/beatwave/playsync/config"
	"github.com/beatwave/playsync/src/hub"
	"github.com/beatwave/playsync/src/playback"
	"github.com/beatwave/playsync/src/router"
)

// Server bundles the Fiber app and the WebSocket endpoint.
type Server struct {
	app      *fiber.App
	cfg      *config.Config
	router   *router.Router
	registry *hub.Registry
	coord    *playback.Coordinator
	logger   zerolog.Logger
}

// NewServer creates the HTTP surface for the sync service.
func NewServer(cfg *config.Config, rt *router.Router, registry *hub.Registry, coord *playback.Coordinator, logger zerolog.Logger) *Server {
	s := &Server{
		app:      fiber.New(),
		cfg:      cfg,
		router:   rt,
		registry: registry,
		coord:    coord,
		logger:   logger.With().Str("component", "server").Logger(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the combined fasthttp handler. The WebSocket upgrade is
// dispatched before Fiber because Fiber v3 does not expose the underlying
// *fasthttp.RequestCtx to route handlers.
func (s *Server) Handler() fasthttp.RequestHandler {
	appHandler := s.app.Handler()
	wsHandler := s.WebsocketHandler()
	return func(ctx *fasthttp.RequestCtx) {
		if string(ctx.Path()) == "/ws" {
			wsHandler(ctx)
			return
		}
		appHandler(ctx)
	}
}
