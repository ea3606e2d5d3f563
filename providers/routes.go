package providers

import (
	"errors"
	"strings"

	"github.com/fasthttp/websocket"
	"github.com/gofiber/fiber/v3"
	"github.com/valyala/fasthttp"

	"github.com/beatwave/playsync/src/auth"
	"github.com/beatwave/playsync/src/types"
)

var upgrader = websocket.FastHTTPUpgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

func (s *Server) registerRoutes() {
	s.app.Get("/healthz", s.handleHealth)
	s.app.Get("/ws/info", s.handleInfo)
}

func (s *Server) handleHealth(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) handleInfo(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"websocket": true,
		"endpoint":  "/ws",
		"clients":   s.registry.ClientCount(),
		"users":     s.registry.UserCount(),
		"sessions":  s.coord.SessionCount(),
	})
}

// bearerToken extracts the handshake credential from the token query
// parameter or the Authorization header.
func bearerToken(ctx *fasthttp.RequestCtx) string {
	if token := string(ctx.QueryArgs().Peek("token")); token != "" {
		return token
	}
	header := string(ctx.Request.Header.Peek("Authorization"))
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}

// WebsocketHandler returns the raw fasthttp handler for WebSocket upgrades.
// The credential is validated before the upgrade completes, so a rejected
// connection never exchanges events or touches the registry.
func (s *Server) WebsocketHandler() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		upgrade := string(ctx.Request.Header.Peek("Upgrade"))
		if !strings.EqualFold(upgrade, "websocket") {
			ctx.SetStatusCode(fasthttp.StatusUpgradeRequired)
			ctx.SetBodyString(`{"error":"upgrade_required","message":"WebSocket upgrade required"}`)
			return
		}

		claims, err := s.router.Admit(bearerToken(ctx))
		if err != nil {
			s.logger.Warn().Err(err).Msg("handshake rejected")
			ctx.SetStatusCode(fasthttp.StatusUnauthorized)
			switch {
			case errors.Is(err, auth.ErrMissingCredential):
				ctx.SetBodyString(`{"error":"unauthorized","message":"missing credential"}`)
			case errors.Is(err, auth.ErrExpiredCredential):
				ctx.SetBodyString(`{"error":"unauthorized","message":"expired credential"}`)
			default:
				ctx.SetBodyString(`{"error":"unauthorized","message":"invalid credential"}`)
			}
			return
		}

		err = upgrader.Upgrade(ctx, func(conn *websocket.Conn) {
			s.router.HandleConnection(&wsConn{conn}, claims)
		})
		if err != nil {
			s.logger.Error().Err(err).Msg("websocket upgrade failed")
		}
	}
}

// wsConn wraps fasthttp/websocket.Conn to satisfy types.Conn.
type wsConn struct {
	conn *websocket.Conn
}

func (w *wsConn) WriteJSON(v any) error { return w.conn.WriteJSON(v) }
func (w *wsConn) ReadJSON(v any) error  { return w.conn.ReadJSON(v) }
func (w *wsConn) Close() error          { return w.conn.Close() }

var _ types.Conn = (*wsConn)(nil)
