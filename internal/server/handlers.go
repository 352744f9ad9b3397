package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"github.com/chatwire/hub/internal/hub"
	"github.com/chatwire/hub/internal/logging"
	"github.com/chatwire/hub/internal/metrics"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Clients connect from arbitrary origins; there is no cookie
		// auth to protect, so cross-origin upgrades are fine.
		return true
	},
}

// handleWebSocket upgrades the request, mints a connection handle, and
// runs the read loop until the connection dies.
func (s *Server) handleWebSocket(c echo.Context) error {
	ip := c.RealIP()

	ok, reason := s.limits.Acquire(ip)
	if !ok {
		metrics.WebSocketConnectionsRejected.WithLabelValues(string(reason)).Inc()
		slog.Warn("Rejecting connection", "ip", ip, "reason", reason)
		return c.JSON(http.StatusServiceUnavailable, map[string]any{
			"error": "connection limit reached",
		})
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.limits.Release(ip)
		slog.Warn("WebSocket upgrade failed", "ip", ip, "error", err)
		return nil
	}

	// The handle is minted here: the transport owns connection identity,
	// the hub treats it as a foreign key.
	handle := uuid.NewString()
	writer := s.transport.add(handle, conn)

	if err := s.hub.Connect(handle); err != nil {
		logging.WithHandle(handle).Error("Hub rejected connection", "error", err)
		s.transport.remove(handle)
		writer.stop()
		s.limits.Release(ip)
		return nil
	}

	metrics.WebSocketConnectionsTotal.Inc()
	s.readLoop(handle, ip, conn, writer)
	return nil
}

func (s *Server) readLoop(handle, ip string, conn *websocket.Conn, writer *clientWriter) {
	defer func() {
		s.hub.Disconnect(handle, "connection closed")
		s.transport.remove(handle)
		writer.stop()
		s.limits.Release(ip)
	}()

	conn.SetReadLimit(int64(s.cfg.MaxMessageSize))
	limiter := rate.NewLimiter(rate.Limit(s.cfg.RateLimitMessages), s.cfg.RateLimitBurst)

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logging.WithHandle(handle).Debug("WebSocket read error", "error", err)
			}
			return
		}

		if !limiter.Allow() {
			metrics.WebSocketRateLimitedTotal.Inc()
			hubErr := &hub.Error{Code: hub.CodeRateLimited, Message: "message rate exceeded, slow down"}
			s.transport.Emit(handle, hub.EventError, hubErr.Payload())
			continue
		}

		var env envelope
		if err := json.Unmarshal(payload, &env); err != nil || env.Event == "" {
			hubErr := &hub.Error{Code: hub.CodeInvalidFormat, Message: "frame must be a JSON object with an event field"}
			s.transport.Emit(handle, hub.EventError, hubErr.Payload())
			continue
		}

		s.hub.HandleEvent(handle, env.Event, env.Data)
	}
}

// handleHealth reports liveness plus the connected client count.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":  "ok",
		"clients": s.hub.ClientCount(),
	})
}
