// Package ws accepts relay connections and pumps envelopes between sockets and the hub.
package ws

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/xiaot623/gogo/relay/internal/config"
	"github.com/xiaot623/gogo/relay/internal/gate"
	"github.com/xiaot623/gogo/relay/internal/hub"
	"github.com/xiaot623/gogo/relay/internal/metrics"
)

// Server handles WebSocket connections.
type Server struct {
	cfg      *config.Config
	hub      *hub.Hub
	gate     gate.Gate
	logger   zerolog.Logger
	upgrader websocket.Upgrader
}

// NewServer creates a new WebSocket server. A nil gate admits everyone.
func NewServer(cfg *config.Config, h *hub.Hub, g gate.Gate, logger zerolog.Logger) *Server {
	if g == nil {
		g = gate.AllowAll
	}
	return &Server{
		cfg:    cfg,
		hub:    h,
		gate:   g,
		logger: logger.With().Str("component", "ws").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Register mounts the upgrade route on e.
func (s *Server) Register(e *echo.Echo) {
	e.GET("/ws", s.HandleWebSocket)
}

// HandleWebSocket checks the handshake gate, upgrades the connection and
// starts its pumps.
func (s *Server) HandleWebSocket(c echo.Context) error {
	info := gate.InfoFromRequest(c.Request(), c.RealIP())
	if !s.gate.Allow(c.Request().Context(), info) {
		metrics.ConnectionsTotal.WithLabelValues("rejected").Inc()
		s.logger.Warn().Str("key", info.Key).Str("remote_addr", info.RemoteAddr).Msg("handshake rejected")
		return c.JSON(http.StatusForbidden, map[string]string{"error": "handshake rejected"})
	}

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to upgrade websocket")
		return nil
	}
	metrics.ConnectionsTotal.WithLabelValues("accepted").Inc()

	key := info.Key
	if key == "" {
		key = AnonymousKey()
	}

	ep := hub.NewEndpoint(key, s.cfg.SendBuffer)
	s.hub.Register(ep)

	if s.cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(s.cfg.MaxMessageSize)
	}

	go s.writePump(conn, ep)
	go s.readPump(conn, ep)

	return nil
}

// AnonymousKey names a connection that presented no key.
func AnonymousKey() string {
	return "anon-" + uuid.New().String()[:8]
}

// readPump feeds inbound frames to the hub until the socket fails.
func (s *Server) readPump(conn *websocket.Conn, ep *hub.Endpoint) {
	log := s.logger.With().Str("key", ep.Key).Str("conn_id", ep.ID).Logger()
	defer func() {
		s.hub.Release(ep)
		conn.Close()
	}()

	if s.cfg.ReadTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		})
	}

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Msg("websocket read error")
			}
			return
		}

		if err := s.hub.Dispatch(ep.Key, message); err != nil {
			log.Debug().Err(err).Msg("envelope dropped")
		}
	}
}

// writePump is the only writer of conn.
func (s *Server) writePump(conn *websocket.Conn, ep *hub.Endpoint) {
	interval := s.cfg.PingInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message := <-ep.Outbound():
			s.setWriteDeadline(conn)
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.logger.Debug().Err(err).Str("key", ep.Key).Msg("failed to write message")
				ep.Close()
				return
			}

		case <-ep.Done():
			s.setWriteDeadline(conn)
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case <-ticker.C:
			s.setWriteDeadline(conn)
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				ep.Close()
				return
			}
		}
	}
}

func (s *Server) setWriteDeadline(conn *websocket.Conn) {
	if s.cfg.WriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	}
}
