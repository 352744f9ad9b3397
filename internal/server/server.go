package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chatwire/hub/internal/config"
	"github.com/chatwire/hub/internal/hub"
)

// Server wires the echo HTTP layer to the hub: websocket upgrades, health,
// and metrics.
type Server struct {
	echo      *echo.Echo
	cfg       *config.Config
	hub       *hub.Hub
	transport *WebSocketTransport
	limits    *ConnectionLimits

	// getCertificate, when set, serves TLS with hot-reloaded material.
	getCertificate func(*tls.ClientHelloInfo) (*tls.Certificate, error)
}

// NewServer creates the HTTP server around an already-running hub.
func NewServer(cfg *config.Config, h *hub.Hub, transport *WebSocketTransport) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	srv := &Server{
		echo:      e,
		cfg:       cfg,
		hub:       h,
		transport: transport,
		limits:    NewConnectionLimits(int64(cfg.MaxWebSocketConnections)),
	}

	srv.registerRoutes()
	return srv
}

// UseCertificateSource makes the server serve TLS, resolving the active
// certificate per handshake so hot reloads take effect without a restart.
func (s *Server) UseCertificateSource(getCertificate func(*tls.ClientHelloInfo) (*tls.Certificate, error)) {
	s.getCertificate = getCertificate
}

func (s *Server) registerRoutes() {
	s.echo.GET("/ws", s.handleWebSocket)
	s.echo.GET("/healthz", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// Start blocks serving HTTP (or HTTPS when a certificate source is set).
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%s", s.cfg.Port)
	if s.getCertificate == nil {
		return s.echo.Start(addr)
	}

	server := &http.Server{
		Addr:    addr,
		Handler: s.echo,
		TLSConfig: &tls.Config{
			MinVersion:     tls.VersionTLS12,
			GetCertificate: s.getCertificate,
		},
	}
	s.echo.TLSServer = server
	return s.echo.StartServer(server)
}

// Shutdown stops accepting new connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
