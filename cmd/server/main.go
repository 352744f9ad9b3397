package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/chatwire/hub/internal/certwatch"
	"github.com/chatwire/hub/internal/config"
	"github.com/chatwire/hub/internal/hub"
	"github.com/chatwire/hub/internal/logging"
	"github.com/chatwire/hub/internal/server"
)

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupCertReloader(cfg *config.Config, h *hub.Hub) *certwatch.Reloader {
	if cfg.TLSCertFile == "" {
		return nil
	}

	reloader, err := certwatch.New(cfg.TLSCertFile, cfg.TLSKeyFile, h.NotifyCertificateRefresh)
	if err != nil {
		slog.Error("Failed to load TLS certificate", "error", err)
		os.Exit(1)
	}
	return reloader
}

func runGracefulShutdown(srv *server.Server, h *hub.Hub, cancelWatch context.CancelFunc) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		cancelWatch()
		h.Stop()

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port)

	transport := server.NewWebSocketTransport(clock)

	h := hub.New(hub.Options{
		HeartbeatEnabled:         cfg.HeartbeatEnabled,
		HeartbeatInterval:        cfg.HeartbeatInterval,
		HeartbeatTimeout:         cfg.HeartbeatTimeout,
		HeartbeatMaxMissed:       cfg.HeartbeatMaxMissed,
		MaxFollowerNotifications: cfg.MaxFollowerNotifications,
		NotificationThrottle:     cfg.NotificationThrottle,
		MaxContentSize:           cfg.MaxContentSize,
		MaxMessageSize:           cfg.MaxMessageSize,
		TypingTimeout:            cfg.TypingTimeout,
	}, transport, clock)

	srv := server.NewServer(cfg, h, transport)

	watchCtx, cancelWatch := context.WithCancel(context.Background())
	defer cancelWatch()

	if reloader := setupCertReloader(cfg, h); reloader != nil {
		srv.UseCertificateSource(reloader.GetCertificate)
		go func() {
			if err := reloader.Watch(watchCtx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("Certificate watcher stopped", "error", err)
			}
		}()
	}

	done := runGracefulShutdown(srv, h, cancelWatch)

	slog.Info("Server starting", "port", cfg.Port, "tls", cfg.TLSCertFile != "")
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
