package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

// Config holds every tunable the hub reads at startup. Values come from
// the environment, with an optional .env file for local development.
type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8080"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	HeartbeatEnabled   bool          `env:"HEARTBEAT_ENABLED" default:"true"`
	HeartbeatInterval  time.Duration `env:"HEARTBEAT_INTERVAL" default:"25s"`
	HeartbeatTimeout   time.Duration `env:"HEARTBEAT_TIMEOUT" default:"10s"`
	HeartbeatMaxMissed int           `env:"HEARTBEAT_MAX_MISSED" default:"3"`

	MaxFollowerNotifications int           `env:"NOTIFICATIONS_MAX_FOLLOWERS" default:"10000"`
	NotificationThrottle     time.Duration `env:"NOTIFICATIONS_THROTTLE" default:"100ms"`
	MaxContentSize           int           `env:"NOTIFICATIONS_MAX_CONTENT_SIZE" default:"16384"`

	MaxMessageSize int           `env:"SECURITY_MAX_MESSAGE_SIZE" default:"65536"`
	TypingTimeout  time.Duration `env:"TYPING_TIMEOUT" default:"5s"`

	MaxWebSocketConnections int     `env:"MAX_WEBSOCKET_CONNECTIONS" default:"10000"`
	RateLimitMessages       float64 `env:"RATE_LIMIT_MESSAGES" default:"50"`
	RateLimitBurst          int     `env:"RATE_LIMIT_BURST" default:"100"`

	TLSCertFile string `env:"TLS_CERT_FILE"`
	TLSKeyFile  string `env:"TLS_KEY_FILE"`
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.HeartbeatInterval <= 0 {
		return fmt.Errorf("HEARTBEAT_INTERVAL must be positive, got %v", cfg.HeartbeatInterval)
	}
	if cfg.HeartbeatTimeout <= 0 {
		return fmt.Errorf("HEARTBEAT_TIMEOUT must be positive, got %v", cfg.HeartbeatTimeout)
	}
	if cfg.HeartbeatMaxMissed < 1 {
		return fmt.Errorf("HEARTBEAT_MAX_MISSED must be at least 1, got %d", cfg.HeartbeatMaxMissed)
	}
	if cfg.MaxMessageSize < 1 {
		return fmt.Errorf("SECURITY_MAX_MESSAGE_SIZE must be positive, got %d", cfg.MaxMessageSize)
	}
	if cfg.MaxContentSize < 1 {
		return fmt.Errorf("NOTIFICATIONS_MAX_CONTENT_SIZE must be positive, got %d", cfg.MaxContentSize)
	}
	if cfg.MaxFollowerNotifications < 1 {
		return fmt.Errorf("NOTIFICATIONS_MAX_FOLLOWERS must be positive, got %d", cfg.MaxFollowerNotifications)
	}
	if cfg.TypingTimeout <= 0 {
		return fmt.Errorf("TYPING_TIMEOUT must be positive, got %v", cfg.TypingTimeout)
	}

	// TLS files must be set together.
	if (cfg.TLSCertFile == "") != (cfg.TLSKeyFile == "") {
		return fmt.Errorf("TLS_CERT_FILE and TLS_KEY_FILE must be set together")
	}

	return nil
}
