// Package config loads and validates environment-based configuration for
// the hub: heartbeat cadence, notification fan-out limits, payload size
// guards, connection limits, and optional TLS material paths.
package config
