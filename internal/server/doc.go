// Package server exposes the hub over HTTP: websocket upgrades with
// connection limits and per-connection rate limiting, the websocket
// transport implementation consumed by the hub, health, and Prometheus
// metrics endpoints.
package server
