// Package certwatch hot-reloads TLS certificate material from disk,
// swapping it atomically for new handshakes and notifying the hub so
// connected clients get a best-effort refresh notice.
package certwatch
