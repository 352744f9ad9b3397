// Package hub implements the connection registry, liveness monitor, and
// message-routing engine. A single goroutine owns all shared state and
// processes commands from a channel; timers (heartbeat deadlines, typing
// auto-stop, throttled fan-out) run as cancelable tasks that post commands
// back into the same channel, so every state mutation happens on the hub
// goroutine without locking.
package hub
