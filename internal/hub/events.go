package hub

// Wire event names. These are part of the client protocol and must not be
// renamed.
const (
	EventConnect            = "connect"
	EventDisconnect         = "disconnect"
	EventSetData            = "system:setData"
	EventDataSet            = "system:dataSet"
	EventGeneral            = "system:general"
	EventGeneralSent        = "system:generalSent"
	EventDirect             = "system:direct"
	EventDirectSent         = "system:directSent"
	EventTypingStart        = "system:typingStart"
	EventTypingStop         = "system:typingStop"
	EventTypingUpdate       = "system:typingUpdate"
	EventNotification       = "system:notification"
	EventNotificationSent   = "system:notificationSent"
	EventFollowed           = "system:followed"
	EventHeartbeat          = "system:heartbeat"
	EventHeartbeatAck       = "system:heartbeat-ack"
	EventHeartbeatWarning   = "system:heartbeat-warning"
	EventClientPing         = "client-ping"
	EventClientPong         = "client-pong"
	EventClients            = "system:clients"
	EventError              = "system:error"
	EventCertificateRefresh = "system:certificateRefresh"
)

// Transport is the delivery side of the underlying real-time layer. The hub
// never touches sockets directly; it only emits events to handles and asks
// for connections to be closed. Implementations must be safe for concurrent
// use and must never block the caller.
type Transport interface {
	// Emit delivers an event to the connection identified by handle.
	// Delivery is best-effort; emitting to an unknown handle is a no-op.
	Emit(handle string, event string, payload any)

	// Close force-closes the connection identified by handle, sending the
	// given reason in the close frame when possible.
	Close(handle string, reason string)
}
