package server

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransport_EmitWrapsEventInEnvelope(t *testing.T) {
	serverConn, clientConn := newTestConnPair(t)

	transport := NewWebSocketTransport(clockwork.NewRealClock())
	cw := transport.add("handle-1", serverConn)
	t.Cleanup(cw.stop)
	require.Equal(t, 1, transport.count())

	transport.Emit("handle-1", "system:dataSet", map[string]any{"success": true})

	clientConn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, frame, err := clientConn.ReadMessage()
	require.NoError(t, err)

	var env envelope
	require.NoError(t, json.Unmarshal(frame, &env))
	assert.Equal(t, "system:dataSet", env.Event)

	var data map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, true, data["success"])
}

func TestTransport_EmitToUnknownHandleIsNoop(t *testing.T) {
	transport := NewWebSocketTransport(clockwork.NewRealClock())
	transport.Emit("ghost", "system:general", map[string]any{"message": "hello"})
	assert.Equal(t, 0, transport.count())
}

func TestTransport_RemoveDetachesWithoutClosing(t *testing.T) {
	serverConn, clientConn := newTestConnPair(t)

	transport := NewWebSocketTransport(clockwork.NewRealClock())
	cw := transport.add("handle-1", serverConn)
	t.Cleanup(cw.stop)

	transport.remove("handle-1")
	assert.Equal(t, 0, transport.count())

	// The writer outlives the mapping; the caller still owns it.
	require.True(t, cw.trySend([]byte(`{"event":"system:general","data":{}}`)))
	clientConn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := clientConn.ReadMessage()
	assert.NoError(t, err)
}

func TestTransport_CloseSendsCloseFrame(t *testing.T) {
	serverConn, clientConn := newTestConnPair(t)

	transport := NewWebSocketTransport(clockwork.NewRealClock())
	transport.add("handle-1", serverConn)

	transport.Close("handle-1", "heartbeat timeout")
	assert.Equal(t, 0, transport.count())

	clientConn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := clientConn.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok, "expected a close frame, got %v", err)
	assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)
	assert.Equal(t, "heartbeat timeout", closeErr.Text)
}
