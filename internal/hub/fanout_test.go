package hub

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// follow subscribes handle to username and waits for the patch to apply.
func follow(t *testing.T, h *Hub, tr *fakeTransport, handle, username string) {
	t.Helper()
	before := tr.countFor(handle, EventDataSet)
	h.HandleEvent(handle, EventSetData, raw(t, map[string]any{"following": []string{username}}))
	waitFor(t, func() bool {
		return tr.countFor(handle, EventDataSet) > before
	}, "follow ack for "+handle)
}

func TestNotification_DeliversToFollowers(t *testing.T) {
	h, tr, _ := newTestHub(t, defaultTestOptions())
	require.NoError(t, h.Connect("sender"))
	require.NoError(t, h.Connect("f1"))
	require.NoError(t, h.Connect("f2"))
	require.NoError(t, h.Connect("bystander"))
	setUsername(t, h, tr, "sender", "alice")
	follow(t, h, tr, "f1", "alice")
	follow(t, h, tr, "f2", "alice")

	h.HandleEvent("sender", EventNotification, raw(t, map[string]any{
		"type": "post", "content": map[string]any{"title": "news"},
	}))
	waitFor(t, func() bool { return tr.countFor("sender", EventNotificationSent) == 1 }, "ack")

	ack, _ := tr.lastEvent("sender", EventNotificationSent)
	assert.Equal(t, true, ack["success"])
	assert.Equal(t, 2, ack["recipientCount"])

	assert.Equal(t, 1, tr.countFor("f1", EventNotification))
	assert.Equal(t, 1, tr.countFor("f2", EventNotification))
	assert.Equal(t, 0, tr.countFor("bystander", EventNotification))

	delivered, _ := tr.lastEvent("f1", EventNotification)
	content := delivered["content"].(map[string]any)
	assert.Equal(t, "news", content["title"])
	assert.Equal(t, "alice", delivered["sender"].(map[string]any)["username"])
}

func TestNotification_NoFollowersIsStillSuccess(t *testing.T) {
	h, tr, _ := newTestHub(t, defaultTestOptions())
	require.NoError(t, h.Connect("sender"))
	setUsername(t, h, tr, "sender", "alice")

	h.HandleEvent("sender", EventNotification, raw(t, map[string]any{
		"type": "post", "content": "hello",
	}))
	waitFor(t, func() bool { return tr.countFor("sender", EventNotificationSent) == 1 }, "ack")

	ack, _ := tr.lastEvent("sender", EventNotificationSent)
	assert.Equal(t, true, ack["success"])
	assert.Equal(t, 0, ack["recipientCount"])
}

func TestNotification_RequiresContent(t *testing.T) {
	h, tr, _ := newTestHub(t, defaultTestOptions())
	require.NoError(t, h.Connect("sender"))
	setUsername(t, h, tr, "sender", "alice")

	h.HandleEvent("sender", EventNotification, raw(t, map[string]any{"type": "post"}))
	waitFor(t, func() bool { return tr.countFor("sender", EventError) == 1 }, "error")

	payload, _ := tr.lastEvent("sender", EventError)
	assert.Equal(t, string(CodeInvalidFormat), payload["code"])
}

func TestNotification_OversizedContentRejectedBeforeDelivery(t *testing.T) {
	opts := defaultTestOptions()
	opts.MaxContentSize = 32
	h, tr, _ := newTestHub(t, opts)
	require.NoError(t, h.Connect("sender"))
	require.NoError(t, h.Connect("f1"))
	setUsername(t, h, tr, "sender", "alice")
	follow(t, h, tr, "f1", "alice")

	h.HandleEvent("sender", EventNotification, raw(t, map[string]any{
		"type": "post", "content": strings.Repeat("x", 100),
	}))
	waitFor(t, func() bool { return tr.countFor("sender", EventError) == 1 }, "error")

	payload, _ := tr.lastEvent("sender", EventError)
	assert.Equal(t, string(CodeContentTooLarge), payload["code"])
	assert.Equal(t, 0, tr.countFor("f1", EventNotification))
	assert.Equal(t, 0, tr.countFor("sender", EventNotificationSent))
}

func TestNotification_FollowerCapTruncatesDeterministically(t *testing.T) {
	opts := defaultTestOptions()
	opts.MaxFollowerNotifications = 2
	h, tr, clock := newTestHub(t, opts)

	require.NoError(t, h.Connect("sender"))
	// Staggered connects so the truncation order is by connect time.
	clock.Advance(time.Second)
	require.NoError(t, h.Connect("f1"))
	clock.Advance(time.Second)
	require.NoError(t, h.Connect("f2"))
	clock.Advance(time.Second)
	require.NoError(t, h.Connect("f3"))

	setUsername(t, h, tr, "sender", "alice")
	for _, handle := range []string{"f1", "f2", "f3"} {
		follow(t, h, tr, handle, "alice")
	}

	h.HandleEvent("sender", EventNotification, raw(t, map[string]any{
		"type": "post", "content": "capped",
	}))
	waitFor(t, func() bool { return tr.countFor("sender", EventNotificationSent) == 1 }, "ack")

	ack, _ := tr.lastEvent("sender", EventNotificationSent)
	assert.Equal(t, 2, ack["recipientCount"])

	assert.Equal(t, 1, tr.countFor("f1", EventNotification))
	assert.Equal(t, 1, tr.countFor("f2", EventNotification))
	assert.Equal(t, 0, tr.countFor("f3", EventNotification))
}

func TestNotification_ThrottledFanout(t *testing.T) {
	opts := defaultTestOptions()
	opts.NotificationThrottle = 100 * time.Millisecond
	h, tr, clock := newTestHub(t, opts)

	require.NoError(t, h.Connect("sender"))
	followers := connectClients(t, h, 12)
	setUsername(t, h, tr, "sender", "alice")
	for _, handle := range followers {
		follow(t, h, tr, handle, "alice")
	}

	total := func() int {
		n := 0
		for _, handle := range followers {
			n += tr.countFor(handle, EventNotification)
		}
		return n
	}

	h.HandleEvent("sender", EventNotification, raw(t, map[string]any{
		"type": "post", "content": "spread out",
	}))

	// The ack returns as soon as delivery is scheduled.
	waitFor(t, func() bool { return tr.countFor("sender", EventNotificationSent) == 1 }, "ack")
	ack, _ := tr.lastEvent("sender", EventNotificationSent)
	assert.Equal(t, 12, ack["recipientCount"])

	// Only the first recipient is reached before time moves.
	waitFor(t, func() bool { return total() == 1 }, "first delivery")
	assert.Equal(t, 1, tr.countFor(followers[0], EventNotification))

	// Each throttle interval releases the next delivery.
	waitFor(t, func() bool {
		clock.Advance(opts.NotificationThrottle)
		return total() == 12
	}, "full fan-out")

	for _, handle := range followers {
		assert.Equal(t, 1, tr.countFor(handle, EventNotification))
	}
}

func TestNotification_ThrottledFanoutSkipsDeparted(t *testing.T) {
	opts := defaultTestOptions()
	opts.NotificationThrottle = 100 * time.Millisecond
	h, tr, clock := newTestHub(t, opts)

	require.NoError(t, h.Connect("sender"))
	followers := connectClients(t, h, 12)
	setUsername(t, h, tr, "sender", "alice")
	for _, handle := range followers {
		follow(t, h, tr, handle, "alice")
	}

	h.HandleEvent("sender", EventNotification, raw(t, map[string]any{
		"type": "post", "content": "racing a disconnect",
	}))
	waitFor(t, func() bool { return tr.countFor(followers[0], EventNotification) == 1 }, "first delivery")

	// The last recipient in line leaves before its slot comes up.
	departed := followers[len(followers)-1]
	h.Disconnect(departed, "connection closed")
	waitFor(t, func() bool { return h.ClientCount() == 12 }, "departed removed")

	total := func() int {
		n := 0
		for _, handle := range followers {
			n += tr.countFor(handle, EventNotification)
		}
		return n
	}
	waitFor(t, func() bool {
		clock.Advance(opts.NotificationThrottle)
		return total() == 11
	}, "fan-out finished without the departed client")

	assert.Equal(t, 0, tr.countFor(departed, EventNotification))
}
