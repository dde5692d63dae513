package homeassistant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

// testHub is a minimal in-process Home Assistant websocket endpoint: it runs
// the auth handshake and answers requests through the reply function.
type testHub struct {
	server *httptest.Server
	token  string

	mu    sync.Mutex
	conn  *websocket.Conn
	reply func(request map[string]any) []byte
}

func newTestHub(t *testing.T, token string) *testHub {
	t.Helper()

	hub := &testHub{token: token}
	upgrader := websocket.Upgrader{}

	hub.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.mu.Lock()
		hub.conn = conn
		hub.mu.Unlock()

		conn.WriteJSON(map[string]any{"type": MessageTypeAuthRequired})

		var auth map[string]any
		if err := conn.ReadJSON(&auth); err != nil {
			return
		}
		if auth["access_token"] != hub.token {
			conn.WriteJSON(map[string]any{"type": MessageTypeAuthInvalid, "message": "Invalid access token"})
			conn.Close()
			return
		}
		conn.WriteJSON(map[string]any{"type": MessageTypeAuthOK})

		for {
			var request map[string]any
			if err := conn.ReadJSON(&request); err != nil {
				return
			}
			hub.mu.Lock()
			reply := hub.reply
			hub.mu.Unlock()
			if reply == nil {
				id := int(request["id"].(float64))
				conn.WriteJSON(map[string]any{"id": id, "type": MessageTypeResult, "success": true})
				continue
			}
			if frame := reply(request); frame != nil {
				conn.WriteMessage(websocket.TextMessage, frame)
			}
		}
	}))
	t.Cleanup(hub.server.Close)
	return hub
}

func (h *testHub) setReply(fn func(request map[string]any) []byte) {
	h.mu.Lock()
	h.reply = fn
	h.mu.Unlock()
}

func (h *testHub) pushEvent(t *testing.T, eventType string, data any) {
	t.Helper()
	h.mu.Lock()
	conn := h.conn
	h.mu.Unlock()
	require.NotNil(t, conn)

	payload, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(map[string]any{
		"type": MessageTypeEvent,
		"event": map[string]any{
			"event_type": eventType,
			"data":       json.RawMessage(payload),
		},
	}))
}

func newConnectedClient(t *testing.T, hub *testHub, opts ...Option) *SocketClient {
	t.Helper()

	client := NewSocketClient(hub.server.URL, hub.token, testLogger(), opts...)
	t.Cleanup(func() { client.Close() })
	require.NoError(t, client.Connect(context.Background()))
	require.Equal(t, StateSubscribed, client.State())
	return client
}

func TestConnectAndSubscribe(t *testing.T) {
	hub := newTestHub(t, "secret")
	client := newConnectedClient(t, hub)

	assert.True(t, client.IsConnected())
}

func TestAuthInvalidDoesNotRetry(t *testing.T) {
	hub := newTestHub(t, "secret")

	client := NewSocketClient(hub.server.URL, "wrong-token", testLogger())
	t.Cleanup(func() { client.Close() })

	err := client.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthInvalid)
	assert.Equal(t, StateDisconnected, client.State())

	client.mu.Lock()
	timer := client.reconnectTimer
	client.mu.Unlock()
	assert.Nil(t, timer, "auth rejection must not schedule a reconnect")
}

func TestDialFailureSchedulesReconnect(t *testing.T) {
	client := NewSocketClient("http://127.0.0.1:1", "secret", testLogger(),
		WithReconnectDelays(time.Hour, time.Hour))
	t.Cleanup(func() { client.Close() })

	require.Error(t, client.Connect(context.Background()))

	client.mu.Lock()
	timer := client.reconnectTimer
	retries := client.retryCount
	client.mu.Unlock()
	assert.NotNil(t, timer)
	assert.Equal(t, 1, retries)
}

func TestRequestReplyCorrelation(t *testing.T) {
	hub := newTestHub(t, "secret")
	client := newConnectedClient(t, hub)

	hub.setReply(func(request map[string]any) []byte {
		id := int(request["id"].(float64))
		if request["type"] == "config/device_registry/list" {
			frame, _ := json.Marshal(map[string]any{
				"id": id, "type": MessageTypeResult, "success": true,
				"result": []map[string]any{{"id": "dev-1", "name": "Hue Bridge"}},
			})
			return frame
		}
		frame, _ := json.Marshal(map[string]any{"id": id, "type": MessageTypeResult, "success": true})
		return frame
	})

	devices, err := client.GetDeviceRegistry(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "dev-1", devices[0].ID)
}

func TestRegistryRequestFailureSurfacesHubError(t *testing.T) {
	hub := newTestHub(t, "secret")
	client := newConnectedClient(t, hub)

	hub.setReply(func(request map[string]any) []byte {
		id := int(request["id"].(float64))
		frame, _ := json.Marshal(map[string]any{
			"id": id, "type": MessageTypeResult, "success": false,
			"error": map[string]any{"code": "unknown_command", "message": "Unknown command."},
		})
		return frame
	})

	_, err := client.GetDeviceRegistry(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown_command")
	assert.Contains(t, err.Error(), "Unknown command.")

	_, err = client.GetEntityRegistry(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown_command")
}

func TestRequestTimeout(t *testing.T) {
	hub := newTestHub(t, "secret")
	client := newConnectedClient(t, hub, WithRequestTimeout(50*time.Millisecond))

	// Swallow registry requests so the reply never comes.
	hub.setReply(func(request map[string]any) []byte {
		if request["type"] == "config/entity_registry/list" {
			return nil
		}
		id := int(request["id"].(float64))
		frame, _ := json.Marshal(map[string]any{"id": id, "type": MessageTypeResult, "success": true})
		return frame
	})

	_, err := client.GetEntityRegistry(context.Background())
	require.Error(t, err)
	assert.True(t, IsTimeout(err))

	// The pending table must not leak the timed-out entry.
	client.mu.Lock()
	pending := len(client.pending)
	client.mu.Unlock()
	assert.Zero(t, pending)
}

func TestLateReplyAfterTimeoutIsNoOp(t *testing.T) {
	hub := newTestHub(t, "secret")
	client := newConnectedClient(t, hub, WithRequestTimeout(50*time.Millisecond))

	// Swallow the entity registry request, remembering its id.
	swallowed := make(chan int, 1)
	hub.setReply(func(request map[string]any) []byte {
		id := int(request["id"].(float64))
		if request["type"] == "config/entity_registry/list" {
			select {
			case swallowed <- id:
			default:
			}
			return nil
		}
		frame, _ := json.Marshal(map[string]any{
			"id": id, "type": MessageTypeResult, "success": true, "result": []map[string]any{},
		})
		return frame
	})

	_, err := client.GetEntityRegistry(context.Background())
	require.Error(t, err)
	require.True(t, IsTimeout(err))

	// Deliver the reply for the timed-out id after the fact.
	var staleID int
	select {
	case staleID = <-swallowed:
	case <-time.After(time.Second):
		t.Fatal("request never reached the hub")
	}
	hub.mu.Lock()
	conn := hub.conn
	hub.mu.Unlock()
	frame, err := json.Marshal(map[string]any{
		"id": staleID, "type": MessageTypeResult, "success": true,
		"result": []map[string]any{{"entity_id": "light.kitchen"}},
	})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))

	// The stale frame is dropped; the connection keeps serving new requests.
	devices, err := client.GetDeviceRegistry(context.Background())
	require.NoError(t, err)
	assert.Empty(t, devices)
	assert.Equal(t, StateSubscribed, client.State())

	client.mu.Lock()
	pending := len(client.pending)
	client.mu.Unlock()
	assert.Zero(t, pending)
}

func TestSendWhileDisconnected(t *testing.T) {
	client := NewSocketClient("http://example.invalid", "secret", testLogger())

	_, err := client.GetDeviceRegistry(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestEventDispatchSpecificAndWildcard(t *testing.T) {
	hub := newTestHub(t, "secret")

	specific := make(chan Event, 1)
	wildcard := make(chan Event, 1)

	client := NewSocketClient(hub.server.URL, "secret", testLogger())
	t.Cleanup(func() { client.Close() })
	require.NoError(t, client.OnEvent(EventStateChanged, func(e Event) { specific <- e }))
	require.NoError(t, client.OnEvent(EventWildcard, func(e Event) { wildcard <- e }))
	require.NoError(t, client.Connect(context.Background()))

	hub.pushEvent(t, EventStateChanged, map[string]any{"entity_id": "light.kitchen"})
	select {
	case event := <-specific:
		var data StateChangedData
		require.NoError(t, json.Unmarshal(event.Data, &data))
		assert.Equal(t, "light.kitchen", data.EntityID)
	case <-time.After(time.Second):
		t.Fatal("specific handler not invoked")
	}

	hub.pushEvent(t, "automation_triggered", map[string]any{})
	select {
	case event := <-wildcard:
		assert.Equal(t, "automation_triggered", event.EventType)
	case <-time.After(time.Second):
		t.Fatal("wildcard handler not invoked")
	}

	// The specific handler must not also receive wildcard traffic.
	select {
	case <-specific:
		t.Fatal("specific handler received foreign event")
	default:
	}
}

func TestDuplicateHandlerRejected(t *testing.T) {
	client := NewSocketClient("http://example.invalid", "secret", testLogger())

	require.NoError(t, client.OnEvent(EventStateChanged, func(Event) {}))
	err := client.OnEvent(EventStateChanged, func(Event) {})
	assert.ErrorIs(t, err, ErrHandlerRegistered)
}

func TestReconnectDelaySchedule(t *testing.T) {
	tests := []struct {
		retry    int
		expected time.Duration
	}{
		{1, 5 * time.Second},
		{2, 10 * time.Second},
		{3, 15 * time.Second},
		{6, 30 * time.Second},
		{100, 30 * time.Second}, // capped
	}
	for _, tc := range tests {
		assert.Equal(t, tc.expected, reconnectDelay(tc.retry, baseReconnectDelay, maxReconnectDelay))
	}
}

func TestWebsocketURL(t *testing.T) {
	assert.Equal(t, "ws://ha.local:8123/api/websocket", websocketURL("http://ha.local:8123"))
	assert.Equal(t, "wss://ha.local/api/websocket", websocketURL("https://ha.local/"))
	assert.True(t, strings.HasSuffix(websocketURL("http://ha.local/api/websocket"), "/api/websocket"))
}

func TestSuccessfulConnectCancelsPendingReconnect(t *testing.T) {
	hub := newTestHub(t, "secret")

	client := NewSocketClient(hub.server.URL, "secret", testLogger())
	t.Cleanup(func() { client.Close() })

	client.mu.Lock()
	client.reconnectTimer = time.AfterFunc(time.Hour, func() {})
	client.mu.Unlock()

	require.NoError(t, client.Connect(context.Background()))

	client.mu.Lock()
	timer := client.reconnectTimer
	client.mu.Unlock()
	assert.Nil(t, timer)
}

func TestRetryCountResetsOnSuccessfulConnect(t *testing.T) {
	hub := newTestHub(t, "secret")

	client := NewSocketClient(hub.server.URL, "secret", testLogger())
	t.Cleanup(func() { client.Close() })

	client.mu.Lock()
	client.retryCount = 4
	client.mu.Unlock()

	require.NoError(t, client.Connect(context.Background()))

	client.mu.Lock()
	retries := client.retryCount
	client.mu.Unlock()
	assert.Zero(t, retries)
}
