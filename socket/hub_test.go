package socket

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Helper function to read messages from a WebSocket connection with a timeout.
func readMessage(t *testing.T, conn *websocket.Conn) WSMessage {
	var msg WSMessage
	conn.SetReadDeadline(time.Now().Add(1 * time.Second))
	_, p, err := conn.ReadMessage()
	require.NoError(t, err, "Failed to read message from WebSocket")
	err = json.Unmarshal(p, &msg)
	require.NoError(t, err, "Failed to unmarshal WSMessage JSON")
	return msg
}

func readVersion(t *testing.T, conn *websocket.Conn) (WSMessage, int64) {
	msg := readMessage(t, conn)
	var payload VersionPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	return msg, payload.Version
}

func newTestServer(t *testing.T, hub *Hub, versions map[string]int64) string {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		projectID := r.URL.Query().Get("project_id")
		ServeWs(hub, w, r, projectID, func() (int64, error) { return versions[projectID], nil })
	}))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func dial(t *testing.T, wsURL, projectID string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?project_id="+projectID, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForRoomSize(t *testing.T, hub *Hub, projectID string, want int) {
	t.Helper()
	assert.Eventually(t, func() bool { return hub.RoomSize(projectID) == want }, time.Second, 10*time.Millisecond)
}

func TestHubIntegration(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	wsURL := newTestServer(t, hub, map[string]int64{"alpha": 4})

	// Client 1 joins and is told the current version.
	conn1 := dial(t, wsURL, "alpha")
	msg, version := readVersion(t, conn1)
	assert.Equal(t, VersionType, msg.Type)
	assert.Equal(t, "alpha", msg.ProjectID)
	assert.Equal(t, int64(4), version)

	// Client 2 joins the same room.
	conn2 := dial(t, wsURL, "alpha")
	_, version = readVersion(t, conn2)
	assert.Equal(t, int64(4), version)
	waitForRoomSize(t, hub, "alpha", 2)

	// An applied update reaches both clients.
	hub.Publish("alpha", 5)
	for _, conn := range []*websocket.Conn{conn1, conn2} {
		msg, version := readVersion(t, conn)
		assert.Equal(t, "alpha", msg.ProjectID)
		assert.Equal(t, int64(5), version)
	}

	// Client 1 leaves.
	conn1.Close()
	waitForRoomSize(t, hub, "alpha", 1)

	hub.Publish("alpha", 6)
	_, version = readVersion(t, conn2)
	assert.Equal(t, int64(6), version)
}

func TestHubRoomsAreIsolated(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	wsURL := newTestServer(t, hub, map[string]int64{"alpha": 2})

	alpha := dial(t, wsURL, "alpha")
	readVersion(t, alpha)
	beta := dial(t, wsURL, "beta")
	_, version := readVersion(t, beta)
	assert.Equal(t, int64(0), version, "a project that does not exist starts at 0")

	hub.Publish("beta", 2)
	_, version = readVersion(t, beta)
	assert.Equal(t, int64(2), version)

	alpha.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err := alpha.ReadMessage()
	assert.Error(t, err, "alpha must not receive beta's updates")
}

func TestHubPublishWithoutSubscribers(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	hub.Publish("nobody", 3)
	assert.Equal(t, 0, hub.RoomSize("nobody"))
}

func TestHubPublishDoesNotBlockWhenQueueIsFull(t *testing.T) {
	hub := NewHub() // not running, nothing drains the queue

	done := make(chan struct{})
	go func() {
		for i := 0; i < broadcastBuffer+10; i++ {
			hub.Publish("p1", int64(i))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full queue")
	}
	assert.Len(t, hub.Broadcast, broadcastBuffer)
}

func TestHubStopDisconnectsClients(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	wsURL := newTestServer(t, hub, nil)
	conn := dial(t, wsURL, "alpha")
	readVersion(t, conn)
	waitForRoomSize(t, hub, "alpha", 1)

	hub.Stop()
	hub.Stop()

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "the connection is closed")
	waitForRoomSize(t, hub, "alpha", 0)
}

func TestHubReadsVersionAfterJoiningRoom(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	roomSizeAtRead := make(chan int, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r, "alpha", func() (int64, error) {
			// An update committed now must reach this client through the room.
			roomSizeAtRead <- hub.RoomSize("alpha")
			return 3, nil
		})
	}))
	defer server.Close()

	conn := dial(t, "ws"+strings.TrimPrefix(server.URL, "http"), "alpha")
	_, version := readVersion(t, conn)
	assert.Equal(t, int64(3), version)
	assert.Equal(t, 1, <-roomSizeAtRead)
}

func TestHubSkipsVersionsAlreadySent(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	wsURL := newTestServer(t, hub, map[string]int64{"alpha": 5})
	conn := dial(t, wsURL, "alpha")
	_, version := readVersion(t, conn)
	require.Equal(t, int64(5), version)

	// Notifications queued before the join carry versions the client already has.
	hub.Publish("alpha", 4)
	hub.Publish("alpha", 5)
	hub.Publish("alpha", 6)

	_, version = readVersion(t, conn)
	assert.Equal(t, int64(6), version)
}

func TestHubDropsClientWhenVersionUnavailable(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r, "alpha", func() (int64, error) { return 0, errors.New("disk unavailable") })
	}))
	defer server.Close()

	conn := dial(t, "ws"+strings.TrimPrefix(server.URL, "http"), "alpha")
	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
	assert.Equal(t, 0, hub.RoomSize("alpha"))
}
